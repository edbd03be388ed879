package model

import (
	"regexp"
	"strings"
	"time"
)

// School is the identity unit. ID never changes once assigned; re-scraping
// produces a new ExtractionResult, not a new School.
type School struct {
	ID            string     `json:"school_id" yaml:"school_id"`
	Name          string     `json:"name" yaml:"name"`
	SourceURLs    []string   `json:"source_urls" yaml:"urls"`
	LastScrapedAt *time.Time `json:"last_scraped_at,omitempty" yaml:"-"`
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slug derives a stable school ID from a name.
func Slug(name string) string {
	s := slugStrip.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(s, "-")
}

// Page is one fetched source page of a school.
type Page struct {
	URL         string `json:"url"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	Err         error  `json:"-"`
}

// Document is the normalized plain-text document of one school.
type Document struct {
	SchoolID   string   `json:"school_id"`
	Text       string   `json:"text"`
	SourceURLs []string `json:"source_urls"`
	Truncated  bool     `json:"truncated,omitempty"`
}

// Empty reports whether normalization left no content.
func (d *Document) Empty() bool {
	return d == nil || strings.TrimSpace(d.Text) == ""
}
