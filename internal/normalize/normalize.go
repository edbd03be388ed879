// Package normalize turns the raw pages fetched for a school into one
// bounded plain-text document.
package normalize

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/school-intel/internal/model"
	"github.com/sells-group/school-intel/internal/ocr"
)

// DefaultMaxLength is the document bound in runes.
const DefaultMaxLength = 60000

// Normalizer converts fetched pages into a Document.
type Normalizer struct {
	maxLength int
	pdf       ocr.Extractor
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithMaxLength bounds the normalized document length in runes.
func WithMaxLength(n int) Option {
	return func(nz *Normalizer) {
		if n > 0 {
			nz.maxLength = n
		}
	}
}

// WithPDFExtractor enables text extraction for PDF pages.
func WithPDFExtractor(e ocr.Extractor) Option {
	return func(nz *Normalizer) { nz.pdf = e }
}

// New creates a Normalizer.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{maxLength: DefaultMaxLength}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize combines pages into a single document ordered by sourceURLs
// (unlisted pages follow, sorted by URL). Pages that failed to fetch are
// skipped. When nothing usable remains the returned document is Empty();
// that is a reportable state, not an error.
func (n *Normalizer) Normalize(ctx context.Context, schoolID string, sourceURLs []string, pages []model.Page) *model.Document {
	log := zap.L().With(zap.String("school_id", schoolID))

	ordered := orderPages(sourceURLs, pages)

	var sections []string
	var used []string
	for _, p := range ordered {
		if p.Err != nil {
			log.Debug("normalize: skipping failed page", zap.String("url", p.URL), zap.Error(p.Err))
			continue
		}
		text, label := n.pageText(ctx, p, log)
		if text == "" {
			continue
		}
		sections = append(sections, label+"\n"+text)
		used = append(used, p.URL)
	}

	doc := &model.Document{SchoolID: schoolID, SourceURLs: used}
	if len(sections) == 0 {
		log.Info("normalize: empty document", zap.Int("pages", len(pages)))
		return doc
	}

	doc.Text, doc.Truncated = truncate(strings.Join(sections, "\n\n"), n.maxLength)
	return doc
}

func (n *Normalizer) pageText(ctx context.Context, p model.Page, log *zap.Logger) (text, label string) {
	label = "[SOURCE: " + p.URL + "]"

	switch {
	case strings.Contains(p.ContentType, "pdf") || ocr.IsPDF(p.Content):
		if n.pdf == nil {
			log.Debug("normalize: no pdf extractor configured", zap.String("url", p.URL))
			return "", ""
		}
		raw, err := n.pdf.ExtractText(ctx, []byte(p.Content))
		if err != nil {
			log.Warn("normalize: pdf extraction failed", zap.String("url", p.URL), zap.Error(err))
			return "", ""
		}
		return CleanText(raw), "[PDF CONTENT FROM: " + p.URL + "]"
	case LooksLikeHTML(p.ContentType, p.Content):
		raw, err := HTMLToText(p.Content)
		if err != nil {
			log.Warn("normalize: html parse failed", zap.String("url", p.URL), zap.Error(err))
			return "", ""
		}
		return CleanText(raw), label
	default:
		return CleanText(p.Content), label
	}
}

func orderPages(sourceURLs []string, pages []model.Page) []model.Page {
	rank := make(map[string]int, len(sourceURLs))
	for i, u := range sourceURLs {
		if _, ok := rank[u]; !ok {
			rank[u] = i
		}
	}
	out := append([]model.Page(nil), pages...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, iok := rank[out[i].URL]
		rj, jok := rank[out[j].URL]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return out[i].URL < out[j].URL
		}
	})
	return out
}

var (
	spaceRun = regexp.MustCompile(`[ \t\x{00A0}]+`)
	blankRun = regexp.MustCompile(`\n{3,}`)
)

// CleanText NFKC-folds text, trims each line, collapses runs of spaces,
// drops a line that repeats the line directly above it and squeezes blank
// lines. Repeats separated by a blank line are kept.
func CleanText(s string) string {
	s = norm.NFKC.String(strings.ReplaceAll(s, "\r\n", "\n"))

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	prev := ""
	for _, line := range lines {
		line = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
		if line != "" && line == prev {
			continue
		}
		out = append(out, line)
		prev = line
	}
	s = blankRun.ReplaceAllString(strings.Join(out, "\n"), "\n\n")
	return strings.TrimSpace(s)
}

// truncate bounds s to max runes, cutting at the last paragraph or line
// break in the final fifth of the window when one exists.
func truncate(s string, max int) (string, bool) {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s, false
	}
	runes := []rune(s)
	cut := string(runes[:max])

	floor := len(cut) * 4 / 5
	if i := strings.LastIndex(cut, "\n\n"); i >= floor {
		return strings.TrimSpace(cut[:i]), true
	}
	if i := strings.LastIndex(cut, "\n"); i >= floor {
		return strings.TrimSpace(cut[:i]), true
	}
	return cut, true
}
