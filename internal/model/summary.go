package model

import "time"

// SummaryKind distinguishes single-school from market summaries.
type SummaryKind string

const (
	SummarySchool SummaryKind = "school"
	SummaryMarket SummaryKind = "market"
)

// SummarySection is one independently generated part of a report: a
// category of a school summary or a batch of a market summary.
type SummarySection struct {
	Title       string `json:"title"`
	Text        string `json:"text"`
	Unavailable bool   `json:"unavailable,omitempty"`
}

// SummaryReport is narrative text plus what it was derived from. Reports
// are immutable; every request produces a new one.
type SummaryReport struct {
	ID         string           `json:"id"`
	Kind       SummaryKind      `json:"kind"`
	SchoolIDs  []string         `json:"school_ids"`
	Categories []Category       `json:"categories"`
	Text       string           `json:"text"`
	Sections   []SummarySection `json:"sections"`
	Model      string           `json:"model,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}
