package summarize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sells-group/school-intel/internal/model"
)

const categorySystem = `You are an education market analyst writing briefings about private schools.
Write a short factual paragraph (at most 120 words) about one aspect of one school.
Use only the data you are given. Do not invent figures, names or dates.
Keep currency amounts exactly as written. Plain prose, no headings, no bullet points.`

const batchSystem = `You are an education market analyst comparing several private schools.
You receive structured data extracted from each school's website.
Write a compact comparative summary of the group covering:
- tuition ranges and fee structures
- academic programs and curricula
- admissions requirements and process
- scholarships and discounts
- what distinguishes each school
Use only the data given. Mention schools by name. Say so when a school has no data.
Use markdown with short "##" sections.`

const consolidationSystem = `You are an education market analyst writing a market overview.
You receive partial summaries, each covering a batch of schools. Some batches may be marked unavailable; do not guess their contents, just note that those schools are not covered.
Merge the partials into one overview with these sections:
## MARKET OVERVIEW
## TUITION ANALYSIS
## ACADEMIC PROGRAMS
## ADMISSIONS LANDSCAPE
## SCHOLARSHIP OPPORTUNITIES
## COMPARATIVE STRENGTHS
## RECOMMENDATIONS
Base every statement on the partial summaries.`

// compactCategory renders the present fields of one category as JSON.
func compactCategory(rec model.CategoryRecord, cat *model.CategoryDef) string {
	out := make(map[string]model.Value)
	for _, f := range cat.Fields {
		if v, ok := rec.Get(cat.Key, f.Name); ok && v.IsPresent() {
			out[f.Name] = v
		}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// compactRecord renders the present fields of a record as JSON, keyed by
// category title.
func compactRecord(schema *model.Schema, rec model.CategoryRecord) string {
	out := make(map[string]map[string]model.Value)
	for i := range schema.Categories {
		cat := &schema.Categories[i]
		fields := make(map[string]model.Value)
		for _, f := range cat.Fields {
			if v, ok := rec.Get(cat.Key, f.Name); ok && v.IsPresent() {
				fields[f.Name] = v
			}
		}
		if len(fields) > 0 {
			out[cat.Key.Title()] = fields
		}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func categoryPrompt(name string, cat *model.CategoryDef, rec model.CategoryRecord) string {
	return fmt.Sprintf("School: %s\nAspect: %s\n\nData:\n%s", name, cat.Key.Title(), compactCategory(rec, cat))
}

// schoolEntry is one school's data as handed to a batch call.
type schoolEntry struct {
	id     string
	name   string
	record model.CategoryRecord
}

func batchPrompt(schema *model.Schema, n, total int, entries []schoolEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Batch %d of %d (%d schools)\n", n, total, len(entries))
	for _, e := range entries {
		fmt.Fprintf(&b, "\n===== SCHOOL: %s (%s) =====\n", e.name, e.id)
		if e.record == nil {
			b.WriteString("No extracted data available.\n")
			continue
		}
		b.WriteString(compactRecord(schema, e.record))
		b.WriteByte('\n')
	}
	return b.String()
}

func consolidationPrompt(sections []model.SummarySection) string {
	var b strings.Builder
	b.WriteString("Partial summaries, in batch order:\n")
	for _, s := range sections {
		fmt.Fprintf(&b, "\n===== %s =====\n%s\n", s.Title, s.Text)
	}
	return b.String()
}
