package extract

import (
	"fmt"
	"strings"

	"github.com/sells-group/school-intel/internal/model"
)

const systemIntro = `You are a data extraction expert. You convert school website content into a fixed JSON structure.

Rules:
1. Use only facts stated in the content. Never guess or invent values.
2. When a field is not found in the content, set it to null. Do not write "N/A" or "No information available".
3. Scalar fields take a single string. List fields take an array of strings in the order they appear. Mapping fields take an object of string keys to string values (for example grade level to amount).
4. Keep amounts, dates and currency symbols exactly as written.
5. Every category and every field below must appear in your output.
6. Respond with the JSON object only, no commentary and no markdown fences.`

// systemPrompt renders the full target schema. It is identical for every
// school so it can be cached.
func systemPrompt(s *model.Schema) string {
	var b strings.Builder
	b.WriteString(systemIntro)
	b.WriteString("\n\nSchema (category -> field: kind, meaning):\n")
	for _, c := range s.Categories {
		fmt.Fprintf(&b, "\n%s (%s):\n", c.Key, c.Key.Title())
		for _, f := range c.Fields {
			fmt.Fprintf(&b, "  - %s: %s", f.Name, f.Kind)
			if f.Unit != model.UnitText && f.Unit != "" {
				fmt.Fprintf(&b, " of %s", f.Unit)
			}
			if f.Description != "" {
				b.WriteString(", " + f.Description)
			}
			b.WriteByte('\n')
		}
	}
	b.WriteString("\nOutput skeleton:\n")
	b.WriteString(skeleton(s))
	return b.String()
}

// skeleton is an all-null instance of the schema.
func skeleton(s *model.Schema) string {
	var b strings.Builder
	b.WriteString("{\n")
	for i, c := range s.Categories {
		fmt.Fprintf(&b, "  %q: {", string(c.Key))
		for j, f := range c.Fields {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%q: null", f.Name)
		}
		b.WriteString("}")
		if i < len(s.Categories)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	b.WriteString("}")
	return b.String()
}

// userPrompt carries the document. From the second attempt on, the schema
// instruction is restated more explicitly along with why the previous
// answer was rejected.
func userPrompt(s *model.Schema, doc *model.Document, schoolName string, attempt int, lastErr string) string {
	var b strings.Builder
	if schoolName != "" {
		fmt.Fprintf(&b, "School: %s\n\n", schoolName)
	}
	b.WriteString("Website content:\n\n")
	b.WriteString(doc.Text)
	b.WriteString("\n\n")

	if attempt <= 1 {
		b.WriteString("Extract the structured record for this school as a single JSON object.")
		return b.String()
	}

	fmt.Fprintf(&b, "Your previous answer could not be used (%s).\n", lastErr)
	b.WriteString("Return exactly one JSON object with these top-level keys and no others: ")
	keys := s.Keys()
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = string(k)
	}
	b.WriteString(strings.Join(names, ", "))
	b.WriteString(".\n")
	if attempt >= 3 {
		b.WriteString("Use double-quoted keys and strings, no trailing commas, no comments and nothing before or after the object. Start with this skeleton and replace null only where the content states a value:\n")
		b.WriteString(skeleton(s))
	}
	return b.String()
}
