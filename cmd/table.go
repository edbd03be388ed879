package main

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/rotisserie/eris"

	"github.com/sells-group/school-intel/internal/compare"
	"github.com/sells-group/school-intel/internal/model"
)

// Output formats for tabular commands.
const (
	formatTable    = "table"
	formatMarkdown = "markdown"
	formatJSON     = "json"
)

func checkFormat(f string) error {
	switch f {
	case formatTable, formatMarkdown, formatJSON:
		return nil
	default:
		return eris.Errorf("unknown output format %q (want table, markdown or json)", f)
	}
}

func newTable(header ...string) table.Writer {
	w := table.NewWriter()
	w.SetStyle(table.StyleLight)
	row := make(table.Row, len(header))
	for i, h := range header {
		row[i] = h
	}
	w.AppendHeader(row)
	return w
}

func render(w table.Writer, format string) string {
	if format == formatMarkdown {
		return w.RenderMarkdown()
	}
	return w.Render()
}

// renderMatrix lays a comparison matrix out with one row per school and one
// column per selector.
func renderMatrix(m *compare.Matrix, format string, maxWidth int) string {
	header := []string{"School", "Status"}
	for _, s := range m.Selectors {
		header = append(header, s.Label())
	}
	w := newTable(header...)

	if maxWidth > 0 {
		cfgs := make([]table.ColumnConfig, 0, len(m.Selectors))
		for i := range m.Selectors {
			cfgs = append(cfgs, table.ColumnConfig{Number: i + 3, WidthMax: maxWidth, WidthMaxEnforcer: text.WrapSoft})
		}
		w.SetColumnConfigs(cfgs)
	}

	for _, r := range m.Rows {
		status := string(r.Status)
		if status == "" {
			status = compare.ReasonNoData.Marker()
		}
		row := table.Row{r.SchoolID, status}
		for _, c := range r.Cells {
			row = append(row, c.Text())
		}
		w.AppendRow(row)
	}
	return render(w, format)
}

func renderSchools(schools []model.School, format string) string {
	w := newTable("ID", "Name", "URLs", "Last Scraped")
	for _, s := range schools {
		last := "never"
		if s.LastScrapedAt != nil {
			last = s.LastScrapedAt.Format("2006-01-02 15:04")
		}
		w.AppendRow(table.Row{s.ID, s.Name, strings.Join(s.SourceURLs, "\n"), last})
	}
	w.AppendFooter(table.Row{"", "", "", len(schools)})
	return render(w, format)
}
