package export

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/school-intel/internal/compare"
	"github.com/sells-group/school-intel/internal/model"
)

// SheetMode selects the spreadsheet layout.
type SheetMode string

const (
	// SheetPerCategory writes one sheet per category that has a selected
	// field, in first-selected order.
	SheetPerCategory SheetMode = "per-category"
	// SheetCombined writes all selected fields on one sheet.
	SheetCombined SheetMode = "combined"
)

// CombinedSheetName is the sheet name used by SheetCombined.
const CombinedSheetName = "Comparison"

// ParseSheetMode validates a configured sheet mode. Empty means per-category.
func ParseSheetMode(s string) (SheetMode, error) {
	switch SheetMode(s) {
	case "", SheetPerCategory:
		return SheetPerCategory, nil
	case SheetCombined:
		return SheetCombined, nil
	}
	return "", eris.Errorf("export: unknown sheet mode %q", s)
}

var headerStyle = func() *xlsx.Style {
	s := xlsx.NewStyle()
	s.Font.Bold = true
	s.ApplyFont = true
	return s
}()

// Spreadsheet builds the comparison matrix for schoolIDs x selectors and
// writes it as an xlsx workbook. Rows are schools in the given order;
// columns are the school ID, validation status, then one column per
// selector. Missing cells carry their bracketed marker so they never read
// as an empty value.
func Spreadsheet(ctx context.Context, w io.Writer, engine *compare.Engine, schoolIDs []string, selectors []compare.Selector, mode SheetMode) error {
	m, err := engine.Compare(ctx, schoolIDs, selectors)
	if err != nil {
		return eris.Wrap(err, "export: build comparison")
	}
	f, err := Workbook(m, mode)
	if err != nil {
		return err
	}
	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write xlsx")
	}
	return nil
}

// Workbook lays a matrix out as an xlsx file.
func Workbook(m *compare.Matrix, mode SheetMode) (*xlsx.File, error) {
	f := xlsx.NewFile()
	for _, g := range groupColumns(m.Selectors, mode) {
		sheet, err := f.AddSheet(g.name)
		if err != nil {
			return nil, eris.Wrapf(err, "export: add sheet %s", g.name)
		}

		header := sheet.AddRow()
		for _, h := range append([]string{"School ID", "Status"}, g.labels(m.Selectors, mode)...) {
			c := header.AddCell()
			c.SetString(h)
			c.SetStyle(headerStyle)
		}
		for _, r := range m.Rows {
			row := sheet.AddRow()
			row.AddCell().SetString(r.SchoolID)
			status := string(r.Status)
			if status == "" {
				status = compare.ReasonNoData.Marker()
			}
			row.AddCell().SetString(status)
			for _, col := range g.cols {
				row.AddCell().SetString(r.Cells[col].Text())
			}
		}
	}
	return f, nil
}

type sheetGroup struct {
	name string
	cols []int
}

func (g sheetGroup) labels(sels []compare.Selector, mode SheetMode) []string {
	out := make([]string, len(g.cols))
	for i, col := range g.cols {
		if mode == SheetCombined {
			out[i] = sels[col].Label()
			continue
		}
		// the sheet already names the category
		out[i] = sels[col].Field
		if sels[col].Key != "" {
			out[i] += "[" + sels[col].Key + "]"
		}
	}
	return out
}

func groupColumns(sels []compare.Selector, mode SheetMode) []sheetGroup {
	if mode == SheetCombined {
		g := sheetGroup{name: CombinedSheetName}
		for i := range sels {
			g.cols = append(g.cols, i)
		}
		return []sheetGroup{g}
	}
	var groups []sheetGroup
	index := make(map[model.Category]int)
	for i, s := range sels {
		gi, ok := index[s.Category]
		if !ok {
			gi = len(groups)
			index[s.Category] = gi
			groups = append(groups, sheetGroup{name: sheetName(s.Category.Title())})
		}
		groups[gi].cols = append(groups[gi].cols, i)
	}
	return groups
}

// sheetName trims a name to the 31 characters xlsx allows.
func sheetName(s string) string {
	r := []rune(s)
	if len(r) > 31 {
		return string(r[:31])
	}
	return s
}
