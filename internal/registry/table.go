package registry

import (
	"encoding/csv"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/school-intel/internal/model"
)

var (
	urlSplit     = regexp.MustCompile(`[\s,;|]+`)
	headerFolder = strings.NewReplacer(" ", "_", "-", "_")
)

// header column aliases
var columnNames = map[string]string{
	"school_id":   "id",
	"id":          "id",
	"name":        "name",
	"school":      "name",
	"urls":        "urls",
	"url":         "urls",
	"source_urls": "urls",
	"website":     "urls",
}

// readXLSX reads the first sheet of a workbook whose header row names the
// school_id, name and urls columns.
func readXLSX(path string) ([]model.School, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: open xlsx manifest")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("registry: xlsx manifest has no sheets")
	}

	var rows [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for j, c := range row.Cells {
			cells[j] = c.String()
		}
		rows = append(rows, cells)
	}
	return fromRows(rows)
}

func readCSV(path string) ([]model.School, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: open csv manifest")
	}
	defer fh.Close() //nolint:errcheck

	r := csv.NewReader(fh)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "registry: read csv manifest")
		}
		rows = append(rows, rec)
	}
	return fromRows(rows)
}

// fromRows maps a header row plus data rows to schools. Blank rows are
// skipped; the urls cell may hold several URLs separated by whitespace,
// commas, semicolons or pipes.
func fromRows(rows [][]string) ([]model.School, error) {
	if len(rows) == 0 {
		return nil, eris.New("registry: manifest is empty")
	}
	cols := make(map[string]int)
	for i, h := range rows[0] {
		if name, ok := columnNames[headerFolder.Replace(strings.ToLower(strings.TrimSpace(h)))]; ok {
			if _, dup := cols[name]; !dup {
				cols[name] = i
			}
		}
	}
	if _, ok := cols["urls"]; !ok {
		return nil, eris.New("registry: manifest header has no urls column")
	}
	if _, ok := cols["name"]; !ok {
		if _, ok := cols["id"]; !ok {
			return nil, eris.New("registry: manifest header needs a name or school_id column")
		}
	}

	cell := func(row []string, col string) string {
		i, ok := cols[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var schools []model.School
	for _, row := range rows[1:] {
		if strings.TrimSpace(strings.Join(row, "")) == "" {
			continue
		}
		s := model.School{ID: cell(row, "id"), Name: cell(row, "name")}
		for _, u := range urlSplit.Split(cell(row, "urls"), -1) {
			if u != "" {
				s.SourceURLs = append(s.SourceURLs, u)
			}
		}
		schools = append(schools, s)
	}
	return schools, nil
}
