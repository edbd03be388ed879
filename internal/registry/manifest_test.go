package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/school-intel/internal/model"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func createTestXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Schools")
	require.NoError(t, err)
	for _, rowData := range rows {
		row := sheet.AddRow()
		for _, cellData := range rowData {
			row.AddCell().SetString(cellData)
		}
	}
	path := filepath.Join(t.TempDir(), "schools.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestLoadSchools_YAML(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "schools.yaml", `
schools:
  - name: St. Paul College Pasig
    urls:
      - https://spcpasig.edu.ph
      - https://spcpasig.edu.ph/admissions
  - school_id: dlsz
    name: De La Salle Santiago Zobel
    urls: [https://dlsz.edu.ph]
`)
	schools, err := LoadSchools(path)
	require.NoError(t, err)
	require.Len(t, schools, 2)
	assert.Equal(t, "st-paul-college-pasig", schools[0].ID)
	assert.Equal(t, []string{"https://spcpasig.edu.ph", "https://spcpasig.edu.ph/admissions"}, schools[0].SourceURLs)
	assert.Equal(t, "dlsz", schools[1].ID)
}

func TestLoadSchools_YAMLBareList(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "schools.yml", "- name: Alpha\n  urls: [https://alpha.ph]\n")
	schools, err := LoadSchools(path)
	require.NoError(t, err)
	require.Len(t, schools, 1)
	assert.Equal(t, "alpha", schools[0].ID)
}

func TestLoadSchools_JSON(t *testing.T) {
	t.Parallel()

	arr := writeFile(t, "a.json", `[{"school_id":"a","name":"Alpha","source_urls":["https://alpha.ph"]}]`)
	schools, err := LoadSchools(arr)
	require.NoError(t, err)
	assert.Equal(t, []model.School{{ID: "a", Name: "Alpha", SourceURLs: []string{"https://alpha.ph"}}}, schools)

	obj := writeFile(t, "b.json", `{"schools":[{"name":"Beta","source_urls":["https://beta.ph"]}]}`)
	schools, err = LoadSchools(obj)
	require.NoError(t, err)
	assert.Equal(t, "beta", schools[0].ID)
}

func TestLoadSchools_XLSX(t *testing.T) {
	t.Parallel()

	path := createTestXLSX(t, [][]string{
		{"School ID", "Name", "URLs"},
		{"", "Gamma Academy", "https://gamma.ph; https://gamma.ph/fees.pdf"},
		{"", "", ""},
		{"delta", "Delta School", "https://delta.ph"},
	})
	schools, err := LoadSchools(path)
	require.NoError(t, err)
	require.Len(t, schools, 2)
	assert.Equal(t, "gamma-academy", schools[0].ID)
	assert.Equal(t, []string{"https://gamma.ph", "https://gamma.ph/fees.pdf"}, schools[0].SourceURLs)
	assert.Equal(t, "delta", schools[1].ID)
}

func TestLoadSchools_CSV(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "schools.csv", "name,website\nEpsilon,https://epsilon.ph https://epsilon.ph/about\n")
	schools, err := LoadSchools(path)
	require.NoError(t, err)
	require.Len(t, schools, 1)
	assert.Equal(t, "epsilon", schools[0].ID)
	assert.Len(t, schools[0].SourceURLs, 2)
}

func TestLoadSchools_Errors(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"dup.yaml":     "- {name: A, urls: [https://a.ph]}\n- {school_id: a, name: Other, urls: [https://b.ph]}\n",
		"nourls.yaml":  "- {name: A}\n",
		"scheme.yaml":  "- {name: A, urls: [ftp://a.ph]}\n",
		"noname.yaml":  "- {urls: [https://a.ph]}\n",
		"nocol.csv":    "name,address\nA,Manila\n",
		"schools.toml": "x = 1",
	}
	for name, content := range cases {
		_, err := LoadSchools(writeFile(t, name, content))
		assert.Error(t, err, name)
	}

	_, err := LoadSchools(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	t.Parallel()

	schools, err := LoadSchools("")
	require.NoError(t, err)
	require.Len(t, schools, 7)
	assert.Equal(t, "international-school-manila", schools[0].ID)
	assert.Equal(t, "faith-colleges", schools[5].ID)

	_, err = Normalize(Default())
	assert.NoError(t, err)
}
