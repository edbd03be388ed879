// Package registry loads the list of schools to process from a manifest
// file (yaml, json, csv or xlsx) or the built-in default list.
package registry

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/school-intel/internal/model"
)

// Manifest is the yaml/json document form of a school list.
type Manifest struct {
	Schools []model.School `yaml:"schools" json:"schools"`
}

// LoadSchools reads a manifest, choosing the format by file extension. An
// empty path returns Default().
func LoadSchools(path string) ([]model.School, error) {
	if path == "" {
		return Default(), nil
	}

	var (
		schools []model.School
		err     error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".xlsx":
		schools, err = readXLSX(path)
	case ".csv":
		schools, err = readCSV(path)
	case ".yaml", ".yml", ".json":
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			return nil, eris.Wrap(rerr, "registry: read manifest")
		}
		if ext == ".json" {
			schools, err = ParseJSON(data)
		} else {
			schools, err = ParseYAML(data)
		}
	default:
		return nil, eris.Errorf("registry: unsupported manifest type %q", ext)
	}
	if err != nil {
		return nil, err
	}
	return Normalize(schools)
}

// ParseYAML decodes a yaml manifest: either a "schools:" document or a bare
// list of schools.
func ParseYAML(data []byte) ([]model.School, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err == nil && len(m.Schools) > 0 {
		return m.Schools, nil
	}
	var list []model.School
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, eris.Wrap(err, "registry: decode yaml manifest")
	}
	return list, nil
}

// ParseJSON decodes a json manifest: either {"schools": [...]} or a bare
// array.
func ParseJSON(data []byte) ([]model.School, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var list []model.School
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, eris.Wrap(err, "registry: decode json manifest")
		}
		return list, nil
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrap(err, "registry: decode json manifest")
	}
	return m.Schools, nil
}

// Normalize trims entries, derives missing IDs from names, and rejects
// duplicates, entries without URLs and non-http(s) URLs.
func Normalize(schools []model.School) ([]model.School, error) {
	out := make([]model.School, 0, len(schools))
	seen := make(map[string]bool, len(schools))
	for i, s := range schools {
		s.Name = strings.TrimSpace(s.Name)
		s.ID = strings.TrimSpace(s.ID)
		if s.ID == "" {
			s.ID = model.Slug(s.Name)
		}
		if s.ID == "" {
			return nil, eris.Errorf("registry: entry %d has neither school_id nor name", i+1)
		}
		if seen[s.ID] {
			return nil, eris.Errorf("registry: duplicate school_id %q", s.ID)
		}
		seen[s.ID] = true

		var urls []string
		for _, u := range s.SourceURLs {
			u = strings.TrimSpace(u)
			if u == "" {
				continue
			}
			parsed, err := url.Parse(u)
			if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
				return nil, eris.Errorf("registry: %s: invalid url %q", s.ID, u)
			}
			urls = append(urls, u)
		}
		if len(urls) == 0 {
			return nil, eris.Errorf("registry: %s has no source urls", s.ID)
		}
		s.SourceURLs = urls
		if s.Name == "" {
			s.Name = s.ID
		}
		out = append(out, s)
	}
	return out, nil
}

// Default returns the built-in Philippine school list.
func Default() []model.School {
	schools := []model.School{
		{Name: "International School Manila", SourceURLs: []string{"https://www.ismanila.org"}},
		{Name: "British School Manila", SourceURLs: []string{"https://www.britishschoolmanila.org"}},
		{Name: "Reedley International School", SourceURLs: []string{"https://reedleyschool.edu.ph"}},
		{Name: "Southville International School", SourceURLs: []string{"https://www.southville.edu.ph"}},
		{Name: "Singapore School Manila", SourceURLs: []string{"https://singaporeschools.ph"}},
		{Name: "FAITH Colleges", SourceURLs: []string{"https://faith.edu.ph"}},
		{Name: "Jubilee Christian Academy", SourceURLs: []string{"https://www.jca.edu.ph"}},
	}
	for i := range schools {
		schools[i].ID = model.Slug(schools[i].Name)
	}
	return schools
}
