// Package seed parses restaurant seed lists for cache prepopulation. YAML and
// XLSX formats are supported.
package seed

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"

	"github.com/safeplate/scout-cli/internal/normalize"
)

// Entry is one restaurant to prepopulate.
type Entry struct {
	Name     string `yaml:"name"`
	Location string `yaml:"location"`
}

// Load parses a seed file by extension (.yaml/.yml or .xlsx). Entries with an
// empty name are dropped and duplicates under the normalized key are
// collapsed, keeping the first occurrence.
func Load(path string) ([]Entry, error) {
	var entries []Entry
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		entries, err = loadYAML(path)
	case ".xlsx":
		entries, err = loadXLSX(path)
	default:
		return nil, eris.Errorf("seed: unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	return dedupe(entries), nil
}

// yamlFile is the on-disk YAML shape. A top-level location applies to entries
// that do not set their own.
type yamlFile struct {
	Location    string  `yaml:"location"`
	Restaurants []Entry `yaml:"restaurants"`
}

func loadYAML(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "seed: read yaml")
	}

	var f yamlFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "seed: parse yaml")
	}

	for i := range f.Restaurants {
		if f.Restaurants[i].Location == "" {
			f.Restaurants[i].Location = f.Location
		}
	}
	return f.Restaurants, nil
}

// loadXLSX reads the first sheet. Column A is the name, column B an optional
// location. A header row whose first cell reads "name" is skipped.
func loadXLSX(path string) ([]Entry, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "seed: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("seed: xlsx has no sheets")
	}

	var entries []Entry
	for i, row := range f.Sheets[0].Rows {
		if len(row.Cells) == 0 {
			continue
		}
		name := strings.TrimSpace(row.Cells[0].String())
		if i == 0 && strings.EqualFold(name, "name") {
			continue
		}
		var location string
		if len(row.Cells) > 1 {
			location = strings.TrimSpace(row.Cells[1].String())
		}
		entries = append(entries, Entry{Name: name, Location: location})
	}
	return entries, nil
}

func dedupe(entries []Entry) []Entry {
	seen := make(map[string]struct{}, len(entries))
	out := entries[:0]
	for _, e := range entries {
		if strings.TrimSpace(e.Name) == "" {
			continue
		}
		key := normalize.Name(e.Name) + "\x00" + normalize.Location(e.Location)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, e)
	}
	return out
}
