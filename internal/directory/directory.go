package directory

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/Trivi1234567/vapi-transfer-server-render/internal/types"
	"gopkg.in/yaml.v3"
)

// Directory maps department names to their ordered specialist candidates.
// It is immutable after construction and safe for concurrent use.
type Directory struct {
	departments map[string][]types.Candidate
}

// file is the on-disk YAML layout
type file struct {
	Departments map[string][]types.Candidate `yaml:"departments"`
}

// New builds a directory from an in-memory mapping
func New(departments map[string][]types.Candidate) (*Directory, error) {
	d := &Directory{departments: make(map[string][]types.Candidate, len(departments))}
	for name, candidates := range departments {
		key := normalize(name)
		if key == "" {
			return nil, fmt.Errorf("department name must not be empty")
		}
		if _, dup := d.departments[key]; dup {
			return nil, fmt.Errorf("department %q defined more than once", name)
		}
		list := make([]types.Candidate, 0, len(candidates))
		for i, c := range candidates {
			c.Number = strings.TrimSpace(c.Number)
			if c.Number == "" {
				return nil, fmt.Errorf("department %q candidate %d has no number", name, i)
			}
			list = append(list, c)
		}
		d.departments[key] = list
	}
	return d, nil
}

// Parse builds a directory from a YAML document
func Parse(data []byte) (*Directory, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse directory: %w", err)
	}
	return New(f.Departments)
}

// LoadFile reads a YAML directory from disk. An empty path yields an empty directory.
func LoadFile(path string) (*Directory, error) {
	if path == "" {
		return New(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory file: %w", err)
	}
	return Parse(data)
}

// Lookup returns a copy of the candidate list for a department. found is false
// when the department is unknown; an empty list with found=true means the
// department exists but has no candidates.
func (d *Directory) Lookup(department string) (candidates []types.Candidate, found bool) {
	list, ok := d.departments[normalize(department)]
	if !ok {
		return nil, false
	}
	out := make([]types.Candidate, len(list))
	copy(out, list)
	return out, true
}

// Departments returns the configured department names in sorted order
func (d *Directory) Departments() []string {
	names := make([]string, 0, len(d.departments))
	for name := range d.departments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
