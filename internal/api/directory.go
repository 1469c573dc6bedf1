package api

import (
	"net/http"

	"github.com/Trivi1234567/vapi-transfer-server-render/internal/types"
)

// DepartmentLister is the read side of the candidate directory
type DepartmentLister interface {
	Departments() []string
	Lookup(department string) ([]types.Candidate, bool)
}

type departmentEntry struct {
	Name       string   `json:"name"`
	Candidates []string `json:"candidates"`
}

// DirectoryHandler lists configured departments. Candidate numbers are not exposed.
type DirectoryHandler struct {
	directory DepartmentLister
}

// NewDirectoryHandler creates a new DirectoryHandler
func NewDirectoryHandler(directory DepartmentLister) *DirectoryHandler {
	return &DirectoryHandler{directory: directory}
}

// List handles GET /api/directory
func (h *DirectoryHandler) List(w http.ResponseWriter, r *http.Request) {
	out := []departmentEntry{}
	for _, name := range h.directory.Departments() {
		if !visible(r, name) {
			continue
		}
		candidates, _ := h.directory.Lookup(name)
		entry := departmentEntry{Name: name, Candidates: make([]string, 0, len(candidates))}
		for _, c := range candidates {
			entry.Candidates = append(entry.Candidates, c.Name)
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, out)
}
