// Package source resolves the uploaded source tree of a project on disk.
package source

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ahrav/scan-orchestrator/internal/domain/scanning"
)

// DirPrefix is prepended to the project id to form its directory name.
const DirPrefix = "project_"

// Locator finds project trees under a fixed uploads root.
type Locator struct {
	root string
}

var _ scanning.SourceLocator = (*Locator)(nil)

// NewLocator creates a Locator rooted at root.
func NewLocator(root string) *Locator {
	return &Locator{root: root}
}

// Locate returns <root>/project_<projectID> when it is an existing
// directory. Ids that could escape the root are treated as absent.
func (l *Locator) Locate(projectID string) (string, bool) {
	if projectID == "" || strings.ContainsAny(projectID, `/\`) || strings.Contains(projectID, "..") {
		return "", false
	}

	path := filepath.Join(l.root, DirPrefix+projectID)
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return "", false
	}
	return path, true
}
