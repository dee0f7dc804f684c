package state

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// DirName is the state directory created at a project root.
const DirName = ".teamwork"

// ErrNoRoot is returned by FindRoot when no ancestor holds a state directory.
var ErrNoRoot = fmt.Errorf("no %s directory found", DirName)

// FindRoot walks from cwd toward the filesystem root and returns the first
// "<dir>/.teamwork" directory found, so commands run from any directory nested
// under a project resolve the same team state.
func FindRoot(fsys afero.Fs, cwd string) (string, error) {
	dir, err := filepath.Abs(cwd)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", cwd, err)
	}
	for {
		candidate := filepath.Join(dir, DirName)
		ok, err := afero.IsDir(fsys, candidate)
		if err == nil && ok {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w above %s", ErrNoRoot, cwd)
		}
		dir = parent
	}
}
