package sandbox

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	securejoin "github.com/cyphar/filepath-securejoin"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

const runIDAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Workspace is the private directory of a single run. Everything the run
// creates lives under it and goes away with Release.
type Workspace struct {
	id      string
	dir     string
	release sync.Once
}

// NewWorkspace creates a uniquely named workspace under root.
func NewWorkspace(root string) (*Workspace, error) {
	id, err := gonanoid.Generate(runIDAlphabet, 16)
	if err != nil {
		return nil, fmt.Errorf("generating run id: %w", err)
	}

	dir, err := securejoin.SecureJoin(root, "run-"+id)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace path: %w", err)
	}

	// Mkdir, not MkdirAll: an existing directory means a collision.
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}

	return &Workspace{id: id, dir: dir}, nil
}

// ID returns the run identifier embedded in the directory name.
func (w *Workspace) ID() string { return w.id }

// Dir returns the absolute workspace path.
func (w *Workspace) Dir() string { return w.dir }

// WriteFile writes content to name inside the workspace and returns its path.
func (w *Workspace) WriteFile(name, content string) (string, error) {
	path, err := securejoin.SecureJoin(w.dir, name)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", name, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	return path, nil
}

// Release removes the workspace. It is safe to call more than once; failures
// are logged and never returned, since the run's result is already decided.
func (w *Workspace) Release(log *zap.Logger) {
	w.release.Do(func() {
		err := os.RemoveAll(w.dir)
		if err != nil {
			// Programs can chmod their own directories read-only.
			restorePermissions(w.dir)
			err = os.RemoveAll(w.dir)
		}
		if err != nil {
			log.Warn("workspace cleanup failed",
				zap.String("run_id", w.id),
				zap.String("dir", w.dir),
				zap.Error(err))
		}
	})
}

func restorePermissions(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			_ = os.Chmod(path, 0o700)
		}
		return nil
	})
}
