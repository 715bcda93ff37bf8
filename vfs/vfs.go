// Package vfs manages the per-session directory trees the entry engine sees
// as its entire filesystem. Every session gets one root under a common base
// directory; paths handed in by clients are cleaned and resolved inside that
// root so sessions never observe each other's files.
package vfs

import (
	"encoding/base64"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/gregvolny/CSEntryWeb-sub001/errors"
)

// Manager hands out isolated session roots under a base directory.
// Safe for concurrent use across different session ids; the subtrees are
// disjoint.
type Manager struct {
	base string
}

// NewManager creates the base directory if needed. An empty base defaults
// to a directory under the system temp dir.
func NewManager(base string) (*Manager, error) {
	if base == "" {
		base = filepath.Join(os.TempDir(), "csentry-sessions")
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, errors.Wrap(errors.StageNamespace, errors.KindOperationFailed, err, "resolve base directory")
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.Wrap(errors.StageNamespace, errors.KindOperationFailed, err, "create base directory")
	}
	return &Manager{base: abs}, nil
}

// Base returns the directory all session roots live under.
func (m *Manager) Base() string {
	return m.base
}

// CreateRoot makes the namespace root for a session id.
func (m *Manager) CreateRoot(id string) (string, error) {
	if !validID(id) {
		return "", errors.InvalidInput(errors.StageNamespace, "invalid session id for namespace root")
	}
	root := filepath.Join(m.base, id)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", errors.Wrap(errors.StageNamespace, errors.KindOperationFailed, err, "create session root")
	}
	return root, nil
}

// Root returns the namespace root path for a session id without creating it.
func (m *Manager) Root(id string) string {
	return filepath.Join(m.base, id)
}

func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

// resolve confines rel inside root. Like http.Dir, the path is treated as
// rooted at the session root; traversal components collapse against it.
func resolve(root, rel string) (string, error) {
	clean := path.Clean("/" + filepath.ToSlash(rel))
	if clean == "/" {
		return "", errors.InvalidInput(errors.StageNamespace, "empty path")
	}
	return filepath.Join(root, filepath.FromSlash(clean)), nil
}

// EnsureDirectory creates rel under root one level at a time. Levels that
// already exist are not an error.
func (m *Manager) EnsureDirectory(root, rel string) (string, error) {
	dir, err := resolve(root, rel)
	if err != nil {
		return "", err
	}

	relDir, err := filepath.Rel(root, dir)
	if err != nil {
		return "", errors.Wrap(errors.StageNamespace, errors.KindOperationFailed, err, "relativize directory")
	}

	cur := root
	for _, part := range strings.Split(relDir, string(filepath.Separator)) {
		if part == "" || part == "." {
			continue
		}
		cur = filepath.Join(cur, part)
		if err := os.Mkdir(cur, 0o755); err != nil && !os.IsExist(err) {
			return "", errors.Wrap(errors.StageNamespace, errors.KindOperationFailed, err, "create directory level")
		}
	}
	return dir, nil
}

// WriteText writes UTF-8 content, creating parent directories as needed.
func (m *Manager) WriteText(root, rel, content string) error {
	return m.write(root, rel, []byte(content))
}

// WriteBinary decodes base64 content and writes the raw bytes.
func (m *Manager) WriteBinary(root, rel, encoded string) error {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return errors.New(errors.StageNamespace, errors.KindInvalidInput).
			Cause(err).
			Detail("invalid base64 content for %s", rel).
			Build()
	}
	return m.write(root, rel, data)
}

func (m *Manager) write(root, rel string, data []byte) error {
	target, err := resolve(root, rel)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(target); dir != root {
		relDir, err := filepath.Rel(root, dir)
		if err != nil {
			return errors.Wrap(errors.StageNamespace, errors.KindOperationFailed, err, "relativize parent")
		}
		if _, err := m.EnsureDirectory(root, relDir); err != nil {
			return err
		}
	}

	if err := os.WriteFile(target, data, 0o644); err != nil {
		return errors.Wrap(errors.StageNamespace, errors.KindOperationFailed, err, "write file")
	}
	return nil
}

// ReadFile returns the contents of rel inside root.
func (m *Manager) ReadFile(root, rel string) ([]byte, error) {
	target, err := resolve(root, rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return nil, errors.Wrap(errors.StageNamespace, errors.KindNotFound, err, "read file")
	}
	return data, nil
}

// List returns the relative slash paths of every file under root, sorted.
func (m *Manager) List(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.StageNamespace, errors.KindOperationFailed, err, "list namespace")
	}
	sort.Strings(files)
	return files, nil
}

// RemoveSubtree deletes a session root and everything under it. Errors are
// logged and swallowed; teardown must always complete. Only paths strictly
// under the base directory are removed.
func (m *Manager) RemoveSubtree(root string) {
	if root == "" || root == m.base {
		return
	}
	if !strings.HasPrefix(root, m.base+string(filepath.Separator)) {
		Logger().Warn("refusing to remove path outside namespace base",
			zap.String("path", root))
		return
	}
	if err := os.RemoveAll(root); err != nil {
		Logger().Warn("namespace removal incomplete",
			zap.String("root", root),
			zap.Error(err))
	}
}
