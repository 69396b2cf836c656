// Package fsutil abstracts the output tree (metadata documents, charts,
// in-memory rasters) so it can be swapped for memory in tests.
package fsutil

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileSystem is the subset of filesystem operations the pipeline uses.
type FileSystem interface {
	Create(name string) (io.WriteCloser, error)
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, perm os.FileMode) error
	// Size returns the length in bytes of the named regular file.
	Size(name string) (int64, error)
	MkdirAll(path string, perm os.FileMode) error
	// Remove deletes a file or an empty directory.
	Remove(name string) error
	Exists(name string) bool
}

// OSFileSystem is the real filesystem.
type OSFileSystem struct{}

func (OSFileSystem) Create(name string) (io.WriteCloser, error) { return os.Create(name) }
func (OSFileSystem) ReadFile(name string) ([]byte, error)       { return os.ReadFile(name) }
func (OSFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}
func (OSFileSystem) Remove(name string) error { return os.Remove(name) }

func (OSFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm)
}

func (OSFileSystem) Size(name string) (int64, error) {
	info, err := os.Stat(name)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, &fs.PathError{Op: "size", Path: name, Err: fmt.Errorf("is a directory")}
	}
	return info.Size(), nil
}

func (OSFileSystem) Exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

// MemoryFileSystem keeps the tree in a map keyed by cleaned path. Parent
// directories are implicit: writing a file makes its ancestors exist.
type MemoryFileSystem struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	data []byte
	dir  bool
}

func NewMemoryFileSystem() *MemoryFileSystem {
	return &MemoryFileSystem{entries: make(map[string]*entry)}
}

// Create returns a writer whose content replaces the file on Close.
func (m *MemoryFileSystem) Create(name string) (io.WriteCloser, error) {
	name = filepath.Clean(name)
	if err := m.WriteFile(name, nil, 0644); err != nil {
		return nil, err
	}
	return &pendingFile{fs: m, name: name}, nil
}

func (m *MemoryFileSystem) ReadFile(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name = filepath.Clean(name)
	e, ok := m.entries[name]
	if !ok || e.dir {
		return nil, &fs.PathError{Op: "read", Path: name, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), e.data...), nil
}

func (m *MemoryFileSystem) WriteFile(name string, data []byte, _ os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = filepath.Clean(name)
	if e, ok := m.entries[name]; ok && e.dir {
		return &fs.PathError{Op: "write", Path: name, Err: fmt.Errorf("is a directory")}
	}
	m.entries[name] = &entry{data: append([]byte(nil), data...)}
	m.markParents(name)
	return nil
}

func (m *MemoryFileSystem) Size(name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name = filepath.Clean(name)
	e, ok := m.entries[name]
	if !ok || e.dir {
		return 0, &fs.PathError{Op: "size", Path: name, Err: fs.ErrNotExist}
	}
	return int64(len(e.data)), nil
}

func (m *MemoryFileSystem) MkdirAll(path string, _ os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = filepath.Clean(path)
	if e, ok := m.entries[path]; ok && !e.dir {
		return &fs.PathError{Op: "mkdir", Path: path, Err: fs.ErrExist}
	}
	m.entries[path] = &entry{dir: true}
	m.markParents(path)
	return nil
}

func (m *MemoryFileSystem) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = filepath.Clean(name)
	e, ok := m.entries[name]
	if !ok {
		return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrNotExist}
	}
	if e.dir {
		for p := range m.entries {
			if strings.HasPrefix(p, name+"/") {
				return &fs.PathError{Op: "remove", Path: name, Err: fmt.Errorf("directory not empty")}
			}
		}
	}
	delete(m.entries, name)
	return nil
}

func (m *MemoryFileSystem) Exists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[filepath.Clean(name)]
	return ok
}

// Files lists every regular file under dir, sorted.
func (m *MemoryFileSystem) Files(dir string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dir = filepath.Clean(dir)
	var out []string
	for name, e := range m.entries {
		if !e.dir && (dir == "." || strings.HasPrefix(name, dir+"/")) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// markParents records the ancestors of name as directories. Caller holds mu.
func (m *MemoryFileSystem) markParents(name string) {
	for p := filepath.Dir(name); p != "." && p != "/"; p = filepath.Dir(p) {
		if _, ok := m.entries[p]; ok {
			return
		}
		m.entries[p] = &entry{dir: true}
	}
}

type pendingFile struct {
	fs   *MemoryFileSystem
	name string
	buf  []byte
}

func (f *pendingFile) Write(p []byte) (int, error) {
	f.buf = append(f.buf, p...)
	return len(p), nil
}

func (f *pendingFile) Close() error {
	return f.fs.WriteFile(f.name, f.buf, 0644)
}

// WriteJSON marshals v with indentation and writes it to name, creating
// parent directories.
func WriteJSON(fsys FileSystem, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(name), err)
	}
	if err := fsys.MkdirAll(filepath.Dir(name), 0755); err != nil {
		return fmt.Errorf("create directory for %s: %w", name, err)
	}
	if err := fsys.WriteFile(name, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// FileSize returns the size of name, or 0 when it is missing.
func FileSize(fsys FileSystem, name string) int64 {
	n, err := fsys.Size(name)
	if err != nil {
		return 0
	}
	return n
}
