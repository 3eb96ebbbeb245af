// Package workspace implements the shared file store: logical path
// resolution with traversal protection, a write-through in-memory cache, and
// the authoritative on-disk tree rooted at a single directory.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"pkt.systems/coedit/api"
	"pkt.systems/coedit/internal/loggingutil"
	"pkt.systems/pslog"
)

// ErrPathEscapes marks a logical path that resolves outside the storage root.
// Callers must treat it as a security violation: the filesystem is never
// touched for such paths and no detail is surfaced to clients.
var ErrPathEscapes = errors.New("workspace: path escapes storage root")

// Config captures the tunables for a Store.
type Config struct {
	// Root is the storage root directory; created if missing.
	Root string
	// Reserved is the administrative top-level segment (default "admin").
	Reserved string
	Logger   pslog.Logger
}

// Store owns the on-disk tree and its cache shadow. Every write goes to both;
// reads prefer the cache and fall back to disk, populating the cache on
// success. Safe for concurrent use; disk I/O happens outside the cache lock.
type Store struct {
	root     string
	reserved string
	logger   pslog.Logger

	mu    sync.RWMutex
	cache map[string]string
}

// New initialises a store rooted at cfg.Root, creating the root and the
// reserved administrative directory when absent.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Root) == "" {
		return nil, fmt.Errorf("workspace: root path required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve root: %w", err)
	}
	reserved := cfg.Reserved
	if reserved == "" {
		reserved = "admin"
	}
	s := &Store{
		root:     filepath.Clean(root),
		reserved: reserved,
		logger:   loggingutil.WithSubsystem(cfg.Logger, "workspace"),
		cache:    make(map[string]string),
	}
	if err := os.MkdirAll(filepath.Join(s.root, reserved), 0o755); err != nil {
		return nil, fmt.Errorf("workspace: create root: %w", err)
	}
	return s, nil
}

// Root returns the absolute storage root.
func (s *Store) Root() string { return s.root }

// Reserved returns the administrative namespace segment.
func (s *Store) Reserved() string { return s.reserved }

// Resolve normalises a logical path and maps it to an absolute on-disk
// location. Backslashes are rewritten to forward slashes, the result is
// cleaned and joined to the root, and the joined path must still have the
// root as a prefix. Escaping paths yield ErrPathEscapes without any
// filesystem access. The second return value is the canonical logical path
// used as cache key.
func (s *Store) Resolve(logical string) (string, string, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(logical), "\\", "/")
	if normalized == "" {
		return "", "", fmt.Errorf("workspace: empty path: %w", ErrPathEscapes)
	}
	if path.IsAbs(normalized) {
		return "", "", ErrPathEscapes
	}
	canonical := path.Clean(normalized)
	if canonical == "." || canonical == ".." || strings.HasPrefix(canonical, "../") {
		return "", "", ErrPathEscapes
	}
	abs := filepath.Join(s.root, filepath.FromSlash(canonical))
	if abs != s.root && !strings.HasPrefix(abs, s.root+string(os.PathSeparator)) {
		return "", "", ErrPathEscapes
	}
	return abs, canonical, nil
}

// Canonicalize returns the canonical form of a logical path without touching
// the filesystem. Callers use it to derive the single spelling of a path that
// access checks, lock keys and cache keys all agree on; aliased spellings
// such as "x/../admin/a.txt" canonicalize to "admin/a.txt" before any
// namespace check sees them.
func (s *Store) Canonicalize(logical string) (string, error) {
	_, canonical, err := s.Resolve(logical)
	return canonical, err
}

// ReservedPath reports whether the logical path sits under the reserved
// administrative namespace.
func (s *Store) ReservedPath(logical string) bool {
	normalized := strings.ReplaceAll(logical, "\\", "/")
	return normalized == s.reserved || strings.HasPrefix(normalized, s.reserved+"/")
}

// Read returns the file content for a logical path. Cached content wins;
// otherwise the file is read from disk and the cache is populated. A missing
// file reads as empty content without error; disk failures are logged and
// also read as empty. Escaping paths return ErrPathEscapes.
func (s *Store) Read(logical string) (string, error) {
	abs, canonical, err := s.Resolve(logical)
	if err != nil {
		s.logger.Warn("read.rejected", "path", logical)
		return "", err
	}

	s.mu.RLock()
	content, ok := s.cache[canonical]
	s.mu.RUnlock()
	if ok {
		return content, nil
	}

	data, err := os.ReadFile(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "", nil
	case err != nil:
		s.logger.Error("read.failed", "path", canonical, "error", err)
		return "", nil
	}

	content = string(data)
	s.mu.Lock()
	s.cache[canonical] = content
	s.mu.Unlock()
	return content, nil
}

// Write replaces the full content of a logical path, cache first, then disk.
// Parent directories are created as needed and the file is synced before the
// call returns. Escaping paths no-op with ErrPathEscapes.
func (s *Store) Write(logical, content string) error {
	abs, canonical, err := s.Resolve(logical)
	if err != nil {
		s.logger.Warn("write.rejected", "path", logical)
		return err
	}

	s.mu.Lock()
	s.cache[canonical] = content
	s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		s.logger.Error("write.mkdir_failed", "path", canonical, "error", err)
		return fmt.Errorf("workspace: create parents for %s: %w", canonical, err)
	}
	file, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		s.logger.Error("write.open_failed", "path", canonical, "error", err)
		return fmt.Errorf("workspace: open %s: %w", canonical, err)
	}
	if _, err := file.WriteString(content); err != nil {
		file.Close()
		s.logger.Error("write.failed", "path", canonical, "error", err)
		return fmt.Errorf("workspace: write %s: %w", canonical, err)
	}
	if err := syncFile(file); err != nil {
		file.Close()
		s.logger.Error("write.sync_failed", "path", canonical, "error", err)
		return fmt.Errorf("workspace: sync %s: %w", canonical, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("workspace: close %s: %w", canonical, err)
	}
	s.logger.Debug("write.complete", "path", canonical, "bytes", len(content))
	return nil
}

// Delete removes the on-disk file if present and evicts the cache entry.
// Escaping paths are ignored. Lock release is the caller's responsibility.
func (s *Store) Delete(logical string) error {
	abs, canonical, err := s.Resolve(logical)
	if err != nil {
		s.logger.Warn("delete.rejected", "path", logical)
		return nil
	}

	s.mu.Lock()
	delete(s.cache, canonical)
	s.mu.Unlock()

	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Error("delete.failed", "path", canonical, "error", err)
		return fmt.Errorf("workspace: delete %s: %w", canonical, err)
	}
	return nil
}

// Evict drops a cache entry without touching disk. Used by the watcher when
// an external change invalidates the cached copy.
func (s *Store) Evict(logical string) {
	_, canonical, err := s.Resolve(logical)
	if err != nil {
		return
	}
	s.mu.Lock()
	delete(s.cache, canonical)
	s.mu.Unlock()
}

// List walks the storage tree and returns the logical paths of all regular
// files, sorted. Paths under the reserved namespace are omitted unless role
// is the administrative role. Walk errors are logged and produce an empty
// listing.
func (s *Store) List(role string) []string {
	admin := strings.EqualFold(role, api.RoleAdmin)
	var paths []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		logical := filepath.ToSlash(rel)
		if !admin && s.ReservedPath(logical) {
			return nil
		}
		paths = append(paths, logical)
		return nil
	})
	if err != nil {
		s.logger.Error("list.failed", "error", err)
		return nil
	}
	sort.Strings(paths)
	return paths
}
