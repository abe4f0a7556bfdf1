package fileset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HashStore persists content hashes of FileSets, one small file per set
// identity, in a run-level directory.
type HashStore struct {
	dir string
}

// NewHashStore returns a store rooted at dir. The directory is created on
// the first Save.
func NewHashStore(dir string) *HashStore {
	return &HashStore{dir: dir}
}

func (h *HashStore) path(s *Set) string {
	return filepath.Join(h.dir, s.Identity())
}

// Save computes the current hash of s and persists it.
func (h *HashStore) Save(s *Set) error {
	sum, err := s.ContentHash()
	if err != nil {
		return err
	}
	return WriteFileAtomic(h.path(s), []byte(sum+"\n"))
}

// Load returns the stored hash of s, or "" when none exists.
func (h *HashStore) Load(s *Set) (string, error) {
	data, err := os.ReadFile(h.path(s))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read stored hash %s: %w", s.Identity(), err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Matches reports whether a hash is stored for s and equals its current
// content hash. Any failure to compute the current hash is a mismatch.
func (h *HashStore) Matches(s *Set) bool {
	stored, err := h.Load(s)
	if err != nil || stored == "" {
		return false
	}
	cur, err := s.ContentHash()
	if err != nil {
		return false
	}
	return cur == stored
}

// Forget removes the stored hash of s.
func (h *HashStore) Forget(s *Set) error {
	err := os.Remove(h.path(s))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
