package fileset

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// SidecarSuffix is appended to a not-retained path to name its marker.
const SidecarSuffix = ".deleted"

// Sidecar is the record left behind when a not-retained file is deleted.
type Sidecar struct {
	Path string
	Size int64
	Hash string
}

// SidecarPath returns the marker path for path.
func SidecarPath(path string) string { return path + SidecarSuffix }

// ReadSidecar parses the marker for path. A well-formed marker holds the
// original size and has the content hash on its last non-blank line.
func ReadSidecar(path string) (Sidecar, error) {
	f, err := os.Open(SidecarPath(path))
	if err != nil {
		return Sidecar{}, err
	}
	defer f.Close()

	sc := Sidecar{Path: path, Size: -1}
	last := ""
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		last = line
		if v, ok := strings.CutPrefix(line, "size "); ok {
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return Sidecar{}, fmt.Errorf("sidecar %s: bad size: %w", SidecarPath(path), err)
			}
			sc.Size = n
		}
	}
	if err := s.Err(); err != nil {
		return Sidecar{}, err
	}
	if sc.Size < 0 {
		return Sidecar{}, fmt.Errorf("sidecar %s: no size line", SidecarPath(path))
	}
	if !validHash(last) {
		return Sidecar{}, fmt.Errorf("sidecar %s: last line is not a hash", SidecarPath(path))
	}
	sc.Hash = last
	return sc, nil
}

// HasValidSidecar reports whether path has a well-formed marker.
func HasValidSidecar(path string) bool {
	_, err := ReadSidecar(path)
	return err == nil
}

// WriteSidecar writes the marker atomically.
func WriteSidecar(sc Sidecar) error {
	body := fmt.Sprintf("deleted %s\nsize %d\n%s\n", sc.Path, sc.Size, sc.Hash)
	return WriteFileAtomic(SidecarPath(sc.Path), []byte(body))
}

// deleteWithSidecar replaces path by its marker. The marker is in place
// before the real file goes away, so readers never see neither.
func deleteWithSidecar(h *Hasher, path string) error {
	fi, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	sum, err := h.HashFile(path)
	if err != nil {
		return err
	}
	if err := WriteSidecar(Sidecar{Path: path, Size: fi.Size(), Hash: sum}); err != nil {
		return fmt.Errorf("write sidecar for %s: %w", path, err)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// WriteFileAtomic writes data to a temporary sibling and renames it over
// path.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
