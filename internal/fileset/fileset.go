// Package fileset describes the files that make up a step's input or
// output: which paths must exist, which may legitimately be missing, which
// are deleted after use, how their content is validated and how the set is
// hashed for skip decisions.
package fileset

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/crypto/sha3"
)

// absentOptional stands in for the hash of an optional path that was never
// produced.
const absentOptional = "absent"

// Set is an immutable FileSet description. Only the memoised content hash
// changes after construction.
type Set struct {
	kind        string
	root        string
	files       []string
	optional    []string
	notRetained map[string]bool
	idPaths     []string
	validators  []Validator
	hasher      *Hasher

	mu   sync.Mutex
	hash string
}

// Option configures a Set.
type Option func(*Set)

// WithOptional adds paths that may legitimately never be produced.
func WithOptional(paths ...string) Option {
	return func(s *Set) { s.optional = append(s.optional, paths...) }
}

// WithNotRetained marks must-exist paths that are deleted after the
// pipeline, leaving a sidecar behind.
func WithNotRetained(paths ...string) Option {
	return func(s *Set) {
		for _, p := range paths {
			s.notRetained[p] = true
		}
	}
}

// WithIDPaths narrows the paths that identify the set and feed its hash.
func WithIDPaths(paths ...string) Option {
	return func(s *Set) { s.idPaths = append([]string(nil), paths...) }
}

// WithValidators adds content validators.
func WithValidators(v ...Validator) Option {
	return func(s *Set) { s.validators = append(s.validators, v...) }
}

// WithHasher overrides the content hasher.
func WithHasher(h *Hasher) Option {
	return func(s *Set) {
		if h != nil {
			s.hasher = h
		}
	}
}

// New builds a Set of the given kind rooted at the run directory. It
// panics when the described set violates its invariants; those are
// programming errors in a stage definition.
func New(kind, root string, files []string, opts ...Option) *Set {
	s := &Set{
		kind:        kind,
		root:        root,
		files:       append([]string(nil), files...),
		notRetained: map[string]bool{},
		hasher:      DefaultHasher,
	}
	for _, o := range opts {
		o(s)
	}
	must := make(map[string]bool, len(s.files))
	for _, f := range s.files {
		must[f] = true
	}
	for p := range s.notRetained {
		if !must[p] {
			panic(fmt.Sprintf("fileset %s: not-retained path %s is not a must-exist path", kind, p))
		}
	}
	for _, p := range s.optional {
		if must[p] {
			panic(fmt.Sprintf("fileset %s: optional path %s is also must-exist", kind, p))
		}
	}
	if s.idPaths == nil {
		s.idPaths = s.AllFiles()
	}
	return s
}

// Join combines sets into one of a new kind, keeping each member's
// optional and not-retained paths, validators and id paths.
func Join(kind string, sets ...*Set) *Set {
	out := &Set{kind: kind, notRetained: map[string]bool{}, hasher: DefaultHasher}
	for i, s := range sets {
		if i == 0 {
			out.root = s.root
			out.hasher = s.hasher
		}
		out.files = append(out.files, s.files...)
		out.optional = append(out.optional, s.optional...)
		out.idPaths = append(out.idPaths, s.idPaths...)
		out.validators = append(out.validators, s.validators...)
		for p := range s.notRetained {
			out.notRetained[p] = true
		}
	}
	return out
}

// Subset returns a set of a new kind restricted to paths.
func (s *Set) Subset(kind string, paths ...string) *Set {
	keep := make(map[string]bool, len(paths))
	for _, p := range paths {
		keep[p] = true
	}
	out := &Set{kind: kind, root: s.root, notRetained: map[string]bool{}, hasher: s.hasher}
	for _, p := range s.files {
		if keep[p] {
			out.files = append(out.files, p)
			if s.notRetained[p] {
				out.notRetained[p] = true
			}
		}
	}
	for _, p := range s.optional {
		if keep[p] {
			out.optional = append(out.optional, p)
		}
	}
	for _, p := range s.idPaths {
		if keep[p] {
			out.idPaths = append(out.idPaths, p)
		}
	}
	for _, v := range s.validators {
		if keep[v.Path] {
			out.validators = append(out.validators, v)
		}
	}
	return out
}

// Kind names the FileSet type.
func (s *Set) Kind() string { return s.kind }

// MustExist returns the paths required for the set to count as produced.
func (s *Set) MustExist() []string { return append([]string(nil), s.files...) }

// Optional returns the paths that may be absent.
func (s *Set) Optional() []string { return append([]string(nil), s.optional...) }

// AllFiles returns must-exist and optional paths.
func (s *Set) AllFiles() []string {
	out := make([]string, 0, len(s.files)+len(s.optional))
	out = append(out, s.files...)
	return append(out, s.optional...)
}

// IDPaths returns the paths that identify the set.
func (s *Set) IDPaths() []string { return append([]string(nil), s.idPaths...) }

// NotRetained returns the not-retained paths in sorted order.
func (s *Set) NotRetained() []string {
	out := make([]string, 0, len(s.notRetained))
	for p := range s.notRetained {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// IsNotRetained reports whether path is deleted after use.
func (s *Set) IsNotRetained(path string) bool { return s.notRetained[path] }

// Identity is a stable name for the set derived from its kind and the
// run-relative id paths, never from their contents. It survives process
// restarts and copying the run directory elsewhere.
func (s *Set) Identity() string {
	rel := make([]string, len(s.idPaths))
	for i, p := range s.idPaths {
		rel[i] = s.rel(p)
	}
	sort.Strings(rel)
	h := sha3.New256()
	for _, r := range rel {
		h.Write([]byte(r))
		h.Write([]byte{'\n'})
	}
	return s.kind + "-" + hex.EncodeToString(h.Sum(nil))[:24]
}

// AssertReady fails with *FilesCheckFailed listing every missing path,
// then runs the content validators.
func (s *Set) AssertReady() error {
	return s.check(false)
}

// WasProduced is the non-raising form of AssertReady. A missing
// not-retained path counts as produced when its sidecar is well-formed.
func (s *Set) WasProduced() bool {
	return s.check(true) == nil
}

func (s *Set) check(acceptSidecars bool) error {
	var missing []string
	skip := map[string]bool{}
	for _, p := range s.files {
		if exists(p) {
			continue
		}
		if acceptSidecars && s.notRetained[p] && HasValidSidecar(p) {
			skip[p] = true
			continue
		}
		missing = append(missing, p)
	}
	if len(missing) > 0 {
		return &FilesCheckFailed{Kind: s.kind, Missing: missing}
	}
	for _, p := range s.optional {
		if !exists(p) {
			skip[p] = true
		}
	}
	for _, v := range s.validators {
		if skip[v.Path] {
			continue
		}
		if err := v.Check(v.Path); err != nil {
			// deleted after the existence check
			if acceptSidecars && s.notRetained[v.Path] && !exists(v.Path) && HasValidSidecar(v.Path) {
				continue
			}
			return &FilesCheckFailed{Kind: s.kind, Reason: err}
		}
	}
	return nil
}

// SidecarOnly returns not-retained paths present only as a sidecar.
func (s *Set) SidecarOnly() []string {
	var out []string
	for _, p := range s.NotRetained() {
		if !exists(p) && HasValidSidecar(p) {
			out = append(out, p)
		}
	}
	return out
}

// ContentHash returns the memoised hash over the id paths. A missing
// not-retained path contributes the hash recorded in its sidecar.
func (s *Set) ContentHash() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hash != "" {
		return s.hash, nil
	}
	paths := append([]string(nil), s.idPaths...)
	sort.Strings(paths)
	optional := make(map[string]bool, len(s.optional))
	for _, p := range s.optional {
		optional[p] = true
	}
	parts := make([]string, 0, 2*len(paths))
	for _, p := range paths {
		sum, err := s.hasher.HashFile(p)
		switch {
		case err == nil:
		case !errors.Is(err, os.ErrNotExist):
			return "", &HashComputationFailed{Path: p, Reason: err}
		case s.notRetained[p]:
			sc, serr := ReadSidecar(p)
			if serr != nil {
				return "", &HashComputationFailed{Path: p, Reason: serr}
			}
			sum = sc.Hash
		case optional[p]:
			sum = absentOptional
		default:
			return "", &HashComputationFailed{Path: p, Reason: err}
		}
		parts = append(parts, s.rel(p), sum)
	}
	s.hash = HashStrings(parts)
	return s.hash, nil
}

// Refresh drops the memoised hash so the next ContentHash rereads disk.
func (s *Set) Refresh() {
	s.mu.Lock()
	s.hash = ""
	s.mu.Unlock()
}

// DeleteNotRetained replaces every existing not-retained file by its
// sidecar.
func (s *Set) DeleteNotRetained() error {
	for _, p := range s.NotRetained() {
		if err := deleteWithSidecar(s.hasher, p); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes every path of the set and any sidecars. Missing files
// are ignored.
func (s *Set) Remove() error {
	for _, p := range s.AllFiles() {
		for _, q := range []string{p, SidecarPath(p)} {
			if err := os.Remove(q); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("remove %s: %w", q, err)
			}
		}
	}
	s.Refresh()
	return nil
}

// Size returns the total size of the existing files.
func (s *Set) Size() int64 {
	var n int64
	for _, p := range s.AllFiles() {
		if fi, err := os.Stat(p); err == nil {
			n += fi.Size()
		}
	}
	return n
}

func (s *Set) String() string {
	return fmt.Sprintf("%s%v", s.kind, s.relAll())
}

func (s *Set) relAll() []string {
	out := make([]string, len(s.files))
	for i, p := range s.files {
		out[i] = s.rel(p)
	}
	return out
}

func (s *Set) rel(p string) string {
	if s.root == "" {
		return filepath.ToSlash(p)
	}
	r, err := filepath.Rel(s.root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(r)
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
