package fileset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestAssertReadyListsEveryMissingPath(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a")
	b := filepath.Join(root, "b")
	c := filepath.Join(root, "c")
	writeFile(t, b, "b")

	s := New("test", root, []string{a, b, c})
	err := s.AssertReady()
	var fc *FilesCheckFailed
	require.ErrorAs(t, err, &fc)
	assert.Equal(t, []string{a, c}, fc.Missing)
	assert.False(t, s.WasProduced())
}

func TestValidatorsSkippedForAbsentOptional(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a")
	opt := filepath.Join(root, "opt.rec")
	writeFile(t, a, "data\n")

	s := New("test", root, []string{a},
		WithOptional(opt),
		WithValidators(NonEmpty(a), HasRecords(opt)))
	require.NoError(t, s.AssertReady())

	writeFile(t, opt, "# header only\n")
	assert.Error(t, s.AssertReady())
}

func TestNotRetainedRecovery(t *testing.T) {
	root := t.TempDir()
	big := filepath.Join(root, "DAT000001")
	log := filepath.Join(root, "DAT000001.log")
	writeFile(t, big, "particle data RUNE")
	writeFile(t, log, "END OF RUN\n")

	mk := func() *Set {
		return New("corsika", root, []string{big, log},
			WithNotRetained(big),
			WithValidators(EndsWith(big, []byte("RUNE")), LastLineContains(log, "END OF RUN")))
	}
	before, err := mk().ContentHash()
	require.NoError(t, err)

	s := mk()
	require.NoError(t, s.DeleteNotRetained())
	_, err = os.Stat(big)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.True(t, HasValidSidecar(big))

	fresh := mk()
	assert.True(t, fresh.WasProduced())
	assert.Error(t, fresh.AssertReady(), "strict check must not accept a sidecar")
	after, err := fresh.ContentHash()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, []string{big}, fresh.SidecarOnly())
}

func TestReadersDuringDeleteNotRetained(t *testing.T) {
	root := t.TempDir()
	var files []string
	for i := 0; i < 20; i++ {
		p := filepath.Join(root, fmt.Sprintf("DAT000001.p%02d", i+1))
		writeFile(t, p, strings.Repeat(fmt.Sprintf("part %d RUNE", i), 200))
		files = append(files, p)
	}
	var validators []Validator
	for _, p := range files {
		validators = append(validators, EndsWith(p, []byte("RUNE")))
	}
	mk := func() *Set {
		return New("split-output", root, files, WithNotRetained(files...), WithValidators(validators...))
	}
	want, err := mk().ContentHash()
	require.NoError(t, err)

	stop := make(chan struct{})
	errs := make(chan error, 4)
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				s := mk()
				if !s.WasProduced() {
					errs <- errors.New("set not produced while deleting")
					return
				}
				got, err := s.ContentHash()
				if err != nil {
					errs <- err
					return
				}
				if got != want {
					errs <- fmt.Errorf("hash changed: %s != %s", got, want)
					return
				}
			}
		}()
	}

	require.NoError(t, mk().DeleteNotRetained())
	close(stop)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.Len(t, mk().SidecarOnly(), len(files))
}

func TestContentHashFailsWithoutFileOrSidecar(t *testing.T) {
	root := t.TempDir()
	big := filepath.Join(root, "gone")
	s := New("test", root, []string{big}, WithNotRetained(big))
	_, err := s.ContentHash()
	var hf *HashComputationFailed
	require.ErrorAs(t, err, &hf)
	assert.Equal(t, big, hf.Path)
}

func TestContentHashTracksContent(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a")
	writeFile(t, a, "one")
	s := New("test", root, []string{a})
	h1, err := s.ContentHash()
	require.NoError(t, err)

	writeFile(t, a, "two")
	cached, err := s.ContentHash()
	require.NoError(t, err)
	assert.Equal(t, h1, cached, "hash is memoised until Refresh")

	s.Refresh()
	h2, err := s.ContentHash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestIDPathsNarrowHash(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a")
	noise := filepath.Join(root, "a.log")
	writeFile(t, a, "a")
	writeFile(t, noise, "first")

	s := New("test", root, []string{a, noise}, WithIDPaths(a))
	h1, err := s.ContentHash()
	require.NoError(t, err)
	writeFile(t, noise, "second")
	s.Refresh()
	h2, err := s.ContentHash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestIdentitySurvivesFork(t *testing.T) {
	r1 := t.TempDir()
	r2 := t.TempDir()
	s1 := New("events", r1, []string{filepath.Join(r1, "events", "x")})
	s2 := New("events", r2, []string{filepath.Join(r2, "events", "x")})
	other := New("events", r1, []string{filepath.Join(r1, "events", "y")})
	assert.Equal(t, s1.Identity(), s2.Identity())
	assert.NotEqual(t, s1.Identity(), other.Identity())
	assert.NotEqual(t, s1.Identity(), New("final", r1, s1.MustExist()).Identity())
}

func TestHashStore(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a")
	writeFile(t, a, "a")
	store := NewHashStore(filepath.Join(root, "input_hashes"))
	s := New("test", root, []string{a})

	assert.False(t, store.Matches(s))
	require.NoError(t, store.Save(s))
	assert.True(t, store.Matches(s))

	writeFile(t, a, "changed")
	assert.False(t, store.Matches(New("test", root, []string{a})))

	require.NoError(t, store.Forget(s))
	got, err := store.Load(s)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRemoveDeletesSidecars(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a")
	writeFile(t, a, "a")
	s := New("test", root, []string{a}, WithNotRetained(a))
	require.NoError(t, s.DeleteNotRetained())
	require.NoError(t, s.Remove())
	assert.False(t, HasValidSidecar(a))
	assert.False(t, s.WasProduced())
}

func TestStderrBenign(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "err")
	benign := regexp.MustCompile(`^Note: The following floating-point exceptions are signalling`)
	writeFile(t, p, "Note: The following floating-point exceptions are signalling: IEEE_UNDERFLOW_FLAG\n\n")
	v := StderrBenign(p, benign)
	assert.NoError(t, v.Check(p))

	writeFile(t, p, "segmentation fault\n")
	assert.Error(t, v.Check(p))
}

func TestNewPanicsOnBadDescription(t *testing.T) {
	assert.Panics(t, func() { New("x", "", []string{"a"}, WithNotRetained("b")) })
	assert.Panics(t, func() { New("x", "", []string{"a"}, WithOptional("a")) })
}

func TestJoinRequiresEveryMember(t *testing.T) {
	root := t.TempDir()
	var parts []*Set
	var paths []string
	for _, n := range []string{"p01", "p02", "p03", "p04"} {
		p := filepath.Join(root, n+".dethinned")
		paths = append(paths, p)
		parts = append(parts, New("dethin-output", root, []string{p}, WithNotRetained(p)))
	}
	merged := Join("c2g-input", parts...)
	for _, i := range []int{2, 0, 3} {
		writeFile(t, paths[i], "x")
		assert.False(t, merged.WasProduced())
	}
	writeFile(t, paths[1], "x")
	assert.True(t, merged.WasProduced())
	assert.Equal(t, paths, merged.NotRetained())
}

func TestSubsetKeepsFlags(t *testing.T) {
	root := t.TempDir()
	big := filepath.Join(root, "DAT000001")
	log := filepath.Join(root, "DAT000001.lst")
	opt := filepath.Join(root, "x.rec")
	s := New("corsika-output", root, []string{big, log}, WithNotRetained(big), WithOptional(opt))
	sub := s.Subset("split-input", big, opt)
	assert.Equal(t, []string{big}, sub.MustExist())
	assert.Equal(t, []string{opt}, sub.Optional())
	assert.True(t, sub.IsNotRetained(big))
	assert.Equal(t, []string{big, opt}, sub.IDPaths())
}
