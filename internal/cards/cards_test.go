package cards

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/showerflow/internal/config"
)

func testCards(n int) config.Cards {
	c := config.Default().Cards
	c.Count = n
	c.FirstRun = 70
	return c
}

func TestPlanIsDeterministic(t *testing.T) {
	a, err := Plan(testCards(5))
	require.NoError(t, err)
	b, err := Plan(testCards(5))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	other := testCards(5)
	other.Seed = 2
	c, err := Plan(other)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestPlanRanges(t *testing.T) {
	cfg := testCards(50)
	planned, err := Plan(cfg)
	require.NoError(t, err)
	require.Len(t, planned, 50)
	for i, c := range planned {
		if c.Run != 70+i {
			t.Fatalf("card %d has run %d", i, c.Run)
		}
		if c.Primary != 14 {
			t.Fatalf("card %d primary = %d, want 14", i, c.Primary)
		}
		if c.Log10Energy < cfg.Log10EnergyMin || c.Log10Energy > cfg.Log10EnergyMax {
			t.Errorf("card %d energy %v out of range", i, c.Log10Energy)
		}
		if c.ZenithDeg < 0 || c.ZenithDeg > cfg.ZenithMaxDeg {
			t.Errorf("card %d zenith %v out of range", i, c.ZenithDeg)
		}
		if c.Seeds[0] < 1 || c.Seeds[1] < 1 {
			t.Errorf("card %d has non-positive seeds %v", i, c.Seeds)
		}
	}
}

func TestPlanUnknownPrimary(t *testing.T) {
	cfg := testCards(1)
	cfg.Primary = "carbon"
	_, err := Plan(cfg)
	var bad *config.BadConfigValue
	require.True(t, errors.As(err, &bad))
	assert.Equal(t, "cards.primary", bad.Key)
}

func TestRenderParse(t *testing.T) {
	planned, err := Plan(testCards(3))
	require.NoError(t, err)
	dir := t.TempDir()
	for _, want := range planned {
		path := filepath.Join(dir, want.Name()+Extension)
		require.NoError(t, os.WriteFile(path, want.Render(), 0o644))

		got, err := Parse(path)
		require.NoError(t, err)
		assert.Equal(t, want.Run, got.Run)
		assert.Equal(t, want.Primary, got.Primary)
		assert.Equal(t, want.Seeds, got.Seeds)
		assert.InDelta(t, want.Log10Energy, got.Log10Energy, 1e-3)
		assert.InDelta(t, want.ZenithDeg, got.ZenithDeg, 1e-9)
	}
}

func TestParseRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.in")
	require.NoError(t, os.WriteFile(path, []byte("hello world\n"), 0o644))
	_, err := Parse(path)
	assert.Error(t, err)

	_, err = Parse(filepath.Join(t.TempDir(), "missing.in"))
	assert.Error(t, err)
}

func TestGenerateKeepsExistingCards(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "corsika_input")
	paths, err := Generate(testCards(2), dir)
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(dir, "DAT000070.in"),
		filepath.Join(dir, "DAT000071.in"),
	}, paths)

	edited := []byte("RUNNR 70\nERANGE 1.0E+09 1.0E+09\n")
	require.NoError(t, os.WriteFile(paths[0], edited, 0o644))

	again, err := Generate(testCards(2), dir)
	require.NoError(t, err)
	assert.Equal(t, paths, again)
	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, edited, data)

	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp.*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestNames(t *testing.T) {
	assert.Equal(t, "DAT000070", Name(70))
	assert.Equal(t, "DAT123456", Card{Run: 123456}.Name())
	assert.Equal(t, "DAT000070", PipelineID("/run/corsika_input/DAT000070.in"))
}
