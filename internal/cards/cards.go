// Package cards generates the CORSIKA steering cards that seed every
// pipeline and reads back the few values later stages need.
package cards

import (
	"bufio"
	"bytes"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fentz26/showerflow/internal/config"
)

// Extension of a steering card file.
const Extension = ".in"

var primaryCodes = map[string]int{
	"gamma":    1,
	"proton":   14,
	"helium":   402,
	"nitrogen": 1407,
	"iron":     5626,
}

// Card is one shower's steering parameters.
type Card struct {
	Run         int
	Primary     int
	Log10Energy float64 // log10(E/eV)
	ZenithDeg   float64
	Seeds       [2]int
}

// Name is the pipeline identifier derived from the run number.
func (c Card) Name() string {
	return Name(c.Run)
}

// Name formats a run number as a pipeline identifier.
func Name(run int) string {
	return fmt.Sprintf("DAT%06d", run)
}

// Render returns the card file content.
func (c Card) Render() []byte {
	eGeV := math.Pow(10, c.Log10Energy-9)
	var b bytes.Buffer
	fmt.Fprintf(&b, "RUNNR   %d\n", c.Run)
	fmt.Fprintf(&b, "EVTNR   1\n")
	fmt.Fprintf(&b, "NSHOW   1\n")
	fmt.Fprintf(&b, "PRMPAR  %d\n", c.Primary)
	fmt.Fprintf(&b, "ESLOPE  -1.0\n")
	fmt.Fprintf(&b, "ERANGE  %.4E %.4E\n", eGeV, eGeV)
	fmt.Fprintf(&b, "THETAP  %.4f %.4f\n", c.ZenithDeg, c.ZenithDeg)
	fmt.Fprintf(&b, "PHIP    -180.0 180.0\n")
	fmt.Fprintf(&b, "SEED    %d 0 0\n", c.Seeds[0])
	fmt.Fprintf(&b, "SEED    %d 0 0\n", c.Seeds[1])
	fmt.Fprintf(&b, "THIN    1.0E-06 %.4E 0.0\n", eGeV*1e-6)
	fmt.Fprintf(&b, "THINH   1.0 100.0\n")
	fmt.Fprintf(&b, "EXIT\n")
	return b.Bytes()
}

// Plan computes the cards for the configuration without touching disk.
// The result depends only on cfg, so reruns regenerate identical cards.
func Plan(cfg config.Cards) ([]Card, error) {
	code, ok := primaryCodes[cfg.Primary]
	if !ok {
		return nil, &config.BadConfigValue{Key: "cards.primary", Value: cfg.Primary, Reason: "unknown primary"}
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	cosMax2 := math.Pow(math.Cos(cfg.ZenithMaxDeg*math.Pi/180), 2)
	out := make([]Card, 0, cfg.Count)
	for i := 0; i < cfg.Count; i++ {
		u1, u2 := rng.Float64(), rng.Float64()
		lgE := cfg.Log10EnergyMin + u1*(cfg.Log10EnergyMax-cfg.Log10EnergyMin)
		// sin*cos weighting: cos^2 is uniform on [cos^2(theta_max), 1].
		theta := math.Acos(math.Sqrt(cosMax2+u2*(1-cosMax2))) * 180 / math.Pi
		out = append(out, Card{
			Run:         cfg.FirstRun + i,
			Primary:     code,
			Log10Energy: math.Round(lgE*1e4) / 1e4,
			ZenithDeg:   math.Round(theta*1e4) / 1e4,
			Seeds:       [2]int{1 + rng.Intn(900000000), 1 + rng.Intn(900000000)},
		})
	}
	return out, nil
}

// Generate writes the planned cards into dir and returns their paths in
// run order. Existing card files are left untouched.
func Generate(cfg config.Cards, dir string) ([]string, error) {
	planned, err := Plan(cfg)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create card dir: %w", err)
	}
	paths := make([]string, 0, len(planned))
	for _, c := range planned {
		p := filepath.Join(dir, c.Name()+Extension)
		paths = append(paths, p)
		if _, err := os.Stat(p); err == nil {
			continue
		}
		if err := writeAtomic(p, c.Render()); err != nil {
			return nil, fmt.Errorf("write card %s: %w", p, err)
		}
	}
	return paths, nil
}

// Parse reads a steering card.
func Parse(path string) (Card, error) {
	f, err := os.Open(path)
	if err != nil {
		return Card{}, err
	}
	defer f.Close()

	var c Card
	seeds := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "RUNNR":
			c.Run, err = strconv.Atoi(fields[1])
		case "PRMPAR":
			c.Primary, err = strconv.Atoi(fields[1])
		case "ERANGE":
			var eGeV float64
			eGeV, err = strconv.ParseFloat(fields[1], 64)
			if err == nil {
				c.Log10Energy = math.Log10(eGeV) + 9
			}
		case "THETAP":
			c.ZenithDeg, err = strconv.ParseFloat(fields[1], 64)
		case "SEED":
			if seeds < 2 {
				c.Seeds[seeds], err = strconv.Atoi(fields[1])
				seeds++
			}
		}
		if err != nil {
			return Card{}, fmt.Errorf("parse %s: %s: %w", path, fields[0], err)
		}
	}
	if err := sc.Err(); err != nil {
		return Card{}, err
	}
	if c.Run == 0 && c.Log10Energy == 0 {
		return Card{}, fmt.Errorf("parse %s: not a steering card", path)
	}
	return c, nil
}

// PipelineID returns the pipeline identifier for a card path.
func PipelineID(path string) string {
	return strings.TrimSuffix(filepath.Base(path), Extension)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
