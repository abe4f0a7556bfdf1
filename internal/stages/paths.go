package stages

import (
	"fmt"
	"strconv"

	"github.com/fentz26/showerflow/internal/cards"
	"github.com/fentz26/showerflow/internal/layout"
)

// Paths names every file of one pipeline inside the run layout.
type Paths struct {
	L  layout.Layout
	ID string
}

// Threshold formats an energy threshold for file names: 19 → "E19".
func Threshold(thr float64) string {
	return "E" + strconv.FormatFloat(thr, 'f', -1, 64)
}

func (p Paths) Card() string { return p.L.Path(layout.CorsikaInput, p.ID+cards.Extension) }

func (p Paths) Particle() string   { return p.L.Path(layout.CorsikaOutput, p.ID) }
func (p Paths) Long() string       { return p.L.Path(layout.CorsikaOutput, p.ID+".long") }
func (p Paths) CorsikaLog() string { return p.L.Path(layout.CorsikaOutput, p.ID+".lst") }
func (p Paths) CorsikaErr() string { return p.L.Path(layout.CorsikaOutput, p.ID+".err") }

// PartPrefix is the prefix the splitter appends part suffixes to.
func (p Paths) PartPrefix() string { return p.L.Path(layout.DethinningOutput, p.ID) }
func (p Paths) SplitLog() string   { return p.L.Path(layout.DethinningOutput, p.ID+".split.log") }

// Part returns split part i, counted from 1.
func (p Paths) Part(i int) string      { return fmt.Sprintf("%s.p%02d", p.PartPrefix(), i) }
func (p Paths) Dethinned(i int) string { return p.Part(i) + ".dethinned" }
func (p Paths) DethinLog(i int) string { return p.Part(i) + ".log" }

func (p Paths) TileList() string { return p.L.Path(layout.C2GOutput, p.ID+".list") }
func (p Paths) Tile() string     { return p.L.Path(layout.C2GOutput, p.ID+"_gea.dat") }
func (p Paths) C2GLog() string   { return p.L.Path(layout.C2GOutput, p.ID+".log") }

func (p Paths) NThrows() string { return p.L.Path(layout.Events, p.ID+".nthrows") }

func (p Paths) Events(epoch string) string {
	return p.L.Path(layout.Events, p.ID+"_"+epoch+".events")
}

func (p Paths) ThrowLog(epoch string) string {
	return p.L.Path(layout.Events, p.ID+"_"+epoch+".throw.log")
}

func (p Paths) variant(epoch string, thr float64) string {
	return p.ID + "_" + epoch + "_" + Threshold(thr)
}

func (p Paths) Spectrum(epoch string, thr float64) string {
	return p.L.Path(layout.Events, p.variant(epoch, thr)+".spctr")
}

func (p Paths) ResampleLog(epoch string, thr float64) string {
	return p.L.Path(layout.Events, p.variant(epoch, thr)+".resample.log")
}

func (p Paths) Reconstruction(epoch string, thr float64) string {
	return p.L.Path(layout.Reconstruction, p.variant(epoch, thr)+".rec")
}

func (p Paths) ReconstructionLog(epoch string, thr float64) string {
	return p.L.Path(layout.Reconstruction, p.variant(epoch, thr)+".log")
}

func (p Paths) Dump(epoch string, thr float64) string {
	return p.L.Path(layout.Final, p.variant(epoch, thr)+".dump.txt")
}

func (p Paths) DumpLog(epoch string, thr float64) string {
	return p.L.Path(layout.Final, p.variant(epoch, thr)+".dump.log")
}

func (p Paths) Done() string { return p.L.Path(layout.Final, p.ID+".done") }

// Merged is the cross-pipeline aggregate for thr.
func Merged(l layout.Layout, thr float64) string {
	return l.Path(layout.Final, "merged_"+Threshold(thr)+".txt")
}
