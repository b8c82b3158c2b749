// Package grid holds the device-level model the numerical compiler reads:
// buses, branches (lines, transformers, AC/DC converters), DC links and the
// injection devices attached to buses. It is deliberately thin; editing,
// persistence and visualization live elsewhere.
package grid

import (
	"github.com/google/uuid"
)

// ControlMode declares what a controllable branch regulates. Transformer
// modes pair the tap angle with Pf and the tap module with Qt/Vt; converter
// modes follow the unified branch model control table (DC side = "from",
// AC side = "to").
type ControlMode int

const (
	ControlFixed ControlMode = iota

	// transformer controls
	ControlPf   // tap angle regulates Pf
	ControlQt   // tap module regulates Qt
	ControlPtQt // both
	ControlVt   // tap module regulates Vt
	ControlPtVt // tap angle regulates Pf, tap module regulates Vt

	// converter controls
	ControlVscFree    // zero reactive flow condition only
	ControlVscVt      // Vac
	ControlVscPfQt    // Pdc + Qac
	ControlVscPfVt    // Pdc + Vac
	ControlVscVfQt    // Vdc + Qac
	ControlVscVfVt    // Vdc + Vac
	ControlVscDroopQt // Vdc droop + Qac
	ControlVscDroopVt // Vdc droop + Vac
	ControlVscVf      // Vdc
	ControlVscPf      // Pdc
)

// HvdcControl selects how a DC link dispatches its power.
type HvdcControl int

const (
	HvdcControlPset   HvdcControl = iota // fixed power set point
	HvdcControlPdroop                    // set point plus angle droop
)

// Grid is the ordered device container handed to the compiler.
type Grid struct {
	Name  string
	Sbase float64 // MVA
	Fbase float64 // Hz

	Buses        []*Bus
	Lines        []*Line
	Transformers []*Transformer
	Converters   []*Vsc
	HvdcLines    []*HvdcLine
	Generators   []*Generator
	Batteries    []*Battery
	Loads        []*Load
	Shunts       []*Shunt
}

func New(name string) *Grid {
	return &Grid{
		Name:  name,
		Sbase: 100.0,
		Fbase: 50.0,
	}
}

// NBranch is the calculation-branch count: lines, transformers and
// converters folded into one ordered array, in that order.
func (g *Grid) NBranch() int {
	return len(g.Lines) + len(g.Transformers) + len(g.Converters)
}

func (g *Grid) AddBus(b *Bus) *Bus {
	g.Buses = append(g.Buses, b)
	return b
}

func (g *Grid) AddLine(l *Line) *Line {
	g.Lines = append(g.Lines, l)
	return l
}

func (g *Grid) AddTransformer(tr *Transformer) *Transformer {
	g.Transformers = append(g.Transformers, tr)
	return tr
}

func (g *Grid) AddConverter(c *Vsc) *Vsc {
	g.Converters = append(g.Converters, c)
	return c
}

func (g *Grid) AddHvdcLine(h *HvdcLine) *HvdcLine {
	g.HvdcLines = append(g.HvdcLines, h)
	return h
}

func (g *Grid) AddGenerator(gen *Generator) *Generator {
	g.Generators = append(g.Generators, gen)
	return gen
}

func (g *Grid) AddBattery(b *Battery) *Battery {
	g.Batteries = append(g.Batteries, b)
	return b
}

func (g *Grid) AddLoad(l *Load) *Load {
	g.Loads = append(g.Loads, l)
	return l
}

func (g *Grid) AddShunt(s *Shunt) *Shunt {
	g.Shunts = append(g.Shunts, s)
	return s
}

func newIDTag() string {
	return uuid.NewString()
}

// at returns the profiled value at time index t, or the snapshot value when
// t < 0 or no profile is loaded.
func at(snapshot float64, profile []float64, t int) float64 {
	if t >= 0 && t < len(profile) {
		return profile[t]
	}
	return snapshot
}

func activeAt(snapshot bool, profile []bool, t int) bool {
	if t >= 0 && t < len(profile) {
		return profile[t]
	}
	return snapshot
}
