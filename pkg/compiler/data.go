// Package compiler turns the device-level grid model into the index-aligned
// numerical arrays (one block per device class) that the topology,
// admittance and derivative engines operate on.
package compiler

import (
	"math"

	"toy-grid/pkg/grid"
	"toy-grid/pkg/simindices"
	"toy-grid/pkg/sparse"
)

// BusData is the per-bus block. All voltages per unit, Vnom in kV.
type BusData struct {
	NBus        int
	Names       []string
	Active      []bool
	Vnom        []float64
	Vmin        []float64
	Vmax        []float64
	Vbus        []complex128 // initial guess
	Types       []simindices.BusMode
	Areas       []int
	IsDC        []bool
	OriginalIdx []int
}

func newBusData(n int) *BusData {
	return &BusData{
		NBus:        n,
		Names:       make([]string, n),
		Active:      make([]bool, n),
		Vnom:        make([]float64, n),
		Vmin:        make([]float64, n),
		Vmax:        make([]float64, n),
		Vbus:        make([]complex128, n),
		Types:       make([]simindices.BusMode, n),
		Areas:       make([]int, n),
		IsDC:        make([]bool, n),
		OriginalIdx: make([]int, n),
	}
}

func (b *BusData) slice(busIdx []int) *BusData {
	s := newBusData(len(busIdx))
	for ii, i := range busIdx {
		s.Names[ii] = b.Names[i]
		s.Active[ii] = b.Active[i]
		s.Vnom[ii] = b.Vnom[i]
		s.Vmin[ii] = b.Vmin[i]
		s.Vmax[ii] = b.Vmax[i]
		s.Vbus[ii] = b.Vbus[i]
		s.Types[ii] = b.Types[i]
		s.Areas[ii] = b.Areas[i]
		s.IsDC[ii] = b.IsDC[i]
		s.OriginalIdx[ii] = b.OriginalIdx[i]
	}
	return s
}

// BranchData folds lines, transformers and converters into one calculation
// branch array. Impedances per unit, set points per unit, angles in radians.
type BranchData struct {
	NBr   int
	NBus  int
	Names []string

	Active []bool
	F      []int
	T      []int

	R []float64
	X []float64
	G []float64
	B []float64

	K         []float64 // winding-ratio constant, sqrt(3)/2 on converters
	TapModule []float64
	TapAngle  []float64
	TapMmin   []float64
	TapMmax   []float64
	TapAmin   []float64
	TapAmax   []float64
	VtapF     []float64
	VtapT     []float64

	Beq    []float64
	BeqMin []float64
	BeqMax []float64
	G0sw   []float64
	Alpha1 []float64
	Alpha2 []float64
	Alpha3 []float64
	Kdp    []float64

	IsConverter []bool
	IsDC        []bool

	Control []grid.ControlMode
	Pfset   []float64
	Qtset   []float64
	Vfset   []float64
	Vtset   []float64

	Rates       []float64
	OriginalIdx []int
}

func newBranchData(n, nbus int) *BranchData {
	b := &BranchData{
		NBr:         n,
		NBus:        nbus,
		Names:       make([]string, n),
		Active:      make([]bool, n),
		F:           make([]int, n),
		T:           make([]int, n),
		R:           make([]float64, n),
		X:           make([]float64, n),
		G:           make([]float64, n),
		B:           make([]float64, n),
		K:           make([]float64, n),
		TapModule:   make([]float64, n),
		TapAngle:    make([]float64, n),
		TapMmin:     make([]float64, n),
		TapMmax:     make([]float64, n),
		TapAmin:     make([]float64, n),
		TapAmax:     make([]float64, n),
		VtapF:       make([]float64, n),
		VtapT:       make([]float64, n),
		Beq:         make([]float64, n),
		BeqMin:      make([]float64, n),
		BeqMax:      make([]float64, n),
		G0sw:        make([]float64, n),
		Alpha1:      make([]float64, n),
		Alpha2:      make([]float64, n),
		Alpha3:      make([]float64, n),
		Kdp:         make([]float64, n),
		IsConverter: make([]bool, n),
		IsDC:        make([]bool, n),
		Control:     make([]grid.ControlMode, n),
		Pfset:       make([]float64, n),
		Qtset:       make([]float64, n),
		Vfset:       make([]float64, n),
		Vtset:       make([]float64, n),
		Rates:       make([]float64, n),
		OriginalIdx: make([]int, n),
	}
	for k := 0; k < n; k++ {
		b.K[k] = 1.0
		b.TapModule[k] = 1.0
		b.VtapF[k] = 1.0
		b.VtapT[k] = 1.0
	}
	return b
}

// Cf builds the raw from-side branch-bus incidence.
func (b *BranchData) Cf() (*sparse.CSC, error) {
	rows := make([]int, b.NBr)
	vals := make([]float64, b.NBr)
	for k := 0; k < b.NBr; k++ {
		rows[k] = k
		vals[k] = 1.0
	}
	return sparse.FromTriplets(b.NBr, b.NBus, rows, b.F, vals)
}

// Ct builds the raw to-side branch-bus incidence.
func (b *BranchData) Ct() (*sparse.CSC, error) {
	rows := make([]int, b.NBr)
	vals := make([]float64, b.NBr)
	for k := 0; k < b.NBr; k++ {
		rows[k] = k
		vals[k] = 1.0
	}
	return sparse.FromTriplets(b.NBr, b.NBus, rows, b.T, vals)
}

// slice keeps the active branches whose endpoints both lie in busIdx,
// remapping F and T to the island-local numbering.
func (b *BranchData) slice(busIdx []int, busLookup []int) *BranchData {
	var keep []int
	for k := 0; k < b.NBr; k++ {
		if b.Active[k] && busLookup[b.F[k]] >= 0 && busLookup[b.T[k]] >= 0 {
			keep = append(keep, k)
		}
	}
	s := newBranchData(len(keep), len(busIdx))
	for kk, k := range keep {
		s.Names[kk] = b.Names[k]
		s.Active[kk] = b.Active[k]
		s.F[kk] = busLookup[b.F[k]]
		s.T[kk] = busLookup[b.T[k]]
		s.R[kk] = b.R[k]
		s.X[kk] = b.X[k]
		s.G[kk] = b.G[k]
		s.B[kk] = b.B[k]
		s.K[kk] = b.K[k]
		s.TapModule[kk] = b.TapModule[k]
		s.TapAngle[kk] = b.TapAngle[k]
		s.TapMmin[kk] = b.TapMmin[k]
		s.TapMmax[kk] = b.TapMmax[k]
		s.TapAmin[kk] = b.TapAmin[k]
		s.TapAmax[kk] = b.TapAmax[k]
		s.VtapF[kk] = b.VtapF[k]
		s.VtapT[kk] = b.VtapT[k]
		s.Beq[kk] = b.Beq[k]
		s.BeqMin[kk] = b.BeqMin[k]
		s.BeqMax[kk] = b.BeqMax[k]
		s.G0sw[kk] = b.G0sw[k]
		s.Alpha1[kk] = b.Alpha1[k]
		s.Alpha2[kk] = b.Alpha2[k]
		s.Alpha3[kk] = b.Alpha3[k]
		s.Kdp[kk] = b.Kdp[k]
		s.IsConverter[kk] = b.IsConverter[k]
		s.IsDC[kk] = b.IsDC[k]
		s.Control[kk] = b.Control[k]
		s.Pfset[kk] = b.Pfset[k]
		s.Qtset[kk] = b.Qtset[k]
		s.Vfset[kk] = b.Vfset[k]
		s.Vtset[kk] = b.Vtset[k]
		s.Rates[kk] = b.Rates[k]
		s.OriginalIdx[kk] = b.OriginalIdx[k]
	}
	return s
}

// InjectionData is the shared layout of the bus-attached device blocks.
// S holds complex power per unit (consumption positive for loads), Y
// admittance per unit for shunts; unused fields stay nil.
type InjectionData struct {
	NElm        int
	Names       []string
	Active      []bool
	BusIdx      []int
	S           []complex128
	Y           []complex128
	Vset        []float64
	Qmin        []float64
	Qmax        []float64
	Controlled  []bool
	OriginalIdx []int
}

func newInjectionData(n int) *InjectionData {
	return &InjectionData{
		NElm:        n,
		Names:       make([]string, n),
		Active:      make([]bool, n),
		BusIdx:      make([]int, n),
		S:           make([]complex128, n),
		Y:           make([]complex128, n),
		Vset:        make([]float64, n),
		Qmin:        make([]float64, n),
		Qmax:        make([]float64, n),
		Controlled:  make([]bool, n),
		OriginalIdx: make([]int, n),
	}
}

// CBusElm builds the nbus x nelm incidence, one nonzero per device column.
func (d *InjectionData) CBusElm(nbus int) (*sparse.CSC, error) {
	cols := make([]int, d.NElm)
	vals := make([]float64, d.NElm)
	for e := 0; e < d.NElm; e++ {
		cols[e] = e
		vals[e] = 1.0
	}
	return sparse.FromTriplets(nbus, d.NElm, d.BusIdx, cols, vals)
}

// InjectionsPerBus scatters active-device complex power onto the buses.
func (d *InjectionData) InjectionsPerBus(nbus int) []complex128 {
	s := make([]complex128, nbus)
	for e := 0; e < d.NElm; e++ {
		if d.Active[e] {
			s[d.BusIdx[e]] += d.S[e]
		}
	}
	return s
}

// AdmittancePerBus scatters active-device admittance onto the buses.
func (d *InjectionData) AdmittancePerBus(nbus int) []complex128 {
	y := make([]complex128, nbus)
	for e := 0; e < d.NElm; e++ {
		if d.Active[e] {
			y[d.BusIdx[e]] += d.Y[e]
		}
	}
	return y
}

func (d *InjectionData) slice(busLookup []int) *InjectionData {
	var keep []int
	for e := 0; e < d.NElm; e++ {
		if d.Active[e] && busLookup[d.BusIdx[e]] >= 0 {
			keep = append(keep, e)
		}
	}
	s := newInjectionData(len(keep))
	for ee, e := range keep {
		s.Names[ee] = d.Names[e]
		s.Active[ee] = d.Active[e]
		s.BusIdx[ee] = busLookup[d.BusIdx[e]]
		s.S[ee] = d.S[e]
		s.Y[ee] = d.Y[e]
		s.Vset[ee] = d.Vset[e]
		s.Qmin[ee] = d.Qmin[e]
		s.Qmax[ee] = d.Qmax[e]
		s.Controlled[ee] = d.Controlled[e]
		s.OriginalIdx[ee] = d.OriginalIdx[e]
	}
	return s
}

// HvdcData is the DC-link block. Power and limits per unit.
type HvdcData struct {
	NElm        int
	Names       []string
	Active      []bool
	F           []int
	T           []int
	R           []float64
	Pset        []float64
	VsetF       []float64
	VsetT       []float64
	AngleDroop  []float64 // p.u./rad
	Control     []grid.HvdcControl
	Rates       []float64
	QminF       []float64
	QmaxF       []float64
	QminT       []float64
	QmaxT       []float64
	OriginalIdx []int
}

func newHvdcData(n int) *HvdcData {
	return &HvdcData{
		NElm:        n,
		Names:       make([]string, n),
		Active:      make([]bool, n),
		F:           make([]int, n),
		T:           make([]int, n),
		R:           make([]float64, n),
		Pset:        make([]float64, n),
		VsetF:       make([]float64, n),
		VsetT:       make([]float64, n),
		AngleDroop:  make([]float64, n),
		Control:     make([]grid.HvdcControl, n),
		Rates:       make([]float64, n),
		QminF:       make([]float64, n),
		QmaxF:       make([]float64, n),
		QminT:       make([]float64, n),
		QmaxT:       make([]float64, n),
		OriginalIdx: make([]int, n),
	}
}

func (b *BusData) copyAll() *BusData {
	all := make([]int, b.NBus)
	for i := range all {
		all[i] = i
	}
	return b.slice(all)
}

func (b *BranchData) copyAll() *BranchData {
	c := newBranchData(b.NBr, b.NBus)
	copy(c.Names, b.Names)
	copy(c.Active, b.Active)
	copy(c.F, b.F)
	copy(c.T, b.T)
	copy(c.R, b.R)
	copy(c.X, b.X)
	copy(c.G, b.G)
	copy(c.B, b.B)
	copy(c.K, b.K)
	copy(c.TapModule, b.TapModule)
	copy(c.TapAngle, b.TapAngle)
	copy(c.TapMmin, b.TapMmin)
	copy(c.TapMmax, b.TapMmax)
	copy(c.TapAmin, b.TapAmin)
	copy(c.TapAmax, b.TapAmax)
	copy(c.VtapF, b.VtapF)
	copy(c.VtapT, b.VtapT)
	copy(c.Beq, b.Beq)
	copy(c.BeqMin, b.BeqMin)
	copy(c.BeqMax, b.BeqMax)
	copy(c.G0sw, b.G0sw)
	copy(c.Alpha1, b.Alpha1)
	copy(c.Alpha2, b.Alpha2)
	copy(c.Alpha3, b.Alpha3)
	copy(c.Kdp, b.Kdp)
	copy(c.IsConverter, b.IsConverter)
	copy(c.IsDC, b.IsDC)
	copy(c.Control, b.Control)
	copy(c.Pfset, b.Pfset)
	copy(c.Qtset, b.Qtset)
	copy(c.Vfset, b.Vfset)
	copy(c.Vtset, b.Vtset)
	copy(c.Rates, b.Rates)
	copy(c.OriginalIdx, b.OriginalIdx)
	return c
}

func (d *InjectionData) copyAll() *InjectionData {
	c := newInjectionData(d.NElm)
	copy(c.Names, d.Names)
	copy(c.Active, d.Active)
	copy(c.BusIdx, d.BusIdx)
	copy(c.S, d.S)
	copy(c.Y, d.Y)
	copy(c.Vset, d.Vset)
	copy(c.Qmin, d.Qmin)
	copy(c.Qmax, d.Qmax)
	copy(c.Controlled, d.Controlled)
	copy(c.OriginalIdx, d.OriginalIdx)
	return c
}

func (h *HvdcData) copyAll() *HvdcData {
	c := newHvdcData(h.NElm)
	copy(c.Names, h.Names)
	copy(c.Active, h.Active)
	copy(c.F, h.F)
	copy(c.T, h.T)
	copy(c.R, h.R)
	copy(c.Pset, h.Pset)
	copy(c.VsetF, h.VsetF)
	copy(c.VsetT, h.VsetT)
	copy(c.AngleDroop, h.AngleDroop)
	copy(c.Control, h.Control)
	copy(c.Rates, h.Rates)
	copy(c.QminF, h.QminF)
	copy(c.QmaxF, h.QmaxF)
	copy(c.QminT, h.QminT)
	copy(c.QmaxT, h.QmaxT)
	copy(c.OriginalIdx, h.OriginalIdx)
	return c
}

// reactiveSplit converts a generator power factor into the reactive power
// matching its active injection.
func reactiveSplit(p, pf float64) float64 {
	pf2 := pf * pf
	if pf2 <= 0 {
		return 0
	}
	return p * math.Sqrt(1.0-pf2) / math.Sqrt(pf2)
}
