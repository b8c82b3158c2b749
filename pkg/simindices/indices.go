// Package simindices classifies buses into PQ/PV/slack sets and resolves the
// branch control modes into the ordered index sets that define which tap
// modules, tap angles and equivalent susceptances are unknowns of the solve.
package simindices

import (
	"fmt"
	"sort"

	"toy-grid/pkg/grid"
)

// BusMode is the calculation type of a bus.
type BusMode int

const (
	PQ BusMode = iota + 1
	PV
	Slack
	Isolated
)

// BusTypes holds the finalized bus classification.
type BusTypes struct {
	VD      []int // slack buses
	PQ      []int
	PV      []int
	NoSlack []int // pq + pv, sorted
}

// CompileTypes finalizes the provisional bus types. When no slack exists the
// PV bus injecting the most power is promoted; with no PV buses either, the
// set is returned as-is (a blackout island the caller must diagnose). The
// types slice is updated in place with any promotion.
func CompileTypes(pbus []float64, types []BusMode) *BusTypes {
	bt := &BusTypes{}
	for i, t := range types {
		switch t {
		case PQ:
			bt.PQ = append(bt.PQ, i)
		case PV:
			bt.PV = append(bt.PV, i)
		case Slack:
			bt.VD = append(bt.VD, i)
		}
	}

	if len(bt.VD) == 0 && len(bt.PV) > 0 {
		// promote the PV bus with the largest injection
		best := bt.PV[0]
		for _, i := range bt.PV {
			if pbus[i] > pbus[best] {
				best = i
			}
		}
		pv := bt.PV[:0]
		for _, i := range bt.PV {
			if i != best {
				pv = append(pv, i)
			}
		}
		bt.PV = pv
		bt.VD = []int{best}
		types[best] = Slack
	}

	bt.NoSlack = make([]int, 0, len(bt.PQ)+len(bt.PV))
	bt.NoSlack = append(bt.NoSlack, bt.PQ...)
	bt.NoSlack = append(bt.NoSlack, bt.PV...)
	sort.Ints(bt.NoSlack)
	return bt
}

// Indices resolves every controllable branch quantity into exactly one
// bucket: fixed, or a member of one of the ordered unknown sets below.
//
// Naming: kPfTau are branches whose tap angle regulates Pf, kQtM branches
// whose tap module regulates Qt, kZeroBeq converters forcing Qf = 0 with
// Beq, kVfBeq converters regulating the DC-side voltage with Beq, kVtM
// branches regulating the AC-side voltage with the tap module, kPfDp the
// droop-controlled converters.
type Indices struct {
	KPfTau   []int
	KQfM     []int
	KZeroBeq []int
	KVfBeq   []int
	KVtM     []int
	KQtM     []int
	KPfDp    []int

	KM    []int // all branches with a controlled tap module
	KTau  []int // all branches with a controlled tap angle
	KMTau []int // branches controlling both

	IVsc    []int // converter branch indices
	IVfBeq  []int // buses whose Vf is regulated by Beq
	IVtM    []int // buses whose Vt is regulated by a tap module
	IM      []int // buses controlled by a tap module
	ITau    []int // buses controlled by a tap angle
	IMTau   []int // buses controlled by both

	AnyControl bool
}

// New walks the branch control modes and fills the index sets. F and T are
// the branch endpoint bus indices. An unrecognized mode is a configuration
// error, never silently treated as fixed.
func New(controlModes []grid.ControlMode, f, t []int) (*Indices, error) {
	ix := &Indices{}

	for k, mode := range controlModes {
		switch mode {
		case grid.ControlFixed:
			// nothing to solve for

		case grid.ControlPf:
			ix.KPfTau = append(ix.KPfTau, k)
			ix.KTau = append(ix.KTau, k)
			ix.ITau = append(ix.ITau, f[k])
			ix.AnyControl = true

		case grid.ControlQt:
			ix.KQtM = append(ix.KQtM, k)
			ix.KM = append(ix.KM, k)
			ix.IM = append(ix.IM, t[k])
			ix.AnyControl = true

		case grid.ControlPtQt:
			ix.KPfTau = append(ix.KPfTau, k)
			ix.KQtM = append(ix.KQtM, k)
			ix.KM = append(ix.KM, k)
			ix.KTau = append(ix.KTau, k)
			ix.KMTau = append(ix.KMTau, k)
			ix.ITau = append(ix.ITau, f[k])
			ix.IM = append(ix.IM, t[k])
			ix.AnyControl = true

		case grid.ControlVt:
			ix.KVtM = append(ix.KVtM, k)
			ix.KM = append(ix.KM, k)
			ix.IM = append(ix.IM, t[k])
			ix.AnyControl = true

		case grid.ControlPtVt:
			ix.KPfTau = append(ix.KPfTau, k)
			ix.KVtM = append(ix.KVtM, k)
			ix.KM = append(ix.KM, k)
			ix.KTau = append(ix.KTau, k)
			ix.KMTau = append(ix.KMTau, k)
			ix.ITau = append(ix.ITau, f[k])
			ix.IM = append(ix.IM, t[k])
			ix.AnyControl = true

		case grid.ControlVscFree:
			ix.KZeroBeq = append(ix.KZeroBeq, k)
			ix.IVsc = append(ix.IVsc, k)
			ix.AnyControl = true

		case grid.ControlVscVt:
			ix.KVtM = append(ix.KVtM, k)
			ix.KZeroBeq = append(ix.KZeroBeq, k)
			ix.IVsc = append(ix.IVsc, k)
			ix.AnyControl = true

		case grid.ControlVscPfQt:
			ix.KPfTau = append(ix.KPfTau, k)
			ix.KQtM = append(ix.KQtM, k)
			ix.KZeroBeq = append(ix.KZeroBeq, k)
			ix.IVsc = append(ix.IVsc, k)
			ix.AnyControl = true

		case grid.ControlVscPfVt:
			ix.KPfTau = append(ix.KPfTau, k)
			ix.KVtM = append(ix.KVtM, k)
			ix.KZeroBeq = append(ix.KZeroBeq, k)
			ix.IVsc = append(ix.IVsc, k)
			ix.AnyControl = true

		case grid.ControlVscVfQt:
			ix.KVfBeq = append(ix.KVfBeq, k)
			ix.KQtM = append(ix.KQtM, k)
			ix.IVsc = append(ix.IVsc, k)
			ix.AnyControl = true

		case grid.ControlVscVfVt:
			ix.KVfBeq = append(ix.KVfBeq, k)
			ix.KVtM = append(ix.KVtM, k)
			ix.IVsc = append(ix.IVsc, k)
			ix.AnyControl = true

		case grid.ControlVscDroopQt:
			ix.KPfDp = append(ix.KPfDp, k)
			ix.KQtM = append(ix.KQtM, k)
			ix.IVsc = append(ix.IVsc, k)
			ix.AnyControl = true

		case grid.ControlVscDroopVt:
			ix.KPfDp = append(ix.KPfDp, k)
			ix.KVtM = append(ix.KVtM, k)
			ix.IVsc = append(ix.IVsc, k)
			ix.AnyControl = true

		case grid.ControlVscVf:
			ix.KVfBeq = append(ix.KVfBeq, k)
			ix.IVsc = append(ix.IVsc, k)
			ix.AnyControl = true

		case grid.ControlVscPf:
			ix.KPfTau = append(ix.KPfTau, k)
			ix.KZeroBeq = append(ix.KZeroBeq, k)
			ix.AnyControl = true

		default:
			return nil, fmt.Errorf("branch %d: unknown control mode %d", k, mode)
		}
	}

	// bus identifiers of the voltage-controlled ends
	ix.IVfBeq = make([]int, len(ix.KVfBeq))
	for i, k := range ix.KVfBeq {
		ix.IVfBeq[i] = f[k]
	}
	ix.IVtM = make([]int, len(ix.KVtM))
	for i, k := range ix.KVtM {
		ix.IVtM[i] = t[k]
	}
	ix.IMTau = make([]int, len(ix.KMTau))
	for i, k := range ix.KMTau {
		ix.IMTau[i] = t[k]
	}
	return ix, nil
}

// VoltageProfileParams gathers the set points that seed the initial voltage
// vector. The first controlling device to claim a bus wins.
type VoltageProfileParams struct {
	NBus int

	GenBus        []int
	GenVset       []float64
	GenActive     []bool
	GenControlled []bool

	BatBus        []int
	BatVset       []float64
	BatActive     []bool
	BatControlled []bool

	HvdcBusF   []int
	HvdcBusT   []int
	HvdcActive []bool
	HvdcVsetF  []float64
	HvdcVsetT  []float64

	KVfBeq       []int
	KVtM         []int
	IVfBeq       []int
	IVtM         []int
	BranchActive []bool
	BranchVf     []float64
	BranchVt     []float64
}

// ComposeVoltageProfile seeds a flat 1+0j start and overwrites it with the
// generator, battery, HVDC and controlled-branch voltage set points. The
// second return marks the buses claimed by a set point.
func ComposeVoltageProfile(p *VoltageProfileParams) ([]complex128, []bool) {
	v := make([]complex128, p.NBus)
	for i := range v {
		v[i] = 1
	}
	used := make([]bool, p.NBus)

	for i, bus := range p.GenBus {
		if p.GenControlled[i] && !used[bus] && p.GenActive[i] {
			v[bus] = complex(p.GenVset[i], 0)
			used[bus] = true
		}
	}
	for i, bus := range p.BatBus {
		if p.BatControlled[i] && !used[bus] && p.BatActive[i] {
			v[bus] = complex(p.BatVset[i], 0)
			used[bus] = true
		}
	}
	for i := range p.HvdcBusF {
		if !p.HvdcActive[i] {
			continue
		}
		if bf := p.HvdcBusF[i]; !used[bf] && p.HvdcVsetF[i] > 0 {
			v[bf] = complex(p.HvdcVsetF[i], 0)
			used[bf] = true
		}
		if bt := p.HvdcBusT[i]; !used[bt] && p.HvdcVsetT[i] > 0 {
			v[bt] = complex(p.HvdcVsetT[i], 0)
			used[bt] = true
		}
	}
	for i, k := range p.KVfBeq {
		if p.BranchActive[k] && p.BranchVf[k] > 0 {
			v[p.IVfBeq[i]] = complex(p.BranchVf[k], 0)
			used[p.IVfBeq[i]] = true
		}
	}
	for i, k := range p.KVtM {
		if p.BranchActive[k] && p.BranchVt[k] > 0 {
			v[p.IVtM[i]] = complex(p.BranchVt[k], 0)
			used[p.IVtM[i]] = true
		}
	}
	return v, used
}
