package compiler

import (
	"fmt"
	"math/cmplx"

	"toy-grid/internal/consts"
	"toy-grid/pkg/grid"
	"toy-grid/pkg/simindices"
)

// DiagLevel classifies a compilation diagnostic.
type DiagLevel int

const (
	DiagDegeneracy DiagLevel = iota // numerical degeneracy, safe default applied
	DiagTopology                    // island-level finding, island still usable
)

// Diagnostic is a non-fatal finding recorded during compilation.
type Diagnostic struct {
	Level   DiagLevel
	Object  string
	Message string
}

// Compile converts the device graph into a NumericalCircuit at time index t
// (t < 0 compiles the snapshot values). Structural inconsistencies abort
// with an error; numerical degeneracies are recorded as diagnostics and the
// compilation proceeds with guarded values.
func Compile(g *grid.Grid, t int) (*NumericalCircuit, error) {
	nbus := len(g.Buses)
	if nbus == 0 {
		return nil, fmt.Errorf("compile: the grid has no buses")
	}
	sbase := g.Sbase

	nc := &NumericalCircuit{Sbase: sbase, TimeIdx: t}
	if sbase <= 0 {
		nc.diag(DiagDegeneracy, g.Name, fmt.Sprintf("non-positive Sbase %g, using 100 MVA", sbase))
		sbase = 100.0
		nc.Sbase = sbase
	}

	// bus block and the bus-to-index map
	busIdx := make(map[*grid.Bus]int, nbus)
	bus := newBusData(nbus)
	for i, b := range g.Buses {
		if b == nil {
			return nil, fmt.Errorf("compile: bus %d is nil", i)
		}
		if _, dup := busIdx[b]; dup {
			return nil, fmt.Errorf("compile: bus %q appears twice in the bus list", b.Name)
		}
		busIdx[b] = i
		bus.Names[i] = b.Name
		bus.Active[i] = b.ActiveAt(t)
		bus.Vnom[i] = b.Vnom
		bus.Vmin[i] = b.Vmin
		bus.Vmax[i] = b.Vmax
		bus.Vbus[i] = cmplx.Rect(b.Vm0, b.Va0)
		bus.Areas[i] = b.Area
		bus.IsDC[i] = b.IsDC
		bus.OriginalIdx[i] = i
		bus.Types[i] = simindices.PQ
		if !bus.Active[i] {
			bus.Types[i] = simindices.Isolated
		}
		if b.Vnom <= 0 {
			nc.diag(DiagDegeneracy, b.Name, "zero nominal voltage, virtual taps default to 1")
		}
	}
	nc.Bus = bus

	resolve := func(kind, name string, b *grid.Bus) (int, error) {
		if b == nil {
			return 0, fmt.Errorf("compile: %s %q has no bus", kind, name)
		}
		i, ok := busIdx[b]
		if !ok {
			return 0, fmt.Errorf("compile: %s %q references bus %q outside the compiled set", kind, name, b.Name)
		}
		return i, nil
	}

	// branch block: lines, transformers, converters folded in order
	br, err := compileBranches(g, t, nc, busIdx, resolve)
	if err != nil {
		return nil, err
	}
	nc.Branch = br

	// injection devices
	hasDevice := make([]bool, nbus)
	hasControl := make([]bool, nbus)

	gen := newInjectionData(len(g.Generators))
	for e, dev := range g.Generators {
		i, err := resolve("generator", dev.Name, dev.Bus)
		if err != nil {
			return nil, err
		}
		gen.Names[e] = dev.Name
		gen.Active[e] = dev.ActiveAt(t)
		gen.BusIdx[e] = i
		p := dev.PAt(t) / sbase
		gen.S[e] = complex(p, reactiveSplit(p, dev.Pf))
		gen.Vset[e] = dev.VsetAt(t)
		gen.Qmin[e] = dev.Qmin / sbase
		gen.Qmax[e] = dev.Qmax / sbase
		gen.Controlled[e] = dev.IsControlled
		gen.OriginalIdx[e] = e
		hasDevice[i] = true
		if gen.Active[e] && dev.IsControlled {
			hasControl[i] = true
		}
	}
	nc.Generator = gen

	bat := newInjectionData(len(g.Batteries))
	for e, dev := range g.Batteries {
		i, err := resolve("battery", dev.Name, dev.Bus)
		if err != nil {
			return nil, err
		}
		bat.Names[e] = dev.Name
		bat.Active[e] = dev.ActiveAt(t)
		bat.BusIdx[e] = i
		p := dev.PAt(t) / sbase
		bat.S[e] = complex(p, reactiveSplit(p, dev.Pf))
		bat.Vset[e] = dev.VsetAt(t)
		bat.Qmin[e] = dev.Qmin / sbase
		bat.Qmax[e] = dev.Qmax / sbase
		bat.Controlled[e] = dev.IsControlled && !dev.DispatchStorage
		bat.OriginalIdx[e] = e
		hasDevice[i] = true
		if bat.Active[e] && bat.Controlled[e] {
			hasControl[i] = true
		}
	}
	nc.Battery = bat

	load := newInjectionData(len(g.Loads))
	for e, dev := range g.Loads {
		i, err := resolve("load", dev.Name, dev.Bus)
		if err != nil {
			return nil, err
		}
		load.Names[e] = dev.Name
		load.Active[e] = dev.ActiveAt(t)
		load.BusIdx[e] = i
		load.S[e] = complex(dev.PAt(t)/sbase, dev.QAt(t)/sbase)
		load.OriginalIdx[e] = e
	}
	nc.Load = load

	shunt := newInjectionData(len(g.Shunts))
	for e, dev := range g.Shunts {
		i, err := resolve("shunt", dev.Name, dev.Bus)
		if err != nil {
			return nil, err
		}
		shunt.Names[e] = dev.Name
		shunt.Active[e] = dev.ActiveAt(t)
		shunt.BusIdx[e] = i
		shunt.Y[e] = complex(dev.GAt(t)/sbase, dev.BAt(t)/sbase)
		shunt.OriginalIdx[e] = e
	}
	nc.Shunt = shunt

	hvdc := newHvdcData(len(g.HvdcLines))
	for e, dev := range g.HvdcLines {
		fi, err := resolve("hvdc line", dev.Name, dev.BusF)
		if err != nil {
			return nil, err
		}
		ti, err := resolve("hvdc line", dev.Name, dev.BusT)
		if err != nil {
			return nil, err
		}
		if fi == ti {
			return nil, fmt.Errorf("compile: hvdc line %q connects bus %q to itself", dev.Name, dev.BusF.Name)
		}
		hvdc.Names[e] = dev.Name
		hvdc.Active[e] = dev.ActiveAt(t)
		hvdc.F[e] = fi
		hvdc.T[e] = ti
		hvdc.R[e] = dev.R
		hvdc.Pset[e] = dev.PsetAt(t) / sbase
		hvdc.VsetF[e] = dev.VsetF
		hvdc.VsetT[e] = dev.VsetT
		hvdc.AngleDroop[e] = dev.AngleDroop / sbase
		hvdc.Control[e] = dev.Control
		hvdc.Rates[e] = dev.RateAt(t) / sbase
		hvdc.QminF[e] = dev.QminF / sbase
		hvdc.QmaxF[e] = dev.QmaxF / sbase
		hvdc.QminT[e] = dev.QminT / sbase
		hvdc.QmaxT[e] = dev.QmaxT / sbase
		hvdc.OriginalIdx[e] = e
	}
	nc.Hvdc = hvdc

	// finalize the provisional bus types
	for i, b := range g.Buses {
		if !bus.Active[i] {
			continue
		}
		switch {
		case b.IsSlack && (hasControl[i] || !hasDevice[i]):
			bus.Types[i] = simindices.Slack
		case hasControl[i]:
			bus.Types[i] = simindices.PV
		default:
			bus.Types[i] = simindices.PQ
		}
	}

	return nc, nil
}

// CompileSnapshot compiles the nominal (non-profiled) state.
func CompileSnapshot(g *grid.Grid) (*NumericalCircuit, error) {
	return Compile(g, -1)
}

func compileBranches(g *grid.Grid, t int, nc *NumericalCircuit,
	busIdx map[*grid.Bus]int,
	resolve func(kind, name string, b *grid.Bus) (int, error)) (*BranchData, error) {

	nbus := len(g.Buses)
	nbr := g.NBranch()
	br := newBranchData(nbr, nbus)
	sbase := nc.Sbase

	check := func(kind, name string, fi, ti int) error {
		if fi == ti {
			return fmt.Errorf("compile: %s %q connects a bus to itself", kind, name)
		}
		return nil
	}
	vtap := func(winding, vnom float64) float64 {
		if winding <= 0 || vnom <= 0 {
			return 1.0
		}
		return winding / vnom
	}

	k := 0
	for _, dev := range g.Lines {
		fi, err := resolve("line", dev.Name, dev.BusF)
		if err != nil {
			return nil, err
		}
		ti, err := resolve("line", dev.Name, dev.BusT)
		if err != nil {
			return nil, err
		}
		if err := check("line", dev.Name, fi, ti); err != nil {
			return nil, err
		}
		br.Names[k] = dev.Name
		br.Active[k] = dev.ActiveAt(t)
		br.F[k], br.T[k] = fi, ti
		br.R[k], br.X[k] = dev.R, dev.X
		br.G[k], br.B[k] = dev.G, dev.B
		br.Rates[k] = dev.RateAt(t) / sbase
		br.IsDC[k] = dev.BusF.IsDC && dev.BusT.IsDC
		br.Control[k] = grid.ControlFixed
		br.OriginalIdx[k] = k
		if dev.R == 0 && dev.X == 0 {
			nc.diag(DiagDegeneracy, dev.Name, "zero series impedance, epsilon guard applies")
		}
		k++
	}

	for _, dev := range g.Transformers {
		fi, err := resolve("transformer", dev.Name, dev.BusF)
		if err != nil {
			return nil, err
		}
		ti, err := resolve("transformer", dev.Name, dev.BusT)
		if err != nil {
			return nil, err
		}
		if err := check("transformer", dev.Name, fi, ti); err != nil {
			return nil, err
		}
		br.Names[k] = dev.Name
		br.Active[k] = dev.ActiveAt(t)
		br.F[k], br.T[k] = fi, ti
		br.R[k], br.X[k] = dev.R, dev.X
		br.G[k], br.B[k] = dev.G, dev.B
		br.TapModule[k] = dev.TapModuleAt(t)
		br.TapAngle[k] = dev.TapAngleAt(t)
		br.TapMmin[k], br.TapMmax[k] = dev.TapMmin, dev.TapMmax
		br.TapAmin[k], br.TapAmax[k] = dev.TapAmin, dev.TapAmax
		br.VtapF[k] = vtap(dev.Hv, dev.BusF.Vnom)
		br.VtapT[k] = vtap(dev.Lv, dev.BusT.Vnom)
		br.Control[k] = dev.Control
		br.Pfset[k] = dev.Pset / sbase
		br.Qtset[k] = dev.Qset / sbase
		br.Vtset[k] = dev.Vset
		br.Rates[k] = dev.RateAt(t) / sbase
		br.OriginalIdx[k] = k
		if dev.X == 0 {
			nc.diag(DiagDegeneracy, dev.Name, "zero reactance, epsilon guard applies")
		}
		k++
	}

	for _, dev := range g.Converters {
		fi, err := resolve("converter", dev.Name, dev.BusF)
		if err != nil {
			return nil, err
		}
		ti, err := resolve("converter", dev.Name, dev.BusT)
		if err != nil {
			return nil, err
		}
		if err := check("converter", dev.Name, fi, ti); err != nil {
			return nil, err
		}
		br.Names[k] = dev.Name
		br.Active[k] = dev.ActiveAt(t)
		br.F[k], br.T[k] = fi, ti
		br.R[k], br.X[k] = dev.R, dev.X
		br.IsConverter[k] = true
		br.K[k] = consts.WindingK(br.IsConverter[k])
		br.TapModule[k] = dev.TapModule
		br.TapAngle[k] = dev.TapAngle
		br.TapMmin[k], br.TapMmax[k] = 0.1, 1.5
		br.TapAmin[k], br.TapAmax[k] = -6.28, 6.28
		br.Beq[k] = dev.Beq
		br.BeqMin[k], br.BeqMax[k] = dev.BeqMin, dev.BeqMax
		br.G0sw[k] = dev.G0sw
		br.Alpha1[k] = dev.Alpha1
		br.Alpha2[k] = dev.Alpha2
		br.Alpha3[k] = dev.Alpha3
		br.Kdp[k] = dev.Kdp
		br.Control[k] = dev.Control
		br.Pfset[k] = dev.Pfset / sbase
		br.Qtset[k] = dev.Qtset / sbase
		br.Vfset[k] = dev.Vfset
		br.Vtset[k] = dev.Vtset
		br.Rates[k] = dev.RateAt(t) / sbase
		br.OriginalIdx[k] = k
		k++
	}

	return br, nil
}
