package compiler

import (
	"fmt"

	"toy-grid/pkg/admittance"
	"toy-grid/pkg/simindices"
	"toy-grid/pkg/sparse"
	"toy-grid/pkg/topology"
)

// NumericalCircuit owns the compiled array blocks for one time instant and
// lazily caches the structures derived from them. It keeps no references
// into the device graph. The lazy caches are not safe for concurrent first
// access; give each goroutine its own instance.
type NumericalCircuit struct {
	Sbase   float64
	TimeIdx int

	Bus       *BusData
	Branch    *BranchData
	Generator *InjectionData
	Battery   *InjectionData
	Load      *InjectionData
	Shunt     *InjectionData
	Hvdc      *HvdcData

	diagnostics []Diagnostic

	conn      *topology.ConnectivityMatrices
	adm       *admittance.Matrices
	seriesAdm *admittance.SeriesMatrices
	fdAdm     *admittance.FastDecoupledMatrices
	linAdm    *admittance.LinearMatrices
	busTypes  *simindices.BusTypes
	indices   *simindices.Indices
}

func (nc *NumericalCircuit) diag(level DiagLevel, object, msg string) {
	nc.diagnostics = append(nc.diagnostics, Diagnostic{Level: level, Object: object, Message: msg})
}

func (nc *NumericalCircuit) Diagnostics() []Diagnostic {
	return nc.diagnostics
}

// InvalidateCaches drops every derived structure. Call it after mutating
// any of the array blocks.
func (nc *NumericalCircuit) InvalidateCaches() {
	nc.conn = nil
	nc.adm = nil
	nc.seriesAdm = nil
	nc.fdAdm = nil
	nc.linAdm = nil
	nc.busTypes = nil
	nc.indices = nil
}

// Connectivity returns the branch-bus incidence filtered by branch status.
func (nc *NumericalCircuit) Connectivity() (*topology.ConnectivityMatrices, error) {
	if nc.conn != nil {
		return nc.conn, nil
	}
	cfRaw, err := nc.Branch.Cf()
	if err != nil {
		return nil, fmt.Errorf("connectivity: %v", err)
	}
	ctRaw, err := nc.Branch.Ct()
	if err != nil {
		return nil, fmt.Errorf("connectivity: %v", err)
	}
	nc.conn, err = topology.Connectivity(cfRaw, ctRaw, nc.Branch.Active)
	if err != nil {
		return nil, err
	}
	return nc.conn, nil
}

// AdjacencyMatrix returns the bus adjacency induced by the active branches.
func (nc *NumericalCircuit) AdjacencyMatrix() (*sparse.CSC, error) {
	cfRaw, err := nc.Branch.Cf()
	if err != nil {
		return nil, fmt.Errorf("adjacency: %v", err)
	}
	ctRaw, err := nc.Branch.Ct()
	if err != nil {
		return nil, fmt.Errorf("adjacency: %v", err)
	}
	return topology.AdjacencyMatrix(cfRaw, ctRaw, nc.Branch.Active, nc.Bus.Active)
}

// YshuntBus aggregates the shunt-device admittances per bus.
func (nc *NumericalCircuit) YshuntBus() []complex128 {
	return nc.Shunt.AdmittancePerBus(nc.Bus.NBus)
}

func (nc *NumericalCircuit) admittanceParams() (*admittance.Params, error) {
	conn, err := nc.Connectivity()
	if err != nil {
		return nil, err
	}
	br := nc.Branch
	return &admittance.Params{
		R:         br.R,
		X:         br.X,
		G:         br.G,
		B:         br.B,
		K:         br.K,
		TapModule: br.TapModule,
		TapAngle:  br.TapAngle,
		VtapF:     br.VtapF,
		VtapT:     br.VtapT,
		Beq:       br.Beq,
		G0sw:      br.G0sw,
		Alpha1:    br.Alpha1,
		Alpha2:    br.Alpha2,
		Alpha3:    br.Alpha3,
		If:        make([]float64, br.NBr),
		Cf:        conn.Cf,
		Ct:        conn.Ct,
		YshuntBus: nc.YshuntBus(),
	}, nil
}

// Admittances returns the full admittance set, computed on first access.
func (nc *NumericalCircuit) Admittances() (*admittance.Matrices, error) {
	if nc.adm != nil {
		return nc.adm, nil
	}
	p, err := nc.admittanceParams()
	if err != nil {
		return nil, err
	}
	nc.adm, err = admittance.Compute(p)
	if err != nil {
		return nil, err
	}
	return nc.adm, nil
}

// SeriesAdmittances returns the series/shunt split.
func (nc *NumericalCircuit) SeriesAdmittances() (*admittance.SeriesMatrices, error) {
	if nc.seriesAdm != nil {
		return nc.seriesAdm, nil
	}
	p, err := nc.admittanceParams()
	if err != nil {
		return nil, err
	}
	nc.seriesAdm, err = admittance.ComputeSplit(p)
	if err != nil {
		return nil, err
	}
	return nc.seriesAdm, nil
}

// FastDecoupledAdmittances returns B' and B''.
func (nc *NumericalCircuit) FastDecoupledAdmittances() (*admittance.FastDecoupledMatrices, error) {
	if nc.fdAdm != nil {
		return nc.fdAdm, nil
	}
	conn, err := nc.Connectivity()
	if err != nil {
		return nil, err
	}
	br := nc.Branch
	nc.fdAdm, err = admittance.ComputeFastDecoupled(br.X, br.B, br.TapModule, br.VtapF, br.VtapT, conn.Cf, conn.Ct)
	if err != nil {
		return nil, err
	}
	return nc.fdAdm, nil
}

// LinearAdmittances returns the DC power-flow matrices.
func (nc *NumericalCircuit) LinearAdmittances() (*admittance.LinearMatrices, error) {
	if nc.linAdm != nil {
		return nc.linAdm, nil
	}
	conn, err := nc.Connectivity()
	if err != nil {
		return nil, err
	}
	br := nc.Branch
	nc.linAdm, err = admittance.ComputeLinear(br.X, br.R, br.TapModule, br.TapAngle, br.Active, br.IsDC, conn.Cf, conn.Ct)
	if err != nil {
		return nil, err
	}
	return nc.linAdm, nil
}

// Sbus is the complex power injection per bus in per unit: generation plus
// storage minus load.
func (nc *NumericalCircuit) Sbus() []complex128 {
	s := nc.Generator.InjectionsPerBus(nc.Bus.NBus)
	for i, v := range nc.Battery.InjectionsPerBus(nc.Bus.NBus) {
		s[i] += v
	}
	for i, v := range nc.Load.InjectionsPerBus(nc.Bus.NBus) {
		s[i] -= v
	}
	return s
}

// Pbus is the real part of Sbus.
func (nc *NumericalCircuit) Pbus() []float64 {
	s := nc.Sbus()
	p := make([]float64, len(s))
	for i, v := range s {
		p[i] = real(v)
	}
	return p
}

// BusTypes returns the finalized PQ/PV/slack classification, promoting a PV
// bus if an island carries no slack.
func (nc *NumericalCircuit) BusTypes() *simindices.BusTypes {
	if nc.busTypes != nil {
		return nc.busTypes
	}
	nc.busTypes = simindices.CompileTypes(nc.Pbus(), nc.Bus.Types)
	if len(nc.busTypes.VD) == 0 {
		nc.diag(DiagTopology, "grid", "no slack bus and no PV bus to promote")
	}
	return nc.busTypes
}

// ControlIndices resolves the branch control modes into the unknown sets.
func (nc *NumericalCircuit) ControlIndices() (*simindices.Indices, error) {
	if nc.indices != nil {
		return nc.indices, nil
	}
	ix, err := simindices.New(nc.Branch.Control, nc.Branch.F, nc.Branch.T)
	if err != nil {
		return nil, err
	}
	nc.indices = ix
	return nc.indices, nil
}

// Vbus composes the initial voltage vector: device and branch voltage set
// points where present, the compiled bus guess elsewhere.
func (nc *NumericalCircuit) Vbus() ([]complex128, error) {
	ix, err := nc.ControlIndices()
	if err != nil {
		return nil, err
	}
	v, used := simindices.ComposeVoltageProfile(&simindices.VoltageProfileParams{
		NBus:          nc.Bus.NBus,
		GenBus:        nc.Generator.BusIdx,
		GenVset:       nc.Generator.Vset,
		GenActive:     nc.Generator.Active,
		GenControlled: nc.Generator.Controlled,
		BatBus:        nc.Battery.BusIdx,
		BatVset:       nc.Battery.Vset,
		BatActive:     nc.Battery.Active,
		BatControlled: nc.Battery.Controlled,
		HvdcBusF:      nc.Hvdc.F,
		HvdcBusT:      nc.Hvdc.T,
		HvdcActive:    nc.Hvdc.Active,
		HvdcVsetF:     nc.Hvdc.VsetF,
		HvdcVsetT:     nc.Hvdc.VsetT,
		KVfBeq:        ix.KVfBeq,
		KVtM:          ix.KVtM,
		IVfBeq:        ix.IVfBeq,
		IVtM:          ix.IVtM,
		BranchActive:  nc.Branch.Active,
		BranchVf:      nc.Branch.Vfset,
		BranchVt:      nc.Branch.Vtset,
	})
	for i := range v {
		if !used[i] {
			v[i] = nc.Bus.Vbus[i]
		}
	}
	return v, nil
}

// QmaxBus and QminBus aggregate the reactive capability of the voltage
// controlling devices per bus, HVDC converter ends included.
func (nc *NumericalCircuit) QmaxBus() []float64 {
	q := make([]float64, nc.Bus.NBus)
	for e := 0; e < nc.Generator.NElm; e++ {
		if nc.Generator.Active[e] {
			q[nc.Generator.BusIdx[e]] += nc.Generator.Qmax[e]
		}
	}
	for e := 0; e < nc.Battery.NElm; e++ {
		if nc.Battery.Active[e] {
			q[nc.Battery.BusIdx[e]] += nc.Battery.Qmax[e]
		}
	}
	for e := 0; e < nc.Hvdc.NElm; e++ {
		if nc.Hvdc.Active[e] {
			q[nc.Hvdc.F[e]] += nc.Hvdc.QmaxF[e]
			q[nc.Hvdc.T[e]] += nc.Hvdc.QmaxT[e]
		}
	}
	return q
}

func (nc *NumericalCircuit) QminBus() []float64 {
	q := make([]float64, nc.Bus.NBus)
	for e := 0; e < nc.Generator.NElm; e++ {
		if nc.Generator.Active[e] {
			q[nc.Generator.BusIdx[e]] += nc.Generator.Qmin[e]
		}
	}
	for e := 0; e < nc.Battery.NElm; e++ {
		if nc.Battery.Active[e] {
			q[nc.Battery.BusIdx[e]] += nc.Battery.Qmin[e]
		}
	}
	for e := 0; e < nc.Hvdc.NElm; e++ {
		if nc.Hvdc.Active[e] {
			q[nc.Hvdc.F[e]] += nc.Hvdc.QminF[e]
			q[nc.Hvdc.T[e]] += nc.Hvdc.QminT[e]
		}
	}
	return q
}

// FindIslands partitions the active buses into electrically independent
// groups. HVDC links do not join islands.
func (nc *NumericalCircuit) FindIslands() ([][]int, error) {
	adj, err := nc.AdjacencyMatrix()
	if err != nil {
		return nil, err
	}
	return topology.FindIslands(adj, nc.Bus.Active), nil
}

// GetIsland projects every array block onto the sub-circuit induced by
// busIdx. Branches and devices with an endpoint outside busIdx are dropped;
// HVDC links are deliberately not carried into islands since they may
// bridge them.
func (nc *NumericalCircuit) GetIsland(busIdx []int) *NumericalCircuit {
	lookup := sparse.MakeLookup(nc.Bus.NBus, busIdx)
	sub := &NumericalCircuit{
		Sbase:     nc.Sbase,
		TimeIdx:   nc.TimeIdx,
		Bus:       nc.Bus.slice(busIdx),
		Branch:    nc.Branch.slice(busIdx, lookup),
		Generator: nc.Generator.slice(lookup),
		Battery:   nc.Battery.slice(lookup),
		Load:      nc.Load.slice(lookup),
		Shunt:     nc.Shunt.slice(lookup),
		Hvdc:      newHvdcData(0),
	}
	return sub
}

// SplitIntoIslands compiles one sub-circuit per island. Islands without any
// voltage reference are still returned, flagged with a diagnostic, so the
// caller can decide whether to solve or skip them.
func (nc *NumericalCircuit) SplitIntoIslands(ignoreSingleNodeIslands bool) ([]*NumericalCircuit, error) {
	islands, err := nc.FindIslands()
	if err != nil {
		return nil, err
	}
	var out []*NumericalCircuit
	for n, island := range islands {
		if ignoreSingleNodeIslands && len(island) < 2 {
			continue
		}
		sub := nc.GetIsland(island)
		hasRef := false
		for _, tp := range sub.Bus.Types {
			if tp == simindices.Slack || tp == simindices.PV {
				hasRef = true
				break
			}
		}
		if !hasRef {
			nc.diag(DiagTopology, fmt.Sprintf("island %d", n), "no slack or PV bus, not solvable as-is")
			sub.diag(DiagTopology, fmt.Sprintf("island %d", n), "no slack or PV bus, not solvable as-is")
		}
		out = append(out, sub)
	}
	return out, nil
}

// Copy deep-copies the array blocks; caches are not carried over.
func (nc *NumericalCircuit) Copy() *NumericalCircuit {
	c := &NumericalCircuit{
		Sbase:     nc.Sbase,
		TimeIdx:   nc.TimeIdx,
		Bus:       nc.Bus.copyAll(),
		Branch:    nc.Branch.copyAll(),
		Generator: nc.Generator.copyAll(),
		Battery:   nc.Battery.copyAll(),
		Load:      nc.Load.copyAll(),
		Shunt:     nc.Shunt.copyAll(),
		Hvdc:      nc.Hvdc.copyAll(),
	}
	c.diagnostics = append(c.diagnostics, nc.diagnostics...)
	return c
}
