package compiler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"toy-grid/pkg/grid"
	"toy-grid/pkg/simindices"
)

// twoBusGrid: slack generator feeding a 50 MW + 10 MVAr load over one line.
func twoBusGrid() *grid.Grid {
	g := grid.New("two bus")
	b0 := g.AddBus(grid.NewBus("slack", 132))
	b0.IsSlack = true
	b1 := g.AddBus(grid.NewBus("load", 132))
	g.AddLine(grid.NewLine("L0", b0, b1, 0.01, 0.1, 0, 100))
	g.AddGenerator(grid.NewGenerator("G0", b0, 60, 1.0))
	g.AddLoad(grid.NewLoad("D1", b1, 50, 10))
	return g
}

func TestCompileTwoBus(t *testing.T) {
	nc, err := CompileSnapshot(twoBusGrid())
	require.NoError(t, err)

	require.Equal(t, 2, nc.Bus.NBus)
	require.Equal(t, 1, nc.Branch.NBr)
	require.InDelta(t, 100.0, nc.Sbase, 1e-12)
	require.Equal(t, []int{0}, nc.Branch.F)
	require.Equal(t, []int{1}, nc.Branch.T)
	require.InDelta(t, 0.01, nc.Branch.R[0], 1e-12)
	require.InDelta(t, 1.0, nc.Branch.Rates[0], 1e-12) // 100 MVA on a 100 MVA base
	require.InDelta(t, 1.0, nc.Branch.TapModule[0], 1e-12)
	require.InDelta(t, 1.0, nc.Branch.K[0], 1e-12)

	s := nc.Sbus()
	require.InDelta(t, 0.6, real(s[0]), 1e-12)
	require.InDelta(t, -0.5, real(s[1]), 1e-12)
	require.InDelta(t, -0.1, imag(s[1]), 1e-12)

	bt := nc.BusTypes()
	require.Equal(t, []int{0}, bt.VD)
	require.Equal(t, []int{1}, bt.PQ)
	require.Empty(t, bt.PV)

	adm, err := nc.Admittances()
	require.NoError(t, err)
	ys := 1.0 / complex(0.01, 0.1)
	require.InDelta(t, real(ys), real(adm.Ybus.At(0, 0)), 1e-6)
	require.InDelta(t, -real(ys), real(adm.Ybus.At(0, 1)), 1e-6)
}

func TestCompileStructuralErrors(t *testing.T) {
	_, err := CompileSnapshot(grid.New("empty"))
	require.Error(t, err)

	// device on a bus outside the grid
	g := twoBusGrid()
	stray := grid.NewBus("stray", 132)
	g.AddLoad(grid.NewLoad("bad", stray, 1, 0))
	_, err = CompileSnapshot(g)
	require.Error(t, err)
	require.Contains(t, err.Error(), "outside the compiled set")

	// self-loop
	g = twoBusGrid()
	g.AddLine(grid.NewLine("loop", g.Buses[0], g.Buses[0], 0.01, 0.1, 0, 10))
	_, err = CompileSnapshot(g)
	require.Error(t, err)

	// duplicated bus pointer
	g = twoBusGrid()
	g.Buses = append(g.Buses, g.Buses[0])
	_, err = CompileSnapshot(g)
	require.Error(t, err)
}

func TestCompileDiagnostics(t *testing.T) {
	g := twoBusGrid()
	g.Sbase = 0
	g.AddLine(grid.NewLine("jumper", g.Buses[0], g.Buses[1], 0, 0, 0, 10))
	g.Buses[1].Vnom = 0

	nc, err := CompileSnapshot(g)
	require.NoError(t, err)
	require.InDelta(t, 100.0, nc.Sbase, 1e-12) // guarded default

	var messages []string
	for _, d := range nc.Diagnostics() {
		require.Equal(t, DiagDegeneracy, d.Level)
		messages = append(messages, d.Message)
	}
	require.Len(t, messages, 3)
}

func TestCompileTransformerVirtualTaps(t *testing.T) {
	g := grid.New("trafo")
	hvBus := g.AddBus(grid.NewBus("hv", 132))
	hvBus.IsSlack = true
	lvBus := g.AddBus(grid.NewBus("lv", 20))
	tr := grid.NewTransformer("T0", hvBus, lvBus, 0.005, 0.12, 50)
	tr.Hv = 135 // winding above the bus nominal
	tr.Lv = 20
	tr.TapModule = 1.02
	tr.Control = grid.ControlQt
	tr.Qset = 5
	g.AddTransformer(tr)
	g.AddGenerator(grid.NewGenerator("G0", hvBus, 10, 1.0))
	g.AddLoad(grid.NewLoad("D0", lvBus, 8, 2))

	nc, err := CompileSnapshot(g)
	require.NoError(t, err)
	require.InDelta(t, 135.0/132.0, nc.Branch.VtapF[0], 1e-12)
	require.InDelta(t, 1.0, nc.Branch.VtapT[0], 1e-12)
	require.InDelta(t, 1.02, nc.Branch.TapModule[0], 1e-12)
	require.Equal(t, grid.ControlQt, nc.Branch.Control[0])
	require.InDelta(t, 0.05, nc.Branch.Qtset[0], 1e-12)

	ix, err := nc.ControlIndices()
	require.NoError(t, err)
	require.Equal(t, []int{0}, ix.KQtM)
}

func TestCompileConverter(t *testing.T) {
	g := grid.New("acdc")
	dc := g.AddBus(grid.NewBus("dc", 150))
	dc.IsDC = true
	ac := g.AddBus(grid.NewBus("ac", 132))
	ac.IsSlack = true
	vsc := grid.NewVsc("C0", dc, ac, 0.001, 0.05, 100)
	vsc.Control = grid.ControlVscPfVt
	vsc.Pfset = -40
	vsc.Vtset = 1.01
	vsc.Beq = 0.02
	g.AddConverter(vsc)
	g.AddGenerator(grid.NewGenerator("G0", ac, 50, 1.0))

	nc, err := CompileSnapshot(g)
	require.NoError(t, err)
	require.True(t, nc.Branch.IsConverter[0])
	require.InDelta(t, 0.8660254037844386, nc.Branch.K[0], 1e-12)
	require.InDelta(t, -0.4, nc.Branch.Pfset[0], 1e-12)
	require.InDelta(t, 0.02, nc.Branch.Beq[0], 1e-12)
	require.True(t, nc.Bus.IsDC[0])

	ix, err := nc.ControlIndices()
	require.NoError(t, err)
	require.Equal(t, []int{0}, ix.KPfTau)
	require.Equal(t, []int{0}, ix.KVtM)
	require.Equal(t, []int{0}, ix.KZeroBeq)
	require.Equal(t, []int{1}, ix.IVtM)
}

func TestBusTypeFinalization(t *testing.T) {
	g := grid.New("types")
	b0 := g.AddBus(grid.NewBus("slack", 132))
	b0.IsSlack = true
	b1 := g.AddBus(grid.NewBus("pv", 132))
	b2 := g.AddBus(grid.NewBus("pq", 132))
	b3 := g.AddBus(grid.NewBus("storage", 132))
	b4 := g.AddBus(grid.NewBus("off", 132))
	b4.Active = false

	g.AddLine(grid.NewLine("L0", b0, b1, 0.01, 0.1, 0, 100))
	g.AddLine(grid.NewLine("L1", b1, b2, 0.01, 0.1, 0, 100))
	g.AddLine(grid.NewLine("L2", b2, b3, 0.01, 0.1, 0, 100))

	g.AddGenerator(grid.NewGenerator("G0", b0, 10, 1.0))
	g.AddGenerator(grid.NewGenerator("G1", b1, 20, 1.02))
	g.AddLoad(grid.NewLoad("D2", b2, 15, 3))
	bat := grid.NewBattery("B3", b3, 5, 1.0, 10)
	bat.DispatchStorage = true // dispatched storage stops regulating
	g.AddBattery(bat)

	nc, err := CompileSnapshot(g)
	require.NoError(t, err)
	require.Equal(t, simindices.Slack, nc.Bus.Types[0])
	require.Equal(t, simindices.PV, nc.Bus.Types[1])
	require.Equal(t, simindices.PQ, nc.Bus.Types[2])
	require.Equal(t, simindices.PQ, nc.Bus.Types[3])
	require.Equal(t, simindices.Isolated, nc.Bus.Types[4])
}

func TestVbusComposition(t *testing.T) {
	g := twoBusGrid()
	g.Generators[0].Vset = 1.05
	g.Buses[1].Vm0 = 0.97 // compiled guess for the unclaimed bus

	nc, err := CompileSnapshot(g)
	require.NoError(t, err)
	v, err := nc.Vbus()
	require.NoError(t, err)
	require.InDelta(t, 1.05, real(v[0]), 1e-12)
	require.InDelta(t, 0.97, real(v[1]), 1e-12)
}

func TestCompileProfiles(t *testing.T) {
	g := twoBusGrid()
	g.Loads[0].PProf = []float64{30, 70}
	g.Lines[0].ActiveProf = []bool{true, false}

	nc0, err := Compile(g, 0)
	require.NoError(t, err)
	require.InDelta(t, -0.3, real(nc0.Sbus()[1]), 1e-12)
	require.True(t, nc0.Branch.Active[0])

	nc1, err := Compile(g, 1)
	require.NoError(t, err)
	require.InDelta(t, -0.7, real(nc1.Sbus()[1]), 1e-12)
	require.False(t, nc1.Branch.Active[0])

	// snapshot ignores the profiles
	ncs, err := CompileSnapshot(g)
	require.NoError(t, err)
	require.InDelta(t, -0.5, real(ncs.Sbus()[1]), 1e-12)
}

// twoIslandGrid: island A (0,1) with a slack, island B (2,3) without any
// reference, bridged only by an HVDC link.
func twoIslandGrid() *grid.Grid {
	g := grid.New("islands")
	b0 := g.AddBus(grid.NewBus("a0", 132))
	b0.IsSlack = true
	b1 := g.AddBus(grid.NewBus("a1", 132))
	b2 := g.AddBus(grid.NewBus("b0", 132))
	b3 := g.AddBus(grid.NewBus("b1", 132))

	g.AddLine(grid.NewLine("LA", b0, b1, 0.01, 0.1, 0, 100))
	g.AddLine(grid.NewLine("LB", b2, b3, 0.01, 0.1, 0, 100))
	g.AddHvdcLine(grid.NewHvdcLine("H0", b1, b2, 0.01, 40, 100))

	g.AddGenerator(grid.NewGenerator("G0", b0, 50, 1.0))
	g.AddLoad(grid.NewLoad("D1", b1, 20, 5))
	g.AddLoad(grid.NewLoad("D3", b3, 30, 8))
	return g
}

func TestSplitIntoIslands(t *testing.T) {
	nc, err := CompileSnapshot(twoIslandGrid())
	require.NoError(t, err)

	islands, err := nc.FindIslands()
	require.NoError(t, err)
	// the HVDC link does not join the AC islands
	require.Equal(t, [][]int{{0, 1}, {2, 3}}, islands)

	subs, err := nc.SplitIntoIslands(false)
	require.NoError(t, err)
	require.Len(t, subs, 2)

	a, b := subs[0], subs[1]
	require.Equal(t, 2, a.Bus.NBus)
	require.Equal(t, 1, a.Branch.NBr)
	require.Equal(t, 1, a.Generator.NElm)
	require.Equal(t, 0, a.Hvdc.NElm) // never carried into islands

	require.Equal(t, 2, b.Bus.NBus)
	require.Equal(t, 0, b.Generator.NElm)
	require.NotEmpty(t, b.Diagnostics()) // no voltage reference
	found := false
	for _, d := range nc.Diagnostics() {
		if d.Level == DiagTopology {
			found = true
		}
	}
	require.True(t, found)
}

func TestGetIslandRemapsBranches(t *testing.T) {
	nc, err := CompileSnapshot(twoIslandGrid())
	require.NoError(t, err)
	sub := nc.GetIsland([]int{2, 3})
	require.Equal(t, []int{0}, sub.Branch.F)
	require.Equal(t, []int{1}, sub.Branch.T)
	require.Equal(t, "LB", sub.Branch.Names[0])
	require.Equal(t, 1, sub.Load.NElm)
	require.Equal(t, "D3", sub.Load.Names[0])
	require.Equal(t, 1, sub.Load.BusIdx[0]) // remapped into island coordinates
}

func TestCopyIsDeep(t *testing.T) {
	nc, err := CompileSnapshot(twoBusGrid())
	require.NoError(t, err)
	cp := nc.Copy()

	cp.Branch.R[0] = 99
	cp.Bus.Names[0] = "mutated"
	cp.Generator.S[0] = 0

	require.InDelta(t, 0.01, nc.Branch.R[0], 1e-12)
	require.Equal(t, "slack", nc.Bus.Names[0])
	require.InDelta(t, 0.6, real(nc.Generator.S[0]), 1e-12)
	require.Equal(t, nc.Sbase, cp.Sbase)
}

func TestReactiveSplit(t *testing.T) {
	// pf = 0.8 leaves q = p * tan(acos(0.8)) = 0.75 p
	require.InDelta(t, 0.75, reactiveSplit(1.0, 0.8), 1e-12)
	require.InDelta(t, -0.75, reactiveSplit(-1.0, 0.8), 1e-12)
	require.InDelta(t, 0.0, reactiveSplit(1.0, 1.0), 1e-12)
	require.InDelta(t, 0.0, reactiveSplit(1.0, 0), 1e-12) // guarded
}
