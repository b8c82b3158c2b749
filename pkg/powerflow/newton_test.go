package powerflow

import (
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/require"

	"toy-grid/pkg/compiler"
	"toy-grid/pkg/grid"
)

// slack generator feeding a 50 MW + 10 MVAr load over one line
func twoBusGrid() *grid.Grid {
	g := grid.New("two bus")
	b0 := g.AddBus(grid.NewBus("slack", 132))
	b0.IsSlack = true
	b1 := g.AddBus(grid.NewBus("load", 132))
	g.AddLine(grid.NewLine("L0", b0, b1, 0.01, 0.1, 0, 100))
	g.AddGenerator(grid.NewGenerator("G0", b0, 0, 1.0))
	g.AddLoad(grid.NewLoad("D1", b1, 50, 10))
	return g
}

func compile(t *testing.T, g *grid.Grid) *compiler.NumericalCircuit {
	t.Helper()
	nc, err := compiler.CompileSnapshot(g)
	require.NoError(t, err)
	return nc
}

func TestNewtonTwoBus(t *testing.T) {
	nc := compile(t, twoBusGrid())
	res, err := NewtonRaphsonACDC(nc, nil)
	require.NoError(t, err)
	require.True(t, res.Converged)
	require.LessOrEqual(t, res.NormF, 1e-6)
	require.Greater(t, res.Iterations, 0)
	// full Newton steps converge this system in a handful of iterations;
	// anything more means the steps are not descending
	require.LessOrEqual(t, res.Iterations, 6)

	// the load bus settles at its specified injection
	require.InDelta(t, -0.5, real(res.Scalc[1]), 1e-5)
	require.InDelta(t, -0.1, imag(res.Scalc[1]), 1e-5)

	// the slack covers the load plus the series losses
	require.Greater(t, real(res.Scalc[0]), 0.5)
	require.InDelta(t, 0, cmplx.Phase(res.V[0]), 1e-9)
	require.Less(t, cmplx.Abs(res.V[1]), 1.0)

	// single branch out of the slack carries the whole slack injection
	require.InDelta(t, real(res.Scalc[0]), real(res.Sf[0]), 1e-8)
}

func TestNewtonHoldsPVSetpoint(t *testing.T) {
	g := grid.New("three bus")
	b0 := g.AddBus(grid.NewBus("slack", 132))
	b0.IsSlack = true
	b1 := g.AddBus(grid.NewBus("pv", 132))
	b2 := g.AddBus(grid.NewBus("load", 132))
	g.AddLine(grid.NewLine("L0", b0, b1, 0.01, 0.08, 0.02, 100))
	g.AddLine(grid.NewLine("L1", b1, b2, 0.02, 0.12, 0.02, 100))
	g.AddGenerator(grid.NewGenerator("G0", b0, 0, 1.0))
	g.AddGenerator(grid.NewGenerator("G1", b1, 20, 1.02))
	g.AddLoad(grid.NewLoad("D2", b2, 40, 15))

	nc := compile(t, g)
	res, err := NewtonRaphsonACDC(nc, nil)
	require.NoError(t, err)
	require.True(t, res.Converged)

	require.InDelta(t, 1.02, cmplx.Abs(res.V[1]), 1e-6)
	require.InDelta(t, -0.4, real(res.Scalc[2]), 1e-5)
	// the PV generator holds its active dispatch
	require.InDelta(t, 0.2, real(res.Scalc[1]), 1e-5)
}

func TestNewtonReactiveLimits(t *testing.T) {
	g := grid.New("q limited")
	b0 := g.AddBus(grid.NewBus("slack", 132))
	b0.IsSlack = true
	b1 := g.AddBus(grid.NewBus("pv", 132))
	g.AddLine(grid.NewLine("L0", b0, b1, 0.01, 0.1, 0, 100))
	g.AddGenerator(grid.NewGenerator("G0", b0, 0, 1.0))
	gen := grid.NewGenerator("G1", b1, 10, 1.05)
	gen.Qmax = 5 // MVAr, far below what holding 1.05 pu needs
	gen.Qmin = -5
	g.AddGenerator(gen)
	g.AddLoad(grid.NewLoad("D1", b1, 30, 20))

	nc := compile(t, g)
	opt := DefaultOptions()
	opt.MaxIter = 40
	opt.ControlQ = true
	res, err := NewtonRaphsonACDC(nc, opt)
	require.NoError(t, err)
	require.True(t, res.Converged)

	// the bus was demoted to PQ with the injection clamped at Qmax
	require.InDelta(t, 0.05, imag(res.Scalc[1]), 1e-4)
	require.Less(t, cmplx.Abs(res.V[1]), 1.05)
}

func TestNewtonConverterZeroReactiveFlow(t *testing.T) {
	g := grid.New("acdc")
	ac := g.AddBus(grid.NewBus("ac", 132))
	ac.IsSlack = true
	dc := g.AddBus(grid.NewBus("dc", 150))
	dc.IsDC = true
	g.AddGenerator(grid.NewGenerator("G0", ac, 0, 1.0))
	vsc := grid.NewVsc("C0", dc, ac, 0.002, 0.05, 100)
	vsc.Control = grid.ControlVscFree
	g.AddConverter(vsc)
	g.AddLoad(grid.NewLoad("Ddc", dc, 10, 0))

	nc := compile(t, g)
	res, err := NewtonRaphsonACDC(nc, nil)
	require.NoError(t, err)
	require.True(t, res.Converged)

	// the Beq unknown drives the converter DC-side reactive flow to zero
	require.InDelta(t, 0, imag(res.Sf[0]), 1e-6)
	// and the DC bus still balances its load
	require.InDelta(t, -0.1, real(res.Scalc[1]), 1e-5)
}

func TestNewtonNoSlack(t *testing.T) {
	g := grid.New("no ref")
	b0 := g.AddBus(grid.NewBus("a", 132))
	b1 := g.AddBus(grid.NewBus("b", 132))
	g.AddLine(grid.NewLine("L0", b0, b1, 0.01, 0.1, 0, 100))
	g.AddLoad(grid.NewLoad("D0", b0, 10, 0))

	nc := compile(t, g)
	_, err := NewtonRaphsonACDC(nc, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no slack")
}

func TestPromoteControlledBuses(t *testing.T) {
	pv, pq := promoteControlledBuses([]int{1}, []int{2, 3, 4}, []int{3}, []int{5})
	require.Equal(t, []int{1, 3}, pv)
	require.Equal(t, []int{2, 4}, pq)

	// nothing held leaves the sets alone
	pv, pq = promoteControlledBuses([]int{1}, []int{2, 3}, nil, nil)
	require.Equal(t, []int{1}, pv)
	require.Equal(t, []int{2, 3}, pq)
}

func TestEnforceReactiveLimits(t *testing.T) {
	scalc := []complex128{0, complex(0.2, 0.9), complex(0.1, -0.8), complex(0, 0.1)}
	sbus := []complex128{0, complex(0.2, 0), complex(0.1, 0), complex(0, 0)}
	qmin := []float64{0, -0.5, -0.5, -0.5}
	qmax := []float64{0, 0.5, 0.5, 0.5}

	pv, pq, changed := enforceReactiveLimits(scalc, sbus, []int{1, 2, 3}, []int{0}, qmin, qmax)
	require.True(t, changed)
	require.Equal(t, []int{3}, pv)
	require.Equal(t, []int{0, 1, 2}, pq)
	require.InDelta(t, 0.5, imag(sbus[1]), 1e-12)  // clamped high
	require.InDelta(t, -0.5, imag(sbus[2]), 1e-12) // clamped low
	require.InDelta(t, 0, imag(sbus[3]), 1e-12)    // untouched

	pv, pq, changed = enforceReactiveLimits(scalc, sbus, []int{3}, []int{0}, qmin, qmax)
	require.False(t, changed)
	require.Equal(t, []int{3}, pv)
}
