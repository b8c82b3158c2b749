package powerflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"toy-grid/pkg/grid"
)

func TestLinearRadialChain(t *testing.T) {
	g := grid.New("chain")
	b0 := g.AddBus(grid.NewBus("slack", 132))
	b0.IsSlack = true
	b1 := g.AddBus(grid.NewBus("mid", 132))
	b2 := g.AddBus(grid.NewBus("end", 132))
	g.AddLine(grid.NewLine("L0", b0, b1, 0, 0.1, 0, 100))
	g.AddLine(grid.NewLine("L1", b1, b2, 0, 0.2, 0, 100))
	g.AddGenerator(grid.NewGenerator("G0", b0, 0, 1.0))
	g.AddLoad(grid.NewLoad("D1", b1, 30, 0))
	g.AddLoad(grid.NewLoad("D2", b2, 20, 0))

	nc := compile(t, g)
	res, err := Linear(nc)
	require.NoError(t, err)

	// radial chain: the first line carries everything, the second the tail
	require.InDelta(t, 0.5, res.Pf[0], 1e-6)
	require.InDelta(t, 0.2, res.Pf[1], 1e-6)

	require.InDelta(t, 0, res.Va[0], 1e-12)
	require.InDelta(t, -0.05, res.Va[1], 1e-6)
	require.InDelta(t, -0.09, res.Va[2], 1e-6)
}

func TestLinearPhaseShifter(t *testing.T) {
	g := grid.New("shifter")
	b0 := g.AddBus(grid.NewBus("slack", 132))
	b0.IsSlack = true
	b1 := g.AddBus(grid.NewBus("load", 132))
	// two parallel paths, one with a fixed phase shift
	g.AddLine(grid.NewLine("L0", b0, b1, 0, 0.2, 0, 100))
	tr := grid.NewTransformer("T0", b0, b1, 0, 0.2, 100)
	tr.TapAngle = -0.02
	g.AddTransformer(tr)
	g.AddGenerator(grid.NewGenerator("G0", b0, 0, 1.0))
	g.AddLoad(grid.NewLoad("D1", b1, 40, 0))

	nc := compile(t, g)
	res, err := Linear(nc)
	require.NoError(t, err)

	// the shifter steers flow away from the plain line
	require.InDelta(t, 0.4, res.Pf[0]+res.Pf[1], 1e-6)
	require.Greater(t, res.Pf[1], res.Pf[0])
}

func TestLinearNoSlack(t *testing.T) {
	g := grid.New("no ref")
	b0 := g.AddBus(grid.NewBus("a", 132))
	b1 := g.AddBus(grid.NewBus("b", 132))
	g.AddLine(grid.NewLine("L0", b0, b1, 0, 0.1, 0, 100))
	g.AddLoad(grid.NewLoad("D0", b0, 10, 0))

	nc := compile(t, g)
	_, err := Linear(nc)
	require.Error(t, err)
}
