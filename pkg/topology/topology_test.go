package topology

import (
	"testing"

	"github.com/stretchr/testify/require"

	"toy-grid/pkg/sparse"
)

func incidence(t *testing.T, nbr, nbus int, ends []int) *sparse.CSC {
	t.Helper()
	rows := make([]int, nbr)
	vals := make([]float64, nbr)
	for k := 0; k < nbr; k++ {
		rows[k] = k
		vals[k] = 1
	}
	c, err := sparse.FromTriplets(nbr, nbus, rows, ends, vals)
	require.NoError(t, err)
	return c
}

// fiveBusTwoIslands: 0-1-2 chained, 3-4 chained, no link in between.
func fiveBusTwoIslands(t *testing.T) (cf, ct *sparse.CSC) {
	t.Helper()
	return incidence(t, 3, 5, []int{0, 1, 3}), incidence(t, 3, 5, []int{1, 2, 4})
}

func TestConnectivityFiltersInactiveBranches(t *testing.T) {
	cf, ct := fiveBusTwoIslands(t)
	conn, err := Connectivity(cf, ct, []bool{true, false, true})
	require.NoError(t, err)
	require.InDelta(t, 1, conn.Cf.At(0, 0), 1e-12)
	require.InDelta(t, 0, conn.Cf.At(1, 1), 1e-12) // branch 1 switched off
	require.InDelta(t, 1, conn.Ct.At(2, 4), 1e-12)
}

func TestConnectivityRejectsBadLength(t *testing.T) {
	cf, ct := fiveBusTwoIslands(t)
	_, err := Connectivity(cf, ct, []bool{true})
	require.Error(t, err)
}

func TestFindIslandsPartition(t *testing.T) {
	cf, ct := fiveBusTwoIslands(t)
	allOn := []bool{true, true, true}
	busOn := []bool{true, true, true, true, true}

	adj, err := AdjacencyMatrix(cf, ct, allOn, busOn)
	require.NoError(t, err)
	islands := FindIslands(adj, busOn)
	require.Equal(t, [][]int{{0, 1, 2}, {3, 4}}, islands)

	// every active bus appears exactly once
	seen := make(map[int]int)
	for _, isl := range islands {
		for _, b := range isl {
			seen[b]++
		}
	}
	require.Len(t, seen, 5)
	for _, n := range seen {
		require.Equal(t, 1, n)
	}
}

func TestFindIslandsBranchOutage(t *testing.T) {
	cf, ct := fiveBusTwoIslands(t)
	busOn := []bool{true, true, true, true, true}

	// switching off branch 1 severs bus 2
	adj, err := AdjacencyMatrix(cf, ct, []bool{true, false, true}, busOn)
	require.NoError(t, err)
	islands := FindIslands(adj, busOn)
	require.Equal(t, [][]int{{0, 1}, {2}, {3, 4}}, islands)
}

func TestFindIslandsInactiveBus(t *testing.T) {
	cf, ct := fiveBusTwoIslands(t)
	busOn := []bool{true, false, true, true, true}

	adj, err := AdjacencyMatrix(cf, ct, []bool{true, true, true}, busOn)
	require.NoError(t, err)
	islands := FindIslands(adj, busOn)
	// bus 1 out of service splits its island and belongs to none
	require.Equal(t, [][]int{{0}, {2}, {3, 4}}, islands)
}

func TestElementsOfIsland(t *testing.T) {
	// four devices: two on bus 0, one on bus 2, one on bus 4
	cBusElm, err := sparse.FromTriplets(5, 4,
		[]int{0, 0, 2, 4},
		[]int{0, 1, 2, 3},
		[]float64{1, 1, 1, 1})
	require.NoError(t, err)

	active := []bool{true, false, true, true}
	elems := ElementsOfIsland(cBusElm, []int{0, 1, 2}, active)
	require.Equal(t, []int{0, 2}, elems) // device 1 is offline

	elems = ElementsOfIsland(cBusElm, []int{3, 4}, active)
	require.Equal(t, []int{3}, elems)

	require.Empty(t, ElementsOfIsland(cBusElm, []int{3}, active))
}
