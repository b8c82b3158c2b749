// Package topology builds connectivity structures from branch incidence data
// and partitions the grid into electrically independent islands.
package topology

import (
	"fmt"
	"sort"

	"toy-grid/pkg/sparse"
)

// ConnectivityMatrices holds the branch-bus incidence of the "from" and "to"
// ends, already filtered by branch status.
type ConnectivityMatrices struct {
	Cf *sparse.CSC // nbr x nbus
	Ct *sparse.CSC // nbr x nbus
}

// Connectivity filters the raw incidence matrices with the branch active
// states.
func Connectivity(cfRaw, ctRaw *sparse.CSC, branchActive []bool) (*ConnectivityMatrices, error) {
	if len(branchActive) != cfRaw.NRows {
		return nil, fmt.Errorf("connectivity: %d active flags for %d branches", len(branchActive), cfRaw.NRows)
	}
	states := make([]float64, len(branchActive))
	for k, a := range branchActive {
		if a {
			states[k] = 1.0
		}
	}
	d := sparse.Diags(states)
	cf, err := d.Multiply(cfRaw)
	if err != nil {
		return nil, fmt.Errorf("connectivity Cf: %v", err)
	}
	ct, err := d.Multiply(ctRaw)
	if err != nil {
		return nil, fmt.Errorf("connectivity Ct: %v", err)
	}
	return &ConnectivityMatrices{Cf: cf, Ct: ct}, nil
}

// AdjacencyMatrix computes the bus-bus adjacency C'C with
// C = diag(branchActive) (Cf + Ct), masked by the bus active states. The
// entry values are connection counts; only the pattern matters to callers.
func AdjacencyMatrix(cf, ct *sparse.CSC, branchActive, busActive []bool) (*sparse.CSC, error) {
	conn, err := Connectivity(cf, ct, branchActive)
	if err != nil {
		return nil, err
	}
	c, err := sparse.Add(conn.Cf, conn.Ct, 1, 1)
	if err != nil {
		return nil, fmt.Errorf("adjacency: %v", err)
	}
	a, err := c.Transpose().Multiply(c)
	if err != nil {
		return nil, fmt.Errorf("adjacency: %v", err)
	}
	states := make([]float64, len(busActive))
	for i, act := range busActive {
		if act {
			states[i] = 1.0
		}
	}
	d := sparse.Diags(states)
	m, err := d.Multiply(a)
	if err != nil {
		return nil, fmt.Errorf("adjacency: %v", err)
	}
	m, err = m.Multiply(d)
	if err != nil {
		return nil, fmt.Errorf("adjacency: %v", err)
	}
	return m, nil
}

// FindIslands labels the connected components of the adjacency graph with a
// depth-first search over the CSC pattern. Inactive buses belong to no
// island. Each island comes back sorted; together the islands partition the
// active-bus set.
func FindIslands(adj *sparse.CSC, busActive []bool) [][]int {
	nbus := adj.NCols
	visited := make([]bool, nbus)
	var islands [][]int

	stack := make([]int, 0, nbus)
	for node := 0; node < nbus; node++ {
		if visited[node] || !busActive[node] {
			continue
		}
		var island []int
		stack = append(stack[:0], node)
		visited[node] = true
		for len(stack) > 0 {
			v := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			island = append(island, v)
			for p := adj.Indptr[v]; p < adj.Indptr[v+1]; p++ {
				// the filtered incidence products keep explicit zeros for
				// deactivated branches, those are not edges
				if adj.Data[p] == 0 {
					continue
				}
				w := adj.Indices[p]
				if !visited[w] && busActive[w] {
					visited[w] = true
					stack = append(stack, w)
				}
			}
		}
		sort.Ints(island)
		islands = append(islands, island)
	}
	return islands
}

// ElementsOfIsland returns the indices of the active devices whose host bus
// belongs to the island. cBusElm is the nbus x nelm incidence with one
// nonzero per device column.
func ElementsOfIsland(cBusElm *sparse.CSC, islandBuses []int, elmActive []bool) []int {
	mask := make([]bool, cBusElm.NRows)
	for _, b := range islandBuses {
		mask[b] = true
	}
	var elems []int
	for e := 0; e < cBusElm.NCols; e++ {
		if !elmActive[e] {
			continue
		}
		for p := cBusElm.Indptr[e]; p < cBusElm.Indptr[e+1]; p++ {
			if mask[cBusElm.Indices[p]] {
				elems = append(elems, e)
				break
			}
		}
	}
	return elems
}
