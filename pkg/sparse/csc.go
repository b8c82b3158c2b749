// Package sparse implements the compressed-sparse-column containers and the
// small set of bespoke kernels (triplet fill, scatter add, lookup maps) that
// the grid compiler and the derivative engine are built on.
package sparse

import (
	"fmt"
	"sort"
)

// CSC is a real-valued compressed-sparse-column matrix. Indptr has length
// NCols+1 and is monotonic non-decreasing; Indices holds row indices grouped
// by column, sorted within each column. Instances are rebuilt, never mutated
// in place.
type CSC struct {
	NRows   int
	NCols   int
	Indptr  []int
	Indices []int
	Data    []float64
}

func NewCSC(nrows, ncols, nnzCap int) *CSC {
	return &CSC{
		NRows:   nrows,
		NCols:   ncols,
		Indptr:  make([]int, ncols+1),
		Indices: make([]int, 0, nnzCap),
		Data:    make([]float64, 0, nnzCap),
	}
}

func (m *CSC) NNZ() int {
	return m.Indptr[m.NCols]
}

// FromTriplets builds a CSC matrix from unordered (row, col, value) triplets.
// Entries sharing (row, col) are summed. Rows are sorted within each column.
func FromTriplets(nrows, ncols int, rows, cols []int, vals []float64) (*CSC, error) {
	if len(rows) != len(cols) || len(rows) != len(vals) {
		return nil, fmt.Errorf("triplet arrays length mismatch: %d rows, %d cols, %d values",
			len(rows), len(cols), len(vals))
	}
	for k := range rows {
		if rows[k] < 0 || rows[k] >= nrows || cols[k] < 0 || cols[k] >= ncols {
			return nil, fmt.Errorf("triplet %d out of range: (%d,%d) in %dx%d matrix",
				k, rows[k], cols[k], nrows, ncols)
		}
	}

	// Bucket the triplets by column.
	count := make([]int, ncols+1)
	for _, j := range cols {
		count[j+1]++
	}
	for j := 0; j < ncols; j++ {
		count[j+1] += count[j]
	}
	next := make([]int, ncols)
	copy(next, count[:ncols])
	bRows := make([]int, len(rows))
	bVals := make([]float64, len(vals))
	for k := range rows {
		p := next[cols[k]]
		bRows[p] = rows[k]
		bVals[p] = vals[k]
		next[cols[k]]++
	}

	// Per column, sum duplicates through a dense accumulator keyed by a
	// last-touched marker, then flush in row order.
	m := NewCSC(nrows, ncols, len(rows))
	w := make([]int, nrows)
	x := make([]float64, nrows)
	touched := make([]int, 0, nrows)
	for j := 0; j < ncols; j++ {
		mark := j + 1
		touched = touched[:0]
		for p := count[j]; p < count[j+1]; p++ {
			i := bRows[p]
			if w[i] < mark {
				w[i] = mark
				x[i] = bVals[p]
				touched = append(touched, i)
			} else {
				x[i] += bVals[p]
			}
		}
		sort.Ints(touched)
		for _, i := range touched {
			m.Indices = append(m.Indices, i)
			m.Data = append(m.Data, x[i])
		}
		m.Indptr[j+1] = len(m.Indices)
	}
	return m, nil
}

// scatter adds beta times column j of a into the accumulator x, registering
// newly touched rows in ci. Returns the updated fill count.
func scatter(a *CSC, j int, beta float64, w []int, x []float64, mark int, ci []int, nz int) int {
	for p := a.Indptr[j]; p < a.Indptr[j+1]; p++ {
		i := a.Indices[p]
		if w[i] < mark {
			w[i] = mark
			ci[nz] = i
			nz++
			x[i] = beta * a.Data[p]
		} else {
			x[i] += beta * a.Data[p]
		}
	}
	return nz
}

// Add computes alpha*A + beta*B with Gustavson's scatter, O(nnzA + nnzB).
// Works for any overlap pattern of the two sparsity structures.
func Add(a, b *CSC, alpha, beta float64) (*CSC, error) {
	if a.NRows != b.NRows || a.NCols != b.NCols {
		return nil, fmt.Errorf("add: shape mismatch %dx%d vs %dx%d",
			a.NRows, a.NCols, b.NRows, b.NCols)
	}
	nnzCap := a.NNZ() + b.NNZ()
	c := &CSC{
		NRows:   a.NRows,
		NCols:   a.NCols,
		Indptr:  make([]int, a.NCols+1),
		Indices: make([]int, nnzCap),
		Data:    make([]float64, nnzCap),
	}
	w := make([]int, a.NRows)
	x := make([]float64, a.NRows)
	nz := 0
	for j := 0; j < a.NCols; j++ {
		mark := j + 1
		start := nz
		nz = scatter(a, j, alpha, w, x, mark, c.Indices, nz)
		nz = scatter(b, j, beta, w, x, mark, c.Indices, nz)
		sort.Ints(c.Indices[start:nz])
		for p := start; p < nz; p++ {
			c.Data[p] = x[c.Indices[p]]
		}
		c.Indptr[j+1] = nz
	}
	c.Indices = c.Indices[:nz]
	c.Data = c.Data[:nz]
	return c, nil
}

// Transpose returns the matrix transpose, rows sorted within columns.
func (m *CSC) Transpose() *CSC {
	t := &CSC{
		NRows:   m.NCols,
		NCols:   m.NRows,
		Indptr:  make([]int, m.NRows+1),
		Indices: make([]int, m.NNZ()),
		Data:    make([]float64, m.NNZ()),
	}
	for _, i := range m.Indices {
		t.Indptr[i+1]++
	}
	for i := 0; i < m.NRows; i++ {
		t.Indptr[i+1] += t.Indptr[i]
	}
	next := make([]int, m.NRows)
	copy(next, t.Indptr[:m.NRows])
	for j := 0; j < m.NCols; j++ {
		for p := m.Indptr[j]; p < m.Indptr[j+1]; p++ {
			i := m.Indices[p]
			q := next[i]
			t.Indices[q] = j
			t.Data[q] = m.Data[p]
			next[i]++
		}
	}
	return t
}

// Multiply computes m * b (SpGEMM, Gustavson).
func (m *CSC) Multiply(b *CSC) (*CSC, error) {
	if m.NCols != b.NRows {
		return nil, fmt.Errorf("multiply: inner dimension mismatch %d vs %d", m.NCols, b.NRows)
	}
	c := NewCSC(m.NRows, b.NCols, m.NNZ()+b.NNZ())
	w := make([]int, m.NRows)
	x := make([]float64, m.NRows)
	touched := make([]int, 0, m.NRows)
	for j := 0; j < b.NCols; j++ {
		mark := j + 1
		touched = touched[:0]
		for p := b.Indptr[j]; p < b.Indptr[j+1]; p++ {
			l := b.Indices[p]
			bv := b.Data[p]
			for q := m.Indptr[l]; q < m.Indptr[l+1]; q++ {
				i := m.Indices[q]
				if w[i] < mark {
					w[i] = mark
					x[i] = m.Data[q] * bv
					touched = append(touched, i)
				} else {
					x[i] += m.Data[q] * bv
				}
			}
		}
		sort.Ints(touched)
		for _, i := range touched {
			c.Indices = append(c.Indices, i)
			c.Data = append(c.Data, x[i])
		}
		c.Indptr[j+1] = len(c.Indices)
	}
	return c, nil
}

// MatVec computes m * v.
func (m *CSC) MatVec(v []float64) ([]float64, error) {
	if len(v) != m.NCols {
		return nil, fmt.Errorf("matvec: vector length %d, want %d", len(v), m.NCols)
	}
	y := make([]float64, m.NRows)
	for j := 0; j < m.NCols; j++ {
		for p := m.Indptr[j]; p < m.Indptr[j+1]; p++ {
			y[m.Indices[p]] += m.Data[p] * v[j]
		}
	}
	return y, nil
}

// Diags builds the n x n diagonal matrix of v.
func Diags(v []float64) *CSC {
	n := len(v)
	m := &CSC{
		NRows:   n,
		NCols:   n,
		Indptr:  make([]int, n+1),
		Indices: make([]int, n),
		Data:    make([]float64, n),
	}
	for j := 0; j < n; j++ {
		m.Indptr[j+1] = j + 1
		m.Indices[j] = j
		m.Data[j] = v[j]
	}
	return m
}

func (m *CSC) Copy() *CSC {
	c := &CSC{
		NRows:   m.NRows,
		NCols:   m.NCols,
		Indptr:  make([]int, len(m.Indptr)),
		Indices: make([]int, len(m.Indices)),
		Data:    make([]float64, len(m.Data)),
	}
	copy(c.Indptr, m.Indptr)
	copy(c.Indices, m.Indices)
	copy(c.Data, m.Data)
	return c
}

// ToDense expands to a dense row-major matrix. Test and debug use only.
func (m *CSC) ToDense() [][]float64 {
	d := make([][]float64, m.NRows)
	for i := range d {
		d[i] = make([]float64, m.NCols)
	}
	for j := 0; j < m.NCols; j++ {
		for p := m.Indptr[j]; p < m.Indptr[j+1]; p++ {
			d[m.Indices[p]][j] = m.Data[p]
		}
	}
	return d
}

// At returns the entry at (i, j). O(column nnz); not for hot paths.
func (m *CSC) At(i, j int) float64 {
	for p := m.Indptr[j]; p < m.Indptr[j+1]; p++ {
		if m.Indices[p] == i {
			return m.Data[p]
		}
	}
	return 0
}

// SubMatrix extracts m[rows, cols] with the selected indices renumbered to
// 0..len-1 in the given order.
func (m *CSC) SubMatrix(rows, cols []int) *CSC {
	rowLookup := MakeLookup(m.NRows, rows)
	s := NewCSC(len(rows), len(cols), m.NNZ())
	for jj, j := range cols {
		for p := m.Indptr[j]; p < m.Indptr[j+1]; p++ {
			ii := rowLookup[m.Indices[p]]
			if ii >= 0 {
				s.Indices = append(s.Indices, ii)
				s.Data = append(s.Data, m.Data[p])
			}
		}
		s.Indptr[jj+1] = len(s.Indices)
	}
	return s
}

// ToComplex widens the matrix into a complex container with zero imaginary
// parts, sharing no storage with the receiver.
func (m *CSC) ToComplex() *CxCSC {
	c := &CxCSC{
		NRows:   m.NRows,
		NCols:   m.NCols,
		Indptr:  make([]int, len(m.Indptr)),
		Indices: make([]int, len(m.Indices)),
		Data:    make([]complex128, len(m.Data)),
	}
	copy(c.Indptr, m.Indptr)
	copy(c.Indices, m.Indices)
	for k, v := range m.Data {
		c.Data[k] = complex(v, 0)
	}
	return c
}
