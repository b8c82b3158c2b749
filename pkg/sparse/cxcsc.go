package sparse

import (
	"fmt"
	"sort"
)

// CxCSC is the complex-valued counterpart of CSC, with the same structural
// invariants.
type CxCSC struct {
	NRows   int
	NCols   int
	Indptr  []int
	Indices []int
	Data    []complex128
}

func NewCxCSC(nrows, ncols, nnzCap int) *CxCSC {
	return &CxCSC{
		NRows:   nrows,
		NCols:   ncols,
		Indptr:  make([]int, ncols+1),
		Indices: make([]int, 0, nnzCap),
		Data:    make([]complex128, 0, nnzCap),
	}
}

func (m *CxCSC) NNZ() int {
	return m.Indptr[m.NCols]
}

// FromTripletsCx builds a complex CSC matrix from unordered triplets,
// summing duplicate positions. See FromTriplets.
func FromTripletsCx(nrows, ncols int, rows, cols []int, vals []complex128) (*CxCSC, error) {
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
	bVals := make([]complex128, len(vals))
	for k := range rows {
		p := next[cols[k]]
		bRows[p] = rows[k]
		bVals[p] = vals[k]
		next[cols[k]]++
	}

	m := NewCxCSC(nrows, ncols, len(rows))
	w := make([]int, nrows)
	x := make([]complex128, nrows)
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

func scatterCx(a *CxCSC, j int, beta complex128, w []int, x []complex128, mark int, ci []int, nz int) int {
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

// AddCx computes alpha*A + beta*B for complex matrices. See Add.
func AddCx(a, b *CxCSC, alpha, beta complex128) (*CxCSC, error) {
	if a.NRows != b.NRows || a.NCols != b.NCols {
		return nil, fmt.Errorf("add: shape mismatch %dx%d vs %dx%d",
			a.NRows, a.NCols, b.NRows, b.NCols)
	}
	nnzCap := a.NNZ() + b.NNZ()
	c := &CxCSC{
		NRows:   a.NRows,
		NCols:   a.NCols,
		Indptr:  make([]int, a.NCols+1),
		Indices: make([]int, nnzCap),
		Data:    make([]complex128, nnzCap),
	}
	w := make([]int, a.NRows)
	x := make([]complex128, a.NRows)
	nz := 0
	for j := 0; j < a.NCols; j++ {
		mark := j + 1
		start := nz
		nz = scatterCx(a, j, alpha, w, x, mark, c.Indices, nz)
		nz = scatterCx(b, j, beta, w, x, mark, c.Indices, nz)
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

func (m *CxCSC) Transpose() *CxCSC {
	t := &CxCSC{
		NRows:   m.NCols,
		NCols:   m.NRows,
		Indptr:  make([]int, m.NRows+1),
		Indices: make([]int, m.NNZ()),
		Data:    make([]complex128, m.NNZ()),
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

func (m *CxCSC) Multiply(b *CxCSC) (*CxCSC, error) {
	if m.NCols != b.NRows {
		return nil, fmt.Errorf("multiply: inner dimension mismatch %d vs %d", m.NCols, b.NRows)
	}
	c := NewCxCSC(m.NRows, b.NCols, m.NNZ()+b.NNZ())
	w := make([]int, m.NRows)
	x := make([]complex128, m.NRows)
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

func (m *CxCSC) MatVec(v []complex128) ([]complex128, error) {
	if len(v) != m.NCols {
		return nil, fmt.Errorf("matvec: vector length %d, want %d", len(v), m.NCols)
	}
	y := make([]complex128, m.NRows)
	for j := 0; j < m.NCols; j++ {
		for p := m.Indptr[j]; p < m.Indptr[j+1]; p++ {
			y[m.Indices[p]] += m.Data[p] * v[j]
		}
	}
	return y, nil
}

// DiagsCx builds the n x n diagonal matrix of v.
func DiagsCx(v []complex128) *CxCSC {
	n := len(v)
	m := &CxCSC{
		NRows:   n,
		NCols:   n,
		Indptr:  make([]int, n+1),
		Indices: make([]int, n),
		Data:    make([]complex128, n),
	}
	for j := 0; j < n; j++ {
		m.Indptr[j+1] = j + 1
		m.Indices[j] = j
		m.Data[j] = v[j]
	}
	return m
}

func (m *CxCSC) Copy() *CxCSC {
	c := &CxCSC{
		NRows:   m.NRows,
		NCols:   m.NCols,
		Indptr:  make([]int, len(m.Indptr)),
		Indices: make([]int, len(m.Indices)),
		Data:    make([]complex128, len(m.Data)),
	}
	copy(c.Indptr, m.Indptr)
	copy(c.Indices, m.Indices)
	copy(c.Data, m.Data)
	return c
}

func (m *CxCSC) ToDense() [][]complex128 {
	d := make([][]complex128, m.NRows)
	for i := range d {
		d[i] = make([]complex128, m.NCols)
	}
	for j := 0; j < m.NCols; j++ {
		for p := m.Indptr[j]; p < m.Indptr[j+1]; p++ {
			d[m.Indices[p]][j] = m.Data[p]
		}
	}
	return d
}

func (m *CxCSC) At(i, j int) complex128 {
	for p := m.Indptr[j]; p < m.Indptr[j+1]; p++ {
		if m.Indices[p] == i {
			return m.Data[p]
		}
	}
	return 0
}

// Real extracts the real part into a real CSC matrix, keeping the pattern.
func (m *CxCSC) Real() *CSC {
	c := &CSC{
		NRows:   m.NRows,
		NCols:   m.NCols,
		Indptr:  make([]int, len(m.Indptr)),
		Indices: make([]int, len(m.Indices)),
		Data:    make([]float64, len(m.Data)),
	}
	copy(c.Indptr, m.Indptr)
	copy(c.Indices, m.Indices)
	for k, v := range m.Data {
		c.Data[k] = real(v)
	}
	return c
}

// Imag extracts the imaginary part into a real CSC matrix, keeping the pattern.
func (m *CxCSC) Imag() *CSC {
	c := &CSC{
		NRows:   m.NRows,
		NCols:   m.NCols,
		Indptr:  make([]int, len(m.Indptr)),
		Indices: make([]int, len(m.Indices)),
		Data:    make([]float64, len(m.Data)),
	}
	copy(c.Indptr, m.Indptr)
	copy(c.Indices, m.Indices)
	for k, v := range m.Data {
		c.Data[k] = imag(v)
	}
	return c
}
