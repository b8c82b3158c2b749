// Package linsolve solves the real sparse linear systems produced by the
// Newton iterations. It wraps the sparse LU kernel behind a load/factor/solve
// lifecycle so a solver can be reused across iterations with the same
// pattern.
package linsolve

import (
	"fmt"

	esparse "github.com/edp1096/sparse"

	"toy-grid/pkg/sparse"
)

type Solver struct {
	Size   int
	matrix *esparse.Matrix
	rhs    []float64
	config *esparse.Configuration

	// element pointers in the CSC order of the first loaded matrix. The
	// kernel reorders its internal indices when it factors, so external
	// (row, col) lookups go stale after the first Solve; the pointers stay
	// valid, which is what makes reloading safe.
	elems   []*esparse.Element
	indptr  []int64
	indices []int64
}

// New allocates a solver for systems of the given size.
func New(size int) (*Solver, error) {
	if size <= 0 {
		return nil, fmt.Errorf("linear solver: size must be positive, got %d", size)
	}

	config := &esparse.Configuration{
		Real:           true,
		Complex:        false,
		Expandable:     true,
		Translate:      false,
		ModifiedNodal:  false,
		TiesMultiplier: 5,
		PrinterWidth:   140,
		Annotate:       0,
	}

	mat, err := esparse.Create(int64(size), config)
	if err != nil {
		return nil, fmt.Errorf("linear solver: creating sparse matrix: %v", err)
	}

	return &Solver{
		Size:   size,
		matrix: mat,
		rhs:    make([]float64, size+1), // 1-based indexing
		config: config,
	}, nil
}

// Load clears the matrix and scatters the CSC entries into it. The matrix
// must be square and match the solver size. The first Load fixes the sparsity
// pattern; later ones must reuse it.
func (s *Solver) Load(a *sparse.CSC) error {
	if a.NRows != s.Size || a.NCols != s.Size {
		return fmt.Errorf("linear solver: matrix is %dx%d, want %dx%d", a.NRows, a.NCols, s.Size, s.Size)
	}

	if s.elems == nil {
		s.indptr = make([]int64, len(a.Indptr))
		for j, p := range a.Indptr {
			s.indptr[j] = int64(p)
		}
		s.indices = make([]int64, len(a.Indices))
		s.elems = make([]*esparse.Element, len(a.Indices))
		for j := 0; j < a.NCols; j++ {
			for k := a.Indptr[j]; k < a.Indptr[j+1]; k++ {
				i := a.Indices[k]
				s.indices[k] = int64(i)
				s.elems[k] = s.matrix.GetElement(int64(i+1), int64(j+1))
			}
		}
	} else if !s.samePattern(a) {
		return fmt.Errorf("linear solver: sparsity pattern changed since the first load")
	}

	s.matrix.Clear()
	for k, e := range s.elems {
		e.Real += a.Data[k]
	}
	return nil
}

func (s *Solver) samePattern(a *sparse.CSC) bool {
	if len(a.Indptr) != len(s.indptr) || len(a.Indices) != len(s.indices) {
		return false
	}
	for j, p := range a.Indptr {
		if s.indptr[j] != int64(p) {
			return false
		}
	}
	for k, i := range a.Indices {
		if s.indices[k] != int64(i) {
			return false
		}
	}
	return true
}

// Solve factors the loaded matrix and solves for the given right-hand side.
func (s *Solver) Solve(b []float64) ([]float64, error) {
	if len(b) != s.Size {
		return nil, fmt.Errorf("linear solver: rhs has length %d, want %d", len(b), s.Size)
	}

	if err := s.matrix.Factor(); err != nil {
		return nil, fmt.Errorf("linear solver: factorization failed: %v", err)
	}

	for i := range s.rhs {
		s.rhs[i] = 0
	}
	for i, v := range b {
		s.rhs[i+1] = v
	}

	sol, err := s.matrix.Solve(s.rhs)
	if err != nil {
		return nil, fmt.Errorf("linear solver: solve failed: %v", err)
	}

	x := make([]float64, s.Size)
	copy(x, sol[1:s.Size+1])
	return x, nil
}

// Destroy releases the kernel's internal storage.
func (s *Solver) Destroy() {
	if s.matrix != nil {
		s.matrix.Destroy()
	}
}

// SolveSystem is the one-shot convenience: build, load, solve, destroy.
func SolveSystem(a *sparse.CSC, b []float64) ([]float64, error) {
	if a.NRows != a.NCols {
		return nil, fmt.Errorf("linear solver: matrix is %dx%d, want square", a.NRows, a.NCols)
	}
	s, err := New(a.NRows)
	if err != nil {
		return nil, err
	}
	defer s.Destroy()

	if err := s.Load(a); err != nil {
		return nil, err
	}
	return s.Solve(b)
}
