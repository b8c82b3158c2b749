// Package derivatives computes, in CSC form, the analytic partial
// derivatives of bus injections and branch flows with respect to voltage and
// every branch control variable of the unified branch model, plus the
// converter and DC-link equation derivatives. Every function is a pure
// function of its inputs; nothing is cached between Newton iterations.
package derivatives

import (
	"fmt"
	"math/cmplx"

	"toy-grid/pkg/sparse"
)

// ComputePower evaluates S = V .* conj(Ybus*V).
func ComputePower(ybus *sparse.CxCSC, v []complex128) ([]complex128, error) {
	i, err := ybus.MatVec(v)
	if err != nil {
		return nil, fmt.Errorf("bus power: %v", err)
	}
	s := make([]complex128, len(v))
	for k := range s {
		s[k] = v[k] * cmplx.Conj(i[k])
	}
	return s, nil
}

// DSbusDV computes dS/dVa and dS/dVm over the sparsity pattern of Ybus in
// two passes, O(nnz), using the identities
//
//	dS/dVa = j diag(V) conj(diag(I) - Ybus diag(V))
//	dS/dVm = diag(V) conj(Ybus diag(E)) + conj(diag(I)) diag(E)
//
// with I = Ybus*V and E the unit-magnitude voltage phasors. The first pass
// accumulates I while staging per-entry products; the second pass applies
// the diagonal corrections, which need the fully formed I.
func DSbusDV(ybus *sparse.CxCSC, v []complex128) (dSdVa, dSdVm *sparse.CxCSC, err error) {
	n := ybus.NCols
	if ybus.NRows != n || len(v) != n {
		return nil, nil, fmt.Errorf("dSbus/dV: Ybus must be %dx%d square matching the voltage vector", len(v), len(v))
	}

	ibus := make([]complex128, n)
	e := make([]complex128, n)
	dvaX := make([]complex128, ybus.NNZ())
	dvmX := make([]complex128, ybus.NNZ())

	// pass 1: matrix-vector products over the pattern
	for j := 0; j < n; j++ {
		e[j] = v[j]
		if vm := cmplx.Abs(v[j]); vm > 0 {
			e[j] /= complex(vm, 0)
		}
		for k := ybus.Indptr[j]; k < ybus.Indptr[j+1]; k++ {
			i := ybus.Indices[k]
			cur := ybus.Data[k] * v[j]
			ibus[i] += cur
			dvmX[k] = ybus.Data[k] * e[j]
			dvaX[k] = -cur
		}
	}

	// pass 2: diagonal corrections and final products
	for j := 0; j < n; j++ {
		buffer := cmplx.Conj(ibus[j]) * e[j]
		for k := ybus.Indptr[j]; k < ybus.Indptr[j+1]; k++ {
			i := ybus.Indices[k]
			dvmX[k] = v[i] * cmplx.Conj(dvmX[k])
			if i == j {
				dvaX[k] += ibus[j]
				dvmX[k] += buffer
			}
			dvaX[k] = complex(0, 1) * v[i] * cmplx.Conj(dvaX[k])
		}
	}

	dSdVa = &sparse.CxCSC{NRows: n, NCols: n, Indptr: ybus.Indptr, Indices: ybus.Indices, Data: dvaX}
	dSdVm = &sparse.CxCSC{NRows: n, NCols: n, Indptr: ybus.Indptr, Indices: ybus.Indices, Data: dvmX}
	return dSdVa, dSdVm, nil
}
