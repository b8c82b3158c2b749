package derivatives

import (
	"math/cmplx"

	"toy-grid/pkg/sparse"
)

// BranchFlows evaluates Sf and St per branch from the primitive admittances
// and the endpoint voltages.
func BranchFlows(yff, yft, ytf, ytt []complex128, v []complex128, f, t []int) (sf, st []complex128) {
	nbr := len(yff)
	sf = make([]complex128, nbr)
	st = make([]complex128, nbr)
	for k := 0; k < nbr; k++ {
		vf, vt := v[f[k]], v[t[k]]
		sf[k] = vf * cmplx.Conj(yff[k]*vf+yft[k]*vt)
		st[k] = vt * cmplx.Conj(ytf[k]*vf+ytt[k]*vt)
	}
	return sf, st
}

// DSfDVmCSC builds dSf/dVm restricted to the brIdx rows and busIdx columns.
// Each branch contributes at most one entry per endpoint that falls inside
// the column subset.
func DSfDVmCSC(nbus int, brIdx, busIdx []int, yff, yft []complex128,
	v []complex128, f, t []int) (*sparse.CxCSC, error) {

	lookup := sparse.MakeLookup(nbus, busIdx)
	maxNNZ := len(brIdx) * 2
	ti := make([]int, 0, maxNNZ)
	tj := make([]int, 0, maxNNZ)
	tx := make([]complex128, 0, maxNNZ)

	for kc, k := range brIdx {
		fb, tb := f[k], t[k]
		fIdx, tIdx := lookup[fb], lookup[tb]
		vmf := cmplx.Abs(v[fb])
		vmt := cmplx.Abs(v[tb])
		ea := cmplx.Exp(complex(0, cmplx.Phase(v[fb])-cmplx.Phase(v[tb])))

		if fIdx >= 0 {
			ti = append(ti, kc)
			tj = append(tj, fIdx)
			tx = append(tx, complex(2*vmf, 0)*cmplx.Conj(yff[k])+complex(vmt, 0)*cmplx.Conj(yft[k])*ea)
		}
		if tIdx >= 0 {
			ti = append(ti, kc)
			tj = append(tj, tIdx)
			tx = append(tx, complex(vmf, 0)*cmplx.Conj(yft[k])*ea)
		}
	}
	return sparse.FromTripletsCx(len(brIdx), len(busIdx), ti, tj, tx)
}

// DSfDVaCSC builds dSf/dVa restricted to the brIdx rows and busIdx columns.
func DSfDVaCSC(nbus int, brIdx, busIdx []int, yft []complex128,
	v []complex128, f, t []int) (*sparse.CxCSC, error) {

	lookup := sparse.MakeLookup(nbus, busIdx)
	maxNNZ := len(brIdx) * 2
	ti := make([]int, 0, maxNNZ)
	tj := make([]int, 0, maxNNZ)
	tx := make([]complex128, 0, maxNNZ)

	for kc, k := range brIdx {
		fb, tb := f[k], t[k]
		fIdx, tIdx := lookup[fb], lookup[tb]
		if fIdx < 0 && tIdx < 0 {
			continue
		}
		vmf := cmplx.Abs(v[fb])
		vmt := cmplx.Abs(v[tb])
		ea := cmplx.Exp(complex(0, cmplx.Phase(v[fb])-cmplx.Phase(v[tb])))
		val := complex(vmf*vmt, 0) * cmplx.Conj(yft[k]) * ea * complex(0, 1)

		if fIdx >= 0 {
			ti = append(ti, kc)
			tj = append(tj, fIdx)
			tx = append(tx, val)
		}
		if tIdx >= 0 {
			ti = append(ti, kc)
			tj = append(tj, tIdx)
			tx = append(tx, -val)
		}
	}
	return sparse.FromTripletsCx(len(brIdx), len(busIdx), ti, tj, tx)
}

// DStDVmCSC builds dSt/dVm restricted to the brIdx rows and busIdx columns.
func DStDVmCSC(nbus int, brIdx, busIdx []int, ytt, ytf []complex128,
	v []complex128, f, t []int) (*sparse.CxCSC, error) {

	lookup := sparse.MakeLookup(nbus, busIdx)
	maxNNZ := len(brIdx) * 2
	ti := make([]int, 0, maxNNZ)
	tj := make([]int, 0, maxNNZ)
	tx := make([]complex128, 0, maxNNZ)

	for kc, k := range brIdx {
		fb, tb := f[k], t[k]
		fIdx, tIdx := lookup[fb], lookup[tb]
		vmf := cmplx.Abs(v[fb])
		vmt := cmplx.Abs(v[tb])
		ea := cmplx.Exp(complex(0, cmplx.Phase(v[tb])-cmplx.Phase(v[fb])))

		if fIdx >= 0 {
			ti = append(ti, kc)
			tj = append(tj, fIdx)
			tx = append(tx, complex(vmt, 0)*cmplx.Conj(ytf[k])*ea)
		}
		if tIdx >= 0 {
			ti = append(ti, kc)
			tj = append(tj, tIdx)
			tx = append(tx, complex(2*vmt, 0)*cmplx.Conj(ytt[k])+complex(vmf, 0)*cmplx.Conj(ytf[k])*ea)
		}
	}
	return sparse.FromTripletsCx(len(brIdx), len(busIdx), ti, tj, tx)
}

// DStDVaCSC builds dSt/dVa restricted to the brIdx rows and busIdx columns.
func DStDVaCSC(nbus int, brIdx, busIdx []int, ytf []complex128,
	v []complex128, f, t []int) (*sparse.CxCSC, error) {

	lookup := sparse.MakeLookup(nbus, busIdx)
	maxNNZ := len(brIdx) * 2
	ti := make([]int, 0, maxNNZ)
	tj := make([]int, 0, maxNNZ)
	tx := make([]complex128, 0, maxNNZ)

	for kc, k := range brIdx {
		fb, tb := f[k], t[k]
		fIdx, tIdx := lookup[fb], lookup[tb]
		if fIdx < 0 && tIdx < 0 {
			continue
		}
		vmf := cmplx.Abs(v[fb])
		vmt := cmplx.Abs(v[tb])
		ea := cmplx.Exp(complex(0, cmplx.Phase(v[tb])-cmplx.Phase(v[fb])))
		val := complex(vmf*vmt, 0) * cmplx.Conj(ytf[k]) * ea * complex(0, 1)

		if fIdx >= 0 {
			ti = append(ti, kc)
			tj = append(tj, fIdx)
			tx = append(tx, -val)
		}
		if tIdx >= 0 {
			ti = append(ti, kc)
			tj = append(tj, tIdx)
			tx = append(tx, val)
		}
	}
	return sparse.FromTripletsCx(len(brIdx), len(busIdx), ti, tj, tx)
}

// DPfdpDVmCSC builds the droop-corrected real-power rows:
// dPfdp/dVm = -Re(dSf/dVm) + diag(Kdp) d|Vf|/dVm.
func DPfdpDVmCSC(nbus int, brIdx, busIdx []int, yff, yft []complex128, kdp []float64,
	v []complex128, f, t []int) (*sparse.CSC, error) {

	lookup := sparse.MakeLookup(nbus, busIdx)
	maxNNZ := len(brIdx) * 2
	ti := make([]int, 0, maxNNZ)
	tj := make([]int, 0, maxNNZ)
	tx := make([]float64, 0, maxNNZ)

	for kc, k := range brIdx {
		fb, tb := f[k], t[k]
		fIdx, tIdx := lookup[fb], lookup[tb]
		vmf := cmplx.Abs(v[fb])
		vmt := cmplx.Abs(v[tb])
		ea := cmplx.Exp(complex(0, cmplx.Phase(v[fb])-cmplx.Phase(v[tb])))

		if fIdx >= 0 {
			dsf := complex(2*vmf, 0)*cmplx.Conj(yff[k]) + complex(vmt, 0)*cmplx.Conj(yft[k])*ea
			ti = append(ti, kc)
			tj = append(tj, fIdx)
			tx = append(tx, -real(dsf)+kdp[k])
		}
		if tIdx >= 0 {
			dsf := complex(vmf, 0) * cmplx.Conj(yft[k]) * ea
			ti = append(ti, kc)
			tj = append(tj, tIdx)
			tx = append(tx, -real(dsf))
		}
	}
	return sparse.FromTriplets(len(brIdx), len(busIdx), ti, tj, tx)
}
