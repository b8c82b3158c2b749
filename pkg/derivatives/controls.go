package derivatives

import (
	"math/cmplx"

	"toy-grid/pkg/sparse"
)

// The control-variable derivatives below follow from differentiating the
// branch primitive admittances symbolically and combining them with the
// endpoint phasors. Each controlled branch yields two bus entries (from and
// to) or a single branch entry.

// DSbusDTauCSC builds dSbus/dtau for the tauIdx branches, rows restricted to
// busIdx.
func DSbusDTauCSC(nbus int, busIdx, tauIdx []int, f, t []int,
	ys []complex128, kconv []float64, tap []complex128, v []complex128) (*sparse.CxCSC, error) {

	lookup := sparse.MakeLookup(nbus, busIdx)
	maxNNZ := len(tauIdx) * 2
	ti := make([]int, 0, maxNNZ)
	tj := make([]int, 0, maxNNZ)
	tx := make([]complex128, 0, maxNNZ)

	for kc, k := range tauIdx {
		fb, tb := f[k], t[k]

		if fIdx := lookup[fb]; fIdx >= 0 {
			dyftDtau := -ys[k] / (complex(0, -kconv[k]) * cmplx.Conj(tap[k]))
			ti = append(ti, fIdx)
			tj = append(tj, kc)
			tx = append(tx, v[fb]*cmplx.Conj(dyftDtau*v[tb]))
		}
		if tIdx := lookup[tb]; tIdx >= 0 {
			dytfDtau := -ys[k] / (complex(0, kconv[k]) * tap[k])
			ti = append(ti, tIdx)
			tj = append(tj, kc)
			tx = append(tx, v[tb]*cmplx.Conj(dytfDtau*v[fb]))
		}
	}
	return sparse.FromTripletsCx(len(busIdx), len(tauIdx), ti, tj, tx)
}

// DSfDTauCSC builds dSf/dtau, rows restricted to the sfIdx branches.
func DSfDTauCSC(nbr int, sfIdx, tauIdx []int, f, t []int,
	ys []complex128, kconv []float64, tap []complex128, v []complex128) (*sparse.CxCSC, error) {

	lookup := sparse.MakeLookup(nbr, sfIdx)
	ti := make([]int, 0, len(tauIdx))
	tj := make([]int, 0, len(tauIdx))
	tx := make([]complex128, 0, len(tauIdx))

	for kc, k := range tauIdx {
		if iIdx := lookup[k]; iIdx >= 0 {
			fb, tb := f[k], t[k]
			dyftDtau := -ys[k] / (complex(0, -kconv[k]) * cmplx.Conj(tap[k]))
			ti = append(ti, iIdx)
			tj = append(tj, kc)
			tx = append(tx, v[fb]*cmplx.Conj(dyftDtau*v[tb]))
		}
	}
	return sparse.FromTripletsCx(len(sfIdx), len(tauIdx), ti, tj, tx)
}

// DStDTauCSC builds dSt/dtau, rows restricted to the stIdx branches.
func DStDTauCSC(nbr int, stIdx, tauIdx []int, f, t []int,
	ys []complex128, kconv []float64, tap []complex128, v []complex128) (*sparse.CxCSC, error) {

	lookup := sparse.MakeLookup(nbr, stIdx)
	ti := make([]int, 0, len(tauIdx))
	tj := make([]int, 0, len(tauIdx))
	tx := make([]complex128, 0, len(tauIdx))

	for kc, k := range tauIdx {
		if iIdx := lookup[k]; iIdx >= 0 {
			fb, tb := f[k], t[k]
			dytfDtau := -ys[k] / (complex(0, kconv[k]) * tap[k])
			ti = append(ti, iIdx)
			tj = append(tj, kc)
			tx = append(tx, v[tb]*cmplx.Conj(dytfDtau*v[fb]))
		}
	}
	return sparse.FromTripletsCx(len(stIdx), len(tauIdx), ti, tj, tx)
}

// DSbusDmCSC builds dSbus/dm for the mIdx branches, rows restricted to
// busIdx. Bc is the total branch charging susceptance (both legs).
func DSbusDmCSC(nbus int, busIdx, mIdx []int, f, t []int,
	ys []complex128, bc, beq, kconv []float64, tap []complex128, tapModule []float64,
	v []complex128) (*sparse.CxCSC, error) {

	lookup := sparse.MakeLookup(nbus, busIdx)
	maxNNZ := len(mIdx) * 2
	ti := make([]int, 0, maxNNZ)
	tj := make([]int, 0, maxNNZ)
	tx := make([]complex128, 0, maxNNZ)

	for kc, k := range mIdx {
		fb, tb := f[k], t[k]

		if fIdx := lookup[fb]; fIdx >= 0 {
			yttB := ys[k] + complex(0, bc[k]/2+beq[k])
			m3 := kconv[k] * kconv[k] * tapModule[k] * tapModule[k] * tapModule[k]
			dyffDm := -2 * yttB / complex(m3, 0)
			dyftDm := ys[k] / (complex(kconv[k]*tapModule[k], 0) * cmplx.Conj(tap[k]))
			ti = append(ti, fIdx)
			tj = append(tj, kc)
			tx = append(tx, v[fb]*cmplx.Conj(dyffDm*v[fb]+dyftDm*v[tb]))
		}
		if tIdx := lookup[tb]; tIdx >= 0 {
			dytfDm := ys[k] / (complex(kconv[k]*tapModule[k], 0) * tap[k])
			ti = append(ti, tIdx)
			tj = append(tj, kc)
			tx = append(tx, v[tb]*cmplx.Conj(dytfDm*v[fb]))
		}
	}
	return sparse.FromTripletsCx(len(busIdx), len(mIdx), ti, tj, tx)
}

// DSfDmCSC builds dSf/dm, rows restricted to the sfIdx branches.
func DSfDmCSC(nbr int, sfIdx, mIdx []int, f, t []int,
	ys []complex128, bc, beq, kconv []float64, tap []complex128, tapModule []float64,
	v []complex128) (*sparse.CxCSC, error) {

	lookup := sparse.MakeLookup(nbr, sfIdx)
	ti := make([]int, 0, len(mIdx))
	tj := make([]int, 0, len(mIdx))
	tx := make([]complex128, 0, len(mIdx))

	for kc, k := range mIdx {
		if iIdx := lookup[k]; iIdx >= 0 {
			fb, tb := f[k], t[k]
			yttB := ys[k] + complex(0, bc[k]/2+beq[k])
			m3 := kconv[k] * kconv[k] * tapModule[k] * tapModule[k] * tapModule[k]
			dyffDm := -2 * yttB / complex(m3, 0)
			dyftDm := ys[k] / (complex(kconv[k]*tapModule[k], 0) * cmplx.Conj(tap[k]))
			ti = append(ti, iIdx)
			tj = append(tj, kc)
			tx = append(tx, v[fb]*cmplx.Conj(dyffDm*v[fb]+dyftDm*v[tb]))
		}
	}
	return sparse.FromTripletsCx(len(sfIdx), len(mIdx), ti, tj, tx)
}

// DStDmCSC builds dSt/dm, rows restricted to the stIdx branches.
func DStDmCSC(nbr int, stIdx, mIdx []int, f, t []int,
	ys []complex128, kconv []float64, tap []complex128, tapModule []float64,
	v []complex128) (*sparse.CxCSC, error) {

	lookup := sparse.MakeLookup(nbr, stIdx)
	ti := make([]int, 0, len(mIdx))
	tj := make([]int, 0, len(mIdx))
	tx := make([]complex128, 0, len(mIdx))

	for kc, k := range mIdx {
		if iIdx := lookup[k]; iIdx >= 0 {
			fb, tb := f[k], t[k]
			dytfDm := ys[k] / (complex(kconv[k]*tapModule[k], 0) * tap[k])
			ti = append(ti, iIdx)
			tj = append(tj, kc)
			tx = append(tx, v[tb]*cmplx.Conj(dytfDm*v[fb]))
		}
	}
	return sparse.FromTripletsCx(len(stIdx), len(mIdx), ti, tj, tx)
}

// DSbusDBeqCSC builds dSbus/dBeq for the beqIdx branches, rows restricted to
// busIdx. Beq only enters the from-from primitive, so only the from bus
// carries an entry.
func DSbusDBeqCSC(nbus int, busIdx, beqIdx []int, f []int,
	kconv, tapModule []float64, v []complex128) (*sparse.CxCSC, error) {

	lookup := sparse.MakeLookup(nbus, busIdx)
	ti := make([]int, 0, len(beqIdx))
	tj := make([]int, 0, len(beqIdx))
	tx := make([]complex128, 0, len(beqIdx))

	for kc, k := range beqIdx {
		fb := f[k]
		if fIdx := lookup[fb]; fIdx >= 0 {
			km := kconv[k] * tapModule[k]
			dyffDBeq := complex(0, 1.0/(km*km))
			ti = append(ti, fIdx)
			tj = append(tj, kc)
			tx = append(tx, v[fb]*cmplx.Conj(dyffDBeq*v[fb]))
		}
	}
	return sparse.FromTripletsCx(len(busIdx), len(beqIdx), ti, tj, tx)
}

// DSfDBeqCSC builds dSf/dBeq, rows restricted to the sfIdx branches.
func DSfDBeqCSC(nbr int, sfIdx, beqIdx []int, f []int,
	kconv, tapModule []float64, v []complex128) (*sparse.CxCSC, error) {

	lookup := sparse.MakeLookup(nbr, sfIdx)
	ti := make([]int, 0, len(beqIdx))
	tj := make([]int, 0, len(beqIdx))
	tx := make([]complex128, 0, len(beqIdx))

	for kc, k := range beqIdx {
		if iIdx := lookup[k]; iIdx >= 0 {
			fb := f[k]
			km := kconv[k] * tapModule[k]
			dyffDBeq := complex(0, 1.0/(km*km))
			ti = append(ti, iIdx)
			tj = append(tj, kc)
			tx = append(tx, v[fb]*cmplx.Conj(dyffDBeq*v[fb]))
		}
	}
	return sparse.FromTripletsCx(len(sfIdx), len(beqIdx), ti, tj, tx)
}

// DStDBeqCSC is identically zero: Beq does not appear in the to-side
// primitives. The empty matrix keeps the block shapes consistent.
func DStDBeqCSC(stIdx, beqIdx []int) *sparse.CxCSC {
	return sparse.NewCxCSC(len(stIdx), len(beqIdx), 0)
}
