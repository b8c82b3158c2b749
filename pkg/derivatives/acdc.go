package derivatives

import (
	"math"

	"toy-grid/pkg/sparse"
)

// VscLoss evaluates the converter loss balance residual per converter:
//
//	L = Pf + Pt + a1 + a2*sqrt(Pt^2+Qt^2)/Vmt + a3*(Pt^2+Qt^2)/Vmt^2
//
// All quantities in per unit. Vm is the full bus magnitude vector, t the
// converter AC terminal bus.
func VscLoss(pf, pt, qt []float64, vm []float64, t []int, a1, a2, a3 []float64) []float64 {
	loss := make([]float64, len(pf))
	for k := range pf {
		vmt := vm[t[k]]
		s2 := pt[k]*pt[k] + qt[k]*qt[k]
		loss[k] = pf[k] + pt[k] + a1[k] + a2[k]*math.Sqrt(s2)/vmt + a3[k]*s2/(vmt*vmt)
	}
	return loss
}

// DVscLossDPf builds dL/dPf for the converters whose Pf is unknown. The
// loss balance is linear in Pf, so the block is an incidence of ones.
func DVscLossDPf(nvsc int, pfIdx []int) (*sparse.CSC, error) {
	ti := make([]int, len(pfIdx))
	tj := make([]int, len(pfIdx))
	tx := make([]float64, len(pfIdx))
	for j, k := range pfIdx {
		ti[j] = k
		tj[j] = j
		tx[j] = 1.0
	}
	return sparse.FromTriplets(nvsc, len(pfIdx), ti, tj, tx)
}

// DVscLossDPt builds dL/dPt for the converters whose Pt is unknown.
func DVscLossDPt(nvsc int, ptIdx []int, pt, qt, vm []float64, t []int, a2, a3 []float64) (*sparse.CSC, error) {
	ti := make([]int, len(ptIdx))
	tj := make([]int, len(ptIdx))
	tx := make([]float64, len(ptIdx))
	for j, k := range ptIdx {
		vmt := vm[t[k]]
		mag := math.Sqrt(pt[k]*pt[k] + qt[k]*qt[k])
		d := 1.0 + 2.0*a3[k]*pt[k]/(vmt*vmt)
		if mag > 0 {
			d += a2[k] * pt[k] / (vmt * mag)
		}
		ti[j] = k
		tj[j] = j
		tx[j] = d
	}
	return sparse.FromTriplets(nvsc, len(ptIdx), ti, tj, tx)
}

// DVscLossDQt builds dL/dQt for the converters whose Qt is unknown.
func DVscLossDQt(nvsc int, qtIdx []int, pt, qt, vm []float64, t []int, a2, a3 []float64) (*sparse.CSC, error) {
	ti := make([]int, len(qtIdx))
	tj := make([]int, len(qtIdx))
	tx := make([]float64, len(qtIdx))
	for j, k := range qtIdx {
		vmt := vm[t[k]]
		mag := math.Sqrt(pt[k]*pt[k] + qt[k]*qt[k])
		d := 2.0 * a3[k] * qt[k] / (vmt * vmt)
		if mag > 0 {
			d += a2[k] * qt[k] / (vmt * mag)
		}
		ti[j] = k
		tj[j] = j
		tx[j] = d
	}
	return sparse.FromTriplets(nvsc, len(qtIdx), ti, tj, tx)
}

// DVscLossDVm builds dL/dVm over the unknown-magnitude bus columns vmIdx.
// Only the AC terminal magnitude enters the loss curve.
func DVscLossDVm(nvsc, nbus int, vmIdx []int, pt, qt, vm []float64, t []int, a2, a3 []float64) (*sparse.CSC, error) {
	lookup := sparse.MakeLookup(nbus, vmIdx)
	ti := make([]int, 0, nvsc)
	tj := make([]int, 0, nvsc)
	tx := make([]float64, 0, nvsc)
	for k := 0; k < nvsc; k++ {
		col := lookup[t[k]]
		if col < 0 {
			continue
		}
		vmt := vm[t[k]]
		s2 := pt[k]*pt[k] + qt[k]*qt[k]
		d := -a2[k]*math.Sqrt(s2)/(vmt*vmt) - 2.0*a3[k]*s2/(vmt*vmt*vmt)
		ti = append(ti, k)
		tj = append(tj, col)
		tx = append(tx, d)
	}
	return sparse.FromTriplets(nvsc, len(vmIdx), ti, tj, tx)
}

// HvdcLoss evaluates the DC link loss balance residual per line:
//
//	R = r*Pf^2/Vmf^2 - Pf - Pt
//
// where r*(Pf/Vmf)^2 is the ohmic drop at the sending converter terminal.
func HvdcLoss(pf, pt, vm []float64, f []int, r []float64) []float64 {
	res := make([]float64, len(pf))
	for k := range pf {
		vmf := vm[f[k]]
		res[k] = r[k]*pf[k]*pf[k]/(vmf*vmf) - pf[k] - pt[k]
	}
	return res
}

// DHvdcLossDVm builds dR/dVm over the unknown-magnitude bus columns vmIdx.
func DHvdcLossDVm(nhvdc, nbus int, vmIdx []int, pf, vm []float64, f []int, r []float64) (*sparse.CSC, error) {
	lookup := sparse.MakeLookup(nbus, vmIdx)
	ti := make([]int, 0, nhvdc)
	tj := make([]int, 0, nhvdc)
	tx := make([]float64, 0, nhvdc)
	for k := 0; k < nhvdc; k++ {
		col := lookup[f[k]]
		if col < 0 {
			continue
		}
		vmf := vm[f[k]]
		ti = append(ti, k)
		tj = append(tj, col)
		tx = append(tx, -2.0*r[k]*pf[k]*pf[k]/(vmf*vmf*vmf))
	}
	return sparse.FromTriplets(nhvdc, len(vmIdx), ti, tj, tx)
}

// DHvdcLossDPf builds the diagonal dR/dPf block.
func DHvdcLossDPf(nhvdc int, pf, vm []float64, f []int, r []float64) (*sparse.CSC, error) {
	ti := make([]int, nhvdc)
	tj := make([]int, nhvdc)
	tx := make([]float64, nhvdc)
	for k := 0; k < nhvdc; k++ {
		vmf := vm[f[k]]
		ti[k] = k
		tj[k] = k
		tx[k] = 2.0*r[k]*pf[k]/(vmf*vmf) - 1.0
	}
	return sparse.FromTriplets(nhvdc, nhvdc, ti, tj, tx)
}

// DHvdcLossDPt builds the diagonal dR/dPt block, constant -1.
func DHvdcLossDPt(nhvdc int) (*sparse.CSC, error) {
	ti := make([]int, nhvdc)
	tj := make([]int, nhvdc)
	tx := make([]float64, nhvdc)
	for k := 0; k < nhvdc; k++ {
		ti[k] = k
		tj[k] = k
		tx[k] = -1.0
	}
	return sparse.FromTriplets(nhvdc, nhvdc, ti, tj, tx)
}

// HvdcInjection evaluates the sending-end power residual per line under
// angle droop control:
//
//	G = Pf - Pset - kdroop*(Va_f - Va_t)
//
// With kdroop zero the line holds Pf at its set point.
func HvdcInjection(pf, pset, kdroop, va []float64, f, t []int) []float64 {
	res := make([]float64, len(pf))
	for k := range pf {
		res[k] = pf[k] - pset[k] - kdroop[k]*(va[f[k]]-va[t[k]])
	}
	return res
}

// DHvdcInjDPf builds the diagonal dG/dPf block, constant +1.
func DHvdcInjDPf(nhvdc int) (*sparse.CSC, error) {
	ti := make([]int, nhvdc)
	tj := make([]int, nhvdc)
	tx := make([]float64, nhvdc)
	for k := 0; k < nhvdc; k++ {
		ti[k] = k
		tj[k] = k
		tx[k] = 1.0
	}
	return sparse.FromTriplets(nhvdc, nhvdc, ti, tj, tx)
}

// DHvdcInjDVa builds dG/dVa over the unknown-angle bus columns vaIdx.
func DHvdcInjDVa(nhvdc, nbus int, vaIdx []int, kdroop []float64, f, t []int) (*sparse.CSC, error) {
	lookup := sparse.MakeLookup(nbus, vaIdx)
	ti := make([]int, 0, 2*nhvdc)
	tj := make([]int, 0, 2*nhvdc)
	tx := make([]float64, 0, 2*nhvdc)
	for k := 0; k < nhvdc; k++ {
		if col := lookup[f[k]]; col >= 0 {
			ti = append(ti, k)
			tj = append(tj, col)
			tx = append(tx, -kdroop[k])
		}
		if col := lookup[t[k]]; col >= 0 {
			ti = append(ti, k)
			tj = append(tj, col)
			tx = append(tx, kdroop[k])
		}
	}
	return sparse.FromTriplets(nhvdc, len(vaIdx), ti, tj, tx)
}

// CurrentLimitResidual evaluates the squared-current constraint residual
// (P^2+Q^2)/Vm^2 - Imax^2 for a set of terminal powers. Used to detect and
// enforce converter current limits.
func CurrentLimitResidual(p, q, vmTerm, imax []float64) []float64 {
	res := make([]float64, len(p))
	for k := range p {
		res[k] = (p[k]*p[k]+q[k]*q[k])/(vmTerm[k]*vmTerm[k]) - imax[k]*imax[k]
	}
	return res
}

// DCurrentLimitDVm is the residual derivative with respect to the terminal
// voltage magnitude, one value per constrained element.
func DCurrentLimitDVm(p, q, vmTerm []float64) []float64 {
	d := make([]float64, len(p))
	for k := range p {
		d[k] = -2.0 * (p[k]*p[k] + q[k]*q[k]) / (vmTerm[k] * vmTerm[k] * vmTerm[k])
	}
	return d
}

// DCurrentLimitDP is the residual derivative with respect to the terminal
// active power.
func DCurrentLimitDP(p, vmTerm []float64) []float64 {
	d := make([]float64, len(p))
	for k := range p {
		d[k] = 2.0 * p[k] / (vmTerm[k] * vmTerm[k])
	}
	return d
}

// DCurrentLimitDQ is the residual derivative with respect to the terminal
// reactive power.
func DCurrentLimitDQ(q, vmTerm []float64) []float64 {
	d := make([]float64, len(q))
	for k := range q {
		d[k] = 2.0 * q[k] / (vmTerm[k] * vmTerm[k])
	}
	return d
}
