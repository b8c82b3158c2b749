package admittance

import (
	"fmt"
	"math/cmplx"

	"toy-grid/internal/consts"
	"toy-grid/pkg/sparse"
)

// SeriesMatrices is the series/shunt split used by HELM and the AC linear
// methods: Ybus = Yseries + diag(Yshunt).
type SeriesMatrices struct {
	Yseries *sparse.CxCSC
	Yshunt  []complex128 // per bus
}

// ComputeSplit separates the series part of the branch model from the shunt
// terms. Converter switching losses stay on the series from-side primitive.
func ComputeSplit(p *Params) (*SeriesMatrices, error) {
	nbr := p.Cf.NRows
	nbus := p.Cf.NCols

	gsw := SwitchingLosses(p.G0sw, p.Alpha1, p.Alpha2, p.Alpha3, p.If)

	yffs := make([]complex128, nbr)
	yfts := make([]complex128, nbr)
	ytfs := make([]complex128, nbr)
	ytts := make([]complex128, nbr)
	ysh := make([]complex128, nbr)
	for i := 0; i < nbr; i++ {
		ys := 1.0 / complex(p.R[i]+consts.EPS, p.X[i])
		ysh[i] = complex(p.G[i], p.B[i]) / 2.0
		tap := complex(p.K[i]*p.TapModule[i], 0) * cmplx.Exp(complex(0, p.TapAngle[i]))

		yffs[i] = complex(gsw[i], 0) + ys/(tap*cmplx.Conj(tap)*complex(p.VtapF[i]*p.VtapF[i], 0))
		yfts[i] = -ys / (cmplx.Conj(tap) * complex(p.VtapF[i]*p.VtapT[i], 0))
		ytfs[i] = -ys / (tap * complex(p.VtapT[i]*p.VtapF[i], 0))
		ytts[i] = ys / complex(p.VtapT[i]*p.VtapT[i], 0)
	}

	cf := p.Cf.ToComplex()
	ct := p.Ct.ToComplex()

	a, err := sparse.DiagsCx(yffs).Multiply(cf)
	if err != nil {
		return nil, fmt.Errorf("series split: %v", err)
	}
	b, err := sparse.DiagsCx(yfts).Multiply(ct)
	if err != nil {
		return nil, fmt.Errorf("series split: %v", err)
	}
	yfs, err := sparse.AddCx(a, b, 1, 1)
	if err != nil {
		return nil, fmt.Errorf("series split: %v", err)
	}
	a, err = sparse.DiagsCx(ytfs).Multiply(cf)
	if err != nil {
		return nil, fmt.Errorf("series split: %v", err)
	}
	b, err = sparse.DiagsCx(ytts).Multiply(ct)
	if err != nil {
		return nil, fmt.Errorf("series split: %v", err)
	}
	yts, err := sparse.AddCx(a, b, 1, 1)
	if err != nil {
		return nil, fmt.Errorf("series split: %v", err)
	}
	fside, err := cf.Transpose().Multiply(yfs)
	if err != nil {
		return nil, fmt.Errorf("series split: %v", err)
	}
	tside, err := ct.Transpose().Multiply(yts)
	if err != nil {
		return nil, fmt.Errorf("series split: %v", err)
	}
	yseries, err := sparse.AddCx(fside, tside, 1, 1)
	if err != nil {
		return nil, fmt.Errorf("series split: %v", err)
	}

	// per-bus shunt: scatter each branch's half-shunt onto both ends
	yshunt := make([]complex128, nbus)
	copy(yshunt, p.YshuntBus)
	cft := p.Cf.Transpose()
	for j := 0; j < cft.NCols; j++ {
		for q := cft.Indptr[j]; q < cft.Indptr[j+1]; q++ {
			yshunt[cft.Indices[q]] += ysh[j] * complex(cft.Data[q], 0)
		}
	}
	ctt := p.Ct.Transpose()
	for j := 0; j < ctt.NCols; j++ {
		for q := ctt.Indptr[j]; q < ctt.Indptr[j+1]; q++ {
			yshunt[ctt.Indices[q]] += ysh[j] * complex(ctt.Data[q], 0)
		}
	}

	return &SeriesMatrices{Yseries: yseries, Yshunt: yshunt}, nil
}

// FastDecoupledMatrices carries B' and B'' for the fast decoupled method.
type FastDecoupledMatrices struct {
	B1 *sparse.CSC
	B2 *sparse.CSC
}

// ComputeFastDecoupled builds the fast decoupled susceptance matrices from
// the small-angle, flat-voltage simplification of the branch primitives.
func ComputeFastDecoupled(x, b, tapModule, vtapF, vtapT []float64,
	cf, ct *sparse.CSC) (*FastDecoupledMatrices, error) {

	nbr := cf.NRows
	b1 := make([]float64, nbr)
	for i := 0; i < nbr; i++ {
		b1[i] = 1.0 / (x[i] + consts.EPS)
	}

	d1 := sparse.Diags(b1)
	b1f, err := d1.Multiply(cf)
	if err != nil {
		return nil, fmt.Errorf("fast decoupled B1: %v", err)
	}
	b1ct, err := d1.Multiply(ct)
	if err != nil {
		return nil, fmt.Errorf("fast decoupled B1: %v", err)
	}
	b1fm, err := sparse.Add(b1f, b1ct, 1, -1)
	if err != nil {
		return nil, fmt.Errorf("fast decoupled B1: %v", err)
	}
	fpart, err := cf.Transpose().Multiply(b1fm)
	if err != nil {
		return nil, fmt.Errorf("fast decoupled B1: %v", err)
	}
	tpart, err := ct.Transpose().Multiply(b1fm)
	if err != nil {
		return nil, fmt.Errorf("fast decoupled B1: %v", err)
	}
	bp, err := sparse.Add(fpart, tpart, 1, -1)
	if err != nil {
		return nil, fmt.Errorf("fast decoupled B1: %v", err)
	}

	b2ff := make([]float64, nbr)
	b2ft := make([]float64, nbr)
	b2tf := make([]float64, nbr)
	b2tt := make([]float64, nbr)
	for i := 0; i < nbr; i++ {
		b2 := b1[i] + b[i]
		b2ff[i] = -b2 / (tapModule[i] * tapModule[i]) * vtapF[i] * vtapF[i]
		b2ft[i] = -b1[i] / (tapModule[i] * vtapF[i] * vtapT[i])
		b2tf[i] = -b1[i] / (tapModule[i] * vtapT[i] * vtapF[i])
		b2tt[i] = -b2 / (vtapT[i] * vtapT[i])
	}
	f1, err := sparse.Diags(b2ff).Multiply(cf)
	if err != nil {
		return nil, fmt.Errorf("fast decoupled B2: %v", err)
	}
	f2, err := sparse.Diags(b2ft).Multiply(ct)
	if err != nil {
		return nil, fmt.Errorf("fast decoupled B2: %v", err)
	}
	b2fm, err := sparse.Add(f1, f2, -1, 1)
	if err != nil {
		return nil, fmt.Errorf("fast decoupled B2: %v", err)
	}
	t1, err := sparse.Diags(b2tf).Multiply(cf)
	if err != nil {
		return nil, fmt.Errorf("fast decoupled B2: %v", err)
	}
	t2, err := sparse.Diags(b2tt).Multiply(ct)
	if err != nil {
		return nil, fmt.Errorf("fast decoupled B2: %v", err)
	}
	b2tm, err := sparse.Add(t1, t2, 1, -1)
	if err != nil {
		return nil, fmt.Errorf("fast decoupled B2: %v", err)
	}
	fpart, err = cf.Transpose().Multiply(b2fm)
	if err != nil {
		return nil, fmt.Errorf("fast decoupled B2: %v", err)
	}
	tpart, err = ct.Transpose().Multiply(b2tm)
	if err != nil {
		return nil, fmt.Errorf("fast decoupled B2: %v", err)
	}
	bpp, err := sparse.Add(fpart, tpart, 1, 1)
	if err != nil {
		return nil, fmt.Errorf("fast decoupled B2: %v", err)
	}

	return &FastDecoupledMatrices{B1: bp, B2: bpp}, nil
}

// LinearMatrices carries the susceptance matrices of the linear (DC) power
// flow, plus the phase-shift injections so Pf = Bf*Va + Pfinj holds for
// branches with a fixed tap angle.
type LinearMatrices struct {
	Bbus    *sparse.CSC
	Bf      *sparse.CSC
	Pfinj   []float64 // per branch
	Pbusinj []float64 // per bus
}

// GetBred slices Bbus down to the non-slack set for the reduced linear solve.
func (lm *LinearMatrices) GetBred(noSlack []int) *sparse.CSC {
	return lm.Bbus.SubMatrix(noSlack, noSlack)
}

// GetBslack slices the non-slack rows against the slack columns.
func (lm *LinearMatrices) GetBslack(noSlack, vd []int) *sparse.CSC {
	return lm.Bbus.SubMatrix(noSlack, vd)
}

// ComputeLinear builds the DC power-flow matrices. DC branches use their
// resistance where an AC branch uses reactance.
func ComputeLinear(x, r, tapModule, tapAngle []float64, active []bool,
	isDC []bool, cf, ct *sparse.CSC) (*LinearMatrices, error) {

	nbr := cf.NRows
	b := make([]float64, nbr)
	for i := 0; i < nbr; i++ {
		act := 0.0
		if active[i] {
			act = 1.0
		}
		if isDC[i] {
			b[i] = 1.0 / (r[i]*act*tapModule[i] + consts.EPS)
		} else {
			b[i] = 1.0 / (x[i]*act*tapModule[i] + consts.EPS)
		}
	}

	d := sparse.Diags(b)
	dcf, err := d.Multiply(cf)
	if err != nil {
		return nil, fmt.Errorf("linear admittances: %v", err)
	}
	dct, err := d.Multiply(ct)
	if err != nil {
		return nil, fmt.Errorf("linear admittances: %v", err)
	}
	bf, err := sparse.Add(dcf, dct, 1, -1)
	if err != nil {
		return nil, fmt.Errorf("linear admittances: %v", err)
	}
	fpart, err := cf.Transpose().Multiply(bf)
	if err != nil {
		return nil, fmt.Errorf("linear admittances: %v", err)
	}
	tpart, err := ct.Transpose().Multiply(bf)
	if err != nil {
		return nil, fmt.Errorf("linear admittances: %v", err)
	}
	bbus, err := sparse.Add(fpart, tpart, 1, -1)
	if err != nil {
		return nil, fmt.Errorf("linear admittances: %v", err)
	}

	pfinj := make([]float64, nbr)
	pbusinj := make([]float64, cf.NCols)
	for i := 0; i < nbr; i++ {
		pfinj[i] = -b[i] * tapAngle[i]
	}
	// Pbusinj = (Cf - Ct)' * Pfinj
	cft := cf.Transpose()
	for j := 0; j < cft.NCols; j++ {
		for q := cft.Indptr[j]; q < cft.Indptr[j+1]; q++ {
			pbusinj[cft.Indices[q]] += pfinj[j] * cft.Data[q]
		}
	}
	ctt := ct.Transpose()
	for j := 0; j < ctt.NCols; j++ {
		for q := ctt.Indptr[j]; q < ctt.Indptr[j+1]; q++ {
			pbusinj[ctt.Indices[q]] -= pfinj[j] * ctt.Data[q]
		}
	}

	return &LinearMatrices{Bbus: bbus, Bf: bf, Pfinj: pfinj, Pbusinj: pbusinj}, nil
}
