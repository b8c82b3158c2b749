// Package admittance assembles the bus and branch admittance matrices from
// the branch primitive parameters of the unified branch model, plus the
// series/shunt split, fast-decoupled and linearized variants used by the
// different power-flow formulations.
package admittance

import (
	"fmt"
	"math/cmplx"

	"toy-grid/internal/consts"
	"toy-grid/pkg/sparse"
)

// Params carries the per-branch primitive parameters (all per unit) and the
// incidence matrices the assembler works from. K holds the winding-ratio
// constant per branch (1, or sqrt(3)/2 for converters).
type Params struct {
	R         []float64
	X         []float64
	G         []float64
	B         []float64
	K         []float64
	TapModule []float64
	TapAngle  []float64
	VtapF     []float64
	VtapT     []float64
	Beq       []float64
	G0sw      []float64
	Alpha1    []float64
	Alpha2    []float64
	Alpha3    []float64
	If        []float64 // from-side current magnitude, for the switching losses

	Cf *sparse.CSC // nbr x nbus, branch states applied
	Ct *sparse.CSC

	YshuntBus []complex128 // per-bus shunt from the shunt devices
}

// Matrices is the assembled admittance set. The per-branch primitives are
// retained so the derivative engine and tap updates can reuse them.
type Matrices struct {
	Ybus *sparse.CxCSC
	Yf   *sparse.CxCSC
	Yt   *sparse.CxCSC

	Cf *sparse.CSC
	Ct *sparse.CSC

	Yff []complex128
	Yft []complex128
	Ytf []complex128
	Ytt []complex128

	YshuntBus []complex128
	Gsw       []float64
}

// SwitchingLosses evaluates the converter conduction/switching loss
// conductance G0sw + a3*If^2 + a2*If + a1 per branch (IEC 62751-2 fit).
func SwitchingLosses(g0sw, alpha1, alpha2, alpha3, ifm []float64) []float64 {
	gsw := make([]float64, len(g0sw))
	for i := range gsw {
		gsw[i] = g0sw[i] + alpha3[i]*ifm[i]*ifm[i] + alpha2[i]*ifm[i] + alpha1[i]
	}
	return gsw
}

// Compute builds the primitive admittances
//
//	Yff = Gsw + (Ys + j(G+jB)/2 + jBeq) / (k^2 m^2 vtapF^2)
//	Yft = -Ys / (k m e^{-jtau} vtapF vtapT)
//	Ytf = -Ys / (k m e^{+jtau} vtapF vtapT)
//	Ytt = (Ys + j(G+jB)/2) / vtapT^2
//
// with Ys = 1/(R + jX + eps), and assembles Yf, Yt and Ybus from them.
func Compute(p *Params) (*Matrices, error) {
	nbr := p.Cf.NRows
	nbus := p.Cf.NCols
	if len(p.R) != nbr || len(p.TapModule) != nbr || len(p.Beq) != nbr {
		return nil, fmt.Errorf("admittance: branch arrays do not match %d branches", nbr)
	}
	if len(p.YshuntBus) != nbus {
		return nil, fmt.Errorf("admittance: %d shunt entries for %d buses", len(p.YshuntBus), nbus)
	}

	gsw := SwitchingLosses(p.G0sw, p.Alpha1, p.Alpha2, p.Alpha3, p.If)

	yff := make([]complex128, nbr)
	yft := make([]complex128, nbr)
	ytf := make([]complex128, nbr)
	ytt := make([]complex128, nbr)
	for i := 0; i < nbr; i++ {
		ys := 1.0 / complex(p.R[i]+consts.EPS, p.X[i])
		bc2 := complex(p.G[i], p.B[i]) / 2.0
		mp := p.K[i] * p.TapModule[i]
		tapPhase := cmplx.Exp(complex(0, p.TapAngle[i]))

		yff[i] = complex(gsw[i], 0) +
			(ys+bc2+complex(0, p.Beq[i]))/complex(mp*mp*p.VtapF[i]*p.VtapF[i], 0)
		yft[i] = -ys / (complex(mp*p.VtapF[i]*p.VtapT[i], 0) * cmplx.Conj(tapPhase))
		ytf[i] = -ys / (complex(mp*p.VtapF[i]*p.VtapT[i], 0) * tapPhase)
		ytt[i] = (ys + bc2) / complex(p.VtapT[i]*p.VtapT[i], 0)
	}

	m := &Matrices{
		Cf:        p.Cf,
		Ct:        p.Ct,
		Yff:       yff,
		Yft:       yft,
		Ytf:       ytf,
		Ytt:       ytt,
		YshuntBus: p.YshuntBus,
		Gsw:       gsw,
	}
	if err := m.assemble(); err != nil {
		return nil, err
	}
	return m, nil
}

// assemble composes Yf = diag(Yff)Cf + diag(Yft)Ct, Yt likewise, and
// Ybus = Cf'Yf + Ct'Yt + diag(Yshunt).
func (m *Matrices) assemble() error {
	cf := m.Cf.ToComplex()
	ct := m.Ct.ToComplex()

	a, err := sparse.DiagsCx(m.Yff).Multiply(cf)
	if err != nil {
		return fmt.Errorf("assembling Yf: %v", err)
	}
	b, err := sparse.DiagsCx(m.Yft).Multiply(ct)
	if err != nil {
		return fmt.Errorf("assembling Yf: %v", err)
	}
	m.Yf, err = sparse.AddCx(a, b, 1, 1)
	if err != nil {
		return fmt.Errorf("assembling Yf: %v", err)
	}

	a, err = sparse.DiagsCx(m.Ytf).Multiply(cf)
	if err != nil {
		return fmt.Errorf("assembling Yt: %v", err)
	}
	b, err = sparse.DiagsCx(m.Ytt).Multiply(ct)
	if err != nil {
		return fmt.Errorf("assembling Yt: %v", err)
	}
	m.Yt, err = sparse.AddCx(a, b, 1, 1)
	if err != nil {
		return fmt.Errorf("assembling Yt: %v", err)
	}

	fside, err := cf.Transpose().Multiply(m.Yf)
	if err != nil {
		return fmt.Errorf("assembling Ybus: %v", err)
	}
	tside, err := ct.Transpose().Multiply(m.Yt)
	if err != nil {
		return fmt.Errorf("assembling Ybus: %v", err)
	}
	ybus, err := sparse.AddCx(fside, tside, 1, 1)
	if err != nil {
		return fmt.Errorf("assembling Ybus: %v", err)
	}
	m.Ybus, err = sparse.AddCx(ybus, sparse.DiagsCx(m.YshuntBus), 1, 1)
	if err != nil {
		return fmt.Errorf("assembling Ybus: %v", err)
	}
	return nil
}

// ModifyTaps rescales the retained primitives from the previous tap state
// (m, tau) to the new one (m2, tau2) for the branches in idx, and
// re-assembles the matrices. idx positions index the m/tau slices.
func (a *Matrices) ModifyTaps(m, m2, tau, tau2 []float64, idx []int) error {
	if len(m) != len(idx) || len(m2) != len(idx) || len(tau) != len(idx) || len(tau2) != len(idx) {
		return fmt.Errorf("modify taps: tap arrays do not match %d indices", len(idx))
	}
	for pos, k := range idx {
		scale := complex(m[pos]*m[pos]/(m2[pos]*m2[pos]), 0)
		a.Yff[k] = (a.Yff[k]-complex(a.Gsw[k], 0))*scale + complex(a.Gsw[k], 0)
		a.Yft[k] = a.Yft[k] * complex(m[pos], 0) * cmplx.Exp(complex(0, -tau[pos])) /
			(complex(m2[pos], 0) * cmplx.Exp(complex(0, -tau2[pos])))
		a.Ytf[k] = a.Ytf[k] * complex(m[pos], 0) * cmplx.Exp(complex(0, tau[pos])) /
			(complex(m2[pos], 0) * cmplx.Exp(complex(0, tau2[pos])))
	}
	return a.assemble()
}
