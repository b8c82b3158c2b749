package derivatives

import (
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/require"

	"toy-grid/pkg/sparse"
)

// testBranch carries the unified branch model parameters of one branch.
type testBranch struct {
	f, t             int
	r, x, bc, beq    float64
	gsw, m, tau, kcv float64
}

// primitives evaluates the branch primitive admittances with unit virtual
// taps.
func (b testBranch) primitives() (yff, yft, ytf, ytt complex128) {
	ys := 1.0 / complex(b.r, b.x)
	bc2 := complex(0, b.bc/2)
	mp := b.kcv * b.m
	yff = complex(b.gsw, 0) + (ys+bc2+complex(0, b.beq))/complex(mp*mp, 0)
	yft = -ys / (complex(mp, 0) * cmplx.Exp(complex(0, -b.tau)))
	ytf = -ys / (complex(mp, 0) * cmplx.Exp(complex(0, b.tau)))
	ytt = ys + bc2
	return yff, yft, ytf, ytt
}

func testSystem() (nbus int, branches []testBranch, v []complex128) {
	nbus = 4
	branches = []testBranch{
		{f: 0, t: 1, r: 0.01, x: 0.10, bc: 0.02, m: 1.0, tau: 0, kcv: 1},
		{f: 1, t: 2, r: 0.02, x: 0.25, bc: 0.04, m: 1.05, tau: 0.08, kcv: 1},
		{f: 2, t: 3, r: 0.005, x: 0.05, bc: 0, beq: 0.06, gsw: 1e-3, m: 0.98, tau: -0.05, kcv: 0.8660254037844386},
	}
	v = []complex128{
		cmplx.Rect(1.02, 0),
		cmplx.Rect(0.99, -0.03),
		cmplx.Rect(1.01, -0.07),
		cmplx.Rect(0.97, -0.12),
	}
	return nbus, branches, v
}

func buildYbus(t *testing.T, nbus int, branches []testBranch) *sparse.CxCSC {
	t.Helper()
	var ti, tj []int
	var tx []complex128
	for _, br := range branches {
		yff, yft, ytf, ytt := br.primitives()
		ti = append(ti, br.f, br.f, br.t, br.t)
		tj = append(tj, br.f, br.t, br.f, br.t)
		tx = append(tx, yff, yft, ytf, ytt)
	}
	ybus, err := sparse.FromTripletsCx(nbus, nbus, ti, tj, tx)
	require.NoError(t, err)
	return ybus
}

func primitiveArrays(branches []testBranch) (f, t []int, yff, yft, ytf, ytt []complex128) {
	for _, br := range branches {
		a, b, c, d := br.primitives()
		f = append(f, br.f)
		t = append(t, br.t)
		yff = append(yff, a)
		yft = append(yft, b)
		ytf = append(ytf, c)
		ytt = append(ytt, d)
	}
	return f, t, yff, yft, ytf, ytt
}

func perturbVa(v []complex128, i int, h float64) []complex128 {
	out := make([]complex128, len(v))
	copy(out, v)
	out[i] = cmplx.Rect(cmplx.Abs(v[i]), cmplx.Phase(v[i])+h)
	return out
}

func perturbVm(v []complex128, i int, h float64) []complex128 {
	out := make([]complex128, len(v))
	copy(out, v)
	out[i] = cmplx.Rect(cmplx.Abs(v[i])+h, cmplx.Phase(v[i]))
	return out
}

func requireCxClose(t *testing.T, want, got complex128, tol float64) {
	t.Helper()
	require.InDelta(t, real(want), real(got), tol)
	require.InDelta(t, imag(want), imag(got), tol)
}

func TestDSbusDVFiniteDifference(t *testing.T) {
	nbus, branches, v := testSystem()
	ybus := buildYbus(t, nbus, branches)

	dva, dvm, err := DSbusDV(ybus, v)
	require.NoError(t, err)

	s0, err := ComputePower(ybus, v)
	require.NoError(t, err)
	require.Len(t, s0, nbus)

	const h = 1e-7
	for j := 0; j < nbus; j++ {
		sp, err := ComputePower(ybus, perturbVa(v, j, h))
		require.NoError(t, err)
		sm, err := ComputePower(ybus, perturbVa(v, j, -h))
		require.NoError(t, err)
		for i := 0; i < nbus; i++ {
			fd := (sp[i] - sm[i]) / complex(2*h, 0)
			requireCxClose(t, fd, dva.At(i, j), 1e-5)
		}

		sp, err = ComputePower(ybus, perturbVm(v, j, h))
		require.NoError(t, err)
		sm, err = ComputePower(ybus, perturbVm(v, j, -h))
		require.NoError(t, err)
		for i := 0; i < nbus; i++ {
			fd := (sp[i] - sm[i]) / complex(2*h, 0)
			requireCxClose(t, fd, dvm.At(i, j), 1e-5)
		}
	}
}

func TestDSbusDVSharesPattern(t *testing.T) {
	nbus, branches, v := testSystem()
	ybus := buildYbus(t, nbus, branches)

	dva, dvm, err := DSbusDV(ybus, v)
	require.NoError(t, err)
	require.Equal(t, ybus.NNZ(), dva.NNZ())
	require.Equal(t, ybus.Indptr, dvm.Indptr)
	require.Equal(t, ybus.Indices, dva.Indices)
}

func TestDSbusDVShapeMismatch(t *testing.T) {
	nbus, branches, _ := testSystem()
	ybus := buildYbus(t, nbus, branches)
	_, _, err := DSbusDV(ybus, make([]complex128, nbus+1))
	require.Error(t, err)
}

func TestBranchFlowDerivativesFiniteDifference(t *testing.T) {
	nbus, branches, v := testSystem()
	f, tt, yff, yft, ytf, ytt := primitiveArrays(branches)
	nbr := len(branches)

	allBr := []int{0, 1, 2}
	allBus := []int{0, 1, 2, 3}

	dSfVm, err := DSfDVmCSC(nbus, allBr, allBus, yff, yft, v, f, tt)
	require.NoError(t, err)
	dSfVa, err := DSfDVaCSC(nbus, allBr, allBus, yft, v, f, tt)
	require.NoError(t, err)
	dStVm, err := DStDVmCSC(nbus, allBr, allBus, ytt, ytf, v, f, tt)
	require.NoError(t, err)
	dStVa, err := DStDVaCSC(nbus, allBr, allBus, ytf, v, f, tt)
	require.NoError(t, err)

	const h = 1e-7
	for j := 0; j < nbus; j++ {
		sfP, stP := BranchFlows(yff, yft, ytf, ytt, perturbVm(v, j, h), f, tt)
		sfM, stM := BranchFlows(yff, yft, ytf, ytt, perturbVm(v, j, -h), f, tt)
		for k := 0; k < nbr; k++ {
			requireCxClose(t, (sfP[k]-sfM[k])/complex(2*h, 0), dSfVm.At(k, j), 1e-5)
			requireCxClose(t, (stP[k]-stM[k])/complex(2*h, 0), dStVm.At(k, j), 1e-5)
		}

		sfP, stP = BranchFlows(yff, yft, ytf, ytt, perturbVa(v, j, h), f, tt)
		sfM, stM = BranchFlows(yff, yft, ytf, ytt, perturbVa(v, j, -h), f, tt)
		for k := 0; k < nbr; k++ {
			requireCxClose(t, (sfP[k]-sfM[k])/complex(2*h, 0), dSfVa.At(k, j), 1e-5)
			requireCxClose(t, (stP[k]-stM[k])/complex(2*h, 0), dStVa.At(k, j), 1e-5)
		}
	}
}

func TestBranchDerivativeSubsets(t *testing.T) {
	nbus, branches, v := testSystem()
	f, tt, yff, yft, _, _ := primitiveArrays(branches)

	// only branch 1 and buses {1, 2} requested
	d, err := DSfDVmCSC(nbus, []int{1}, []int{1, 2}, yff, yft, v, f, tt)
	require.NoError(t, err)
	require.Equal(t, 1, d.NRows)
	require.Equal(t, 2, d.NCols)
	require.Equal(t, 2, d.NNZ())

	full, err := DSfDVmCSC(nbus, []int{0, 1, 2}, []int{0, 1, 2, 3}, yff, yft, v, f, tt)
	require.NoError(t, err)
	requireCxClose(t, full.At(1, 1), d.At(0, 0), 1e-12)
	requireCxClose(t, full.At(1, 2), d.At(0, 1), 1e-12)
}

func TestDPfdpDVmFiniteDifference(t *testing.T) {
	nbus, branches, v := testSystem()
	f, tt, yff, yft, ytf, ytt := primitiveArrays(branches)
	nbr := len(branches)
	kdp := []float64{0, -0.05, -0.1}

	allBr := []int{0, 1, 2}
	allBus := []int{0, 1, 2, 3}
	d, err := DPfdpDVmCSC(nbus, allBr, allBus, yff, yft, kdp, v, f, tt)
	require.NoError(t, err)

	// residual g_k = -Pf_k + kdp_k*Vm[f_k]
	residual := func(vv []complex128) []float64 {
		sf, _ := BranchFlows(yff, yft, ytf, ytt, vv, f, tt)
		g := make([]float64, nbr)
		for k := 0; k < nbr; k++ {
			g[k] = -real(sf[k]) + kdp[k]*cmplx.Abs(vv[f[k]])
		}
		return g
	}

	const h = 1e-7
	for j := 0; j < nbus; j++ {
		gp := residual(perturbVm(v, j, h))
		gm := residual(perturbVm(v, j, -h))
		for k := 0; k < nbr; k++ {
			require.InDelta(t, (gp[k]-gm[k])/(2*h), d.At(k, j), 1e-5)
		}
	}
}

// perturbed rebuilds primitive arrays after nudging one control variable of
// branch k.
func perturbed(branches []testBranch, k int, field string, h float64) []testBranch {
	out := make([]testBranch, len(branches))
	copy(out, branches)
	switch field {
	case "tau":
		out[k].tau += h
	case "m":
		out[k].m += h
	case "beq":
		out[k].beq += h
	}
	return out
}

func controlFD(t *testing.T, nbus int, branches []testBranch, v []complex128,
	k int, field string) (dSbus []complex128, dSf, dSt complex128) {
	t.Helper()
	const h = 1e-7

	evalAll := func(br []testBranch) ([]complex128, []complex128, []complex128) {
		yb := buildYbus(t, nbus, br)
		s, err := ComputePower(yb, v)
		require.NoError(t, err)
		f, tt, yff, yft, ytf, ytt := primitiveArrays(br)
		sf, st := BranchFlows(yff, yft, ytf, ytt, v, f, tt)
		return s, sf, st
	}

	sP, sfP, stP := evalAll(perturbed(branches, k, field, h))
	sM, sfM, stM := evalAll(perturbed(branches, k, field, -h))

	dSbus = make([]complex128, nbus)
	for i := 0; i < nbus; i++ {
		dSbus[i] = (sP[i] - sM[i]) / complex(2*h, 0)
	}
	dSf = (sfP[k] - sfM[k]) / complex(2*h, 0)
	dSt = (stP[k] - stM[k]) / complex(2*h, 0)
	return dSbus, dSf, dSt
}

func controlArrays(branches []testBranch) (f, t []int, ys []complex128, bc, beq, kcv []float64,
	tap []complex128, tm []float64) {
	for _, br := range branches {
		f = append(f, br.f)
		t = append(t, br.t)
		ys = append(ys, 1.0/complex(br.r, br.x))
		bc = append(bc, br.bc)
		beq = append(beq, br.beq)
		kcv = append(kcv, br.kcv)
		tap = append(tap, cmplx.Rect(br.m, br.tau))
		tm = append(tm, br.m)
	}
	return f, t, ys, bc, beq, kcv, tap, tm
}

func TestTauDerivativesFiniteDifference(t *testing.T) {
	nbus, branches, v := testSystem()
	f, tt, ys, _, _, kcv, tap, _ := controlArrays(branches)
	allBus := []int{0, 1, 2, 3}
	tauIdx := []int{1, 2}

	dBus, err := DSbusDTauCSC(nbus, allBus, tauIdx, f, tt, ys, kcv, tap, v)
	require.NoError(t, err)
	dSf, err := DSfDTauCSC(len(branches), tauIdx, tauIdx, f, tt, ys, kcv, tap, v)
	require.NoError(t, err)
	dSt, err := DStDTauCSC(len(branches), tauIdx, tauIdx, f, tt, ys, kcv, tap, v)
	require.NoError(t, err)

	for col, k := range tauIdx {
		fdBus, fdSf, fdSt := controlFD(t, nbus, branches, v, k, "tau")
		for i := 0; i < nbus; i++ {
			requireCxClose(t, fdBus[i], dBus.At(i, col), 1e-5)
		}
		requireCxClose(t, fdSf, dSf.At(col, col), 1e-5)
		requireCxClose(t, fdSt, dSt.At(col, col), 1e-5)
	}
}

func TestTapModuleDerivativesFiniteDifference(t *testing.T) {
	nbus, branches, v := testSystem()
	f, tt, ys, bc, beq, kcv, tap, tm := controlArrays(branches)
	allBus := []int{0, 1, 2, 3}
	mIdx := []int{1, 2}

	dBus, err := DSbusDmCSC(nbus, allBus, mIdx, f, tt, ys, bc, beq, kcv, tap, tm, v)
	require.NoError(t, err)
	dSf, err := DSfDmCSC(len(branches), mIdx, mIdx, f, tt, ys, bc, beq, kcv, tap, tm, v)
	require.NoError(t, err)
	dSt, err := DStDmCSC(len(branches), mIdx, mIdx, f, tt, ys, kcv, tap, tm, v)
	require.NoError(t, err)

	for col, k := range mIdx {
		fdBus, fdSf, fdSt := controlFD(t, nbus, branches, v, k, "m")
		for i := 0; i < nbus; i++ {
			requireCxClose(t, fdBus[i], dBus.At(i, col), 1e-4)
		}
		requireCxClose(t, fdSf, dSf.At(col, col), 1e-4)
		requireCxClose(t, fdSt, dSt.At(col, col), 1e-4)
	}
}

func TestBeqDerivativesFiniteDifference(t *testing.T) {
	nbus, branches, v := testSystem()
	f, _, _, _, _, kcv, _, tm := controlArrays(branches)
	allBus := []int{0, 1, 2, 3}
	beqIdx := []int{2} // the converter branch

	dBus, err := DSbusDBeqCSC(nbus, allBus, beqIdx, f, kcv, tm, v)
	require.NoError(t, err)
	dSf, err := DSfDBeqCSC(len(branches), beqIdx, beqIdx, f, kcv, tm, v)
	require.NoError(t, err)
	dSt := DStDBeqCSC(beqIdx, beqIdx)
	require.Equal(t, 0, dSt.NNZ())

	for col, k := range beqIdx {
		fdBus, fdSf, fdSt := controlFD(t, nbus, branches, v, k, "beq")
		for i := 0; i < nbus; i++ {
			requireCxClose(t, fdBus[i], dBus.At(i, col), 1e-5)
		}
		requireCxClose(t, fdSf, dSf.At(col, col), 1e-5)
		requireCxClose(t, fdSt, 0, 1e-5)
	}
}

func TestVscLossDerivativesFiniteDifference(t *testing.T) {
	pf := []float64{-0.8, 0.4}
	pt := []float64{0.79, -0.42}
	qt := []float64{0.12, -0.05}
	vm := []float64{1.01, 0.98, 1.0}
	tb := []int{1, 2}
	a1 := []float64{0.0001, 0.0001}
	a2 := []float64{0.015, 0.02}
	a3 := []float64{0.2, 0.25}
	nvsc := 2

	base := VscLoss(pf, pt, qt, vm, tb, a1, a2, a3)
	require.Len(t, base, nvsc)

	const h = 1e-7
	fd := func(arr []float64, k int, eval func() []float64) float64 {
		old := arr[k]
		arr[k] = old + h
		lp := eval()
		arr[k] = old - h
		lm := eval()
		arr[k] = old
		return (lp[k] - lm[k]) / (2 * h)
	}
	eval := func() []float64 { return VscLoss(pf, pt, qt, vm, tb, a1, a2, a3) }

	dPf, err := DVscLossDPf(nvsc, []int{0, 1})
	require.NoError(t, err)
	dPt, err := DVscLossDPt(nvsc, []int{0, 1}, pt, qt, vm, tb, a2, a3)
	require.NoError(t, err)
	dQt, err := DVscLossDQt(nvsc, []int{0, 1}, pt, qt, vm, tb, a2, a3)
	require.NoError(t, err)

	for k := 0; k < nvsc; k++ {
		require.InDelta(t, fd(pf, k, eval), dPf.At(k, k), 1e-5)
		require.InDelta(t, fd(pt, k, eval), dPt.At(k, k), 1e-5)
		require.InDelta(t, fd(qt, k, eval), dQt.At(k, k), 1e-5)
	}

	vmIdx := []int{1, 2}
	dVm, err := DVscLossDVm(nvsc, len(vm), vmIdx, pt, qt, vm, tb, a2, a3)
	require.NoError(t, err)
	for k := 0; k < nvsc; k++ {
		bus := tb[k]
		old := vm[bus]
		vm[bus] = old + h
		lp := eval()
		vm[bus] = old - h
		lm := eval()
		vm[bus] = old
		col := bus - 1 // vmIdx maps buses 1,2 to columns 0,1
		require.InDelta(t, (lp[k]-lm[k])/(2*h), dVm.At(k, col), 1e-5)
	}
}

func TestHvdcDerivativesFiniteDifference(t *testing.T) {
	pf := []float64{0.5, -0.3}
	pt := []float64{-0.49, 0.31}
	vm := []float64{1.0, 1.02, 0.99}
	va := []float64{0, -0.02, -0.05}
	fb := []int{0, 1}
	tb := []int{2, 2}
	r := []float64{0.01, 0.02}
	pset := []float64{0.5, -0.3}
	kdroop := []float64{0, 0.1}
	nhvdc := 2

	const h = 1e-7

	dVm, err := DHvdcLossDVm(nhvdc, len(vm), []int{0, 1, 2}, pf, vm, fb, r)
	require.NoError(t, err)
	dPf, err := DHvdcLossDPf(nhvdc, pf, vm, fb, r)
	require.NoError(t, err)
	dPt, err := DHvdcLossDPt(nhvdc)
	require.NoError(t, err)

	for k := 0; k < nhvdc; k++ {
		bus := fb[k]
		old := vm[bus]
		vm[bus] = old + h
		lp := HvdcLoss(pf, pt, vm, fb, r)
		vm[bus] = old - h
		lm := HvdcLoss(pf, pt, vm, fb, r)
		vm[bus] = old
		require.InDelta(t, (lp[k]-lm[k])/(2*h), dVm.At(k, bus), 1e-5)

		old = pf[k]
		pf[k] = old + h
		lp = HvdcLoss(pf, pt, vm, fb, r)
		pf[k] = old - h
		lm = HvdcLoss(pf, pt, vm, fb, r)
		pf[k] = old
		require.InDelta(t, (lp[k]-lm[k])/(2*h), dPf.At(k, k), 1e-5)

		require.InDelta(t, -1.0, dPt.At(k, k), 1e-12)
	}

	inj := HvdcInjection(pf, pset, kdroop, va, fb, tb)
	require.InDelta(t, 0, inj[0], 1e-12) // no droop, on set point
	require.InDelta(t, pf[1]-pset[1]-kdroop[1]*(va[1]-va[2]), inj[1], 1e-12)

	dInjPf, err := DHvdcInjDPf(nhvdc)
	require.NoError(t, err)
	require.InDelta(t, 1.0, dInjPf.At(0, 0), 1e-12)

	dInjVa, err := DHvdcInjDVa(nhvdc, len(va), []int{1, 2}, kdroop, fb, tb)
	require.NoError(t, err)
	require.InDelta(t, -kdroop[1], dInjVa.At(1, 0), 1e-12)
	require.InDelta(t, kdroop[1], dInjVa.At(1, 1), 1e-12)
}

func TestCurrentLimitDerivatives(t *testing.T) {
	p := []float64{0.6}
	q := []float64{0.2}
	vm := []float64{1.01}
	imax := []float64{0.5}

	res := CurrentLimitResidual(p, q, vm, imax)
	i2 := (p[0]*p[0] + q[0]*q[0]) / (vm[0] * vm[0])
	require.InDelta(t, i2-imax[0]*imax[0], res[0], 1e-12)
	require.Greater(t, res[0], 0.0) // over the limit

	const h = 1e-7
	fd := func(arr []float64) float64 {
		old := arr[0]
		arr[0] = old + h
		rp := CurrentLimitResidual(p, q, vm, imax)[0]
		arr[0] = old - h
		rm := CurrentLimitResidual(p, q, vm, imax)[0]
		arr[0] = old
		return (rp - rm) / (2 * h)
	}
	require.InDelta(t, fd(vm), DCurrentLimitDVm(p, q, vm)[0], 1e-5)
	require.InDelta(t, fd(p), DCurrentLimitDP(p, vm)[0], 1e-5)
	require.InDelta(t, fd(q), DCurrentLimitDQ(q, vm)[0], 1e-5)
}

func TestPowerBalanceIdentity(t *testing.T) {
	// Cf' Sf + Ct' St must equal Sbus when there is no bus shunt.
	nbus, branches, v := testSystem()
	ybus := buildYbus(t, nbus, branches)
	f, tt, yff, yft, ytf, ytt := primitiveArrays(branches)

	sbus, err := ComputePower(ybus, v)
	require.NoError(t, err)
	sf, st := BranchFlows(yff, yft, ytf, ytt, v, f, tt)

	acc := make([]complex128, nbus)
	for k := range branches {
		acc[f[k]] += sf[k]
		acc[tt[k]] += st[k]
	}
	for i := 0; i < nbus; i++ {
		requireCxClose(t, sbus[i], acc[i], 1e-10)
	}
}

func TestComputePowerDimensionMismatch(t *testing.T) {
	nbus, branches, _ := testSystem()
	ybus := buildYbus(t, nbus, branches)
	_, err := ComputePower(ybus, make([]complex128, nbus-1))
	require.Error(t, err)
}
