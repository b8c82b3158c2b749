// Package powerflow contains the numerical power-flow drivers operating on a
// compiled circuit: the AC/DC Newton-Raphson with line search over the
// unified branch model, and the linearized (DC) flow.
package powerflow

import (
	"fmt"
	"math"
	"math/cmplx"
	"sort"
	"time"

	"toy-grid/internal/consts"
	"toy-grid/pkg/admittance"
	"toy-grid/pkg/compiler"
	"toy-grid/pkg/derivatives"
	"toy-grid/pkg/jacobian"
	"toy-grid/pkg/linsolve"
	"toy-grid/pkg/simindices"
)

// Options tunes the Newton-Raphson driver.
type Options struct {
	Tolerance    float64
	MaxIter      int
	Mu0          float64 // initial step length
	Acceleration float64 // step shrink factor while backtracking
	ControlQ     bool    // enforce generator reactive limits
}

func DefaultOptions() *Options {
	return &Options{
		Tolerance:    1e-6,
		MaxIter:      20,
		Mu0:          1.0,
		Acceleration: 0.05,
		ControlQ:     false,
	}
}

// Results carries the solved state. TapModule, TapAngle and Beq hold the
// final control variable values for every branch, moved or not.
type Results struct {
	V         []complex128
	Converged bool
	NormF     float64

	Scalc []complex128
	Sf    []complex128
	St    []complex128

	TapModule []float64
	TapAngle  []float64
	Beq       []float64

	Iterations int
	Elapsed    time.Duration
}

// state is one full evaluation of the grid equations at a candidate point.
type state struct {
	adm   *admittance.Matrices
	v     []complex128
	sf    []complex128
	st    []complex128
	scalc []complex128
	fx    []float64
	normF float64
}

// nrProblem holds everything that stays fixed through the Newton iterations
// plus the index sets, which only change when a reactive limit trips.
type nrProblem struct {
	br   *compiler.BranchData
	ix   *simindices.Indices
	ys   []complex128
	zero []float64

	admP *admittance.Params

	// dcFree marks the DC buses whose voltage is not held by a converter.
	// They carry no angle unknown and no reactive balance row; their Vm
	// pairs with the active power balance instead.
	dcFree []bool

	pv, pq, pvpq []int
	vaIdx, qPq   []int
	slicer       *jacobian.SolutionSlicer
}

// evaluate recomputes admittances, flows and the residual vector for the
// given point. gsw is consumed as-is; updating it is the caller's business.
func (pr *nrProblem) evaluate(vm, va, m, tau, beq, gsw []float64, sbus []complex128) (*state, error) {
	p := *pr.admP
	p.TapModule = m
	p.TapAngle = tau
	p.Beq = beq
	p.G0sw = gsw
	p.Alpha1 = pr.zero
	p.Alpha2 = pr.zero
	p.Alpha3 = pr.zero
	p.If = pr.zero

	adm, err := admittance.Compute(&p)
	if err != nil {
		return nil, err
	}

	v := make([]complex128, len(vm))
	for i := range v {
		v[i] = cmplx.Rect(vm[i], va[i])
	}
	sf, st := derivatives.BranchFlows(adm.Yff, adm.Yft, adm.Ytf, adm.Ytt, v, pr.br.F, pr.br.T)
	scalc, err := derivatives.ComputePower(adm.Ybus, v)
	if err != nil {
		return nil, err
	}

	fx := pr.mismatch(vm, sbus, scalc, sf, st)
	return &state{
		adm:   adm,
		v:     v,
		sf:    sf,
		st:    st,
		scalc: scalc,
		fx:    fx,
		normF: maxAbs(fx),
	}, nil
}

// mismatch stacks the residual blocks in the same order as the Jacobian
// rows: bus P, bus Q (converter-held buses included), Qf, Qt, Pf, Pf droop.
func (pr *nrProblem) mismatch(vm []float64, sbus, scalc, sf, st []complex128) []float64 {
	ix := pr.ix
	br := pr.br

	fx := make([]float64, 0, pr.slicer.Size())
	for _, i := range pr.pvpq {
		fx = append(fx, real(scalc[i]-sbus[i]))
	}
	for _, i := range pr.qPq {
		fx = append(fx, imag(scalc[i]-sbus[i]))
	}
	for _, i := range ix.IVfBeq {
		fx = append(fx, imag(scalc[i]-sbus[i]))
	}
	for _, i := range ix.IVtM {
		fx = append(fx, imag(scalc[i]-sbus[i]))
	}
	for _, k := range ix.KQfM {
		fx = append(fx, imag(sf[k]))
	}
	for _, k := range ix.KZeroBeq {
		fx = append(fx, imag(sf[k]))
	}
	for _, k := range ix.KQtM {
		fx = append(fx, imag(st[k])-br.Qtset[k])
	}
	for _, k := range ix.KPfTau {
		fx = append(fx, real(sf[k])-br.Pfset[k])
	}
	for _, k := range ix.KPfDp {
		fx = append(fx, -real(sf[k])+br.Pfset[k]+br.Kdp[k]*(vm[br.F[k]]-br.Vfset[k]))
	}
	return fx
}

// switchingLosses refreshes the converter loss conductances from the to-side
// current, referred to the from bus (IEC 62751-2 quadratic fit).
func (pr *nrProblem) switchingLosses(st *state, gsw []float64) error {
	if len(pr.ix.IVsc) == 0 {
		return nil
	}
	it, err := st.adm.Yt.MatVec(st.v)
	if err != nil {
		return err
	}
	br := pr.br
	for _, k := range pr.ix.IVsc {
		iv := cmplx.Abs(it[k])
		vmf := cmplx.Abs(st.v[br.F[k]])
		if vmf > consts.VEPS {
			ploss := br.Alpha1[k] + br.Alpha2[k]*iv + br.Alpha3[k]*iv*iv
			gsw[k] = br.G0sw[k] + ploss/(vmf*vmf)
		}
	}
	return nil
}

// rebuildSets recomposes pvpq, the reduced angle/reactive sets and the
// solution slicer after the pv/pq sets changed.
func (pr *nrProblem) rebuildSets(pv, pq []int) {
	pr.pv = pv
	pr.pq = pq
	pr.pvpq = append(append([]int{}, pv...), pq...)

	pr.vaIdx = make([]int, 0, len(pr.pvpq))
	for _, i := range pr.pvpq {
		if !pr.dcFree[i] {
			pr.vaIdx = append(pr.vaIdx, i)
		}
	}
	pr.qPq = make([]int, 0, len(pr.pq))
	for _, i := range pr.pq {
		if !pr.dcFree[i] {
			pr.qPq = append(pr.qPq, i)
		}
	}

	ix := pr.ix
	pr.slicer = jacobian.NewSolutionSlicer(pr.vaIdx, pr.pq,
		ix.KZeroBeq, ix.KVfBeq, ix.KQfM, ix.KQtM, ix.KVtM, ix.KPfTau, ix.KPfDp)
}

func (pr *nrProblem) jacobian(st *state, m, tau, beq []float64) *jacobian.Params {
	br := pr.br
	tap := make([]complex128, br.NBr)
	for k := range tap {
		tap[k] = cmplx.Rect(m[k], tau[k])
	}
	ix := pr.ix
	return &jacobian.Params{
		Ybus:      st.adm.Ybus,
		V:         st.v,
		F:         br.F,
		T:         br.T,
		Ys:        pr.ys,
		Yff:       st.adm.Yff,
		Yft:       st.adm.Yft,
		Ytf:       st.adm.Ytf,
		Ytt:       st.adm.Ytt,
		Bc:        br.B,
		Beq:       beq,
		Kconv:     br.K,
		Tap:       tap,
		TapModule: m,
		Kdp:       br.Kdp,
		Pvpq:      pr.pvpq,
		Pq:        pr.qPq,
		VaCols:    pr.vaIdx,
		VmCols:    pr.pq,
		IVfBeq:    ix.IVfBeq,
		IVtM:      ix.IVtM,
		KPfTau:    ix.KPfTau,
		KPfDp:     ix.KPfDp,
		KQfM:      ix.KQfM,
		KQtM:      ix.KQtM,
		KVtM:      ix.KVtM,
		KZeroBeq:  ix.KZeroBeq,
		KVfBeq:    ix.KVfBeq,
	}
}

// NewtonRaphsonACDC solves the compiled circuit with the full AC/DC
// formulation. The voltage-source converter and transformer control
// variables (tap module, tap angle, Beq) are solved together with the bus
// voltages; a backtracking line search damps the steps that would worsen
// the residual.
func NewtonRaphsonACDC(nc *compiler.NumericalCircuit, opt *Options) (*Results, error) {
	start := time.Now()
	if opt == nil {
		opt = DefaultOptions()
	}

	ix, err := nc.ControlIndices()
	if err != nil {
		return nil, fmt.Errorf("powerflow: %v", err)
	}
	conn, err := nc.Connectivity()
	if err != nil {
		return nil, fmt.Errorf("powerflow: %v", err)
	}
	v0, err := nc.Vbus()
	if err != nil {
		return nil, fmt.Errorf("powerflow: %v", err)
	}
	bt := nc.BusTypes()
	if len(bt.VD) == 0 {
		return nil, fmt.Errorf("powerflow: no slack bus")
	}

	br := nc.Branch
	sbus := nc.Sbus()
	qmin := nc.QminBus()
	qmax := nc.QmaxBus()

	vm := make([]float64, len(v0))
	va := make([]float64, len(v0))
	for i, x := range v0 {
		vm[i] = cmplx.Abs(x)
		va[i] = cmplx.Phase(x)
	}
	m := append([]float64{}, br.TapModule...)
	tau := append([]float64{}, br.TapAngle...)
	beq := append([]float64{}, br.Beq...)
	gsw := append([]float64{}, br.G0sw...)

	ys := make([]complex128, br.NBr)
	for k := 0; k < br.NBr; k++ {
		ys[k] = 1.0 / complex(br.R[k]+consts.EPS, br.X[k])
	}

	pr := &nrProblem{
		br:   br,
		ix:   ix,
		ys:   ys,
		zero: make([]float64, br.NBr),
		admP: &admittance.Params{
			R: br.R, X: br.X, G: br.G, B: br.B, K: br.K,
			VtapF: br.VtapF, VtapT: br.VtapT,
			Cf: conn.Cf, Ct: conn.Ct,
			YshuntBus: nc.YshuntBus(),
		},
	}

	// a free DC bus has no angle and no reactive balance. When a converter
	// holds the DC-side voltage with its Beq the reactive row stays: it is
	// the Vf control equation, paired with the Beq column.
	heldVf := make(map[int]bool, len(ix.IVfBeq))
	for _, i := range ix.IVfBeq {
		heldVf[i] = true
	}
	pr.dcFree = make([]bool, nc.Bus.NBus)
	for i, isDC := range nc.Bus.IsDC {
		pr.dcFree[i] = isDC && !heldVf[i]
	}

	// buses whose voltage is held by a converter leave the PQ set,
	// otherwise their Vm would be both an unknown and a control target
	pv, pq := promoteControlledBuses(bt.PV, bt.PQ, ix.IVfBeq, ix.IVtM)
	pr.rebuildSets(pv, pq)

	st, err := pr.evaluate(vm, va, m, tau, beq, gsw, sbus)
	if err != nil {
		return nil, fmt.Errorf("powerflow: %v", err)
	}
	if err := pr.switchingLosses(st, gsw); err != nil {
		return nil, fmt.Errorf("powerflow: %v", err)
	}

	normF := st.normF
	converged := normF < opt.Tolerance
	iterations := 0

	for !converged && iterations < opt.MaxIter {
		j, err := jacobian.Build(pr.jacobian(st, m, tau, beq))
		if err != nil {
			return nil, fmt.Errorf("powerflow: %v", err)
		}
		// the slicer subtracts the step, so the system to solve is J dx = fx
		dx, err := linsolve.SolveSystem(j, st.fx)
		if err != nil {
			return nil, fmt.Errorf("powerflow: iteration %d: %v", iterations, err)
		}
		if hasNaN(dx) {
			return pr.results(st, m, tau, beq, false, normF, opt.MaxIter, start), nil
		}

		// keep the pre-step state around for backtracking
		prevVm := append([]float64{}, vm...)
		prevVa := append([]float64{}, va...)
		prevM := append([]float64{}, m...)
		prevTau := append([]float64{}, tau...)
		prevBeq := append([]float64{}, beq...)

		mu := opt.Mu0
		lIter := 0
		var trial *state
		for lIter < opt.MaxIter && mu > opt.Tolerance {
			if lIter > 0 {
				copy(vm, prevVm)
				copy(va, prevVa)
				copy(m, prevM)
				copy(tau, prevTau)
				copy(beq, prevBeq)
			}
			pr.slicer.Assign(dx, va, vm, beq, m, tau, mu)

			trial, err = pr.evaluate(vm, va, m, tau, beq, gsw, sbus)
			if err != nil {
				return nil, fmt.Errorf("powerflow: %v", err)
			}
			if err := pr.switchingLosses(trial, gsw); err != nil {
				return nil, fmt.Errorf("powerflow: %v", err)
			}
			if trial.normF <= normF {
				break
			}
			mu *= opt.Acceleration
			lIter++
		}

		if lIter > 0 && trial.normF > normF {
			// even the shortest step made things worse, restore and stop
			copy(vm, prevVm)
			copy(va, prevVa)
			copy(m, prevM)
			copy(tau, prevTau)
			copy(beq, prevBeq)
			return pr.results(st, m, tau, beq, converged, normF, iterations, start), nil
		}
		st = trial

		if st.normF < 1e-2 {
			clipTaps(m, tau, br, ix.IVsc)

			if opt.ControlQ && len(pr.pv) > 0 {
				if pvN, pqN, changed := enforceReactiveLimits(st.scalc, sbus, pr.pv, pr.pq, qmin, qmax); changed {
					pr.rebuildSets(pvN, pqN)
					st.fx = pr.mismatch(vm, sbus, st.scalc, st.sf, st.st)
					st.normF = maxAbs(st.fx)
				}
			}
		}

		normF = st.normF
		iterations++
		converged = normF <= opt.Tolerance
	}

	return pr.results(st, m, tau, beq, converged, normF, iterations, start), nil
}

func (pr *nrProblem) results(st *state, m, tau, beq []float64, converged bool, normF float64, iterations int, start time.Time) *Results {
	return &Results{
		V:          st.v,
		Converged:  converged,
		NormF:      normF,
		Scalc:      st.scalc,
		Sf:         st.sf,
		St:         st.st,
		TapModule:  m,
		TapAngle:   tau,
		Beq:        beq,
		Iterations: iterations,
		Elapsed:    time.Since(start),
	}
}

// promoteControlledBuses moves the converter voltage-controlled buses from
// the PQ set to the PV set and returns both sets sorted.
func promoteControlledBuses(pv, pq, iVfBeq, iVtM []int) (pvOut, pqOut []int) {
	held := make(map[int]bool, len(iVfBeq)+len(iVtM))
	for _, i := range iVfBeq {
		held[i] = true
	}
	for _, i := range iVtM {
		held[i] = true
	}

	seen := make(map[int]bool, len(pv))
	for _, i := range pv {
		if !seen[i] {
			seen[i] = true
			pvOut = append(pvOut, i)
		}
	}
	for _, i := range pq {
		if held[i] {
			if !seen[i] {
				seen[i] = true
				pvOut = append(pvOut, i)
			}
		} else {
			pqOut = append(pqOut, i)
		}
	}
	sort.Ints(pvOut)
	sort.Ints(pqOut)
	return pvOut, pqOut
}

// clipTaps pulls the converter control variables back inside their bounds.
// Only worth doing near the solution, far away the values are meaningless.
func clipTaps(m, tau []float64, br *compiler.BranchData, iVsc []int) {
	for _, k := range iVsc {
		if m[k] < br.TapMmin[k] {
			m[k] = br.TapMmin[k]
		} else if m[k] > br.TapMmax[k] {
			m[k] = br.TapMmax[k]
		}
		if tau[k] < br.TapAmin[k] {
			tau[k] = br.TapAmin[k]
		} else if tau[k] > br.TapAmax[k] {
			tau[k] = br.TapAmax[k]
		}
	}
}

// enforceReactiveLimits converts the PV buses whose computed reactive power
// violates the aggregated device capability into PQ buses, clamping the
// specified injection at the limit. PQ buses are never sent back to PV, that
// oscillates.
func enforceReactiveLimits(scalc, sbus []complex128, pv, pq []int, qmin, qmax []float64) (pvOut, pqOut []int, changed bool) {
	pqOut = append([]int{}, pq...)
	for _, i := range pv {
		q := imag(scalc[i])
		switch {
		case q > qmax[i]:
			sbus[i] = complex(real(sbus[i]), qmax[i])
			pqOut = append(pqOut, i)
			changed = true
		case q < qmin[i]:
			sbus[i] = complex(real(sbus[i]), qmin[i])
			pqOut = append(pqOut, i)
			changed = true
		default:
			pvOut = append(pvOut, i)
		}
	}
	if !changed {
		return pv, pq, false
	}
	sort.Ints(pqOut)
	return pvOut, pqOut, true
}

func maxAbs(x []float64) float64 {
	m := 0.0
	for _, v := range x {
		if a := math.Abs(v); a > m {
			m = a
		}
	}
	return m
}

func hasNaN(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
