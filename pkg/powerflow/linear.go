package powerflow

import (
	"fmt"
	"math/cmplx"
	"time"

	"toy-grid/pkg/compiler"
	"toy-grid/pkg/linsolve"
)

// LinearResults is the output of the linearized flow: flat voltage
// magnitudes, solved angles and active branch flows, all per unit.
type LinearResults struct {
	V  []complex128
	Va []float64
	Pf []float64

	Elapsed time.Duration
}

// Linear solves the linearized (DC) power flow
//
//	Bred * Va = P - Pbusinj - Bslack * Va_slack
//
// over the non-slack buses. DC branches participate through their
// resistance, AC branches through their reactance; fixed phase shifts enter
// as the Pbusinj/Pfinj injections.
func Linear(nc *compiler.NumericalCircuit) (*LinearResults, error) {
	start := time.Now()

	lm, err := nc.LinearAdmittances()
	if err != nil {
		return nil, fmt.Errorf("linear powerflow: %v", err)
	}
	v0, err := nc.Vbus()
	if err != nil {
		return nil, fmt.Errorf("linear powerflow: %v", err)
	}
	bt := nc.BusTypes()
	if len(bt.VD) == 0 {
		return nil, fmt.Errorf("linear powerflow: no slack bus")
	}
	pbus := nc.Pbus()

	va := make([]float64, len(v0))
	vm := make([]float64, len(v0))
	for i, x := range v0 {
		va[i] = cmplx.Phase(x)
		vm[i] = cmplx.Abs(x)
	}

	if len(bt.NoSlack) > 0 {
		bred := lm.GetBred(bt.NoSlack)
		bslack := lm.GetBslack(bt.NoSlack, bt.VD)

		vaSlack := make([]float64, len(bt.VD))
		for i, b := range bt.VD {
			vaSlack[i] = va[b]
		}
		shift, err := bslack.MatVec(vaSlack)
		if err != nil {
			return nil, fmt.Errorf("linear powerflow: %v", err)
		}

		rhs := make([]float64, len(bt.NoSlack))
		for i, b := range bt.NoSlack {
			rhs[i] = pbus[b] - lm.Pbusinj[b] - shift[i]
		}
		x, err := linsolve.SolveSystem(bred, rhs)
		if err != nil {
			return nil, fmt.Errorf("linear powerflow: %v", err)
		}
		for i, b := range bt.NoSlack {
			va[b] = x[i]
		}
	}

	pf, err := lm.Bf.MatVec(va)
	if err != nil {
		return nil, fmt.Errorf("linear powerflow: %v", err)
	}
	for k := range pf {
		pf[k] += lm.Pfinj[k]
	}

	v := make([]complex128, len(va))
	for i := range v {
		v[i] = cmplx.Rect(vm[i], va[i])
	}
	return &LinearResults{V: v, Va: va, Pf: pf, Elapsed: time.Since(start)}, nil
}
