// Package jacobian assembles the AC/DC Newton-Raphson system matrix of the
// unified branch model. The rows follow the residual vector ordering
// [P; Q; Qf; Qt; Pf; Pfdp] and the columns the unknown ordering
// [Va; Vm; Beq; m; tau].
package jacobian

import (
	"fmt"

	"toy-grid/pkg/derivatives"
	"toy-grid/pkg/sparse"
)

// Params bundles everything the assembly needs for one Newton iteration.
type Params struct {
	Ybus *sparse.CxCSC
	V    []complex128

	// branch arrays, one value per branch
	F, T      []int
	Ys        []complex128 // series admittance
	Yff, Yft  []complex128 // primitive admittances
	Ytf, Ytt  []complex128
	Bc, Beq   []float64
	Kconv     []float64
	Tap       []complex128
	TapModule []float64
	Kdp       []float64 // droop slopes, only read for the droop rows

	// bus index sets
	Pvpq   []int // P-balance rows: pv followed by pq
	Pq     []int // Q-balance rows
	IVfBeq []int // buses whose Vf is held by a converter Beq
	IVtM   []int // buses whose Vt is held by a tap module

	// unknown columns. Nil means the plain AC layout, VaCols = Pvpq and
	// VmCols = Pq. A DC bus keeps its P row and its Vm unknown but has no
	// angle and no reactive balance, so its driver passes reduced VaCols
	// and Pq with the full VmCols.
	VaCols []int
	VmCols []int

	// branch control sets
	KPfTau   []int
	KPfDp    []int
	KQfM     []int
	KQtM     []int
	KVtM     []int
	KZeroBeq []int
	KVfBeq   []int
}

func concat(sets ...[]int) []int {
	n := 0
	for _, s := range sets {
		n += len(s)
	}
	out := make([]int, 0, n)
	for _, s := range sets {
		out = append(out, s...)
	}
	return out
}

func negate(m *sparse.CSC) *sparse.CSC {
	out := m.Copy()
	for k := range out.Data {
		out.Data[k] = -out.Data[k]
	}
	return out
}

// block addresses one sub-matrix inside the stacked Jacobian.
type block struct {
	rowOff, colOff int
	m              *sparse.CSC
}

func stack(nrows, ncols int, blocks []block) (*sparse.CSC, error) {
	nnz := 0
	for _, b := range blocks {
		if b.m != nil {
			nnz += b.m.NNZ()
		}
	}
	ti := make([]int, 0, nnz)
	tj := make([]int, 0, nnz)
	tx := make([]float64, 0, nnz)
	for _, b := range blocks {
		if b.m == nil {
			continue
		}
		for j := 0; j < b.m.NCols; j++ {
			for k := b.m.Indptr[j]; k < b.m.Indptr[j+1]; k++ {
				ti = append(ti, b.rowOff+b.m.Indices[k])
				tj = append(tj, b.colOff+j)
				tx = append(tx, b.m.Data[k])
			}
		}
	}
	return sparse.FromTriplets(nrows, ncols, ti, tj, tx)
}

// Build assembles the full AC/DC Jacobian. It returns an error when the
// resulting system is not square, which means the control index sets are
// inconsistent with the bus types.
func Build(p *Params) (*sparse.CSC, error) {
	nbus := len(p.V)
	nbr := len(p.F)

	vaCols := p.VaCols
	if vaCols == nil {
		vaCols = p.Pvpq
	}
	vmCols := p.VmCols
	if vmCols == nil {
		vmCols = p.Pq
	}

	rows2 := concat(p.Pq, p.IVfBeq, p.IVtM)
	rows3 := concat(p.KQfM, p.KZeroBeq)
	rows4 := p.KQtM
	rows5 := p.KPfTau
	rows6 := p.KPfDp

	colsBeq := concat(p.KZeroBeq, p.KVfBeq)
	colsM := concat(p.KQfM, p.KQtM, p.KVtM)
	colsTau := concat(p.KPfTau, p.KPfDp)

	nrows := len(p.Pvpq) + len(rows2) + len(rows3) + len(rows4) + len(rows5) + len(rows6)
	ncols := len(vaCols) + len(vmCols) + len(colsBeq) + len(colsM) + len(colsTau)
	if nrows != ncols {
		return nil, fmt.Errorf("jacobian: %d residuals vs %d unknowns, control sets are inconsistent", nrows, ncols)
	}

	// row offsets of the six residual blocks
	r1 := 0
	r2 := r1 + len(p.Pvpq)
	r3 := r2 + len(rows2)
	r4 := r3 + len(rows3)
	r5 := r4 + len(rows4)
	r6 := r5 + len(rows5)

	// column offsets of the five unknown blocks
	c1 := 0
	c2 := c1 + len(vaCols)
	c3 := c2 + len(vmCols)
	c4 := c3 + len(colsBeq)
	c5 := c4 + len(colsM)

	var blocks []block
	add := func(rowOff, colOff int, m *sparse.CSC) {
		blocks = append(blocks, block{rowOff: rowOff, colOff: colOff, m: m})
	}

	// voltage columns
	dSbusVa, dSbusVm, err := derivatives.DSbusDV(p.Ybus, p.V)
	if err != nil {
		return nil, fmt.Errorf("jacobian: %v", err)
	}
	add(r1, c1, dSbusVa.Real().SubMatrix(p.Pvpq, vaCols))
	add(r2, c1, dSbusVa.Imag().SubMatrix(rows2, vaCols))
	add(r1, c2, dSbusVm.Real().SubMatrix(p.Pvpq, vmCols))
	add(r2, c2, dSbusVm.Imag().SubMatrix(rows2, vmCols))

	type brBlock struct {
		rows       []int
		rowOff     int
		useTo      bool // dSt instead of dSf
		takeImag   bool
		negateReal bool // droop rows: -Re, with the Vm block swapped for dPfdp/dVm
	}
	brBlocks := []brBlock{
		{rows: rows3, rowOff: r3, takeImag: true},              // Qf
		{rows: rows4, rowOff: r4, useTo: true, takeImag: true}, // Qt
		{rows: rows5, rowOff: r5},                              // Pf
		{rows: rows6, rowOff: r6, negateReal: true},            // Pfdp
	}
	for _, bb := range brBlocks {
		if len(bb.rows) == 0 {
			continue
		}
		var dVa, dVm *sparse.CxCSC
		if bb.useTo {
			dVa, err = derivatives.DStDVaCSC(nbus, bb.rows, vaCols, p.Ytf, p.V, p.F, p.T)
			if err == nil {
				dVm, err = derivatives.DStDVmCSC(nbus, bb.rows, vmCols, p.Ytt, p.Ytf, p.V, p.F, p.T)
			}
		} else {
			dVa, err = derivatives.DSfDVaCSC(nbus, bb.rows, vaCols, p.Yft, p.V, p.F, p.T)
			if err == nil {
				dVm, err = derivatives.DSfDVmCSC(nbus, bb.rows, vmCols, p.Yff, p.Yft, p.V, p.F, p.T)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("jacobian: %v", err)
		}
		switch {
		case bb.takeImag:
			add(bb.rowOff, c1, dVa.Imag())
			add(bb.rowOff, c2, dVm.Imag())
		case bb.negateReal:
			add(bb.rowOff, c1, negate(dVa.Real()))
			dp, err := derivatives.DPfdpDVmCSC(nbus, bb.rows, vmCols, p.Yff, p.Yft, p.Kdp, p.V, p.F, p.T)
			if err != nil {
				return nil, fmt.Errorf("jacobian: %v", err)
			}
			add(bb.rowOff, c2, dp)
		default:
			add(bb.rowOff, c1, dVa.Real())
			add(bb.rowOff, c2, dVm.Real())
		}
	}

	// Beq columns
	if len(colsBeq) > 0 {
		busBeq1, err := derivatives.DSbusDBeqCSC(nbus, p.Pvpq, colsBeq, p.F, p.Kconv, p.TapModule, p.V)
		if err != nil {
			return nil, fmt.Errorf("jacobian: %v", err)
		}
		busBeq2, err := derivatives.DSbusDBeqCSC(nbus, rows2, colsBeq, p.F, p.Kconv, p.TapModule, p.V)
		if err != nil {
			return nil, fmt.Errorf("jacobian: %v", err)
		}
		add(r1, c3, busBeq1.Real())
		add(r2, c3, busBeq2.Imag())

		if len(rows3) > 0 {
			sf, err := derivatives.DSfDBeqCSC(nbr, rows3, colsBeq, p.F, p.Kconv, p.TapModule, p.V)
			if err != nil {
				return nil, fmt.Errorf("jacobian: %v", err)
			}
			add(r3, c3, sf.Imag())
		}
		// the Qt rows are structurally zero in the Beq columns
		if len(rows5) > 0 {
			sf, err := derivatives.DSfDBeqCSC(nbr, rows5, colsBeq, p.F, p.Kconv, p.TapModule, p.V)
			if err != nil {
				return nil, fmt.Errorf("jacobian: %v", err)
			}
			add(r5, c3, sf.Real())
		}
		if len(rows6) > 0 {
			sf, err := derivatives.DSfDBeqCSC(nbr, rows6, colsBeq, p.F, p.Kconv, p.TapModule, p.V)
			if err != nil {
				return nil, fmt.Errorf("jacobian: %v", err)
			}
			add(r6, c3, negate(sf.Real()))
		}
	}

	// tap module columns
	if len(colsM) > 0 {
		busM1, err := derivatives.DSbusDmCSC(nbus, p.Pvpq, colsM, p.F, p.T, p.Ys, p.Bc, p.Beq, p.Kconv, p.Tap, p.TapModule, p.V)
		if err != nil {
			return nil, fmt.Errorf("jacobian: %v", err)
		}
		busM2, err := derivatives.DSbusDmCSC(nbus, rows2, colsM, p.F, p.T, p.Ys, p.Bc, p.Beq, p.Kconv, p.Tap, p.TapModule, p.V)
		if err != nil {
			return nil, fmt.Errorf("jacobian: %v", err)
		}
		add(r1, c4, busM1.Real())
		add(r2, c4, busM2.Imag())

		if len(rows3) > 0 {
			sf, err := derivatives.DSfDmCSC(nbr, rows3, colsM, p.F, p.T, p.Ys, p.Bc, p.Beq, p.Kconv, p.Tap, p.TapModule, p.V)
			if err != nil {
				return nil, fmt.Errorf("jacobian: %v", err)
			}
			add(r3, c4, sf.Imag())
		}
		if len(rows4) > 0 {
			st, err := derivatives.DStDmCSC(nbr, rows4, colsM, p.F, p.T, p.Ys, p.Kconv, p.Tap, p.TapModule, p.V)
			if err != nil {
				return nil, fmt.Errorf("jacobian: %v", err)
			}
			add(r4, c4, st.Imag())
		}
		if len(rows5) > 0 {
			sf, err := derivatives.DSfDmCSC(nbr, rows5, colsM, p.F, p.T, p.Ys, p.Bc, p.Beq, p.Kconv, p.Tap, p.TapModule, p.V)
			if err != nil {
				return nil, fmt.Errorf("jacobian: %v", err)
			}
			add(r5, c4, sf.Real())
		}
		if len(rows6) > 0 {
			sf, err := derivatives.DSfDmCSC(nbr, rows6, colsM, p.F, p.T, p.Ys, p.Bc, p.Beq, p.Kconv, p.Tap, p.TapModule, p.V)
			if err != nil {
				return nil, fmt.Errorf("jacobian: %v", err)
			}
			add(r6, c4, negate(sf.Real()))
		}
	}

	// tap angle columns
	if len(colsTau) > 0 {
		busTau1, err := derivatives.DSbusDTauCSC(nbus, p.Pvpq, colsTau, p.F, p.T, p.Ys, p.Kconv, p.Tap, p.V)
		if err != nil {
			return nil, fmt.Errorf("jacobian: %v", err)
		}
		busTau2, err := derivatives.DSbusDTauCSC(nbus, rows2, colsTau, p.F, p.T, p.Ys, p.Kconv, p.Tap, p.V)
		if err != nil {
			return nil, fmt.Errorf("jacobian: %v", err)
		}
		add(r1, c5, busTau1.Real())
		add(r2, c5, busTau2.Imag())

		if len(rows3) > 0 {
			sf, err := derivatives.DSfDTauCSC(nbr, rows3, colsTau, p.F, p.T, p.Ys, p.Kconv, p.Tap, p.V)
			if err != nil {
				return nil, fmt.Errorf("jacobian: %v", err)
			}
			add(r3, c5, sf.Imag())
		}
		if len(rows4) > 0 {
			st, err := derivatives.DStDTauCSC(nbr, rows4, colsTau, p.F, p.T, p.Ys, p.Kconv, p.Tap, p.V)
			if err != nil {
				return nil, fmt.Errorf("jacobian: %v", err)
			}
			add(r4, c5, st.Imag())
		}
		if len(rows5) > 0 {
			sf, err := derivatives.DSfDTauCSC(nbr, rows5, colsTau, p.F, p.T, p.Ys, p.Kconv, p.Tap, p.V)
			if err != nil {
				return nil, fmt.Errorf("jacobian: %v", err)
			}
			add(r5, c5, sf.Real())
		}
		if len(rows6) > 0 {
			sf, err := derivatives.DSfDTauCSC(nbr, rows6, colsTau, p.F, p.T, p.Ys, p.Kconv, p.Tap, p.V)
			if err != nil {
				return nil, fmt.Errorf("jacobian: %v", err)
			}
			add(r6, c5, negate(sf.Real()))
		}
	}

	return stack(nrows, ncols, blocks)
}
