package jacobian

// SolutionSlicer splits the Newton step vector back into its physical
// unknowns. The slice boundaries mirror the column ordering used by Build.
type SolutionSlicer struct {
	VaIdx  []int
	VmIdx  []int
	BeqIdx []int
	MIdx   []int
	TauIdx []int

	a0, a1, a2, a3, a4, a5 int
}

// NewSolutionSlicer records the slicing limits in the same order as the
// Jacobian columns.
func NewSolutionSlicer(pvpq, pq, kZeroBeq, kVfBeq, kQfM, kQtM, kVtM, kPfTau, kPfDp []int) *SolutionSlicer {
	s := &SolutionSlicer{
		VaIdx:  pvpq,
		VmIdx:  pq,
		BeqIdx: concat(kZeroBeq, kVfBeq),
		MIdx:   concat(kQfM, kQtM, kVtM),
		TauIdx: concat(kPfTau, kPfDp),
	}
	s.a0 = 0
	s.a1 = s.a0 + len(s.VaIdx)
	s.a2 = s.a1 + len(s.VmIdx)
	s.a3 = s.a2 + len(s.BeqIdx)
	s.a4 = s.a3 + len(s.MIdx)
	s.a5 = s.a4 + len(s.TauIdx)
	return s
}

// Size is the expected length of the step vector.
func (s *SolutionSlicer) Size() int { return s.a5 }

// Split views the step vector as its five unknown segments.
func (s *SolutionSlicer) Split(dx []float64) (dVa, dVm, dBeq, dM, dTau []float64) {
	return dx[s.a0:s.a1], dx[s.a1:s.a2], dx[s.a2:s.a3], dx[s.a3:s.a4], dx[s.a4:s.a5]
}

// Assign applies the damped Newton step to the unknown vectors in place.
func (s *SolutionSlicer) Assign(dx []float64, va, vm, beq, m, tau []float64, mu float64) {
	dVa, dVm, dBeq, dM, dTau := s.Split(dx)
	for i, b := range s.VaIdx {
		va[b] -= dVa[i] * mu
	}
	for i, b := range s.VmIdx {
		vm[b] -= dVm[i] * mu
	}
	for i, k := range s.BeqIdx {
		beq[k] -= dBeq[i] * mu
	}
	for i, k := range s.MIdx {
		m[k] -= dM[i] * mu
	}
	for i, k := range s.TauIdx {
		tau[k] -= dTau[i] * mu
	}
}
