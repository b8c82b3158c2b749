package sparse

// MakeLookup builds a dense-to-subset position map of length n: lookup[i] is
// the position of i within selected, or -1 when i is not selected. Used to
// restrict derivative blocks to a subset of buses or branches.
func MakeLookup(n int, selected []int) []int {
	lookup := make([]int, n)
	for i := range lookup {
		lookup[i] = -1
	}
	for pos, idx := range selected {
		lookup[idx] = pos
	}
	return lookup
}
