package consts

const (
	EPS       = 1e-20               // guard against division by exact-zero impedance
	VEPS      = 1e-9                // guard for voltage magnitudes in loss formulas
	SQRT3OVR2 = 0.8660254037844386 // sqrt(3)/2, converter winding-ratio constant
)

// WindingK is the winding-ratio constant of a branch: sqrt(3)/2 for converter
// branches, 1 for everything else.
func WindingK(isConverter bool) float64 {
	if isConverter {
		return SQRT3OVR2
	}
	return 1.0
}
