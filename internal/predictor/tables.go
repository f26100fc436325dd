package predictor

import "math"

// squashFloat and stretchFloat reproduce the reference's exact
// floating-point formulas from §4.3.1: squash truncates toward zero,
// stretch rounds (adding 0.5, with a +100000 offset so negative values
// round the same way); the checksum test in tables_test.go guards
// against any future refactor drifting from the bit-exact table.
func squashFloat(x int) int {
	v := 32768.0 / (1 + math.Exp(float64(x)*(-1.0/64)))
	return int(v)
}

func stretchFloat(i int) int {
	v := math.Log((float64(i)+0.5)/(32767.5-float64(i)))*64 + 0.5 + 100000
	return int(v) - 100000
}
