package bandit

import (
	"math"
	"math/rand"
)

// sampleBeta draws one Beta(alpha, beta) sample via two independent Gamma
// draws (X/(X+Y)), since no distribution-sampling library appears anywhere
// in the corpus; this is a deliberate standard-library choice, documented
// in DESIGN.md.
func sampleBeta(r *rand.Rand, alpha, beta float64) float64 {
	x := sampleGamma(r, alpha)
	y := sampleGamma(r, beta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// sampleGamma draws one Gamma(shape, 1) sample using the Marsaglia-Tsang
// method, boosting shapes below 1 via the standard u^(1/shape) trick.
func sampleGamma(r *rand.Rand, shape float64) float64 {
	if shape <= 0 {
		return 0
	}
	if shape < 1 {
		u := r.Float64()
		return sampleGamma(r, shape+1) * math.Pow(u, 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		var x, v float64
		for {
			x = r.NormFloat64()
			v = 1 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := r.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}
