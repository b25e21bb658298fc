package lstm

import "math"

// adam is the bias-corrected Adam optimizer over a flat parameter vector.
type adam struct {
	lr, beta1, beta2, eps float64
	m, v                  []float64
	t                     int
}

func newAdam(c Config, n int) *adam {
	return &adam{
		lr:    c.LearningRate,
		beta1: c.Beta1,
		beta2: c.Beta2,
		eps:   c.Epsilon,
		m:     make([]float64, n),
		v:     make([]float64, n),
	}
}

func (a *adam) step(params, grad []float64) {
	a.t++
	b1t := 1 - math.Pow(a.beta1, float64(a.t))
	b2t := 1 - math.Pow(a.beta2, float64(a.t))
	lrT := a.lr * math.Sqrt(b2t) / b1t
	for i, g := range grad {
		a.m[i] = a.beta1*a.m[i] + (1-a.beta1)*g
		a.v[i] = a.beta2*a.v[i] + (1-a.beta2)*g*g
		params[i] -= lrT * a.m[i] / (math.Sqrt(a.v[i]) + a.eps)
	}
}
