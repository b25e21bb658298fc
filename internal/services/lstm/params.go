package lstm

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Parameters live in one flat vector so the optimizer, gradient buffers and
// persistence all share a single layout. Views slice into it.

type lstmView struct {
	in, hid int
	W       []float64 // 4H x in, gate order i f g o
	U       []float64 // 4H x H
	b       []float64 // 4H
}

type denseView struct {
	in, out int
	W       []float64 // out x in
	b       []float64 // out
}

type netView struct {
	lstm   []lstmView
	hidden denseView
	output denseView
}

func paramCount(c Config) int {
	n := 0
	in := c.Features
	for l := 0; l < c.Layers; l++ {
		n += 4*c.Units*in + 4*c.Units*c.Units + 4*c.Units
		in = c.Units
	}
	n += c.DenseUnits*c.Units + c.DenseUnits
	n += c.DenseUnits + 1
	return n
}

func bind(c Config, flat []float64) netView {
	off := 0
	take := func(n int) []float64 {
		s := flat[off : off+n : off+n]
		off += n
		return s
	}

	v := netView{lstm: make([]lstmView, c.Layers)}
	in := c.Features
	h := c.Units
	for l := range v.lstm {
		v.lstm[l] = lstmView{
			in:  in,
			hid: h,
			W:   take(4 * h * in),
			U:   take(4 * h * h),
			b:   take(4 * h),
		}
		in = h
	}
	v.hidden = denseView{in: h, out: c.DenseUnits, W: take(c.DenseUnits * h), b: take(c.DenseUnits)}
	v.output = denseView{in: c.DenseUnits, out: 1, W: take(c.DenseUnits), b: take(1)}
	return v
}

// initParams applies Glorot-uniform input kernels, orthogonal recurrent
// kernels, zero biases and a forget-gate bias of one.
func initParams(c Config, flat []float64, rng *rand.Rand) {
	v := bind(c, flat)
	for _, l := range v.lstm {
		glorot(l.W, l.in, 4*l.hid, rng)
		orthogonal(l.U, 4*l.hid, l.hid, rng)
		for j := range l.b {
			l.b[j] = 0
		}
		for j := l.hid; j < 2*l.hid; j++ {
			l.b[j] = 1
		}
	}
	for _, d := range []denseView{v.hidden, v.output} {
		glorot(d.W, d.in, d.out, rng)
		for j := range d.b {
			d.b[j] = 0
		}
	}
}

func glorot(w []float64, fanIn, fanOut int, rng *rand.Rand) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range w {
		w[i] = (rng.Float64()*2 - 1) * limit
	}
}

// orthogonal fills a rows x cols matrix (rows >= cols) with orthonormal
// columns taken from the QR decomposition of a Gaussian matrix.
func orthogonal(w []float64, rows, cols int, rng *rand.Rand) {
	a := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			a.Set(i, j, rng.NormFloat64())
		}
	}
	var qr mat.QR
	qr.Factorize(a)
	var q, r mat.Dense
	qr.QTo(&q)
	qr.RTo(&r)

	for j := 0; j < cols; j++ {
		sign := 1.0
		if r.At(j, j) < 0 {
			sign = -1
		}
		for i := 0; i < rows; i++ {
			w[i*cols+j] = q.At(i, j) * sign
		}
	}
}
