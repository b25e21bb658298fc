package lstm

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// layerCache holds one layer's activations for a single sequence.
// hs and cs are offset by one so hs[0] and cs[0] are the zero initial state.
type layerCache struct {
	xs         [][]float64
	hs, cs     [][]float64
	i, f, g, o [][]float64
	tc         [][]float64
	mask       [][]float64
	dH, dX     [][]float64
	z          []float64
}

// workspace is the per-goroutine scratch space for forward and backward
// passes over one sample at a time.
type workspace struct {
	cfg    Config
	layers []*layerCache
	last   []float64
	a      []float64
	dA     []float64
	dLast  []float64
	dhNext []float64
	dcNext []float64
	grad   []float64
	gview  netView
}

func matrix(rows, cols int) [][]float64 {
	backing := make([]float64, rows*cols)
	out := make([][]float64, rows)
	for r := range out {
		out[r] = backing[r*cols : (r+1)*cols : (r+1)*cols]
	}
	return out
}

func newWorkspace(c Config, withGrad bool) *workspace {
	T, H := c.Window, c.Units
	ws := &workspace{
		cfg:    c,
		layers: make([]*layerCache, c.Layers),
		last:   make([]float64, H),
		a:      make([]float64, c.DenseUnits),
		dA:     make([]float64, c.DenseUnits),
		dLast:  make([]float64, H),
		dhNext: make([]float64, H),
		dcNext: make([]float64, H),
	}
	in := c.Features
	for l := range ws.layers {
		lc := &layerCache{
			xs:   matrix(T, in),
			hs:   matrix(T+1, H),
			cs:   matrix(T+1, H),
			i:    matrix(T, H),
			f:    matrix(T, H),
			g:    matrix(T, H),
			o:    matrix(T, H),
			tc:   matrix(T, H),
			mask: matrix(T, H),
			dH:   matrix(T, H),
			dX:   matrix(T, in),
			z:    make([]float64, 4*H),
		}
		ws.layers[l] = lc
		in = H
	}
	if withGrad {
		ws.grad = make([]float64, paramCount(c))
		ws.gview = bind(c, ws.grad)
	}
	return ws
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// sampleMasks draws inverted-dropout masks. Every layer but the last drops
// per timestep; the last only emits its final state, so only row T-1 is used.
func (ws *workspace) sampleMasks(rng *rand.Rand) {
	p := ws.cfg.Dropout
	keep := 1 / (1 - p)
	T := ws.cfg.Window
	for l, lc := range ws.layers {
		first := 0
		if l == len(ws.layers)-1 {
			first = T - 1
		}
		for t := first; t < T; t++ {
			row := lc.mask[t]
			for j := range row {
				if p > 0 && rng.Float64() < p {
					row[j] = 0
				} else {
					row[j] = keep
				}
			}
		}
	}
}

func (ws *workspace) clearMasks() {
	for _, lc := range ws.layers {
		for _, row := range lc.mask {
			for j := range row {
				row[j] = 1
			}
		}
	}
}

func (l lstmView) forward(lc *layerCache, T int) {
	H, in := l.hid, l.in
	z := lc.z
	for t := 0; t < T; t++ {
		x, hPrev, cPrev := lc.xs[t], lc.hs[t], lc.cs[t]
		for r := 0; r < 4*H; r++ {
			z[r] = l.b[r] + floats.Dot(l.W[r*in:(r+1)*in], x) + floats.Dot(l.U[r*H:(r+1)*H], hPrev)
		}
		hOut, cOut := lc.hs[t+1], lc.cs[t+1]
		ig, fg, gg, og, tc := lc.i[t], lc.f[t], lc.g[t], lc.o[t], lc.tc[t]
		for j := 0; j < H; j++ {
			ig[j] = sigmoid(z[j])
			fg[j] = sigmoid(z[H+j])
			gg[j] = math.Tanh(z[2*H+j])
			og[j] = sigmoid(z[3*H+j])
			cOut[j] = fg[j]*cPrev[j] + ig[j]*gg[j]
			tc[j] = math.Tanh(cOut[j])
			hOut[j] = og[j] * tc[j]
		}
	}
}

// backward runs BPTT given dL/dh_t in lc.dH, accumulating parameter
// gradients into g. When dX is non-nil it receives dL/dx_t.
func (l lstmView) backward(lc *layerCache, g lstmView, dX [][]float64, dhNext, dcNext []float64, T int) {
	H, in := l.hid, l.in
	dz := lc.z
	for j := range dhNext {
		dhNext[j] = 0
		dcNext[j] = 0
	}
	for t := T - 1; t >= 0; t-- {
		ig, fg, gg, og, tc := lc.i[t], lc.f[t], lc.g[t], lc.o[t], lc.tc[t]
		cPrev := lc.cs[t]
		dHt := lc.dH[t]
		for j := 0; j < H; j++ {
			dh := dHt[j] + dhNext[j]
			do := dh * tc[j]
			dc := dh*og[j]*(1-tc[j]*tc[j]) + dcNext[j]

			dz[j] = dc * gg[j] * ig[j] * (1 - ig[j])
			dz[H+j] = dc * cPrev[j] * fg[j] * (1 - fg[j])
			dz[2*H+j] = dc * ig[j] * (1 - gg[j]*gg[j])
			dz[3*H+j] = do * og[j] * (1 - og[j])
			dcNext[j] = dc * fg[j]
		}

		x, hPrev := lc.xs[t], lc.hs[t]
		for j := range dhNext {
			dhNext[j] = 0
		}
		var dx []float64
		if dX != nil {
			dx = dX[t]
			for k := range dx {
				dx[k] = 0
			}
		}
		for r := 0; r < 4*H; r++ {
			d := dz[r]
			if d == 0 {
				continue
			}
			floats.AddScaled(g.W[r*in:(r+1)*in], d, x)
			floats.AddScaled(g.U[r*H:(r+1)*H], d, hPrev)
			g.b[r] += d
			floats.AddScaled(dhNext, d, l.U[r*H:(r+1)*H])
			if dx != nil {
				floats.AddScaled(dx, d, l.W[r*in:(r+1)*in])
			}
		}
	}
}

// forward evaluates the network on one window. Masks must already be set
// (sampled for training, cleared for inference).
func (ws *workspace) forward(v netView, window []float64) float64 {
	T := ws.cfg.Window
	F := ws.cfg.Features
	first := ws.layers[0]
	for t := 0; t < T; t++ {
		copy(first.xs[t], window[t*F:(t+1)*F])
	}

	last := len(ws.layers) - 1
	for l, lc := range ws.layers {
		v.lstm[l].forward(lc, T)
		if l < last {
			next := ws.layers[l+1]
			for t := 0; t < T; t++ {
				h, m, dst := lc.hs[t+1], lc.mask[t], next.xs[t]
				for j := range dst {
					dst[j] = h[j] * m[j]
				}
			}
			continue
		}
		h, m := lc.hs[T], lc.mask[T-1]
		for j := range ws.last {
			ws.last[j] = h[j] * m[j]
		}
	}

	hd := v.hidden
	for k := 0; k < hd.out; k++ {
		ws.a[k] = hd.b[k] + floats.Dot(hd.W[k*hd.in:(k+1)*hd.in], ws.last)
	}
	return v.output.b[0] + floats.Dot(v.output.W, ws.a)
}

// backward propagates dL/dy for the sample most recently passed to forward.
func (ws *workspace) backward(v netView, dy float64) {
	T := ws.cfg.Window
	g := ws.gview

	floats.AddScaled(g.output.W, dy, ws.a)
	g.output.b[0] += dy
	for k := range ws.dA {
		ws.dA[k] = dy * v.output.W[k]
	}

	hd := v.hidden
	for j := range ws.dLast {
		ws.dLast[j] = 0
	}
	for k := 0; k < hd.out; k++ {
		floats.AddScaled(g.hidden.W[k*hd.in:(k+1)*hd.in], ws.dA[k], ws.last)
		g.hidden.b[k] += ws.dA[k]
		floats.AddScaled(ws.dLast, ws.dA[k], hd.W[k*hd.in:(k+1)*hd.in])
	}

	top := ws.layers[len(ws.layers)-1]
	for t := range top.dH {
		for j := range top.dH[t] {
			top.dH[t][j] = 0
		}
	}
	for j, d := range ws.dLast {
		top.dH[T-1][j] = d * top.mask[T-1][j]
	}

	for l := len(ws.layers) - 1; l >= 0; l-- {
		lc := ws.layers[l]
		var dX [][]float64
		if l > 0 {
			dX = lc.dX
		}
		v.lstm[l].backward(lc, g.lstm[l], dX, ws.dhNext, ws.dcNext, T)
		if l == 0 {
			break
		}
		below := ws.layers[l-1]
		for t := 0; t < T; t++ {
			src, m, dst := dX[t], below.mask[t], below.dH[t]
			for j := range dst {
				dst[j] = src[j] * m[j]
			}
		}
	}
}

func (ws *workspace) zeroGrad() {
	for i := range ws.grad {
		ws.grad[i] = 0
	}
}
