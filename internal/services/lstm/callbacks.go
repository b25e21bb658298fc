package lstm

import "math"

// EarlyStopping halts training once the monitored loss has failed to
// improve for Patience consecutive epochs.
type EarlyStopping struct {
	Patience    int
	MinDelta    float64
	RestoreBest bool

	best      float64
	bestEpoch int
	wait      int
	seen      bool
}

func NewEarlyStopping(patience int) *EarlyStopping {
	return &EarlyStopping{Patience: patience, RestoreBest: true}
}

// Observe records the loss for epoch and reports whether it is a new best
// and whether training should stop.
func (e *EarlyStopping) Observe(epoch int, loss float64) (improved, stop bool) {
	if !e.seen || loss < e.best-e.MinDelta {
		e.best = loss
		e.bestEpoch = epoch
		e.wait = 0
		e.seen = true
		return true, false
	}
	e.wait++
	return false, e.Patience > 0 && e.wait >= e.Patience
}

func (e *EarlyStopping) Best() (epoch int, loss float64) {
	if !e.seen {
		return -1, math.Inf(1)
	}
	return e.bestEpoch, e.best
}

// ReduceLROnPlateau multiplies the learning rate by Factor once the
// monitored loss has plateaued for Patience epochs, never going below MinLR.
type ReduceLROnPlateau struct {
	Factor   float64
	Patience int
	MinLR    float64
	MinDelta float64

	best float64
	wait int
	seen bool
}

func NewReduceLROnPlateau(factor float64, patience int, minLR float64) *ReduceLROnPlateau {
	return &ReduceLROnPlateau{Factor: factor, Patience: patience, MinLR: minLR, MinDelta: 1e-4}
}

// Observe returns the learning rate to use for the next epoch.
func (r *ReduceLROnPlateau) Observe(loss, lr float64) float64 {
	if !r.seen || loss < r.best-r.MinDelta {
		r.best = loss
		r.wait = 0
		r.seen = true
		return lr
	}
	r.wait++
	if r.Patience <= 0 || r.wait < r.Patience {
		return lr
	}
	r.wait = 0
	if lr <= r.MinLR {
		return lr
	}
	return math.Max(lr*r.Factor, r.MinLR)
}
