package lstm

import (
	"fmt"
	"time"

	"FinCast/internal/domain/errs"
	"FinCast/pkg/logger"
)

// Config fixes the network shape. It is persisted with the parameters so a
// loaded model can be rebuilt exactly.
type Config struct {
	Window        int     `json:"window"`
	Features      int     `json:"features"`
	Layers        int     `json:"layers"`
	Units         int     `json:"units"`
	DenseUnits    int     `json:"dense_units"`
	Dropout       float64 `json:"dropout"`
	LearningRate  float64 `json:"learning_rate"`
	Beta1         float64 `json:"beta1"`
	Beta2         float64 `json:"beta2"`
	Epsilon       float64 `json:"epsilon"`
	Seed          int64   `json:"seed"`
	VersionPrefix string  `json:"version_prefix"`
}

// DefaultConfig is three 50-unit layers with 20% dropout, a 25-unit dense
// layer and Adam at 1e-3.
func DefaultConfig(window int) Config {
	return Config{
		Window:        window,
		Features:      1,
		Layers:        3,
		Units:         50,
		DenseUnits:    25,
		Dropout:       0.2,
		LearningRate:  0.001,
		Beta1:         0.9,
		Beta2:         0.999,
		Epsilon:       1e-7,
		Seed:          42,
		VersionPrefix: "LSTM_v1",
	}
}

func (c Config) Validate() error {
	switch {
	case c.Window < 1:
		return fmt.Errorf("%w: window must be positive, got %d", errs.ErrInvalidArgument, c.Window)
	case c.Features < 1:
		return fmt.Errorf("%w: features must be positive, got %d", errs.ErrInvalidArgument, c.Features)
	case c.Layers < 1:
		return fmt.Errorf("%w: layers must be positive, got %d", errs.ErrInvalidArgument, c.Layers)
	case c.Units < 1 || c.DenseUnits < 1:
		return fmt.Errorf("%w: units must be positive", errs.ErrInvalidArgument)
	case c.Dropout < 0 || c.Dropout >= 1:
		return fmt.Errorf("%w: dropout must be in [0,1), got %v", errs.ErrInvalidArgument, c.Dropout)
	case c.LearningRate <= 0:
		return fmt.Errorf("%w: learning rate must be positive", errs.ErrInvalidArgument)
	}
	return nil
}

// Option configures Model.
type Option func(*Model)

// WithLogger sets the logger used for per-epoch progress.
func WithLogger(l *logger.Logger) Option {
	return func(m *Model) {
		m.log = l
	}
}

// WithWorkers bounds the goroutines computing per-sample gradients.
// Values below 1 mean GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(m *Model) {
		m.workers = n
	}
}

// WithClock overrides time.Now for version stamps.
func WithClock(now func() time.Time) Option {
	return func(m *Model) {
		m.now = now
	}
}
