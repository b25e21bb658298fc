package preprocess

import (
	"fmt"
	"math"

	"FinCast/internal/domain/errs"
	"FinCast/internal/domain/models"
)

// Sequence is one supervised sample: Window scaled closes and the close
// that immediately follows.
type Sequence struct {
	Window []float64
	Label  float64
}

// Preprocessor turns close prices into scaled windows. It owns exactly one
// scaler; refitting it invalidates any model trained on the previous fit.
type Preprocessor struct {
	scaler *MinMaxScaler
	window int
}

func New(window int) *Preprocessor {
	return &Preprocessor{scaler: NewMinMaxScaler(), window: window}
}

// WithScaler builds a preprocessor around previously persisted scaler state.
func WithScaler(window int, s *MinMaxScaler) *Preprocessor {
	if s == nil {
		s = NewMinMaxScaler()
	}
	return &Preprocessor{scaler: s, window: window}
}

func (p *Preprocessor) Window() int           { return p.window }
func (p *Preprocessor) Scaler() *MinMaxScaler { return p.scaler }
func (p *Preprocessor) Fitted() bool          { return p.scaler.Fitted }

// FitTransform refits the scaler on the close column and returns it scaled.
func (p *Preprocessor) FitTransform(ts models.TimeSeries) ([]float64, error) {
	closes := ts.Closes()
	if err := validCloses(closes); err != nil {
		return nil, err
	}
	return p.scaler.FitTransform(closes)
}

// Transform scales the close column with the existing fit.
func (p *Preprocessor) Transform(ts models.TimeSeries) ([]float64, error) {
	if !p.scaler.Fitted {
		return nil, errs.ErrScalerNotFitted
	}
	closes := ts.Closes()
	if err := validCloses(closes); err != nil {
		return nil, err
	}
	return p.scaler.Transform(closes)
}

func (p *Preprocessor) InverseTransform(values []float64) ([]float64, error) {
	return p.scaler.InverseTransform(values)
}

// CreateSequences slides a window of length p.Window() over scaled values.
// Window i covers [i, i+L) and is labelled with scaled[i+L]; the result has
// max(0, len-L) entries in chronological order.
func (p *Preprocessor) CreateSequences(scaled []float64) []Sequence {
	return CreateSequences(scaled, p.window)
}

func CreateSequences(scaled []float64, window int) []Sequence {
	n := len(scaled) - window
	if window < 1 || n <= 0 {
		return nil
	}
	out := make([]Sequence, n)
	for i := 0; i < n; i++ {
		w := make([]float64, window)
		copy(w, scaled[i:i+window])
		out[i] = Sequence{Window: w, Label: scaled[i+window]}
	}
	return out
}

// PrepareInferenceWindow returns the last L scaled closes as a batch of one.
func (p *Preprocessor) PrepareInferenceWindow(ts models.TimeSeries) ([][]float64, error) {
	if ts.Len() < p.window {
		return nil, fmt.Errorf("%w: need %d bars for inference, got %d", errs.ErrInsufficientData, p.window, ts.Len())
	}
	scaled, err := p.Transform(ts.Tail(p.window))
	if err != nil {
		return nil, err
	}
	return [][]float64{scaled}, nil
}

// SplitIndex is the chronological train/validation boundary floor(n*split).
func SplitIndex(n int, split float64) int {
	if split <= 0 {
		return 0
	}
	if split >= 1 {
		return n
	}
	return int(math.Floor(float64(n) * split))
}

// SplitSequences partitions samples into a leading training part and a
// trailing validation part without shuffling.
func SplitSequences(seqs []Sequence, split float64) (train, val []Sequence) {
	idx := SplitIndex(len(seqs), split)
	return seqs[:idx], seqs[idx:]
}

// Unzip separates windows and labels into model inputs.
func Unzip(seqs []Sequence) ([][]float64, []float64) {
	x := make([][]float64, len(seqs))
	y := make([]float64, len(seqs))
	for i, s := range seqs {
		x[i] = s.Window
		y[i] = s.Label
	}
	return x, y
}

func validCloses(closes []float64) error {
	if len(closes) == 0 {
		return fmt.Errorf("%w: empty series", errs.ErrInsufficientData)
	}
	for i, c := range closes {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("%w: non-finite close at index %d", errs.ErrDataUnavailable, i)
		}
	}
	return nil
}
