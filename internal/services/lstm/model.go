// Package lstm implements a stacked LSTM regressor mapping a window of
// scaled closes to the next scaled close.
package lstm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"FinCast/internal/domain/errs"
	"FinCast/internal/domain/models"
	"FinCast/pkg/logger"
	"FinCast/pkg/util"
)

type State int

const (
	Unbuilt State = iota
	Built
	Trained
)

func (s State) String() string {
	switch s {
	case Built:
		return "built"
	case Trained:
		return "trained"
	default:
		return "unbuilt"
	}
}

// Model moves Unbuilt -> Built -> Trained; Load jumps straight to Trained.
// A Model is not safe for concurrent use; callers serialize access.
type Model struct {
	cfg       Config
	state     State
	params    []float64
	version   string
	trainedAt time.Time

	log     *logger.Logger
	workers int
	now     func() time.Time
}

func New(cfg Config, opts ...Option) *Model {
	m := &Model{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Model) State() State         { return m.state }
func (m *Model) Config() Config       { return m.cfg }
func (m *Model) Version() string      { return m.version }
func (m *Model) TrainedAt() time.Time { return m.trainedAt }

// Build initializes fresh weights for the given width and dropout rate,
// discarding any previous training.
func (m *Model) Build(units int, dropout float64) error {
	cfg := m.cfg
	cfg.Units = units
	cfg.Dropout = dropout
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.cfg = cfg
	m.params = make([]float64, paramCount(cfg))
	initParams(cfg, m.params, rand.New(rand.NewPCG(uint64(cfg.Seed), 0x6c73746d)))
	m.state = Built
	m.version = ""
	m.trainedAt = time.Time{}
	return nil
}

// FitOptions controls one training run.
type FitOptions struct {
	Epochs        int
	BatchSize     int
	EarlyStopping *EarlyStopping
	ReduceLR      *ReduceLROnPlateau
	OnEpochEnd    func(EpochStats)
}

type EpochStats struct {
	Epoch        int
	Loss         float64
	ValLoss      float64
	HasVal       bool
	LearningRate float64
	Duration     time.Duration
}

// History is the outcome of Fit.
type History struct {
	models.History
	EpochsRun    int
	BestEpoch    int
	StoppedEarly bool
}

// Fit trains on (x, y), monitoring validation loss when validation data is
// given and training loss otherwise. Each window in x is Window*Features
// values long. Cancellation is checked between batches.
func (m *Model) Fit(ctx context.Context, x [][]float64, y []float64, xVal [][]float64, yVal []float64, opts FitOptions) (History, error) {
	if m.state == Unbuilt {
		return History{}, fmt.Errorf("%w: fit before build", errs.ErrModelNotReady)
	}
	if err := m.checkInputs(x, y); err != nil {
		return History{}, err
	}
	if len(x) == 0 {
		return History{}, fmt.Errorf("%w: no training samples", errs.ErrInsufficientData)
	}
	if len(xVal) > 0 {
		if err := m.checkInputs(xVal, yVal); err != nil {
			return History{}, err
		}
	}
	if opts.Epochs < 1 {
		return History{}, fmt.Errorf("%w: epochs must be positive", errs.ErrInvalidArgument)
	}
	batchSize := opts.BatchSize
	if batchSize < 1 {
		batchSize = 32
	}

	workers := m.workerCount(batchSize)
	spaces := make([]*workspace, workers)
	for i := range spaces {
		spaces[i] = newWorkspace(m.cfg, true)
		spaces[i].clearMasks()
	}
	view := bind(m.cfg, m.params)
	opt := newAdam(m.cfg, len(m.params))
	grad := make([]float64, len(m.params))
	best := make([]float64, len(m.params))
	copy(best, m.params)
	bestLoss := math.Inf(1)

	order := make([]int, len(x))
	for i := range order {
		order[i] = i
	}
	shuffle := rand.New(rand.NewPCG(uint64(m.cfg.Seed), 0x73687566))

	var h History
	h.BestEpoch = -1
	for epoch := 0; epoch < opts.Epochs; epoch++ {
		started := time.Now()
		shuffle.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var sum float64
		for b0 := 0; b0 < len(order); b0 += batchSize {
			if err := ctx.Err(); err != nil {
				return h, err
			}
			b1 := min(b0+batchSize, len(order))
			batch := order[b0:b1]

			loss, err := m.batchGradient(ctx, spaces, view, x, y, batch, epoch, grad)
			if err != nil {
				return h, err
			}
			if math.IsNaN(loss) || math.IsInf(loss, 0) {
				return h, fmt.Errorf("%w: non-finite loss at epoch %d", errs.ErrTrainingFailure, epoch+1)
			}
			sum += loss
			opt.step(m.params, grad)
		}

		stats := EpochStats{Epoch: epoch, Loss: sum / float64(len(x)), LearningRate: opt.lr}
		monitor := stats.Loss
		if len(xVal) > 0 {
			pred, err := m.predict(ctx, view, xVal)
			if err != nil {
				return h, err
			}
			stats.ValLoss = mse(yVal, pred)
			stats.HasVal = true
			monitor = stats.ValLoss
		}
		if math.IsNaN(monitor) || math.IsInf(monitor, 0) {
			return h, fmt.Errorf("%w: non-finite monitored loss at epoch %d", errs.ErrTrainingFailure, epoch+1)
		}
		if stats.HasVal {
			h.ValLoss = append(h.ValLoss, stats.ValLoss)
		}
		h.Loss = append(h.Loss, stats.Loss)
		h.LearningRate = append(h.LearningRate, opt.lr)
		h.EpochsRun = epoch + 1
		stats.Duration = time.Since(started)

		// With early stopping its MinDelta decides which epoch is best.
		improved, stop := monitor < bestLoss, false
		if opts.EarlyStopping != nil {
			improved, stop = opts.EarlyStopping.Observe(epoch, monitor)
		}
		if improved {
			bestLoss = monitor
			h.BestEpoch = epoch
			copy(best, m.params)
		}

		m.log.Debug("epoch finished",
			logger.Int("epoch", epoch+1),
			logger.Float64("loss", stats.Loss),
			logger.Float64("val_loss", stats.ValLoss),
			logger.Float64("lr", opt.lr),
			logger.Duration("took", stats.Duration),
		)
		if opts.OnEpochEnd != nil {
			opts.OnEpochEnd(stats)
		}

		if opts.ReduceLR != nil {
			if lr := opts.ReduceLR.Observe(monitor, opt.lr); lr != opt.lr {
				m.log.Info("reducing learning rate", logger.Float64("from", opt.lr), logger.Float64("to", lr), logger.Int("epoch", epoch+1))
				opt.lr = lr
			}
		}
		if stop {
			h.StoppedEarly = true
			break
		}
	}

	if opts.EarlyStopping != nil && opts.EarlyStopping.RestoreBest {
		copy(m.params, best)
	}
	m.state = Trained
	m.trainedAt = m.now().UTC()
	m.version = fmt.Sprintf("%s-%s", m.cfg.VersionPrefix, m.trainedAt.Format("20060102T150405Z"))
	return h, nil
}

// batchGradient fills grad with the mean-squared-error gradient over batch
// and returns the summed squared error. Work is split into contiguous chunks
// whose gradients are added in chunk order, so the result does not depend
// on goroutine scheduling.
func (m *Model) batchGradient(ctx context.Context, spaces []*workspace, view netView, x [][]float64, y []float64, batch []int, epoch int, grad []float64) (float64, error) {
	n := len(batch)
	chunks := min(len(spaces), n)
	size := (n + chunks - 1) / chunks
	losses := make([]float64, chunks)
	scale := 2 / float64(n)

	g, _ := errgroup.WithContext(ctx)
	for c := 0; c < chunks; c++ {
		lo := c * size
		hi := min(lo+size, n)
		ws := spaces[c]
		g.Go(func() error {
			ws.zeroGrad()
			var sq float64
			for _, idx := range batch[lo:hi] {
				if m.cfg.Dropout > 0 {
					ws.sampleMasks(rand.New(rand.NewPCG(uint64(m.cfg.Seed), uint64(epoch)<<32|uint64(idx))))
				}
				out := ws.forward(view, x[idx])
				d := out - y[idx]
				sq += d * d
				ws.backward(view, scale*d)
			}
			losses[c] = sq
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	copy(grad, spaces[0].grad)
	for c := 1; c < chunks; c++ {
		for i, v := range spaces[c].grad {
			grad[i] += v
		}
	}
	var total float64
	for _, l := range losses {
		total += l
	}
	return total, nil
}

// Predict runs inference with dropout disabled.
func (m *Model) Predict(x [][]float64) ([]float64, error) {
	if m.state != Trained {
		return nil, fmt.Errorf("%w: predict in state %s", errs.ErrModelNotReady, m.state)
	}
	if err := m.checkWindows(x); err != nil {
		return nil, err
	}
	return m.predict(context.Background(), bind(m.cfg, m.params), x)
}

func (m *Model) predict(ctx context.Context, view netView, x [][]float64) ([]float64, error) {
	out := make([]float64, len(x))
	if len(x) == 0 {
		return out, nil
	}
	workers := m.workerCount(len(x))
	size := (len(x) + workers - 1) / workers

	g, _ := errgroup.WithContext(ctx)
	for lo := 0; lo < len(x); lo += size {
		hi := min(lo+size, len(x))
		g.Go(func() error {
			ws := inferencePool(m.cfg)
			defer releaseWorkspace(ws)
			for i := lo; i < hi; i++ {
				out[i] = ws.forward(view, x[i])
			}
			return nil
		})
	}
	return out, g.Wait()
}

// Evaluate predicts x and scores the result against y.
func (m *Model) Evaluate(x [][]float64, y []float64) (models.EvalMetrics, error) {
	if m.state != Trained {
		return models.EvalMetrics{}, fmt.Errorf("%w: evaluate in state %s", errs.ErrModelNotReady, m.state)
	}
	pred, err := m.Predict(x)
	if err != nil {
		return models.EvalMetrics{}, err
	}
	return ComputeMetrics(y, pred)
}

const snapshotFormat = 1

type snapshot struct {
	Format    int       `json:"format"`
	Config    Config    `json:"config"`
	Version   string    `json:"version"`
	TrainedAt time.Time `json:"trained_at"`
	Params    []float64 `json:"params"`
}

// Save writes config and parameters atomically to path.
func (m *Model) Save(path string) error {
	if m.state != Trained {
		return fmt.Errorf("%w: save in state %s", errs.ErrModelNotReady, m.state)
	}
	snap := snapshot{
		Format:    snapshotFormat,
		Config:    m.cfg,
		Version:   m.version,
		TrainedAt: m.trainedAt,
		Params:    m.params,
	}
	err := util.WriteFileAtomic(path, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(snap)
	})
	if err != nil {
		return fmt.Errorf("%w: save model: %v", errs.ErrPersistenceFailure, err)
	}
	return nil
}

// Load restores a model saved by Save. A missing file is reported as
// (false, nil); a present but unreadable one as an error.
func (m *Model) Load(path string) (bool, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: read model: %v", errs.ErrPersistenceFailure, err)
	}

	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return false, fmt.Errorf("%w: decode model: %v", errs.ErrPersistenceFailure, err)
	}
	if snap.Format != snapshotFormat {
		return false, fmt.Errorf("%w: unsupported model format %d", errs.ErrPersistenceFailure, snap.Format)
	}
	if err := snap.Config.Validate(); err != nil {
		return false, fmt.Errorf("%w: %v", errs.ErrPersistenceFailure, err)
	}
	if want := paramCount(snap.Config); len(snap.Params) != want {
		return false, fmt.Errorf("%w: expected %d parameters, found %d", errs.ErrPersistenceFailure, want, len(snap.Params))
	}

	m.cfg = snap.Config
	m.params = snap.Params
	m.version = snap.Version
	m.trainedAt = snap.TrainedAt
	m.state = Trained
	return true, nil
}

func (m *Model) checkWindows(x [][]float64) error {
	want := m.cfg.Window * m.cfg.Features
	for i, w := range x {
		if len(w) != want {
			return fmt.Errorf("%w: window %d has %d values, want %d", errs.ErrInvalidArgument, i, len(w), want)
		}
	}
	return nil
}

func (m *Model) checkInputs(x [][]float64, y []float64) error {
	if len(x) != len(y) {
		return fmt.Errorf("%w: %d windows but %d labels", errs.ErrInvalidArgument, len(x), len(y))
	}
	return m.checkWindows(x)
}

func (m *Model) workerCount(n int) int {
	w := m.workers
	if w < 1 {
		w = runtime.GOMAXPROCS(0)
	}
	return max(1, min(w, n))
}

func mse(y, pred []float64) float64 {
	var s float64
	for i := range y {
		d := pred[i] - y[i]
		s += d * d
	}
	return s / float64(len(y))
}

var pools sync.Map // Config -> *sync.Pool

func inferencePool(c Config) *workspace {
	p, _ := pools.LoadOrStore(c, &sync.Pool{New: func() any {
		ws := newWorkspace(c, false)
		ws.clearMasks()
		return ws
	}})
	return p.(*sync.Pool).Get().(*workspace)
}

func releaseWorkspace(ws *workspace) {
	if p, ok := pools.Load(ws.cfg); ok {
		p.(*sync.Pool).Put(ws)
	}
}
