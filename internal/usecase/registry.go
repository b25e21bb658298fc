package usecase

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"FinCast/internal/domain/errs"
	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"
	applogger "FinCast/pkg/logger"
	"FinCast/pkg/util"
)

// Symbols double as directory names in the model store.
var symbolPattern = regexp.MustCompile(`^\^?[A-Z0-9][A-Z0-9.\-=]{0,15}$`)

// ValidSymbol normalizes s and rejects anything that is not a ticker.
func ValidSymbol(s string) (string, error) {
	sym := util.NormalizeSymbol(s)
	if !symbolPattern.MatchString(sym) {
		return "", fmt.Errorf("%w: invalid symbol %q", errs.ErrInvalidArgument, s)
	}
	return sym, nil
}

// Registry lazily creates one Predictor per symbol and keeps it for the
// life of the process.
type Registry struct {
	mu         sync.Mutex
	predictors map[string]*Predictor

	cfg     PredictorConfig
	source  domrepo.MarketDataSource
	store   ModelStore
	metrics domrepo.Metrics
	l       *applogger.Logger
}

func NewRegistry(cfg PredictorConfig, source domrepo.MarketDataSource, store ModelStore, metrics domrepo.Metrics, l *applogger.Logger) *Registry {
	return &Registry{
		predictors: make(map[string]*Predictor),
		cfg:        cfg,
		source:     source,
		store:      store,
		metrics:    metrics,
		l:          l,
	}
}

// Get returns the predictor for symbol, restoring its saved model on first
// use.
func (r *Registry) Get(symbol string) (*Predictor, error) {
	sym, err := ValidSymbol(symbol)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.predictors[sym]
	if !ok {
		p = NewPredictor(sym, r.cfg, r.source, r.store, r.metrics, r.l)
		r.predictors[sym] = p
	}
	return p, nil
}

// Preload restores every model found in the store.
func (r *Registry) Preload() (int, error) {
	syms, err := r.store.Symbols()
	if err != nil {
		return 0, fmt.Errorf("list saved models: %w", err)
	}
	n := 0
	for _, s := range syms {
		p, err := r.Get(s)
		if err != nil {
			r.l.Warn("skipping model directory", applogger.String("dir", s), applogger.Error(err))
			continue
		}
		if p.Status().IsTrained {
			n++
		}
	}
	return n, nil
}

// Symbols lists symbols with a live predictor or a saved model.
func (r *Registry) Symbols() []string {
	seen := make(map[string]struct{})
	if syms, err := r.store.Symbols(); err == nil {
		for _, s := range syms {
			seen[s] = struct{}{}
		}
	} else {
		r.l.Warn("list saved models", applogger.Error(err))
	}
	r.mu.Lock()
	for s := range r.predictors {
		seen[s] = struct{}{}
	}
	r.mu.Unlock()

	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// BatchPredict predicts each symbol in turn. The result has one entry per
// input position; a failing symbol never aborts the rest. A symbol repeated
// after normalization is predicted once and later positions get an
// INVALID_ARGUMENT entry.
func (r *Registry) BatchPredict(ctx context.Context, symbols []string, daysAhead int) models.BatchResult {
	res := models.BatchResult{Entries: make([]models.BatchEntry, len(symbols))}
	seen := make(map[string]int, len(symbols))
	for i, s := range symbols {
		entry := models.BatchEntry{Symbol: util.NormalizeSymbol(s)}
		var (
			out *models.PredictionResult
			err error
		)
		if first, dup := seen[entry.Symbol]; dup {
			err = fmt.Errorf("%w: duplicate symbol %s (first at position %d)", errs.ErrInvalidArgument, entry.Symbol, first)
		} else {
			seen[entry.Symbol] = i
			out, err = r.predictOne(ctx, s, daysAhead)
		}
		if err != nil {
			entry.Status = models.BatchStatusError
			entry.Code = string(errs.KindOf(err))
			entry.Message = errs.Message(err)
			res.Failed++
		} else {
			entry.Status = models.BatchStatusOK
			entry.Result = out
			res.Succeeded++
		}
		res.Entries[i] = entry
	}
	r.l.Info("batch prediction finished",
		applogger.Int("symbols", len(symbols)),
		applogger.Int("succeeded", res.Succeeded),
		applogger.Int("failed", res.Failed))
	return res
}

func (r *Registry) predictOne(ctx context.Context, symbol string, daysAhead int) (*models.PredictionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := r.Get(symbol)
	if err != nil {
		return nil, err
	}
	return p.PredictPrice(ctx, daysAhead)
}
