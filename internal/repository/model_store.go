package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"FinCast/internal/domain/errs"
	"FinCast/internal/domain/models"
	"FinCast/internal/services/lstm"
	"FinCast/internal/services/preprocess"
	applogger "FinCast/pkg/logger"
	"FinCast/pkg/util"
)

const (
	modelFile   = "model.json"
	scalerFile  = "scaler.json"
	datasetFile = "dataset.parquet"
)

// FileModelStore keeps one directory per symbol under root holding the
// model parameters, the scaler state and a parquet copy of the training
// bars. Every file is replaced atomically; a missing file means "absent".
type FileModelStore struct {
	root string
	l    *applogger.Logger
}

func NewFileModelStore(root string) *FileModelStore {
	return &FileModelStore{root: root}
}

// SetLogger injects a structured logger.
func (s *FileModelStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *FileModelStore) Root() string { return s.root }

func (s *FileModelStore) dir(symbol string) string {
	return filepath.Join(s.root, symbol)
}

func (s *FileModelStore) SaveModel(symbol string, m *lstm.Model) error {
	path := filepath.Join(s.dir(symbol), modelFile)
	if err := m.Save(path); err != nil {
		return err
	}
	s.l.Info("model saved", applogger.String("symbol", symbol), applogger.String("path", path), applogger.String("version", m.Version()))
	return nil
}

func (s *FileModelStore) LoadModel(symbol string, m *lstm.Model) (bool, error) {
	return m.Load(filepath.Join(s.dir(symbol), modelFile))
}

func (s *FileModelStore) SaveScaler(symbol string, sc *preprocess.MinMaxScaler) error {
	path := filepath.Join(s.dir(symbol), scalerFile)
	err := util.WriteFileAtomic(path, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(sc)
	})
	if err != nil {
		return fmt.Errorf("%w: save scaler: %v", errs.ErrPersistenceFailure, err)
	}
	return nil
}

// LoadScaler returns (nil, false, nil) when no scaler has been saved.
func (s *FileModelStore) LoadScaler(symbol string) (*preprocess.MinMaxScaler, bool, error) {
	b, err := os.ReadFile(filepath.Join(s.dir(symbol), scalerFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: read scaler: %v", errs.ErrPersistenceFailure, err)
	}
	var sc preprocess.MinMaxScaler
	if err := json.Unmarshal(b, &sc); err != nil {
		return nil, false, fmt.Errorf("%w: decode scaler: %v", errs.ErrPersistenceFailure, err)
	}
	if !sc.Fitted || sc.Scale == 0 {
		return nil, false, fmt.Errorf("%w: scaler file holds no fit", errs.ErrPersistenceFailure)
	}
	return &sc, true, nil
}

// datasetRow is the parquet layout of a training bar.
type datasetRow struct {
	Timestamp int64   `parquet:"t"` // unix milliseconds
	Open      float64 `parquet:"o"`
	High      float64 `parquet:"h"`
	Low       float64 `parquet:"l"`
	Close     float64 `parquet:"c"`
	Volume    float64 `parquet:"v"`
}

// SaveDataset records the bars a model was trained on.
func (s *FileModelStore) SaveDataset(symbol string, ts models.TimeSeries) error {
	rows := make([]datasetRow, len(ts.Bars))
	for i, b := range ts.Bars {
		rows[i] = datasetRow{
			Timestamp: b.Date.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		}
	}
	path := filepath.Join(s.dir(symbol), datasetFile)
	err := util.WriteFileAtomic(path, func(w io.Writer) error {
		return parquet.Write(w, rows)
	})
	if err != nil {
		return fmt.Errorf("%w: save dataset: %v", errs.ErrPersistenceFailure, err)
	}
	return nil
}

// LoadDataset reads back a snapshot written by SaveDataset.
func (s *FileModelStore) LoadDataset(symbol string) (models.TimeSeries, bool, error) {
	path := filepath.Join(s.dir(symbol), datasetFile)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return models.TimeSeries{}, false, nil
	}
	rows, err := parquet.ReadFile[datasetRow](path)
	if err != nil {
		return models.TimeSeries{}, false, fmt.Errorf("%w: read dataset: %v", errs.ErrPersistenceFailure, err)
	}
	ts := models.TimeSeries{Symbol: symbol, Bars: make([]models.Bar, len(rows))}
	for i, r := range rows {
		ts.Bars[i] = models.Bar{
			Date:   time.UnixMilli(r.Timestamp).UTC(),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		}
	}
	return ts, true, nil
}

// Symbols lists every symbol that has a saved model.
func (s *FileModelStore) Symbols() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, e.Name(), modelFile)); err == nil {
			out = append(out, e.Name())
		}
	}
	return out, nil
}
