package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PredictionResult is the user-facing outcome of a single-step forecast.
type PredictionResult struct {
	Symbol         string    `json:"symbol"`
	CurrentPrice   float64   `json:"current_price"`
	PredictedPrice float64   `json:"predicted_price"`
	PercentChange  float64   `json:"percent_change"`
	Confidence     float64   `json:"confidence"`
	AsOfDate       time.Time `json:"as_of_date"`
	DaysAhead      int       `json:"days_ahead"`
	ModelVersion   string    `json:"model_version"`
}

// StockInfo summarises recent price action without needing a model.
type StockInfo struct {
	Symbol         string    `json:"symbol"`
	CurrentPrice   float64   `json:"current_price"`
	PriceChange1D  float64   `json:"price_change_1d"`
	PriceChange7D  float64   `json:"price_change_7d"`
	PriceChange30D float64   `json:"price_change_30d"`
	Volatility30D  float64   `json:"volatility_30d"`
	Volume         float64   `json:"volume"`
	AsOfDate       time.Time `json:"as_of_date"`
}

type ModelStatus struct {
	Symbol         string     `json:"symbol"`
	IsTrained      bool       `json:"is_trained"`
	SequenceLength int        `json:"sequence_length"`
	ModelLoaded    bool       `json:"model_loaded"`
	ScalerFitted   bool       `json:"scaler_fitted"`
	ModelVersion   string     `json:"model_version,omitempty"`
	TrainedAt      *time.Time `json:"trained_at,omitempty"`
}

// BatchEntry is one position of a batch prediction. Exactly one of Result
// and Message is meaningful depending on Status.
type BatchEntry struct {
	Symbol  string            `json:"symbol"`
	Status  string            `json:"status"`
	Result  *PredictionResult `json:"result,omitempty"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message,omitempty"`
}

const (
	BatchStatusOK    = "ok"
	BatchStatusError = "error"
)

type BatchResult struct {
	Entries   []BatchEntry `json:"entries"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
}

// PredictionRecord is the row persisted for every served prediction.
// Prices carry two decimal places and confidence four.
type PredictionRecord struct {
	Symbol         string           `json:"symbol"`
	PredictedPrice decimal.Decimal  `json:"predicted_price"`
	ActualPrice    *decimal.Decimal `json:"actual_price,omitempty"`
	Confidence     decimal.Decimal  `json:"confidence"`
	ModelVersion   string           `json:"model_version"`
	PredictionDate time.Time        `json:"prediction_date"`
	CreatedAt      time.Time        `json:"created_at"`
}

// NewPredictionRecord rounds a result into its persisted form.
func NewPredictionRecord(r PredictionResult, now time.Time) PredictionRecord {
	return PredictionRecord{
		Symbol:         r.Symbol,
		PredictedPrice: decimal.NewFromFloat(r.PredictedPrice).Round(2),
		Confidence:     decimal.NewFromFloat(r.Confidence).Round(4),
		ModelVersion:   r.ModelVersion,
		PredictionDate: r.AsOfDate,
		CreatedAt:      now.UTC(),
	}
}
