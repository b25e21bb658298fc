package preprocess

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"FinCast/internal/domain/errs"
)

// MinMaxScaler maps values linearly into [FeatureMin, FeatureMax] using the
// extrema seen at fit time. The zero value is an unfitted (0,1) scaler.
type MinMaxScaler struct {
	FeatureMin float64 `json:"feature_min"`
	FeatureMax float64 `json:"feature_max"`
	DataMin    float64 `json:"data_min"`
	DataMax    float64 `json:"data_max"`
	Scale      float64 `json:"scale"`
	Min        float64 `json:"min"`
	Fitted     bool    `json:"fitted"`
}

func NewMinMaxScaler() *MinMaxScaler {
	return &MinMaxScaler{FeatureMin: 0, FeatureMax: 1}
}

// Fit records the extrema of values. A constant input gets scale 1 so that
// transform stays finite.
func (s *MinMaxScaler) Fit(values []float64) error {
	if len(values) == 0 {
		return fmt.Errorf("%w: cannot fit scaler on empty input", errs.ErrInsufficientData)
	}
	if s.FeatureMax <= s.FeatureMin {
		s.FeatureMin, s.FeatureMax = 0, 1
	}
	s.DataMin = floats.Min(values)
	s.DataMax = floats.Max(values)

	dataRange := s.DataMax - s.DataMin
	if dataRange == 0 {
		dataRange = 1
	}
	s.Scale = (s.FeatureMax - s.FeatureMin) / dataRange
	s.Min = s.FeatureMin - s.DataMin*s.Scale
	s.Fitted = true
	return nil
}

func (s *MinMaxScaler) Transform(values []float64) ([]float64, error) {
	if !s.Fitted {
		return nil, errs.ErrScalerNotFitted
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v*s.Scale + s.Min
	}
	return out, nil
}

func (s *MinMaxScaler) InverseTransform(values []float64) ([]float64, error) {
	if !s.Fitted {
		return nil, errs.ErrScalerNotFitted
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = (v - s.Min) / s.Scale
	}
	return out, nil
}

func (s *MinMaxScaler) FitTransform(values []float64) ([]float64, error) {
	if err := s.Fit(values); err != nil {
		return nil, err
	}
	return s.Transform(values)
}
