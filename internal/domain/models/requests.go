package models

// Request bodies for the HTTP boundary. Defaults are applied before validation.

type PredictRequest struct {
	Symbol    string `json:"symbol" validate:"required,max=16"`
	DaysAhead int    `json:"days_ahead" default:"1" validate:"gte=1,lte=30"`
}

type BatchPredictRequest struct {
	Symbols   []string `json:"symbols" validate:"required,min=1,max=50,dive,required,max=16"`
	DaysAhead int      `json:"days_ahead" default:"1" validate:"gte=1,lte=30"`
}

type TrainRequest struct {
	Symbol     string  `json:"symbol" validate:"required,max=16"`
	Period     string  `json:"period" default:"2y" validate:"oneof=1d 5d 1mo 3mo 6mo 1y 2y 5y 10y ytd max"`
	Epochs     int     `json:"epochs" default:"100" validate:"gte=1,lte=1000"`
	TrainSplit float64 `json:"train_split" default:"0.8" validate:"gt=0,lte=1"`
}
