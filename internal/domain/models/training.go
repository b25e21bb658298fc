package models

import "time"

// History holds per-epoch training curves. ValLoss is empty when training
// ran without a validation split.
type History struct {
	Loss         []float64 `json:"loss"`
	ValLoss      []float64 `json:"val_loss,omitempty"`
	LearningRate []float64 `json:"learning_rate"`
}

// EvalMetrics are validation errors in scaled units. MAPE is nil when any
// target is exactly zero.
type EvalMetrics struct {
	MSE  float64  `json:"mse"`
	RMSE float64  `json:"rmse"`
	MAE  float64  `json:"mae"`
	MAPE *float64 `json:"mape"`
}

type TrainingReport struct {
	Symbol            string        `json:"symbol"`
	Period            string        `json:"period"`
	Bars              int           `json:"bars"`
	TrainingSamples   int           `json:"training_samples"`
	ValidationSamples int           `json:"validation_samples"`
	History           History       `json:"history"`
	EpochsRun         int           `json:"epochs_run"`
	BestEpoch         int           `json:"best_epoch"`
	StoppedEarly      bool          `json:"stopped_early"`
	Metrics           *EvalMetrics  `json:"metrics,omitempty"`
	ModelVersion      string        `json:"model_version"`
	TrainedAt         time.Time     `json:"trained_at"`
	Duration          time.Duration `json:"duration"`
}

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCanceled  JobStatus = "canceled"
)

// Terminal reports whether no further transition can happen.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobCanceled
}

type TrainingJob struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	Period     string          `json:"period"`
	Epochs     int             `json:"epochs"`
	TrainSplit float64         `json:"train_split"`
	Status     JobStatus       `json:"status"`
	Report     *TrainingReport `json:"report,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}
