// Package errs holds the error kinds shared by the prediction pipeline.
// Callers wrap them with fmt.Errorf("%w: ...") and classify with errors.Is.
package errs

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrDataUnavailable    = errors.New("market data unavailable")
	ErrInsufficientData   = errors.New("insufficient data")
	ErrScalerNotFitted    = errors.New("scaler not fitted")
	ErrModelNotReady      = errors.New("model not ready")
	ErrModelNotTrained    = errors.New("model not trained")
	ErrTrainingFailure    = errors.New("training failure")
	ErrPersistenceFailure = errors.New("persistence failure")
	ErrDivisionUndefined  = errors.New("division undefined")
	ErrJobNotFound        = errors.New("job not found")
)

// Kind is a stable machine-readable error code.
type Kind string

const (
	KindInvalidArgument    Kind = "INVALID_ARGUMENT"
	KindDataUnavailable    Kind = "DATA_UNAVAILABLE"
	KindInsufficientData   Kind = "INSUFFICIENT_DATA"
	KindScalerNotFitted    Kind = "SCALER_NOT_FITTED"
	KindModelNotReady      Kind = "MODEL_NOT_READY"
	KindModelNotTrained    Kind = "MODEL_NOT_TRAINED"
	KindTrainingFailure    Kind = "TRAINING_FAILURE"
	KindPersistenceFailure Kind = "PERSISTENCE_FAILURE"
	KindDivisionUndefined  Kind = "DIVISION_UNDEFINED"
	KindJobNotFound        Kind = "JOB_NOT_FOUND"
	KindCanceled           Kind = "CANCELED"
	KindInternal           Kind = "INTERNAL"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrInvalidArgument, KindInvalidArgument},
	{ErrDataUnavailable, KindDataUnavailable},
	{ErrInsufficientData, KindInsufficientData},
	{ErrScalerNotFitted, KindScalerNotFitted},
	{ErrModelNotReady, KindModelNotReady},
	{ErrModelNotTrained, KindModelNotTrained},
	{ErrTrainingFailure, KindTrainingFailure},
	{ErrPersistenceFailure, KindPersistenceFailure},
	{ErrDivisionUndefined, KindDivisionUndefined},
	{ErrJobNotFound, KindJobNotFound},
}

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	return KindInternal
}

var messages = map[Kind]string{
	KindInvalidArgument:    "invalid request",
	KindDataUnavailable:    "market data unavailable for symbol",
	KindInsufficientData:   "not enough price history for symbol",
	KindScalerNotFitted:    "model is not ready for symbol",
	KindModelNotReady:      "model is not ready for symbol",
	KindModelNotTrained:    "no trained model for symbol",
	KindTrainingFailure:    "training did not converge",
	KindPersistenceFailure: "could not persist model",
	KindDivisionUndefined:  "metric undefined for this data",
	KindJobNotFound:        "training job not found",
	KindCanceled:           "operation canceled",
}

// Message is a user-facing description of err without internal detail.
// Invalid arguments keep only the detail attached to ErrInvalidArgument,
// since it describes the caller's input; outer wrapping context is dropped.
func Message(err error) string {
	k := KindOf(err)
	if k == KindInvalidArgument {
		return invalidDetail(err)
	}
	if m, ok := messages[k]; ok {
		return m
	}
	return "Something went wrong"
}

func invalidDetail(err error) string {
	prefix := ErrInvalidArgument.Error() + ": "
	msg := err.Error()
	if i := strings.LastIndex(msg, prefix); i >= 0 && i+len(prefix) < len(msg) {
		return msg[i+len(prefix):]
	}
	return messages[KindInvalidArgument]
}
