package lstm

import (
	"fmt"
	"math"

	"FinCast/internal/domain/errs"
	"FinCast/internal/domain/models"
)

// ComputeMetrics scores predictions against targets. When any target is
// exactly zero MAPE is left nil and ErrDivisionUndefined is returned with
// the remaining metrics still populated.
func ComputeMetrics(yTrue, yPred []float64) (models.EvalMetrics, error) {
	if len(yTrue) == 0 || len(yTrue) != len(yPred) {
		return models.EvalMetrics{}, fmt.Errorf("%w: need equal non-empty slices, got %d and %d",
			errs.ErrInvalidArgument, len(yTrue), len(yPred))
	}

	n := float64(len(yTrue))
	var sq, abs, pct float64
	zero := false
	for i, y := range yTrue {
		d := y - yPred[i]
		sq += d * d
		abs += math.Abs(d)
		if y == 0 {
			zero = true
			continue
		}
		pct += math.Abs(d / y)
	}

	m := models.EvalMetrics{
		MSE:  sq / n,
		RMSE: math.Sqrt(sq / n),
		MAE:  abs / n,
	}
	if zero {
		return m, fmt.Errorf("%w: MAPE undefined for zero targets", errs.ErrDivisionUndefined)
	}
	mape := pct / n * 100
	m.MAPE = &mape
	return m, nil
}
