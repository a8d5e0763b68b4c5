package errors

import (
	"context"
	"math"
)

// CheckContext returns an error if the context is canceled or timed out.
// This provides a standardized way to check and wrap context errors.
func CheckContext(ctx context.Context, operation string) error {
	if err := ctx.Err(); err != nil {
		return Wrap(err, Canceled, operation+" canceled")
	}
	return nil
}

// CheckFinite returns a NumericalDivergence error when v is NaN or Inf.
// A non-finite loss means the optimization has left a stable region and
// the run must be treated as failed, never retried.
func CheckFinite(v float64, what string) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Newf(NumericalDivergence, "%s is not finite: %v", what, v)
	}
	return nil
}
