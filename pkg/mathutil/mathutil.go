// Package mathutil provides the small float64 kernels shared by the
// training core: whitening, clipping and log-softmax extraction.
package mathutil

import "math"

// Epsilon below which a batch variance is treated as degenerate and
// whitening skips the division.
const degenerateStd = 1e-8

// Mean returns the arithmetic mean of xs, 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// MeanMat returns the mean over every element of m.
func MeanMat(m [][]float64) float64 {
	var sum float64
	var n int
	for _, row := range m {
		for _, x := range row {
			sum += x
		}
		n += len(row)
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Clip bounds x to [lo, hi].
func Clip(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// Whiten centers m to zero mean and scales it to unit standard deviation
// over all elements. When the variance is degenerate (all-equal values or
// a single element) the division is skipped and only the centered values
// are returned.
func Whiten(m [][]float64) [][]float64 {
	mean := MeanMat(m)

	var sqSum float64
	var n int
	for _, row := range m {
		for _, x := range row {
			d := x - mean
			sqSum += d * d
		}
		n += len(row)
	}

	out := make([][]float64, len(m))
	if n == 0 {
		return out
	}
	std := math.Sqrt(sqSum / float64(n))

	for i, row := range m {
		out[i] = make([]float64, len(row))
		for j, x := range row {
			v := x - mean
			if std > degenerateStd {
				v /= std
			}
			out[i][j] = v
		}
	}
	return out
}

// Softmax returns the softmax of logits, max-subtracted for stability.
func Softmax(logits []float64) []float64 {
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}
	values := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		values[i] = math.Exp(v - maxLogit)
		sum += values[i]
	}
	for i := range values {
		values[i] /= sum
	}
	return values
}

// LogSumExp returns log(sum(exp(logits))) computed stably.
func LogSumExp(logits []float64) float64 {
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}
	var sum float64
	for _, v := range logits {
		sum += math.Exp(v - maxLogit)
	}
	return maxLogit + math.Log(sum)
}

// LogProbFromLogits returns the log-probability of the target index under
// the categorical distribution defined by logits.
func LogProbFromLogits(logits []float64, target int) float64 {
	return logits[target] - LogSumExp(logits)
}
