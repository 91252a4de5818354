package experiment

import (
	"math"

	"github.com/shopspring/decimal"
)

// bucketPrecision is enough fractional digits to represent any
// uint32/2^32 exactly.
const bucketPrecision = 32

var hashSpace = decimal.NewFromInt(1 << 32)

// Hash is a 32-bit polynomial rolling hash (h = h*31 + c) over the code
// points of key. Overflow wraps.
func Hash(key string) int32 {
	var h int32
	for _, c := range key {
		h = h*31 + int32(c)
	}
	return h
}

// Bucket maps key to a point in [0, 1). The result is exact: it is the
// unsigned hash divided by 2^32.
func Bucket(key string) decimal.Decimal {
	u := uint32(Hash(key))
	return decimal.NewFromInt(int64(u)).DivRound(hashSpace, bucketPrecision)
}

// cumulative builds the cumulative distribution for n variants. Weights
// that are missing, mismatched in length, negative or sum to zero fall back
// to a uniform split; otherwise they are normalised to sum to 1.
func cumulative(n int, weights []float64) []decimal.Decimal {
	ws := make([]decimal.Decimal, n)
	valid := len(weights) == n
	if valid {
		for i, w := range weights {
			if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
				valid = false
				break
			}
			ws[i] = decimal.NewFromFloat(w)
		}
	}
	if !valid {
		for i := range ws {
			ws[i] = decimal.NewFromInt(1)
		}
	}

	sum := decimal.Zero
	for _, w := range ws {
		sum = sum.Add(w)
	}
	if sum.IsZero() {
		for i := range ws {
			ws[i] = decimal.NewFromInt(1)
		}
		sum = decimal.NewFromInt(int64(n))
	}

	one := decimal.NewFromInt(1)
	cum := make([]decimal.Decimal, n)
	running := decimal.Zero
	for i, w := range ws {
		if !sum.Equal(one) {
			w = w.DivRound(sum, bucketPrecision)
		}
		running = running.Add(w)
		cum[i] = running
	}
	return cum
}

// pick returns the first variant whose cumulative weight strictly exceeds
// point, or the last variant when rounding leaves point above every bound.
func pick(point decimal.Decimal, variants []string, weights []float64) string {
	if len(variants) == 0 {
		return ""
	}
	for i, bound := range cumulative(len(variants), weights) {
		if bound.GreaterThan(point) {
			return variants[i]
		}
	}
	return variants[len(variants)-1]
}

// Assign is the pure assignment function: the variant for visitorID in
// testName depends only on its arguments.
func Assign(testName, visitorID string, variants []string, weights []float64) string {
	return pick(Bucket(Key(testName, visitorID)), variants, weights)
}

// Key is the assignment lookup key.
func Key(testName, visitorID string) string {
	return testName + ":" + visitorID
}
