// Package selector provides weighted random selection and think-time draws
// for simulated users.
package selector

import (
	"crypto/rand"
	"errors"
	"math/big"
	"time"
)

// ErrNoItems is returned when there is nothing with a positive weight to select.
var ErrNoItems = errors.New("selector: no items with positive weight")

// RandIntn returns a uniform random integer in [0, n). n is always > 0.
type RandIntn func(n int64) (int64, error)

// CryptoIntn draws from crypto/rand.
func CryptoIntn(n int64) (int64, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0, err
	}
	return v.Int64(), nil
}

type weightedEntry[T any] struct {
	item             T
	cumulativeWeight int
}

// Weighted selects items with probability proportional to their weight.
// It is immutable after construction and safe for concurrent use.
type Weighted[T any] struct {
	entries     []weightedEntry[T]
	totalWeight int
	intn        RandIntn
}

// Option configures a Weighted selector.
type Option func(*options)

type options struct {
	intn RandIntn
}

// WithRand replaces the random source.
func WithRand(fn RandIntn) Option {
	return func(o *options) {
		o.intn = fn
	}
}

// NewWeighted builds a selector over items. Items whose weight is zero or
// negative are never selected.
func NewWeighted[T any](items []T, weight func(T) int, opts ...Option) (*Weighted[T], error) {
	o := options{intn: CryptoIntn}
	for _, opt := range opts {
		opt(&o)
	}

	w := &Weighted[T]{intn: o.intn}
	for _, item := range items {
		iw := weight(item)
		if iw <= 0 {
			continue
		}
		w.totalWeight += iw
		w.entries = append(w.entries, weightedEntry[T]{item: item, cumulativeWeight: w.totalWeight})
	}

	if len(w.entries) == 0 {
		return nil, ErrNoItems
	}
	return w, nil
}

// Select returns one item chosen by weight.
func (w *Weighted[T]) Select() (T, error) {
	n, err := w.intn(int64(w.totalWeight))
	if err != nil {
		var zero T
		return zero, err
	}
	target := int(n)

	// Binary search for the first entry whose cumulative weight exceeds target.
	low, high := 0, len(w.entries)-1
	for low < high {
		mid := (low + high) / 2
		if w.entries[mid].cumulativeWeight <= target {
			low = mid + 1
		} else {
			high = mid
		}
	}

	return w.entries[low].item, nil
}

// Len returns the number of selectable items.
func (w *Weighted[T]) Len() int {
	return len(w.entries)
}

// TotalWeight returns the sum of the selectable items' weights.
func (w *Weighted[T]) TotalWeight() int {
	return w.totalWeight
}

// UniformDuration returns a duration drawn uniformly from [min, max].
// If min >= max it returns min.
func UniformDuration(min, max time.Duration) time.Duration {
	return uniformDuration(min, max, CryptoIntn)
}

func uniformDuration(min, max time.Duration, intn RandIntn) time.Duration {
	if min >= max {
		return min
	}
	n, err := intn(int64(max-min) + 1)
	if err != nil {
		return min
	}
	return min + time.Duration(n)
}
