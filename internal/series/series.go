// Package series maintains, per symbol, a bounded sliding window of
// candles for each supported interval together with rolling indicators:
// simple moving average, exponential moving average and quantile bands
// backed by an order-statistics tree.
package series

import (
	"sync"

	"stockstreamer/internal/model"
	"stockstreamer/internal/ostree"
)

// priceScale converts float prices into fixed-point tree keys so the
// quantile tree never sees floating-point keys.
const priceScale = 1_000_000

// DefaultCapacity is the nominal sliding-window length per interval bucket.
const DefaultCapacity = 120

// bucket is one interval's sliding window plus its indicator accumulators.
// The quantile tree always mirrors the window contents exactly: insert on
// enqueue, remove on evict.
type bucket struct {
	buf  []model.Candle // preallocated circular buffer
	head int            // index of the oldest entry
	n    int

	priceSum  float64
	emaValue  float64
	emaSeeded bool
	quantile  *ostree.Tree
}

// SymbolSeries owns every interval bucket for a single symbol.
// Safe for concurrent use; reads proceed concurrently with each other.
type SymbolSeries struct {
	symbol   string
	capacity int
	emaK     float64 // smoothing constant 2/(N+1)

	mu      sync.RWMutex
	order   []model.Interval
	buckets map[model.Interval]*bucket
}

// New creates a series tracking the given intervals with the given window
// capacity per bucket.
func New(symbol string, intervals []model.Interval, capacity int) *SymbolSeries {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &SymbolSeries{
		symbol:   symbol,
		capacity: capacity,
		emaK:     2.0 / float64(capacity+1),
		order:    append([]model.Interval(nil), intervals...),
		buckets:  make(map[model.Interval]*bucket, len(intervals)),
	}
	for _, iv := range intervals {
		s.buckets[iv] = &bucket{
			buf:      make([]model.Candle, capacity),
			quantile: ostree.New(),
		}
	}
	return s
}

// Symbol returns the symbol this series tracks.
func (s *SymbolSeries) Symbol() string { return s.symbol }

// Intervals returns the tracked intervals in bucket-declaration order.
func (s *SymbolSeries) Intervals() []model.Interval {
	return append([]model.Interval(nil), s.order...)
}

// Ingest appends a candle to its interval bucket, evicting the oldest
// entry first when the window is full. Candles for untracked intervals
// are silently ignored; the feed may emit intervals this symbol does not
// follow. Eviction and insertion happen under one critical section so
// indicator readers never observe a half-applied update.
func (s *SymbolSeries) Ingest(c model.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[c.Interval]
	if !ok {
		return
	}

	if b.n == s.capacity {
		old := b.buf[b.head]
		b.head = (b.head + 1) % s.capacity
		b.n--
		b.priceSum -= old.Close
		b.quantile.Insert(scaleKey(old.Close), -1)
	}

	b.buf[(b.head+b.n)%s.capacity] = c
	b.n++
	b.priceSum += c.Close
	if !b.emaSeeded {
		b.emaValue = c.Close
		b.emaSeeded = true
	} else {
		b.emaValue = c.Close*s.emaK + b.emaValue*(1-s.emaK)
	}
	b.quantile.Insert(scaleKey(c.Close), 1)
}

// SMA returns the simple moving average over the interval's current
// window, or 0 when the window is empty or the interval untracked.
func (s *SymbolSeries) SMA(iv model.Interval) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.buckets[iv]
	if !ok || b.n == 0 {
		return 0
	}
	return b.priceSum / float64(b.n)
}

// EMA returns the current exponential moving average for the interval.
func (s *SymbolSeries) EMA(iv model.Interval) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.buckets[iv]
	if !ok {
		return 0
	}
	return b.emaValue
}

// Quantile returns the price at fractional rank p in [0,1] over the
// interval's current window, 0 when empty.
func (s *SymbolSeries) Quantile(iv model.Interval, p float64) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.buckets[iv]
	if !ok || b.n == 0 {
		return 0
	}

	rank := int64(p * float64(b.n))
	if rank >= int64(b.n) {
		rank = int64(b.n) - 1
	}
	if rank < 0 {
		rank = 0
	}
	return unscaleKey(b.quantile.FindNth(rank))
}

// CountBelow returns how many window entries have a close price strictly
// below price.
func (s *SymbolSeries) CountBelow(iv model.Interval, price float64) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.buckets[iv]
	if !ok {
		return 0
	}
	below, _ := b.quantile.FindNum(scaleKey(price))
	return below
}

// Len returns the interval's current window length.
func (s *SymbolSeries) Len(iv model.Interval) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.buckets[iv]
	if !ok {
		return 0
	}
	return b.n
}

// Window returns a copy of the interval's window, oldest first.
func (s *SymbolSeries) Window(iv model.Interval) []model.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.buckets[iv]
	if !ok || b.n == 0 {
		return nil
	}
	out := make([]model.Candle, b.n)
	for i := 0; i < b.n; i++ {
		out[i] = b.buf[(b.head+i)%s.capacity]
	}
	return out
}

// Latest returns the most recently ingested candle across the smallest
// non-empty bucket, for dashboard-style aggregate snapshots.
func (s *SymbolSeries) Latest() (model.Candle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, iv := range s.order {
		b := s.buckets[iv]
		if b.n > 0 {
			return b.buf[(b.head+b.n-1)%s.capacity], true
		}
	}
	return model.Candle{}, false
}

func scaleKey(price float64) uint64 {
	if price < 0 {
		return 0
	}
	return uint64(price * priceScale)
}

func unscaleKey(key uint64) float64 {
	return float64(key) / priceScale
}
