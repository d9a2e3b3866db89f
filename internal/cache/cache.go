// Package cache owns the symbol-indexed collection of candle series. It
// decodes inbound feed messages, routes candles to the owning series and
// produces rendered history snapshots for seeding new subscribers.
package cache

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"stockstreamer/internal/model"
	"stockstreamer/internal/series"
)

// MarketCache is safe for concurrent use. The symbol map has its own
// lock; each SymbolSeries carries per-symbol locking so a slow snapshot
// of one symbol does not block ingestion for another.
type MarketCache struct {
	intervals []model.Interval
	capacity  int
	tracked   map[string]struct{} // nil = track every symbol

	mu     sync.RWMutex
	series map[string]*series.SymbolSeries
}

// Option configures a MarketCache.
type Option func(*MarketCache)

// WithCapacity overrides the per-bucket sliding window capacity.
func WithCapacity(n int) Option {
	return func(m *MarketCache) { m.capacity = n }
}

// WithTrackedSymbols restricts series allocation to the given symbols.
// Candles for other symbols are still decoded and returned for live
// publishing but keep no history.
func WithTrackedSymbols(symbols []string) Option {
	return func(m *MarketCache) {
		if len(symbols) == 0 {
			return
		}
		m.tracked = make(map[string]struct{}, len(symbols))
		for _, s := range symbols {
			m.tracked[s] = struct{}{}
		}
	}
}

// New creates a cache tracking the given intervals per symbol.
func New(intervals []model.Interval, opts ...Option) *MarketCache {
	m := &MarketCache{
		intervals: append([]model.Interval(nil), intervals...),
		capacity:  series.DefaultCapacity,
		series:    make(map[string]*series.SymbolSeries),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IngestMessage decodes one or more newline-terminated feed records,
// routes each decoded candle to its symbol's series and returns the last
// decoded candle. Malformed records are dropped; their errors are joined
// and returned alongside whatever did decode, so a bad record never stops
// the ones after it.
func (m *MarketCache) IngestMessage(raw string) (model.Candle, error) {
	var (
		last model.Candle
		got  bool
		errs []error
	)

	for _, rec := range strings.Split(raw, "\n") {
		rec = strings.TrimSpace(rec)
		if rec == "" {
			continue
		}
		c, err := model.ParseRecord(rec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		m.route(c)
		last = c
		got = true
	}

	err := errors.Join(errs...)
	if !got {
		if err == nil {
			err = fmt.Errorf("ingest: no records in message")
		}
		return model.Candle{}, err
	}
	return last, err
}

func (m *MarketCache) route(c model.Candle) {
	if m.tracked != nil {
		if _, ok := m.tracked[c.Symbol]; !ok {
			return
		}
	}

	m.mu.RLock()
	s := m.series[c.Symbol]
	m.mu.RUnlock()

	if s == nil {
		m.mu.Lock()
		s = m.series[c.Symbol]
		if s == nil {
			s = series.New(c.Symbol, m.intervals, m.capacity)
			m.series[c.Symbol] = s
		}
		m.mu.Unlock()
	}

	s.Ingest(c)
}

// Snapshot renders the symbol's full history: every interval bucket's
// window in bucket-declaration order, terminated by the end-of-update
// sentinel. An unknown symbol yields only the sentinel.
func (m *MarketCache) Snapshot(symbol string) []string {
	m.mu.RLock()
	s := m.series[symbol]
	m.mu.RUnlock()

	if s == nil {
		return []string{model.EndOfUpdate}
	}

	var out []string
	for _, iv := range s.Intervals() {
		for _, c := range s.Window(iv) {
			out = append(out, c.Render())
		}
	}
	return append(out, model.EndOfUpdate)
}

// SnapshotAll renders the latest candle of every tracked symbol in symbol
// order, terminated by the sentinel. Seeds all-symbols subscribers.
func (m *MarketCache) SnapshotAll() []string {
	m.mu.RLock()
	all := make([]*series.SymbolSeries, 0, len(m.series))
	for _, s := range m.series {
		all = append(all, s)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Symbol() < all[j].Symbol() })

	out := make([]string, 0, len(all)+1)
	for _, s := range all {
		if c, ok := s.Latest(); ok {
			out = append(out, c.Render())
		}
	}
	return append(out, model.EndOfUpdate)
}

// HasSymbol reports whether the cache holds a series for the symbol.
func (m *MarketCache) HasSymbol(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.series[name]
	return ok
}

// Symbols returns the cached symbol names, sorted.
func (m *MarketCache) Symbols() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.series))
	for name := range m.series {
		names = append(names, name)
	}
	m.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Series returns the symbol's series for indicator reads.
func (m *MarketCache) Series(symbol string) (*series.SymbolSeries, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.series[symbol]
	return s, ok
}
