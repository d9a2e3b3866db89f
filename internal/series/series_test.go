package series

import (
	"math"
	"math/rand"
	"testing"

	"stockstreamer/internal/model"
)

func mkCandle(symbol string, iv model.Interval, ts int64, close float64) model.Candle {
	return model.Candle{
		Symbol:    symbol,
		Interval:  iv,
		Timestamp: ts,
		Open:      close - 0.5,
		Close:     close,
		Min:       close - 1,
		Max:       close + 1,
		Volume:    100,
		Trades:    5,
	}
}

func TestWindowBounded(t *testing.T) {
	const capacity = 120
	s := New("NVDA", []model.Interval{1}, capacity)

	for i := 0; i < 3*capacity; i++ {
		s.Ingest(mkCandle("NVDA", 1, int64(i), 100+float64(i%7)))

		if n := s.Len(1); n > capacity {
			t.Fatalf("window length %d exceeds capacity %d after ingest %d", n, capacity, i)
		}
		// The quantile tree must mirror the window exactly.
		if total := s.buckets[1].quantile.Total(); total != int64(s.Len(1)) {
			t.Fatalf("quantile tree total %d != window length %d after ingest %d", total, s.Len(1), i)
		}
	}

	if n := s.Len(1); n != capacity {
		t.Errorf("window length: got %d, want %d", n, capacity)
	}
}

// TestSMAMatchesReference checks sma() against a full recomputation over
// the actual window contents after every ingest.
func TestSMAMatchesReference(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	s := New("NVDA", []model.Interval{1}, 50)

	for i := 0; i < 400; i++ {
		s.Ingest(mkCandle("NVDA", 1, int64(i), 50+rng.Float64()*100))

		var sum float64
		win := s.Window(1)
		for _, c := range win {
			sum += c.Close
		}
		want := sum / float64(len(win))
		if got := s.SMA(1); math.Abs(got-want) > 1e-6 {
			t.Fatalf("SMA after ingest %d: got %g, want %g", i, got, want)
		}
	}
}

func TestSMAEmptyWindow(t *testing.T) {
	s := New("NVDA", []model.Interval{1}, 10)
	if got := s.SMA(1); got != 0 {
		t.Errorf("SMA on empty window: got %g, want 0", got)
	}
}

// TestEMA checks the seed-with-first-price law and the recurrence
// ema = price*k + ema*(1-k) with k = 2/(N+1).
func TestEMA(t *testing.T) {
	const capacity = 120
	s := New("NVDA", []model.Interval{1}, capacity)
	k := 2.0 / float64(capacity+1)

	prices := []float64{100, 101.5, 103, 99.5, 102}
	want := prices[0]
	s.Ingest(mkCandle("NVDA", 1, 0, prices[0]))
	if got := s.EMA(1); math.Abs(got-want) > 1e-9 {
		t.Fatalf("EMA seed: got %g, want %g", got, want)
	}

	for i, p := range prices[1:] {
		s.Ingest(mkCandle("NVDA", 1, int64(i+1), p))
		want = p*k + want*(1-k)
		if got := s.EMA(1); math.Abs(got-want) > 1e-9 {
			t.Fatalf("EMA after price %g: got %g, want %g", p, got, want)
		}
	}
}

func TestQuantile(t *testing.T) {
	s := New("NVDA", []model.Interval{10}, 120)
	for i, p := range []float64{104, 101, 103, 100, 102} {
		s.Ingest(mkCandle("NVDA", 10, int64(i), p))
	}

	tests := []struct {
		p    float64
		want float64
	}{
		{0, 100},
		{0.25, 101},
		{0.5, 102},
		{0.75, 103},
		{1.0, 104}, // clamped to the last rank
	}
	for _, tt := range tests {
		if got := s.Quantile(10, tt.p); math.Abs(got-tt.want) > 1e-6 {
			t.Errorf("Quantile(%.2f): got %g, want %g", tt.p, got, tt.want)
		}
	}
}

func TestQuantileEmpty(t *testing.T) {
	s := New("NVDA", []model.Interval{1}, 10)
	if got := s.Quantile(1, 0.5); got != 0 {
		t.Errorf("Quantile on empty window: got %g, want 0", got)
	}
}

// TestEvictionSymmetry churns far past capacity and checks the quantile
// tree still agrees with a recomputation over the live window.
func TestEvictionSymmetry(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	s := New("AMD", []model.Interval{1}, 30)

	for i := 0; i < 1000; i++ {
		s.Ingest(mkCandle("AMD", 1, int64(i), 10+float64(rng.Intn(40))))
	}

	win := s.Window(1)
	threshold := 30.0
	var want int64
	for _, c := range win {
		if c.Close < threshold {
			want++
		}
	}
	if got := s.CountBelow(1, threshold); got != want {
		t.Errorf("CountBelow(%g): got %d, want %d", threshold, got, want)
	}

	// Median from the tree vs sorted window.
	sorted := append([]model.Candle(nil), win...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Close < sorted[j-1].Close; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	wantMedian := sorted[len(sorted)/2].Close
	if got := s.Quantile(1, 0.5); math.Abs(got-wantMedian) > 1e-6 {
		t.Errorf("Quantile(0.5): got %g, want %g", got, wantMedian)
	}
}

func TestUnsupportedIntervalIgnored(t *testing.T) {
	s := New("NVDA", []model.Interval{1, 10}, 10)
	s.Ingest(mkCandle("NVDA", 42, 0, 100))

	if got := s.Len(1) + s.Len(10); got != 0 {
		t.Errorf("untracked interval affected windows: total length %d, want 0", got)
	}
}

func TestWindowOldestFirst(t *testing.T) {
	s := New("NVDA", []model.Interval{1}, 3)
	for i := 0; i < 5; i++ {
		s.Ingest(mkCandle("NVDA", 1, int64(i), float64(i)))
	}

	win := s.Window(1)
	if len(win) != 3 {
		t.Fatalf("window length: got %d, want 3", len(win))
	}
	for i, want := range []int64{2, 3, 4} {
		if win[i].Timestamp != want {
			t.Errorf("window[%d].Timestamp: got %d, want %d", i, win[i].Timestamp, want)
		}
	}
}

func TestLatest(t *testing.T) {
	s := New("NVDA", []model.Interval{1, 10}, 10)
	if _, ok := s.Latest(); ok {
		t.Error("Latest on empty series: got ok=true")
	}

	s.Ingest(mkCandle("NVDA", 10, 7, 105))
	c, ok := s.Latest()
	if !ok || c.Timestamp != 7 {
		t.Errorf("Latest: got (%+v, %v), want ts=7", c, ok)
	}
}
