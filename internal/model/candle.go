// Package model defines the wire-level market data types shared by the
// ingestion path, the cache and the broker.
package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Interval is a candle aggregation granularity in seconds.
type Interval int

// DefaultIntervals lists the supported aggregation intervals in
// bucket-declaration order. Snapshot output concatenates buckets in
// exactly this order.
var DefaultIntervals = []Interval{1, 10, 60, 300, 600}

// BaseInterval is the finest granularity. All-symbols subscribers receive
// only base-interval updates to bound their event volume.
const BaseInterval Interval = 1

// EndOfUpdate terminates a history replay so clients can tell snapshot
// data from live updates.
const EndOfUpdate = "End of Update"

// Candle is an OHLC summary for one symbol over one interval.
// Immutable once decoded.
type Candle struct {
	Symbol    string
	Interval  Interval
	Timestamp int64 // epoch millis
	Open      float64
	Close     float64
	Min       float64
	Max       float64
	Volume    float64
	Trades    int64
}

// feed record layout: <ignored>;symbol;open;close;min;max;volume;trades;timestamp;interval
const recordFields = 10

// ParseRecord decodes a single semicolon-separated feed record. Any
// malformed field fails the whole record.
func ParseRecord(rec string) (Candle, error) {
	fields := strings.Split(rec, ";")
	if len(fields) < recordFields {
		return Candle{}, fmt.Errorf("parse record: got %d fields, want %d", len(fields), recordFields)
	}

	var (
		c   Candle
		err error
	)
	c.Symbol = fields[1]
	if c.Symbol == "" {
		return Candle{}, fmt.Errorf("parse record: empty symbol")
	}
	if c.Open, err = strconv.ParseFloat(fields[2], 64); err != nil {
		return Candle{}, fmt.Errorf("parse record: open: %w", err)
	}
	if c.Close, err = strconv.ParseFloat(fields[3], 64); err != nil {
		return Candle{}, fmt.Errorf("parse record: close: %w", err)
	}
	if c.Min, err = strconv.ParseFloat(fields[4], 64); err != nil {
		return Candle{}, fmt.Errorf("parse record: min: %w", err)
	}
	if c.Max, err = strconv.ParseFloat(fields[5], 64); err != nil {
		return Candle{}, fmt.Errorf("parse record: max: %w", err)
	}
	if c.Volume, err = strconv.ParseFloat(fields[6], 64); err != nil {
		return Candle{}, fmt.Errorf("parse record: volume: %w", err)
	}
	if c.Trades, err = strconv.ParseInt(fields[7], 10, 64); err != nil {
		return Candle{}, fmt.Errorf("parse record: trades: %w", err)
	}
	if c.Timestamp, err = strconv.ParseInt(fields[8], 10, 64); err != nil {
		return Candle{}, fmt.Errorf("parse record: timestamp: %w", err)
	}
	iv, err := strconv.Atoi(fields[9])
	if err != nil || iv <= 0 {
		return Candle{}, fmt.Errorf("parse record: bad interval %q", fields[9])
	}
	c.Interval = Interval(iv)

	return c, nil
}

// Render returns the outbound JSON representation of the candle.
// Hand-crafted append keeps the publish hot path allocation-light.
func (c Candle) Render() string {
	buf := make([]byte, 0, len(c.Symbol)+160)
	buf = append(buf, `{"stock_interval":`...)
	buf = strconv.AppendInt(buf, int64(c.Interval), 10)
	buf = append(buf, `,"name":"`...)
	buf = append(buf, c.Symbol...)
	buf = append(buf, `","price_open":`...)
	buf = strconv.AppendFloat(buf, c.Open, 'f', 6, 64)
	buf = append(buf, `,"price_close":`...)
	buf = strconv.AppendFloat(buf, c.Close, 'f', 6, 64)
	buf = append(buf, `,"min_price":`...)
	buf = strconv.AppendFloat(buf, c.Min, 'f', 6, 64)
	buf = append(buf, `,"max_price":`...)
	buf = strconv.AppendFloat(buf, c.Max, 'f', 6, 64)
	buf = append(buf, `,"volume":`...)
	buf = strconv.AppendFloat(buf, c.Volume, 'f', -1, 64)
	buf = append(buf, `,"num_of_trades":`...)
	buf = strconv.AppendInt(buf, c.Trades, 10)
	buf = append(buf, `,"timestamp":`...)
	buf = strconv.AppendInt(buf, c.Timestamp, 10)
	buf = append(buf, '}')
	return string(buf)
}
