package candle

import (
	"time"

	"github.com/shopspring/decimal"

	"deribit-feed/src/models"
)

// Candle is one OHLCV bucket. Cost accumulates traded amount, Volume accumulates price times amount.
type Candle struct {
	Duration       time.Duration
	StartTimestamp int64 // unix ms, aligned to Duration
	Open           decimal.Decimal
	High           decimal.Decimal
	Low            decimal.Decimal
	Close          decimal.Decimal
	Cost           decimal.Decimal
	Volume         decimal.Decimal
	Trades         int
	Sealed         bool
}

func newCandle(r Resolution, t models.Trade) *Candle {
	p := decimal.NewFromFloat(t.Price)
	amount := decimal.NewFromFloat(t.Amount)
	return &Candle{
		Duration:       r.Duration(),
		StartTimestamp: r.Align(t.Timestamp),
		Open:           p,
		High:           p,
		Low:            p,
		Close:          p,
		Cost:           amount,
		Volume:         p.Mul(amount),
		Trades:         1,
	}
}

// EndTimestamp is the exclusive end of the bucket.
func (c *Candle) EndTimestamp() int64 {
	return c.StartTimestamp + c.Duration.Milliseconds()
}

func (c *Candle) Contains(timestampMs int64) bool {
	return timestampMs >= c.StartTimestamp && timestampMs < c.EndTimestamp()
}

// update absorbs the trade if it falls inside the bucket and the candle is still open.
func (c *Candle) update(t models.Trade) bool {
	if c.Sealed || !c.Contains(t.Timestamp) {
		return false
	}

	p := decimal.NewFromFloat(t.Price)
	amount := decimal.NewFromFloat(t.Amount)

	if c.Open.IsZero() {
		c.Open = p
	}
	if p.GreaterThan(c.High) {
		c.High = p
	}
	if p.LessThan(c.Low) {
		c.Low = p
	}
	c.Close = p
	c.Cost = c.Cost.Add(amount)
	c.Volume = c.Volume.Add(p.Mul(amount))
	c.Trades++
	return true
}

func (c Candle) Info() models.CandleInfo {
	return models.CandleInfo{
		Start:    c.StartTimestamp,
		Duration: c.Duration.Milliseconds(),
		Open:     c.Open.String(),
		High:     c.High.String(),
		Low:      c.Low.String(),
		Close:    c.Close.String(),
		Cost:     c.Cost.String(),
		Volume:   c.Volume.String(),
		Sealed:   c.Sealed,
	}
}
