package candle

import (
	"github.com/google/btree"

	"deribit-feed/src/models"
)

type candleItem struct {
	candle *Candle
}

func (c *candleItem) Less(than btree.Item) bool {
	return c.candle.StartTimestamp < than.(*candleItem).candle.StartTimestamp
}

// Chart is the candle series of one resolution, ordered by start timestamp.
type Chart struct {
	Resolution Resolution
	candles    *btree.BTree
	late       int64
}

func newChart(r Resolution) *Chart {
	return &Chart{
		Resolution: r,
		candles:    btree.New(16),
	}
}

func (ch *Chart) latest() *Candle {
	item := ch.candles.Max()
	if item == nil {
		return nil
	}
	return item.(*candleItem).candle
}

// add folds a trade into the series. When the trade opens a new bucket the previous candle is
// sealed and returned.
func (ch *Chart) add(t models.Trade) (sealed *Candle) {
	current := ch.latest()
	if current == nil {
		ch.candles.ReplaceOrInsert(&candleItem{candle: newCandle(ch.Resolution, t)})
		return nil
	}

	if current.update(t) {
		return nil
	}

	// edge case: trades older than the open bucket cannot reopen a sealed candle
	if t.Timestamp < current.StartTimestamp {
		ch.late++
		return nil
	}

	current.Sealed = true
	ch.candles.ReplaceOrInsert(&candleItem{candle: newCandle(ch.Resolution, t)})
	return current
}

func (ch *Chart) Len() int {
	return ch.candles.Len()
}

// Latest returns a copy of the most recent candle.
func (ch *Chart) Latest() (Candle, bool) {
	c := ch.latest()
	if c == nil {
		return Candle{}, false
	}
	return *c, true
}

func (ch *Chart) Get(startTimestamp int64) (Candle, bool) {
	item := ch.candles.Get(&candleItem{candle: &Candle{StartTimestamp: startTimestamp}})
	if item == nil {
		return Candle{}, false
	}
	return *item.(*candleItem).candle, true
}

// Candles returns copies of every candle in ascending start order.
func (ch *Chart) Candles() []Candle {
	return ch.Last(ch.candles.Len())
}

// Last returns copies of the most recent n candles in ascending start order.
func (ch *Chart) Last(n int) []Candle {
	if n <= 0 {
		return []Candle{}
	}
	out := make([]Candle, 0, min(n, ch.candles.Len()))
	ch.candles.Descend(func(item btree.Item) bool {
		if len(out) >= n {
			return false
		}
		out = append(out, *item.(*candleItem).candle)
		return true
	})
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Late counts trades that arrived after their bucket was sealed and were not aggregated.
func (ch *Chart) Late() int64 {
	return ch.late
}
