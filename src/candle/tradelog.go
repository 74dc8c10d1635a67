package candle

import (
	"sort"

	"deribit-feed/src/models"
)

// Sealed pairs a just sealed candle with the resolution of the chart it came from.
type Sealed struct {
	Resolution Resolution
	Candle     Candle
}

// TradeLog keeps the trade history and one chart per registered resolution.
// It is not safe for concurrent use.
type TradeLog struct {
	Instrument string
	trades     []models.Trade
	observers  map[Resolution]*Chart
	order      []Resolution // registered resolutions, shortest first
}

func NewTradeLog(instrument string) *TradeLog {
	return &TradeLog{
		Instrument: instrument,
		observers:  make(map[Resolution]*Chart),
	}
}

// TradeChart returns the chart for r, creating it on first use. Trades seen before
// registration are not replayed into a new chart.
func (l *TradeLog) TradeChart(r Resolution) *Chart {
	if chart, exists := l.observers[r]; exists {
		return chart
	}
	chart := newChart(r)
	l.observers[r] = chart

	i := sort.Search(len(l.order), func(i int) bool { return l.order[i] >= r })
	l.order = append(l.order, 0)
	copy(l.order[i+1:], l.order[i:])
	l.order[i] = r
	return chart
}

// Chart looks up a registered chart without creating one.
func (l *TradeLog) Chart(r Resolution) (*Chart, bool) {
	chart, exists := l.observers[r]
	return chart, exists
}

// NewTrade appends the trade to the history and feeds every registered chart.
// Candles sealed by the trade are returned in resolution order.
func (l *TradeLog) NewTrade(t models.Trade) []Sealed {
	l.trades = append(l.trades, t)

	var sealed []Sealed
	for _, r := range l.order {
		if c := l.observers[r].add(t); c != nil {
			sealed = append(sealed, Sealed{Resolution: r, Candle: *c})
		}
	}
	return sealed
}

// Resolutions lists registered resolutions, shortest first.
func (l *TradeLog) Resolutions() []Resolution {
	out := make([]Resolution, len(l.order))
	copy(out, l.order)
	return out
}

func (l *TradeLog) Observers() int {
	return len(l.observers)
}

func (l *TradeLog) TradeCount() int {
	return len(l.trades)
}

// Trades returns a copy of the history in arrival order.
func (l *TradeLog) Trades() []models.Trade {
	out := make([]models.Trade, len(l.trades))
	copy(out, l.trades)
	return out
}
