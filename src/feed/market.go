package feed

import (
	"sort"
	"sync"

	"deribit-feed/src/book"
	"deribit-feed/src/candle"
)

// Instrument guards the book and trade log of one instrument. The feed is the only writer.
type Instrument struct {
	Name string

	mu     sync.RWMutex
	book   *book.OrderBook
	trades *candle.TradeLog
}

func newInstrument(name string, resolutions []candle.Resolution) *Instrument {
	trades := candle.NewTradeLog(name)
	for _, r := range resolutions {
		trades.TradeChart(r)
	}
	return &Instrument{
		Name:   name,
		book:   book.NewOrderBook(name),
		trades: trades,
	}
}

func (i *Instrument) ReadBook(fn func(ob *book.OrderBook)) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	fn(i.book)
}

func (i *Instrument) ReadTrades(fn func(tl *candle.TradeLog)) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	fn(i.trades)
}

func (i *Instrument) writeBook(fn func(ob *book.OrderBook)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	fn(i.book)
}

func (i *Instrument) writeTrades(fn func(tl *candle.TradeLog)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	fn(i.trades)
}

// Market is the set of instruments the feed maintains.
type Market struct {
	resolutions []candle.Resolution

	mu          sync.RWMutex
	instruments map[string]*Instrument
}

// NewMarket registers every resolution on each instrument's trade log as it is created,
// so no trade arrives before its charts exist.
func NewMarket(resolutions []candle.Resolution) *Market {
	return &Market{
		resolutions: resolutions,
		instruments: make(map[string]*Instrument),
	}
}

func (m *Market) Resolutions() []candle.Resolution {
	return m.resolutions
}

func (m *Market) Lookup(name string) (*Instrument, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, exists := m.instruments[name]
	return inst, exists
}

func (m *Market) GetOrCreate(name string) *Instrument {
	m.mu.RLock()
	if inst, exists := m.instruments[name]; exists {
		m.mu.RUnlock()
		return inst
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// edge case: double-check after acquiring write lock
	if inst, exists := m.instruments[name]; exists {
		return inst
	}

	inst := newInstrument(name, m.resolutions)
	m.instruments[name] = inst
	return inst
}

func (m *Market) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.instruments))
	for name := range m.instruments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
