package book

import (
	"github.com/google/btree"

	"deribit-feed/src/models"
	"deribit-feed/src/price"
)

type Side int

const (
	SideBid Side = iota
	SideAsk
)

func (s Side) String() string {
	if s == SideBid {
		return "bid"
	}
	return "ask"
}

type PriceLevel struct {
	Price  price.Price
	Amount float64
}

type bidItem struct {
	level *PriceLevel
}

func (b *bidItem) Less(than btree.Item) bool {
	return b.level.Price > than.(*bidItem).level.Price
}

type askItem struct {
	level *PriceLevel
}

func (a *askItem) Less(than btree.Item) bool {
	return a.level.Price < than.(*askItem).level.Price
}

func itemFor(side Side, level *PriceLevel) btree.Item {
	if side == SideBid {
		return &bidItem{level: level}
	}
	return &askItem{level: level}
}

func levelOf(item btree.Item) *PriceLevel {
	switch v := item.(type) {
	case *bidItem:
		return v.level
	case *askItem:
		return v.level
	}
	return nil
}

// Gap is a break in the change id chain: a delta whose prev_change_id was not the last applied change_id.
type Gap struct {
	Expected int64
	Got      int64
}

// OrderBook is the reconstructed view of one instrument. It is not safe for concurrent use;
// callers sharing a book across goroutines must synchronise externally.
type OrderBook struct {
	Instrument string
	Bids       *btree.BTree // sorted descending (highest first)
	Asks       *btree.BTree // sorted ascending (lowest first)

	bestBid, bestAsk price.Price
	hasBid, hasAsk   bool
	spread           price.Price
	hasSpread        bool

	loaded    bool
	changeID  int64
	timestamp int64
	gaps      int64
	lastGap   Gap
}

const treeDegree = 32

func NewOrderBook(instrument string) *OrderBook {
	return &OrderBook{
		Instrument: instrument,
		Bids:       btree.New(treeDegree),
		Asks:       btree.New(treeDegree),
	}
}

func (ob *OrderBook) tree(side Side) *btree.BTree {
	if side == SideBid {
		return ob.Bids
	}
	return ob.Asks
}

// Load replaces the book with a snapshot. Every level is inserted regardless of its action tag.
func (ob *OrderBook) Load(snapshot *models.BookData) {
	ob.Bids.Clear(false)
	ob.Asks.Clear(false)

	for _, d := range snapshot.Asks {
		ob.upsert(SideAsk, price.FromFloat(d.Price), d.Amount)
	}
	for _, d := range snapshot.Bids {
		ob.upsert(SideBid, price.FromFloat(d.Price), d.Amount)
	}

	ob.rescan(SideAsk)
	ob.rescan(SideBid)
	ob.recomputeSpread()

	ob.loaded = true
	ob.changeID = snapshot.ChangeID
	ob.timestamp = snapshot.Timestamp
}

// Update applies one batch of deltas, asks first then bids, each in received order.
// It reports whether the batch did not continue the change id chain; the batch is applied either way.
func (ob *OrderBook) Update(delta *models.BookData) bool {
	gap := false
	if ob.loaded && delta.PrevChangeID != nil && *delta.PrevChangeID != ob.changeID {
		gap = true
		ob.gaps++
		ob.lastGap = Gap{Expected: ob.changeID, Got: *delta.PrevChangeID}
	}

	ob.Apply(SideAsk, delta.Asks)
	ob.Apply(SideBid, delta.Bids)

	ob.changeID = delta.ChangeID
	ob.timestamp = delta.Timestamp
	return gap
}

// Apply mutates one side and recomputes the spread once the batch is done.
// Change on an absent price inserts it, Delete on an absent price does nothing.
func (ob *OrderBook) Apply(side Side, deltas []models.OrderBookDelta) {
	for _, d := range deltas {
		p := price.FromFloat(d.Price)

		switch d.Action {
		case models.ActionNew, models.ActionChange:
			ob.upsert(side, p, d.Amount)
			ob.improveBest(side, p)
		case models.ActionDelete:
			removed := ob.tree(side).Delete(itemFor(side, &PriceLevel{Price: p}))
			// edge case: only losing the best level needs a rescan
			if removed != nil && ob.isBest(side, p) {
				ob.rescan(side)
			}
		}
	}
	ob.recomputeSpread()
}

func (ob *OrderBook) upsert(side Side, p price.Price, amount float64) {
	tree := ob.tree(side)
	existing := tree.Get(itemFor(side, &PriceLevel{Price: p}))
	if existing != nil {
		levelOf(existing).Amount = amount
		return
	}
	tree.ReplaceOrInsert(itemFor(side, &PriceLevel{Price: p, Amount: amount}))
}

func (ob *OrderBook) improveBest(side Side, p price.Price) {
	if side == SideBid {
		if !ob.hasBid || p > ob.bestBid {
			ob.bestBid, ob.hasBid = p, true
		}
		return
	}
	if !ob.hasAsk || p < ob.bestAsk {
		ob.bestAsk, ob.hasAsk = p, true
	}
}

func (ob *OrderBook) isBest(side Side, p price.Price) bool {
	if side == SideBid {
		return ob.hasBid && ob.bestBid == p
	}
	return ob.hasAsk && ob.bestAsk == p
}

// rescan reads the best price from the extreme key of the side's tree.
func (ob *OrderBook) rescan(side Side) {
	item := ob.tree(side).Min()
	var best price.Price
	ok := item != nil
	if ok {
		best = levelOf(item).Price
	}

	if side == SideBid {
		ob.bestBid, ob.hasBid = best, ok
	} else {
		ob.bestAsk, ob.hasAsk = best, ok
	}
}

func (ob *OrderBook) recomputeSpread() {
	if ob.hasAsk && ob.hasBid {
		ob.spread, ob.hasSpread = ob.bestAsk-ob.bestBid, true
		return
	}
	ob.spread, ob.hasSpread = 0, false
}

func (ob *OrderBook) BestBid() (price.Price, bool) {
	return ob.bestBid, ob.hasBid
}

func (ob *OrderBook) BestAsk() (price.Price, bool) {
	return ob.bestAsk, ob.hasAsk
}

// Spread is best ask minus best bid as of the last applied batch. Absent unless both sides have levels.
func (ob *OrderBook) Spread() (price.Price, bool) {
	return ob.spread, ob.hasSpread
}

func (ob *OrderBook) Amount(side Side, p price.Price) (float64, bool) {
	item := ob.tree(side).Get(itemFor(side, &PriceLevel{Price: p}))
	if item == nil {
		return 0, false
	}
	return levelOf(item).Amount, true
}

func (ob *OrderBook) Loaded() bool {
	return ob.loaded
}

func (ob *OrderBook) ChangeID() int64 {
	return ob.changeID
}

func (ob *OrderBook) Timestamp() int64 {
	return ob.timestamp
}

func (ob *OrderBook) Gaps() (count int64, last Gap) {
	return ob.gaps, ob.lastGap
}

func (ob *OrderBook) Len(side Side) int {
	return ob.tree(side).Len()
}

// Depth returns up to depth levels per side, best first.
func (ob *OrderBook) Depth(depth int) (bids []PriceLevel, asks []PriceLevel) {
	return ob.collect(SideBid, depth), ob.collect(SideAsk, depth)
}

func (ob *OrderBook) collect(side Side, depth int) []PriceLevel {
	if depth < 0 {
		depth = 0
	}
	levels := make([]PriceLevel, 0, min(depth, ob.tree(side).Len()))
	ob.tree(side).Ascend(func(item btree.Item) bool {
		if len(levels) >= depth {
			return false
		}
		levels = append(levels, *levelOf(item))
		return true
	})
	return levels
}
