// Package book implements the priced, time-ordered queue structure that
// holds resting orders and executes matching under price-time priority.
//
// The book is single-writer and deterministic: it carries no lock of its
// own, the owning exchange serializes every mutation.
package book

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"matchbook/internal/domain"
)

// SelfMatchPolicy controls what happens when an incoming order would trade
// against a resting order of the same agent.
type SelfMatchPolicy int

const (
	// SelfMatchAllow lets the agent trade with itself. Value conservation
	// holds trivially since both legs settle to the same account.
	SelfMatchAllow SelfMatchPolicy = iota

	// SelfMatchCancelResting pops the agent's own resting order instead of
	// trading against it. The exchange refunds its collateral.
	SelfMatchCancelResting
)

// Level is one row of a depth snapshot.
type Level struct {
	Price decimal.Decimal
	Size  int64
}

// MatchResult is the outcome of a matching sweep.
type MatchResult struct {
	Trades    []domain.Trade
	Remaining int64

	// SelfCancelled holds the taker's own resting orders removed under
	// SelfMatchCancelResting. Their collateral must be refunded by the
	// caller.
	SelfCancelled []*domain.Order
}

// OrderBook holds two independently priced collections of FIFO price levels.
// Bids are kept best-first descending, asks best-first ascending, so the
// best level of either side is element zero.
type OrderBook struct {
	bids []*priceLevel
	asks []*priceLevel

	nextOrderID uint64
	nextSeq     uint64
}

// New creates an empty book.
func New() *OrderBook {
	return &OrderBook{}
}

// Insert assigns a new order id and appends the order to the price level on
// the given side, creating the level if absent. No matching is performed;
// callers must match first.
func (b *OrderBook) Insert(agentID string, side domain.Side, price decimal.Decimal, size int64) uint64 {
	b.nextOrderID++
	b.nextSeq++
	o := &domain.Order{
		ID:      b.nextOrderID,
		AgentID: agentID,
		Side:    side,
		Price:   price,
		Size:    size,
		Seq:     b.nextSeq,
	}
	b.getOrCreate(side, price).enqueue(o)
	return o.ID
}

// Cancel removes the order with the given id from the named price level if
// present, deleting the level if it becomes empty. Returns whether an order
// was actually removed; a fully executed order is simply gone.
func (b *OrderBook) Cancel(side domain.Side, price decimal.Decimal, orderID uint64) bool {
	i, lvl := b.findLevel(side, price)
	if lvl == nil {
		return false
	}
	if !lvl.remove(orderID) {
		return false
	}
	if lvl.empty() {
		b.dropLevel(side, i)
	}
	return true
}

// MatchLimit walks the opposing side from its best price inward while size
// remains and the opposing best price does not violate the limit. Within a
// level orders are consumed strictly FIFO; a partially filled maker keeps
// its queue position. Returns the trades and whatever size could not be
// matched.
func (b *OrderBook) MatchLimit(takerID string, side domain.Side, limit decimal.Decimal, size int64, policy SelfMatchPolicy) MatchResult {
	res := MatchResult{Remaining: size}
	opp := side.Opposite()
	for res.Remaining > 0 {
		lvl := b.best(opp)
		if lvl == nil {
			break
		}
		if side == domain.Bid && lvl.price.GreaterThan(limit) {
			break
		}
		if side == domain.Ask && lvl.price.LessThan(limit) {
			break
		}
		b.consume(lvl, takerID, policy, &res)
		if lvl.empty() {
			b.dropLevel(opp, 0)
		}
	}
	return res
}

// MatchMarket sweeps the opposing side with no price limit. All-or-nothing:
// if the book cannot supply the full size the call fails with
// ErrInsufficientLiquidity before any mutation, so the caller never has to
// unwind a partial execution.
func (b *OrderBook) MatchMarket(takerID string, side domain.Side, size int64, policy SelfMatchPolicy) (MatchResult, error) {
	if b.available(takerID, side.Opposite(), policy) < size {
		return MatchResult{}, domain.ErrInsufficientLiquidity
	}
	res := MatchResult{Remaining: size}
	opp := side.Opposite()
	for res.Remaining > 0 {
		lvl := b.best(opp)
		if lvl == nil {
			break
		}
		b.consume(lvl, takerID, policy, &res)
		if lvl.empty() {
			b.dropLevel(opp, 0)
		}
	}
	if res.Remaining > 0 {
		// available() said otherwise; the book is corrupt.
		return res, &domain.ConsistencyError{
			Op:      "match_market",
			AgentID: takerID,
			Detail:  "sweep exhausted a side that reported sufficient depth",
		}
	}
	return res, nil
}

// consume fills from the head of one level until the taker is satisfied or
// the level drains.
func (b *OrderBook) consume(lvl *priceLevel, takerID string, policy SelfMatchPolicy, res *MatchResult) {
	for res.Remaining > 0 && !lvl.empty() {
		maker := lvl.head()
		if policy == SelfMatchCancelResting && maker.AgentID == takerID {
			lvl.popHead()
			res.SelfCancelled = append(res.SelfCancelled, maker)
			continue
		}
		qty := res.Remaining
		if maker.Size < qty {
			qty = maker.Size
		}
		res.Trades = append(res.Trades, domain.Trade{
			MakerID:      maker.AgentID,
			MakerOrderID: maker.ID,
			Price:        lvl.price,
			Qty:          qty,
			Ts:           time.Now(),
		})
		res.Remaining -= qty
		if qty == maker.Size {
			lvl.popHead()
		} else {
			maker.Size -= qty
			lvl.reduce(qty)
		}
	}
}

// available sums the depth the taker can actually trade against on one side.
func (b *OrderBook) available(takerID string, side domain.Side, policy SelfMatchPolicy) int64 {
	var total int64
	for _, lvl := range b.levels(side) {
		if policy == SelfMatchCancelResting {
			for _, o := range lvl.queue {
				if o.AgentID != takerID {
					total += o.Size
				}
			}
		} else {
			total += lvl.size()
		}
	}
	return total
}

// BestBid returns the highest bid price, false when the bid side is empty.
func (b *OrderBook) BestBid() (decimal.Decimal, bool) {
	if lvl := b.best(domain.Bid); lvl != nil {
		return lvl.price, true
	}
	return decimal.Decimal{}, false
}

// BestAsk returns the lowest ask price, false when the ask side is empty.
func (b *OrderBook) BestAsk() (decimal.Decimal, bool) {
	if lvl := b.best(domain.Ask); lvl != nil {
		return lvl.price, true
	}
	return decimal.Decimal{}, false
}

// Spread returns best ask minus best bid, false when either side is empty.
func (b *OrderBook) Spread() (decimal.Decimal, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return decimal.Decimal{}, false
	}
	return ask.Sub(bid), true
}

// MidPrice returns the midpoint of best bid and best ask, false when either
// side is empty.
func (b *OrderBook) MidPrice() (decimal.Decimal, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return decimal.Decimal{}, false
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), true
}

// Imbalance returns (bidDepth - askDepth) / (bidDepth + askDepth), zero when
// both depths are zero.
func (b *OrderBook) Imbalance() float64 {
	bid := b.Depth(domain.Bid)
	ask := b.Depth(domain.Ask)
	if bid+ask == 0 {
		return 0
	}
	return float64(bid-ask) / float64(bid+ask)
}

// Depth returns the total resting size on one side.
func (b *OrderBook) Depth(side domain.Side) int64 {
	var total int64
	for _, lvl := range b.levels(side) {
		total += lvl.size()
	}
	return total
}

// Snapshot returns (price, total size) rows per side: bids descending by
// price, asks ascending. Read-only.
func (b *OrderBook) Snapshot() (bids, asks []Level) {
	for _, lvl := range b.bids {
		bids = append(bids, Level{Price: lvl.price, Size: lvl.size()})
	}
	for _, lvl := range b.asks {
		asks = append(asks, Level{Price: lvl.price, Size: lvl.size()})
	}
	return bids, asks
}

// ---- level bookkeeping ----

func (b *OrderBook) levels(side domain.Side) []*priceLevel {
	if side == domain.Bid {
		return b.bids
	}
	return b.asks
}

func (b *OrderBook) best(side domain.Side) *priceLevel {
	lvls := b.levels(side)
	if len(lvls) == 0 {
		return nil
	}
	return lvls[0]
}

// slot returns the index at which price sits (or would be inserted) keeping
// bids descending and asks ascending.
func (b *OrderBook) slot(side domain.Side, price decimal.Decimal) int {
	lvls := b.levels(side)
	return sort.Search(len(lvls), func(i int) bool {
		if side == domain.Bid {
			return lvls[i].price.LessThanOrEqual(price)
		}
		return lvls[i].price.GreaterThanOrEqual(price)
	})
}

func (b *OrderBook) findLevel(side domain.Side, price decimal.Decimal) (int, *priceLevel) {
	lvls := b.levels(side)
	i := b.slot(side, price)
	if i < len(lvls) && lvls[i].price.Equal(price) {
		return i, lvls[i]
	}
	return -1, nil
}

func (b *OrderBook) getOrCreate(side domain.Side, price decimal.Decimal) *priceLevel {
	i := b.slot(side, price)
	lvls := b.levels(side)
	if i < len(lvls) && lvls[i].price.Equal(price) {
		return lvls[i]
	}
	lvl := newPriceLevel(price)
	lvls = append(lvls, nil)
	copy(lvls[i+1:], lvls[i:])
	lvls[i] = lvl
	if side == domain.Bid {
		b.bids = lvls
	} else {
		b.asks = lvls
	}
	return lvl
}

func (b *OrderBook) dropLevel(side domain.Side, i int) {
	if side == domain.Bid {
		b.bids = append(b.bids[:i], b.bids[i+1:]...)
	} else {
		b.asks = append(b.asks[:i], b.asks[i+1:]...)
	}
}
