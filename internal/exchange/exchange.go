// Package exchange is the settlement core: it validates and reserves
// collateral, delegates matching to the book, and applies trade results to
// both counterparties' accounts as one indivisible operation.
package exchange

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"matchbook/internal/book"
	"matchbook/internal/domain"
)

// TradeReport is the observability record of one completed trade.
type TradeReport struct {
	TakerID      string
	TakerSide    domain.Side
	MakerID      string
	MakerOrderID uint64
	Price        decimal.Decimal
	Qty          int64
	Ts           time.Time
}

// LimitOutcome describes a completed limit submission.
type LimitOutcome struct {
	FilledQty      int64
	AvgPrice       decimal.Decimal // zero when nothing filled
	RestingOrderID uint64          // zero when nothing rested
	Resting        bool
}

// MarketOutcome describes a completed market submission. CashNegative warns
// that settlement pushed the taker's cash below zero; the trades stand.
type MarketOutcome struct {
	FilledQty    int64
	AvgPrice     decimal.Decimal
	CashNegative bool
}

// Stats is the venue's current statistics view. Nil fields are undefined
// (a side of the book is empty).
type Stats struct {
	BestBid   *decimal.Decimal
	BestAsk   *decimal.Decimal
	MidPrice  *decimal.Decimal
	Spread    *decimal.Decimal
	Imbalance float64
}

// Config carries construction options for a venue.
type Config struct {
	// SelfMatch decides whether an agent may trade against its own resting
	// orders.
	SelfMatch book.SelfMatchPolicy

	// SafetyMargin is the multiplier over the best quote used as the
	// worst-case cash estimate for market buys. Defaults to 1.5.
	SafetyMargin decimal.Decimal

	Logger *slog.Logger

	// OnTrade, when set, receives every completed trade.
	OnTrade func(TradeReport)
}

// Exchange owns one order book and one account registry. Every mutating
// operation runs under the write lock from first validation to last
// settlement step, so callers always observe a consistent view.
type Exchange struct {
	mu sync.RWMutex

	book     *book.OrderBook
	accounts map[string]*domain.Account

	policy  book.SelfMatchPolicy
	margin  decimal.Decimal
	log     *slog.Logger
	onTrade func(TradeReport)
}

// New creates an empty venue.
func New(cfg Config) *Exchange {
	margin := cfg.SafetyMargin
	if margin.IsZero() {
		margin = decimal.NewFromFloat(1.5)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Exchange{
		book:     book.New(),
		accounts: make(map[string]*domain.Account),
		policy:   cfg.SelfMatch,
		margin:   margin,
		log:      logger,
		onTrade:  cfg.OnTrade,
	}
}

// Register adds an account with its initial endowment.
func (e *Exchange) Register(agentID string, cash, inventory decimal.Decimal) (*domain.Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.accounts[agentID]; ok {
		return nil, domain.ErrDuplicateAgent
	}
	acct := domain.NewAccount(agentID, cash, inventory)
	e.accounts[agentID] = acct
	e.log.Info("agent registered",
		slog.String("agent", agentID),
		slog.String("cash", cash.String()),
		slog.String("inventory", inventory.String()))
	return acct, nil
}

// Account returns the account handle for an agent id.
func (e *Exchange) Account(agentID string) (*domain.Account, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	acct, ok := e.accounts[agentID]
	return acct, ok
}

// SubmitLimit reserves worst-case collateral, matches against the book, and
// settles. The remainder, if any, rests at the limit price.
func (e *Exchange) SubmitLimit(agentID string, side domain.Side, price decimal.Decimal, size int64) (LimitOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if size <= 0 || !price.IsPositive() {
		return LimitOutcome{}, domain.ErrInvalidOrder
	}
	taker, ok := e.accounts[agentID]
	if !ok {
		return LimitOutcome{}, domain.ErrUnknownAgent
	}

	// Worst-case collateral, locked pessimistically before matching.
	worstCase := price.Mul(decimal.NewFromInt(size))
	if side == domain.Bid {
		if !taker.CanCoverCash(worstCase) {
			return LimitOutcome{}, domain.ErrInsufficientCollateral
		}
		taker.DebitCash(worstCase)
	} else {
		if !taker.CanCoverInventory(size) {
			return LimitOutcome{}, domain.ErrInsufficientCollateral
		}
		taker.DebitInventory(size)
	}

	res := e.book.MatchLimit(agentID, side, price, size, e.policy)

	if err := e.validateMakers(res.Trades); err != nil {
		// Broken invariant: abort before any settlement is applied and give
		// the taker its lock back.
		if side == domain.Bid {
			taker.CreditCash(worstCase)
		} else {
			taker.CreditInventory(size)
		}
		e.log.Error("settlement aborted", slog.Any("error", err))
		return LimitOutcome{}, err
	}
	if err := e.releaseSelfCancelled(taker, res.SelfCancelled); err != nil {
		e.log.Error("settlement aborted", slog.Any("error", err))
		return LimitOutcome{}, err
	}

	tradedQty, tradedValue, err := e.settleMakers(side, res.Trades)
	if err != nil {
		e.log.Error("settlement aborted", slog.Any("error", err))
		return LimitOutcome{}, err
	}

	// Taker settlement plus price-improvement refund on the traded portion.
	if side == domain.Bid {
		taker.CreditInventory(tradedQty)
		lockedForTraded := price.Mul(decimal.NewFromInt(tradedQty))
		taker.CreditCash(lockedForTraded.Sub(tradedValue))
	} else {
		taker.CreditCash(tradedValue)
	}

	out := LimitOutcome{FilledQty: tradedQty}
	if tradedQty > 0 {
		out.AvgPrice = tradedValue.Div(decimal.NewFromInt(tradedQty))
	}
	if res.Remaining > 0 {
		orderID := e.book.Insert(agentID, side, price, res.Remaining)
		taker.Rest(orderID, side, price, res.Remaining)
		out.RestingOrderID = orderID
		out.Resting = true
	}

	e.report(agentID, side, res.Trades)
	return out, nil
}

// SubmitMarket executes an all-or-nothing market order. Liquidity and a
// generous worst-case collateral estimate are checked before matching; a
// taker whose cash goes negative on settlement keeps the fill but the
// outcome carries a warning.
func (e *Exchange) SubmitMarket(agentID string, side domain.Side, size int64) (MarketOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if size <= 0 {
		return MarketOutcome{}, domain.ErrInvalidOrder
	}
	taker, ok := e.accounts[agentID]
	if !ok {
		return MarketOutcome{}, domain.ErrUnknownAgent
	}

	if side == domain.Bid {
		bestAsk, ok := e.book.BestAsk()
		if !ok {
			return MarketOutcome{}, domain.ErrInsufficientLiquidity
		}
		// True average execution price is unknown until matched; demand a
		// safety margin over the best quote.
		estimate := bestAsk.Mul(e.margin).Mul(decimal.NewFromInt(size))
		if !taker.CanCoverCash(estimate) {
			return MarketOutcome{}, domain.ErrInsufficientCollateral
		}
	} else {
		if _, ok := e.book.BestBid(); !ok {
			return MarketOutcome{}, domain.ErrInsufficientLiquidity
		}
		if !taker.CanCoverInventory(size) {
			return MarketOutcome{}, domain.ErrInsufficientCollateral
		}
	}

	res, err := e.book.MatchMarket(agentID, side, size, e.policy)
	if err != nil {
		return MarketOutcome{}, err
	}

	if err := e.validateMakers(res.Trades); err != nil {
		e.log.Error("settlement aborted", slog.Any("error", err))
		return MarketOutcome{}, err
	}
	if err := e.releaseSelfCancelled(taker, res.SelfCancelled); err != nil {
		e.log.Error("settlement aborted", slog.Any("error", err))
		return MarketOutcome{}, err
	}

	tradedQty, tradedValue, err := e.settleMakers(side, res.Trades)
	if err != nil {
		e.log.Error("settlement aborted", slog.Any("error", err))
		return MarketOutcome{}, err
	}

	out := MarketOutcome{FilledQty: tradedQty}
	if tradedQty > 0 {
		out.AvgPrice = tradedValue.Div(decimal.NewFromInt(tradedQty))
	}

	if side == domain.Bid {
		taker.DebitCash(tradedValue)
		taker.CreditInventory(tradedQty)
		if taker.Cash.IsNegative() {
			// Execution already happened against the makers; undoing it
			// would break matching atomicity toward them. Bounded debt.
			out.CashNegative = true
			e.log.Warn("market buy settled into negative cash",
				slog.String("agent", agentID),
				slog.String("cash", taker.Cash.String()))
		}
	} else {
		taker.DebitInventory(tradedQty)
		taker.CreditCash(tradedValue)
	}

	e.report(agentID, side, res.Trades)
	return out, nil
}

// Cancel removes a resting order and refunds the collateral still committed
// for its remaining size.
func (e *Exchange) Cancel(agentID string, orderID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	acct, ok := e.accounts[agentID]
	if !ok {
		return domain.ErrUnknownAgent
	}
	entry, ok := acct.Lookup(orderID)
	if !ok {
		return domain.ErrOrderNotFound
	}

	if !e.book.Cancel(entry.Side, entry.Price, orderID) {
		// Settlement keeps account entries in step with the book on every
		// fill, so the book disagreeing means capital accounting is wrong.
		err := &domain.ConsistencyError{
			Op:      "cancel",
			AgentID: agentID,
			OrderID: orderID,
			Detail:  "order recorded on account but absent from book",
		}
		e.log.Error("cancel aborted", slog.Any("error", err))
		return err
	}

	if entry.Side == domain.Bid {
		acct.CreditCash(entry.Price.Mul(decimal.NewFromInt(entry.Size)))
	} else {
		acct.CreditInventory(entry.Size)
	}
	acct.Drop(orderID)

	e.log.Info("order cancelled",
		slog.String("agent", agentID),
		slog.Uint64("order", orderID),
		slog.Int64("size", entry.Size))
	return nil
}

// Snapshot returns depth rows per side: bids descending, asks ascending.
func (e *Exchange) Snapshot() (bids, asks []book.Level) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.Snapshot()
}

// GetStats returns the venue statistics view.
func (e *Exchange) GetStats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := Stats{Imbalance: e.book.Imbalance()}
	if v, ok := e.book.BestBid(); ok {
		s.BestBid = &v
	}
	if v, ok := e.book.BestAsk(); ok {
		s.BestAsk = &v
	}
	if v, ok := e.book.MidPrice(); ok {
		s.MidPrice = &v
	}
	if v, ok := e.book.Spread(); ok {
		s.Spread = &v
	}
	return s
}

// Totals sums cash and inventory across all accounts, including collateral
// committed to resting orders. Used by conservation checks.
func (e *Exchange) Totals() (cash decimal.Decimal, inventory decimal.Decimal) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, acct := range e.accounts {
		cash = cash.Add(acct.Cash)
		inventory = inventory.Add(acct.Inventory)
		for _, entry := range acct.Active {
			if entry.Side == domain.Bid {
				cash = cash.Add(entry.Price.Mul(decimal.NewFromInt(entry.Size)))
			} else {
				inventory = inventory.Add(decimal.NewFromInt(entry.Size))
			}
		}
	}
	return cash, inventory
}

// validateMakers checks every trade's maker against the registry and the
// maker's own active-order index before any balance is touched.
func (e *Exchange) validateMakers(trades []domain.Trade) error {
	for _, t := range trades {
		maker, ok := e.accounts[t.MakerID]
		if !ok {
			return &domain.CounterpartyError{MakerID: t.MakerID, OrderID: t.MakerOrderID}
		}
		entry, ok := maker.Lookup(t.MakerOrderID)
		if !ok {
			return &domain.ConsistencyError{
				Op:      "settle",
				AgentID: t.MakerID,
				OrderID: t.MakerOrderID,
				Detail:  "matched maker order not in account's active set",
			}
		}
		if entry.Size < t.Qty {
			return &domain.ConsistencyError{
				Op:      "settle",
				AgentID: t.MakerID,
				OrderID: t.MakerOrderID,
				Detail:  "matched quantity exceeds recorded resting size",
			}
		}
	}
	return nil
}

// settleMakers credits each maker with the side it is owed and shrinks its
// active-order record. The maker's own collateral was locked at submission,
// so only the incoming leg moves here.
func (e *Exchange) settleMakers(takerSide domain.Side, trades []domain.Trade) (qty int64, value decimal.Decimal, err error) {
	for _, t := range trades {
		maker := e.accounts[t.MakerID]
		if takerSide == domain.Bid {
			// Taker buys; maker sold out of locked inventory, receives cash.
			maker.CreditCash(t.Value())
		} else {
			// Taker sells; maker bought with locked cash, receives inventory.
			maker.CreditInventory(t.Qty)
		}
		if ferr := maker.Fill(t.MakerOrderID, t.Qty); ferr != nil {
			return qty, value, ferr
		}
		qty += t.Qty
		value = value.Add(t.Value())
	}
	return qty, value, nil
}

// releaseSelfCancelled refunds the taker's own resting orders that the book
// popped under the cancel-resting self-match policy.
func (e *Exchange) releaseSelfCancelled(taker *domain.Account, cancelled []*domain.Order) error {
	for _, o := range cancelled {
		entry, ok := taker.Lookup(o.ID)
		if !ok {
			return &domain.ConsistencyError{
				Op:      "self_cancel",
				AgentID: taker.AgentID,
				OrderID: o.ID,
				Detail:  "self-cancelled order not in account's active set",
			}
		}
		if entry.Side == domain.Bid {
			taker.CreditCash(entry.Price.Mul(decimal.NewFromInt(entry.Size)))
		} else {
			taker.CreditInventory(entry.Size)
		}
		taker.Drop(o.ID)
		e.log.Info("self-match cancelled resting order",
			slog.String("agent", taker.AgentID),
			slog.Uint64("order", o.ID))
	}
	return nil
}

// report publishes completed trades to the log and the trade sink.
func (e *Exchange) report(takerID string, takerSide domain.Side, trades []domain.Trade) {
	for _, t := range trades {
		e.log.Info("trade",
			slog.String("taker", takerID),
			slog.String("side", takerSide.String()),
			slog.String("maker", t.MakerID),
			slog.String("price", t.Price.String()),
			slog.Int64("qty", t.Qty))
		if e.onTrade != nil {
			e.onTrade(TradeReport{
				TakerID:      takerID,
				TakerSide:    takerSide,
				MakerID:      t.MakerID,
				MakerOrderID: t.MakerOrderID,
				Price:        t.Price,
				Qty:          t.Qty,
				Ts:           t.Ts,
			})
		}
	}
}
