package exchange

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"matchbook/internal/book"
	"matchbook/internal/domain"
)

func d(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func newTestVenue(t *testing.T, policy book.SelfMatchPolicy) *Exchange {
	t.Helper()
	return New(Config{
		SelfMatch: policy,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func mustRegister(t *testing.T, e *Exchange, id string, cash, inventory float64) *domain.Account {
	t.Helper()
	acct, err := e.Register(id, d(cash), d(inventory))
	if err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	return acct
}

func TestExchange_Register_Duplicate(t *testing.T) {
	e := newTestVenue(t, book.SelfMatchAllow)
	mustRegister(t, e, "alice", 1000, 0)

	if _, err := e.Register("alice", d(500), d(0)); !errors.Is(err, domain.ErrDuplicateAgent) {
		t.Fatalf("err = %v, want ErrDuplicateAgent", err)
	}
}

func TestExchange_PassiveOrder(t *testing.T) {
	e := newTestVenue(t, book.SelfMatchAllow)
	a := mustRegister(t, e, "a", 10000, 0)

	out, err := e.SubmitLimit("a", domain.Bid, d(99), 5)
	if err != nil {
		t.Fatalf("SubmitLimit: %v", err)
	}
	if out.FilledQty != 0 || !out.Resting {
		t.Fatalf("expected fully resting order, got %+v", out)
	}
	if !a.Cash.Equal(d(9505)) {
		t.Errorf("cash = %s, want 9505", a.Cash)
	}

	bids, asks := e.Snapshot()
	if len(asks) != 0 || len(bids) != 1 {
		t.Fatalf("expected one bid level, got %d/%d", len(bids), len(asks))
	}
	if !bids[0].Price.Equal(d(99)) || bids[0].Size != 5 {
		t.Errorf("resting level %s x %d, want 99 x 5", bids[0].Price, bids[0].Size)
	}
	if entry, ok := a.Lookup(out.RestingOrderID); !ok || entry.Size != 5 {
		t.Errorf("account active entry missing or wrong: %+v", entry)
	}
}

func TestExchange_FullAggressiveFill_PriceImprovement(t *testing.T) {
	e := newTestVenue(t, book.SelfMatchAllow)
	a := mustRegister(t, e, "a", 0, 10)
	b := mustRegister(t, e, "b", 10000, 0)

	if _, err := e.SubmitLimit("a", domain.Ask, d(100), 10); err != nil {
		t.Fatalf("ask: %v", err)
	}
	out, err := e.SubmitLimit("b", domain.Bid, d(101), 2)
	if err != nil {
		t.Fatalf("bid: %v", err)
	}

	if out.FilledQty != 2 || out.Resting {
		t.Fatalf("expected full fill of 2, got %+v", out)
	}
	if !out.AvgPrice.Equal(d(100)) {
		t.Errorf("avg price = %s, want 100 (maker's price)", out.AvgPrice)
	}
	// Maker sold 2 at 100.
	if !a.Cash.Equal(d(200)) {
		t.Errorf("maker cash = %s, want 200", a.Cash)
	}
	// Taker paid 200, not 202: price improvement refunded.
	if !b.Cash.Equal(d(9800)) {
		t.Errorf("taker cash = %s, want 9800", b.Cash)
	}
	if !b.Inventory.Equal(d(2)) {
		t.Errorf("taker inventory = %s, want 2", b.Inventory)
	}

	_, asks := e.Snapshot()
	if len(asks) != 1 || !asks[0].Price.Equal(d(100)) || asks[0].Size != 8 {
		t.Fatalf("ask level after fill = %+v, want 100 x 8", asks)
	}
}

func TestExchange_SweepAcrossLevels(t *testing.T) {
	e := newTestVenue(t, book.SelfMatchAllow)
	m := mustRegister(t, e, "m", 0, 10)
	taker := mustRegister(t, e, "t", 10000, 0)

	if _, err := e.SubmitLimit("m", domain.Ask, d(100), 2); err != nil {
		t.Fatalf("ask 100: %v", err)
	}
	if _, err := e.SubmitLimit("m", domain.Ask, d(101), 2); err != nil {
		t.Fatalf("ask 101: %v", err)
	}

	out, err := e.SubmitLimit("t", domain.Bid, d(102), 5)
	if err != nil {
		t.Fatalf("bid: %v", err)
	}
	if out.FilledQty != 4 || !out.Resting {
		t.Fatalf("expected 4 filled with remainder resting, got %+v", out)
	}

	// Maker earned 100*2 + 101*2 = 402.
	if !m.Cash.Equal(d(402)) {
		t.Errorf("maker cash = %s, want 402", m.Cash)
	}
	// Taker: 402 paid plus 102 committed for the resting remainder = 504.
	if !taker.Cash.Equal(d(9496)) {
		t.Errorf("taker cash = %s, want 9496 (10000 - 504)", taker.Cash)
	}
	if !taker.Inventory.Equal(d(4)) {
		t.Errorf("taker inventory = %s, want 4", taker.Inventory)
	}

	bids, asks := e.Snapshot()
	if len(asks) != 0 {
		t.Errorf("ask side should be swept, got %+v", asks)
	}
	if len(bids) != 1 || !bids[0].Price.Equal(d(102)) || bids[0].Size != 1 {
		t.Errorf("remainder level = %+v, want 102 x 1", bids)
	}
}

func TestExchange_InsufficientCollateral(t *testing.T) {
	e := newTestVenue(t, book.SelfMatchAllow)
	a := mustRegister(t, e, "a", 100, 3)

	if _, err := e.SubmitLimit("a", domain.Bid, d(99), 5); !errors.Is(err, domain.ErrInsufficientCollateral) {
		t.Fatalf("bid err = %v, want ErrInsufficientCollateral", err)
	}
	if _, err := e.SubmitLimit("a", domain.Ask, d(99), 5); !errors.Is(err, domain.ErrInsufficientCollateral) {
		t.Fatalf("ask err = %v, want ErrInsufficientCollateral", err)
	}
	// No state change on rejection.
	if !a.Cash.Equal(d(100)) || !a.Inventory.Equal(d(3)) {
		t.Errorf("balances changed on rejection: cash=%s inventory=%s", a.Cash, a.Inventory)
	}
	if bids, asks := e.Snapshot(); len(bids)+len(asks) != 0 {
		t.Error("book changed on rejection")
	}
}

func TestExchange_MarketOrder_EmptyBook(t *testing.T) {
	e := newTestVenue(t, book.SelfMatchAllow)
	a := mustRegister(t, e, "a", 1000, 10)

	if _, err := e.SubmitMarket("a", domain.Bid, 5); !errors.Is(err, domain.ErrInsufficientLiquidity) {
		t.Fatalf("buy err = %v, want ErrInsufficientLiquidity", err)
	}
	if _, err := e.SubmitMarket("a", domain.Ask, 5); !errors.Is(err, domain.ErrInsufficientLiquidity) {
		t.Fatalf("sell err = %v, want ErrInsufficientLiquidity", err)
	}
	if !a.Cash.Equal(d(1000)) || !a.Inventory.Equal(d(10)) {
		t.Errorf("balances changed: cash=%s inventory=%s", a.Cash, a.Inventory)
	}
}

func TestExchange_MarketOrder_AllOrNothing(t *testing.T) {
	e := newTestVenue(t, book.SelfMatchAllow)
	m := mustRegister(t, e, "m", 0, 10)
	taker := mustRegister(t, e, "t", 10000, 0)

	if _, err := e.SubmitLimit("m", domain.Ask, d(100), 3); err != nil {
		t.Fatalf("ask: %v", err)
	}

	if _, err := e.SubmitMarket("t", domain.Bid, 5); !errors.Is(err, domain.ErrInsufficientLiquidity) {
		t.Fatalf("err = %v, want ErrInsufficientLiquidity on exhaustion", err)
	}
	// Rejected before any partial settlement.
	if !m.Cash.Equal(d(0)) || !taker.Cash.Equal(d(10000)) {
		t.Errorf("balances changed on rejected market order")
	}
	if _, asks := e.Snapshot(); len(asks) != 1 || asks[0].Size != 3 {
		t.Errorf("book changed on rejected market order: %+v", asks)
	}

	out, err := e.SubmitMarket("t", domain.Bid, 3)
	if err != nil {
		t.Fatalf("exact-size market order failed: %v", err)
	}
	if out.FilledQty != 3 || !out.AvgPrice.Equal(d(100)) {
		t.Errorf("outcome = %+v, want 3 @ 100", out)
	}
	if !taker.Cash.Equal(d(9700)) || !taker.Inventory.Equal(d(3)) {
		t.Errorf("taker settled wrong: cash=%s inventory=%s", taker.Cash, taker.Inventory)
	}
}

func TestExchange_MarketSell(t *testing.T) {
	e := newTestVenue(t, book.SelfMatchAllow)
	buyer := mustRegister(t, e, "b", 10000, 0)
	seller := mustRegister(t, e, "s", 0, 10)

	if _, err := e.SubmitLimit("b", domain.Bid, d(98), 4); err != nil {
		t.Fatalf("bid: %v", err)
	}

	out, err := e.SubmitMarket("s", domain.Ask, 4)
	if err != nil {
		t.Fatalf("market sell: %v", err)
	}
	if out.FilledQty != 4 || !out.AvgPrice.Equal(d(98)) {
		t.Fatalf("outcome = %+v, want 4 @ 98", out)
	}
	if !seller.Cash.Equal(d(392)) || !seller.Inventory.Equal(d(6)) {
		t.Errorf("seller: cash=%s inventory=%s, want 392/6", seller.Cash, seller.Inventory)
	}
	// Buyer's cash was locked at submission; now it owns the inventory.
	if !buyer.Inventory.Equal(d(4)) || !buyer.Cash.Equal(d(9608)) {
		t.Errorf("buyer: cash=%s inventory=%s, want 9608/4", buyer.Cash, buyer.Inventory)
	}
}

func TestExchange_MarketBuy_NegativeCashWarning(t *testing.T) {
	e := newTestVenue(t, book.SelfMatchAllow)
	mustRegister(t, e, "m", 0, 20)
	taker := mustRegister(t, e, "t", 200, 0)

	// Cheap best quote keeps the safety estimate low (10 * 1.5 * 10 = 150),
	// but the sweep runs deep into the 100-priced level.
	if _, err := e.SubmitLimit("m", domain.Ask, d(10), 1); err != nil {
		t.Fatalf("ask 10: %v", err)
	}
	if _, err := e.SubmitLimit("m", domain.Ask, d(100), 9); err != nil {
		t.Fatalf("ask 100: %v", err)
	}

	out, err := e.SubmitMarket("t", domain.Bid, 10)
	if err != nil {
		t.Fatalf("market buy: %v", err)
	}
	if !out.CashNegative {
		t.Error("expected negative-cash warning on the outcome")
	}
	if out.FilledQty != 10 {
		t.Errorf("filled = %d, want 10 (trade stands despite the warning)", out.FilledQty)
	}
	// 10*1 + 100*9 = 910; 200 - 910 = -710.
	if !taker.Cash.Equal(d(-710)) {
		t.Errorf("taker cash = %s, want -710", taker.Cash)
	}
	if !taker.Inventory.Equal(d(10)) {
		t.Errorf("taker inventory = %s, want 10", taker.Inventory)
	}
}

func TestExchange_Cancel(t *testing.T) {
	e := newTestVenue(t, book.SelfMatchAllow)
	a := mustRegister(t, e, "a", 10000, 0)

	out, err := e.SubmitLimit("a", domain.Bid, d(99), 5)
	if err != nil {
		t.Fatalf("SubmitLimit: %v", err)
	}

	if err := e.Cancel("a", out.RestingOrderID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !a.Cash.Equal(d(10000)) {
		t.Errorf("cash after cancel = %s, want full refund to 10000", a.Cash)
	}
	if bids, _ := e.Snapshot(); len(bids) != 0 {
		t.Error("book still holds the cancelled order")
	}

	// Idempotent: a second cancel finds nothing and changes nothing.
	if err := e.Cancel("a", out.RestingOrderID); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("second cancel err = %v, want ErrOrderNotFound", err)
	}
	if !a.Cash.Equal(d(10000)) {
		t.Errorf("cash changed on idempotent cancel: %s", a.Cash)
	}
}

func TestExchange_CancelAfterPartialFill_RefundsRemainder(t *testing.T) {
	e := newTestVenue(t, book.SelfMatchAllow)
	m := mustRegister(t, e, "m", 0, 10)
	mustRegister(t, e, "t", 10000, 0)

	out, err := e.SubmitLimit("m", domain.Ask, d(100), 10)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if _, err := e.SubmitLimit("t", domain.Bid, d(100), 4); err != nil {
		t.Fatalf("bid: %v", err)
	}

	// 4 filled; cancelling refunds only the 6 still resting.
	if err := e.Cancel("m", out.RestingOrderID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !m.Inventory.Equal(d(6)) {
		t.Errorf("maker inventory = %s, want 6 back (4 sold)", m.Inventory)
	}
	if !m.Cash.Equal(d(400)) {
		t.Errorf("maker cash = %s, want 400", m.Cash)
	}
}

func TestExchange_CancelAfterFullFill_OrderNotFound(t *testing.T) {
	e := newTestVenue(t, book.SelfMatchAllow)
	mustRegister(t, e, "m", 0, 10)
	mustRegister(t, e, "t", 10000, 0)

	out, err := e.SubmitLimit("m", domain.Ask, d(100), 3)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if _, err := e.SubmitLimit("t", domain.Bid, d(100), 3); err != nil {
		t.Fatalf("bid: %v", err)
	}

	// Settlement removed the account entry along with the book order.
	if err := e.Cancel("m", out.RestingOrderID); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("cancel err = %v, want ErrOrderNotFound after full fill", err)
	}
}

func TestExchange_NoCrossedBook(t *testing.T) {
	e := newTestVenue(t, book.SelfMatchAllow)
	mustRegister(t, e, "a", 100000, 100)
	mustRegister(t, e, "b", 100000, 100)

	submissions := []struct {
		agent string
		side  domain.Side
		price float64
		size  int64
	}{
		{"a", domain.Ask, 101, 5},
		{"b", domain.Bid, 99, 5},
		{"a", domain.Bid, 102, 3}, // crosses, must sweep before resting
		{"b", domain.Ask, 98, 4},  // crosses the other way
		{"a", domain.Bid, 97, 2},
		{"b", domain.Ask, 103, 2},
	}
	for _, s := range submissions {
		if _, err := e.SubmitLimit(s.agent, s.side, d(s.price), s.size); err != nil {
			t.Fatalf("submit %+v: %v", s, err)
		}
		st := e.GetStats()
		if st.BestBid != nil && st.BestAsk != nil && !st.BestBid.LessThan(*st.BestAsk) {
			t.Fatalf("crossed book after %+v: bid=%s ask=%s", s, st.BestBid, st.BestAsk)
		}
	}
}

func TestExchange_Conservation(t *testing.T) {
	e := newTestVenue(t, book.SelfMatchAllow)
	mustRegister(t, e, "a", 10000, 100)
	mustRegister(t, e, "b", 20000, 50)
	mustRegister(t, e, "c", 5000, 200)

	cashBefore, invBefore := e.Totals()

	if _, err := e.SubmitLimit("a", domain.Ask, d(100), 30); err != nil {
		t.Fatal(err)
	}
	if _, err := e.SubmitLimit("b", domain.Bid, d(99.5), 20); err != nil {
		t.Fatal(err)
	}
	out, err := e.SubmitLimit("c", domain.Bid, d(101), 10)
	if err != nil {
		t.Fatal(err)
	}
	if out.FilledQty != 10 {
		t.Fatalf("crossing bid should fill 10, got %d", out.FilledQty)
	}
	if _, err := e.SubmitMarket("b", domain.Ask, 5); err != nil {
		t.Fatal(err)
	}
	if err := e.Cancel("a", 1); err != nil {
		t.Fatal(err)
	}

	cashAfter, invAfter := e.Totals()
	if !cashBefore.Equal(cashAfter) {
		t.Errorf("cash leaked: before=%s after=%s", cashBefore, cashAfter)
	}
	if !invBefore.Equal(invAfter) {
		t.Errorf("inventory leaked: before=%s after=%s", invBefore, invAfter)
	}
}

func TestExchange_SelfMatch_Allow(t *testing.T) {
	e := newTestVenue(t, book.SelfMatchAllow)
	a := mustRegister(t, e, "a", 10000, 10)

	if _, err := e.SubmitLimit("a", domain.Ask, d(100), 5); err != nil {
		t.Fatal(err)
	}
	out, err := e.SubmitLimit("a", domain.Bid, d(100), 5)
	if err != nil {
		t.Fatalf("self-matching bid: %v", err)
	}
	if out.FilledQty != 5 {
		t.Fatalf("filled = %d, want 5", out.FilledQty)
	}
	// Both legs settle to the same account: everything nets out.
	if !a.Cash.Equal(d(10000)) || !a.Inventory.Equal(d(10)) {
		t.Errorf("self-match should net to zero: cash=%s inventory=%s", a.Cash, a.Inventory)
	}
	if len(a.Active) != 0 {
		t.Errorf("active orders = %d, want 0", len(a.Active))
	}
}

func TestExchange_SelfMatch_CancelResting(t *testing.T) {
	e := newTestVenue(t, book.SelfMatchCancelResting)
	a := mustRegister(t, e, "a", 10000, 10)
	m := mustRegister(t, e, "m", 0, 10)

	if _, err := e.SubmitLimit("a", domain.Ask, d(100), 5); err != nil {
		t.Fatal(err)
	}
	if _, err := e.SubmitLimit("m", domain.Ask, d(100), 5); err != nil {
		t.Fatal(err)
	}

	out, err := e.SubmitLimit("a", domain.Bid, d(100), 5)
	if err != nil {
		t.Fatalf("bid: %v", err)
	}
	// Own resting ask popped and refunded, fill comes from the other maker.
	if out.FilledQty != 5 {
		t.Fatalf("filled = %d, want 5", out.FilledQty)
	}
	if !a.Inventory.Equal(d(15)) {
		t.Errorf("inventory = %s, want 15 (5 unlocked + 5 refunded + 5 bought)", a.Inventory)
	}
	if !a.Cash.Equal(d(9500)) {
		t.Errorf("cash = %s, want 9500", a.Cash)
	}
	if !m.Cash.Equal(d(500)) {
		t.Errorf("other maker cash = %s, want 500", m.Cash)
	}
	if len(a.Active) != 0 {
		t.Errorf("active orders = %d, want 0", len(a.Active))
	}
}

func TestExchange_UnknownAgent(t *testing.T) {
	e := newTestVenue(t, book.SelfMatchAllow)
	if _, err := e.SubmitLimit("ghost", domain.Bid, d(99), 1); !errors.Is(err, domain.ErrUnknownAgent) {
		t.Fatalf("err = %v, want ErrUnknownAgent", err)
	}
	if err := e.Cancel("ghost", 1); !errors.Is(err, domain.ErrUnknownAgent) {
		t.Fatalf("cancel err = %v, want ErrUnknownAgent", err)
	}
}

func TestExchange_InvalidOrder(t *testing.T) {
	e := newTestVenue(t, book.SelfMatchAllow)
	mustRegister(t, e, "a", 1000, 10)

	if _, err := e.SubmitLimit("a", domain.Bid, d(0), 1); !errors.Is(err, domain.ErrInvalidOrder) {
		t.Fatalf("zero price err = %v, want ErrInvalidOrder", err)
	}
	if _, err := e.SubmitLimit("a", domain.Bid, d(99), 0); !errors.Is(err, domain.ErrInvalidOrder) {
		t.Fatalf("zero size err = %v, want ErrInvalidOrder", err)
	}
	if _, err := e.SubmitMarket("a", domain.Bid, -1); !errors.Is(err, domain.ErrInvalidOrder) {
		t.Fatalf("negative size err = %v, want ErrInvalidOrder", err)
	}
}
