package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"matchbook/internal/domain"
	"matchbook/internal/event"
	"matchbook/internal/exchange"
)

func newTestSequencer(t *testing.T) (*Sequencer, *exchange.Exchange) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	venue := exchange.New(exchange.Config{Logger: logger})
	return NewSequencer(16, venue, nil, nil, logger), venue
}

func submit(t *testing.T, s *Sequencer, in *event.OrderIntent) event.Result {
	t.Helper()
	reply := make(chan event.Result, 1)
	in.Reply = reply
	select {
	case s.Inbox() <- in:
	case <-time.After(time.Second):
		t.Fatal("inbox send timed out")
	}
	select {
	case res := <-reply:
		return res
	case <-time.After(time.Second):
		t.Fatal("reply timed out")
		return event.Result{}
	}
}

func TestSequencer_ProcessesIntentsInOrder(t *testing.T) {
	s, venue := newTestSequencer(t)
	if _, err := venue.Register("m", decimal.Zero, decimal.NewFromInt(10)); err != nil {
		t.Fatal(err)
	}
	if _, err := venue.Register("t", decimal.NewFromInt(10000), decimal.Zero); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	res := submit(t, s, &event.OrderIntent{
		Seq: 1, AgentID: "m", Kind: event.KindLimit,
		Side: domain.Ask, Price: decimal.NewFromInt(100), Size: 5,
	})
	if res.Err != nil {
		t.Fatalf("ask intent: %v", res.Err)
	}

	res = submit(t, s, &event.OrderIntent{
		Seq: 2, AgentID: "t", Kind: event.KindMarket,
		Side: domain.Bid, Size: 5,
	})
	if res.Err != nil {
		t.Fatalf("market intent: %v", res.Err)
	}
	if res.Market.FilledQty != 5 {
		t.Errorf("filled = %d, want 5", res.Market.FilledQty)
	}

	m := s.Metrics().Snapshot()
	if m.OrdersAccepted != 2 {
		t.Errorf("accepted = %d, want 2", m.OrdersAccepted)
	}
}

func TestSequencer_RejectionsAreRecoverable(t *testing.T) {
	s, venue := newTestSequencer(t)
	if _, err := venue.Register("a", decimal.NewFromInt(10), decimal.Zero); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	res := submit(t, s, &event.OrderIntent{
		Seq: 1, AgentID: "a", Kind: event.KindLimit,
		Side: domain.Bid, Price: decimal.NewFromInt(100), Size: 5,
	})
	if !errors.Is(res.Err, domain.ErrInsufficientCollateral) {
		t.Fatalf("err = %v, want ErrInsufficientCollateral", res.Err)
	}

	// The loop keeps running after an ordinary rejection.
	res = submit(t, s, &event.OrderIntent{
		Seq: 2, AgentID: "a", Kind: event.KindCancel, OrderID: 99,
	})
	if !errors.Is(res.Err, domain.ErrOrderNotFound) {
		t.Fatalf("err = %v, want ErrOrderNotFound", res.Err)
	}

	m := s.Metrics().Snapshot()
	if m.OrdersRejected != 2 {
		t.Errorf("rejected = %d, want 2", m.OrdersRejected)
	}
}

func TestSequencer_SequenceGapHalts(t *testing.T) {
	s, _ := newTestSequencer(t)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on sequence gap")
		}
	}()
	s.processIntent(&event.OrderIntent{Seq: 5, Kind: event.KindCancel})
}
