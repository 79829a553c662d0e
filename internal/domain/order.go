package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the closed two-variant order side tag.
type Side int

const (
	Bid Side = iota
	Ask
)

// String returns the string representation of Side.
func (s Side) String() string {
	switch s {
	case Bid:
		return "BID"
	case Ask:
		return "ASK"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

// Order is a resting commitment in the book. It is owned exclusively by the
// price level queue it sits in; accounts reference it by id only, never by
// pointer (partial fills mutate Size in place).
type Order struct {
	ID      uint64
	AgentID string
	Side    Side
	Price   decimal.Decimal
	Size    int64  // remaining size, decreases on partial fill
	Seq     uint64 // arrival sequence for FIFO tie-break
}

// Trade is the atomic unit of matched value. Produced by the book, consumed
// exactly once by settlement. MakerOrderID lets settlement keep the maker
// account's active-order index in step with the book.
type Trade struct {
	MakerID      string
	MakerOrderID uint64
	Price        decimal.Decimal
	Qty          int64
	Ts           time.Time
}

// Value returns Price * Qty.
func (t Trade) Value() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Qty))
}
