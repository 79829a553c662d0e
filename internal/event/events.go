package event

import (
	"github.com/shopspring/decimal"

	"matchbook/internal/domain"
	"matchbook/internal/exchange"
)

// Kind discriminates order intents.
type Kind int

const (
	KindLimit Kind = iota + 1
	KindMarket
	KindCancel
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindLimit:
		return "LIMIT"
	case KindMarket:
		return "MARKET"
	case KindCancel:
		return "CANCEL"
	default:
		return "UNKNOWN"
	}
}

// Result is what the sequencer sends back for one processed intent.
type Result struct {
	Limit  exchange.LimitOutcome
	Market exchange.MarketOutcome
	Err    error
}

// OrderIntent is a request from a collaborator (agent, API, test harness)
// to be serialized through the sequencer. Reply, when non-nil, receives
// exactly one Result.
type OrderIntent struct {
	Seq     uint64
	AgentID string
	Kind    Kind
	Side    domain.Side
	Price   decimal.Decimal
	Size    int64
	OrderID uint64 // cancel target

	Reply chan Result
}
