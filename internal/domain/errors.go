package domain

import (
	"errors"
	"fmt"
)

// Recoverable validation failures. Returned to the caller with no state
// change; match with errors.Is.
var (
	// ErrDuplicateAgent is returned when registering an agent id twice.
	ErrDuplicateAgent = errors.New("agent already registered")

	// ErrInsufficientCollateral is returned when an account cannot cover the
	// worst-case cash or inventory requirement of an order.
	ErrInsufficientCollateral = errors.New("insufficient collateral")

	// ErrInsufficientLiquidity is returned when a market order cannot be
	// fully filled against the opposing side.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")

	// ErrOrderNotFound is returned when a cancel references an unknown or
	// already settled order id.
	ErrOrderNotFound = errors.New("order not found")

	// ErrUnknownAgent is returned when an operation names an unregistered
	// taker.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrInvalidOrder is returned for non-positive price or size.
	ErrInvalidOrder = errors.New("invalid order")
)

// ConsistencyError reports that the book and an account disagree about a
// resting order. It means capital accounting is wrong; the operation that
// hits it must abort without committing partial settlement.
type ConsistencyError struct {
	Op      string
	AgentID string
	OrderID uint64
	Detail  string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency fault in %s: agent=%s order=%d: %s",
		e.Op, e.AgentID, e.OrderID, e.Detail)
}

// CounterpartyError reports a trade against a maker id absent from the
// registry. Fatal data-integrity condition: settling would lose value.
type CounterpartyError struct {
	MakerID string
	OrderID uint64
}

func (e *CounterpartyError) Error() string {
	return fmt.Sprintf("counterparty not registered: maker=%s order=%d", e.MakerID, e.OrderID)
}

// IsFatal reports whether an error indicates a broken invariant rather than
// an ordinary validation failure.
func IsFatal(err error) bool {
	var ce *ConsistencyError
	var cpe *CounterpartyError
	return errors.As(err, &ce) || errors.As(err, &cpe)
}
