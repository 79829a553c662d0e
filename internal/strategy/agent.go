// Package strategy contains order-generating agent models. Agents are
// external collaborators of the venue: they read its statistics and decide
// price and side, but hold no matching logic.
package strategy

import (
	"github.com/shopspring/decimal"

	"matchbook/internal/domain"
	"matchbook/internal/exchange"
)

// ActionKind discriminates agent decisions.
type ActionKind int

const (
	ActionLimit ActionKind = iota + 1
	ActionMarket
)

// Action is one order decision made by an agent.
type Action struct {
	Kind  ActionKind
	Side  domain.Side
	Price decimal.Decimal // limit orders only
	Size  int64
}

// Agent decides the next order from the venue's current statistics view.
// It is called synchronously by the simulation driver.
type Agent interface {
	// ID returns the agent's registered id.
	ID() string

	// Decide returns the next action, or nil to sit out this round.
	Decide(st exchange.Stats) *Action
}
