package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// RestingEntry is the account's record of one of its resting orders.
// It is a copy of the committed terms (side, price, size at rest), keyed by
// order id. It is never a live alias into the book queue, so partial fills in
// the book cannot corrupt the account's view of what was locked.
type RestingEntry struct {
	Side  Side
	Price decimal.Decimal
	Size  int64 // committed size still resting in the book
}

// Account is a per-participant balance record. Mutated only by the Exchange,
// never by the book directly. Never deleted during a session.
type Account struct {
	AgentID   string
	Cash      decimal.Decimal
	Inventory decimal.Decimal

	// Active resting orders, order id -> committed terms.
	Active map[uint64]RestingEntry
}

// NewAccount creates an account with its initial endowment.
func NewAccount(agentID string, cash, inventory decimal.Decimal) *Account {
	return &Account{
		AgentID:   agentID,
		Cash:      cash,
		Inventory: inventory,
		Active:    make(map[uint64]RestingEntry),
	}
}

// CanCoverCash reports whether the account can lock the given cash amount.
func (a *Account) CanCoverCash(amount decimal.Decimal) bool {
	return a.Cash.GreaterThanOrEqual(amount)
}

// CanCoverInventory reports whether the account can lock the given quantity.
func (a *Account) CanCoverInventory(qty int64) bool {
	return a.Inventory.GreaterThanOrEqual(decimal.NewFromInt(qty))
}

// DebitCash removes cash from the account.
func (a *Account) DebitCash(amount decimal.Decimal) {
	a.Cash = a.Cash.Sub(amount)
}

// CreditCash adds cash to the account.
func (a *Account) CreditCash(amount decimal.Decimal) {
	a.Cash = a.Cash.Add(amount)
}

// DebitInventory removes quantity from the account's holdings.
func (a *Account) DebitInventory(qty int64) {
	a.Inventory = a.Inventory.Sub(decimal.NewFromInt(qty))
}

// CreditInventory adds quantity to the account's holdings.
func (a *Account) CreditInventory(qty int64) {
	a.Inventory = a.Inventory.Add(decimal.NewFromInt(qty))
}

// Rest records a newly resting order on the account. The collateral for it
// must already have been deducted.
func (a *Account) Rest(orderID uint64, side Side, price decimal.Decimal, size int64) {
	a.Active[orderID] = RestingEntry{Side: side, Price: price, Size: size}
}

// Fill shrinks the recorded resting size of an active order after a fill
// against it, deleting the entry once fully consumed. Returns an error if the
// account does not know the order or the fill exceeds the recorded size;
// either means book and account have diverged.
func (a *Account) Fill(orderID uint64, qty int64) error {
	entry, ok := a.Active[orderID]
	if !ok {
		return &ConsistencyError{
			Op:      "fill",
			AgentID: a.AgentID,
			OrderID: orderID,
			Detail:  "filled order not in account's active set",
		}
	}
	if qty > entry.Size {
		return &ConsistencyError{
			Op:      "fill",
			AgentID: a.AgentID,
			OrderID: orderID,
			Detail:  fmt.Sprintf("fill qty %d exceeds recorded resting size %d", qty, entry.Size),
		}
	}
	entry.Size -= qty
	if entry.Size == 0 {
		delete(a.Active, orderID)
	} else {
		a.Active[orderID] = entry
	}
	return nil
}

// Lookup returns the recorded terms of an active order.
func (a *Account) Lookup(orderID uint64) (RestingEntry, bool) {
	entry, ok := a.Active[orderID]
	return entry, ok
}

// Drop removes an active order record without touching balances. Used on
// cancel after the refund has been applied.
func (a *Account) Drop(orderID uint64) {
	delete(a.Active, orderID)
}
