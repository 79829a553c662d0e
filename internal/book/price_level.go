package book

import (
	"github.com/shopspring/decimal"

	"matchbook/internal/domain"
)

// priceLevel is a FIFO queue of orders at a single price. It is never kept
// in the book while empty.
type priceLevel struct {
	price decimal.Decimal

	queue []*domain.Order

	totalSize int64
}

func newPriceLevel(price decimal.Decimal) *priceLevel {
	return &priceLevel{price: price}
}

func (l *priceLevel) enqueue(o *domain.Order) {
	l.queue = append(l.queue, o)
	l.totalSize += o.Size
}

// head returns the earliest-arrived order without removing it.
func (l *priceLevel) head() *domain.Order {
	if len(l.queue) == 0 {
		return nil
	}
	return l.queue[0]
}

// popHead removes and returns the earliest-arrived order.
func (l *priceLevel) popHead() *domain.Order {
	if len(l.queue) == 0 {
		return nil
	}
	o := l.queue[0]
	l.queue = l.queue[1:]
	l.totalSize -= o.Size
	return o
}

// remove deletes the order with the given id, preserving the order of the
// rest. Returns false if the id is not queued at this level.
func (l *priceLevel) remove(orderID uint64) bool {
	for i, o := range l.queue {
		if o.ID == orderID {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			l.totalSize -= o.Size
			return true
		}
	}
	return false
}

// reduce shrinks the running depth after a partial fill of a queued order.
// The order itself keeps its queue position.
func (l *priceLevel) reduce(qty int64) {
	l.totalSize -= qty
}

func (l *priceLevel) empty() bool {
	return len(l.queue) == 0
}

func (l *priceLevel) size() int64 {
	return l.totalSize
}
