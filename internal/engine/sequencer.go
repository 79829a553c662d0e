// Package engine runs the venue's single-writer hotpath: every order intent
// is processed one at a time, so collateral reservation, matching and
// settlement always observe one consistent view of balances and depth.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"matchbook/internal/domain"
	"matchbook/internal/event"
	"matchbook/internal/exchange"
	"matchbook/internal/infra"
	"matchbook/internal/infra/storage"
)

// Sequencer is the core single-threaded intent processor.
type Sequencer struct {
	inbox   chan *event.OrderIntent
	venue   *exchange.Exchange
	journal *storage.Journal // optional
	metrics *infra.Metrics
	nextSeq uint64
	log     *slog.Logger
}

// NewSequencer creates a new sequencer instance. journal may be nil.
func NewSequencer(inboxSize int, venue *exchange.Exchange, journal *storage.Journal, metrics *infra.Metrics, log *slog.Logger) *Sequencer {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = &infra.Metrics{}
	}
	return &Sequencer{
		inbox:   make(chan *event.OrderIntent, inboxSize),
		venue:   venue,
		journal: journal,
		metrics: metrics,
		nextSeq: 1,
		log:     log,
	}
}

// Inbox returns the intent channel. External collaborators send here.
func (s *Sequencer) Inbox() chan<- *event.OrderIntent {
	return s.inbox
}

// Metrics returns the sequencer's metrics.
func (s *Sequencer) Metrics() *infra.Metrics {
	return s.metrics
}

// Run starts the main loop. This MUST run in a single goroutine.
func (s *Sequencer) Run(ctx context.Context) {
	s.log.Info("sequencer started (single-writer hotpath)")

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			s.DumpState("panic_dump.json")
			// Halt policy: a broken invariant means capital accounting can
			// no longer be trusted.
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sequencer stopping")
			return
		case in := <-s.inbox:
			s.processIntent(in)
		}
	}
}

func (s *Sequencer) processIntent(in *event.OrderIntent) {
	// Sequence gap check (halt policy)
	if in.Seq != s.nextSeq {
		panic(fmt.Sprintf("SEQUENCE_GAP_DETECTED: expected %d, got %d", s.nextSeq, in.Seq))
	}

	start := time.Now()
	var res event.Result

	switch in.Kind {
	case event.KindLimit:
		res.Limit, res.Err = s.venue.SubmitLimit(in.AgentID, in.Side, in.Price, in.Size)
	case event.KindMarket:
		res.Market, res.Err = s.venue.SubmitMarket(in.AgentID, in.Side, in.Size)
	case event.KindCancel:
		res.Err = s.venue.Cancel(in.AgentID, in.OrderID)
	default:
		res.Err = fmt.Errorf("unknown intent kind %d", in.Kind)
	}

	if res.Err != nil && domain.IsFatal(res.Err) {
		// Surfaced loudly rather than swallowed; partial settlement was not
		// committed by the venue.
		panic(fmt.Sprintf("INVARIANT_VIOLATION: %v", res.Err))
	}

	s.record(in, res, time.Since(start))

	if in.Reply != nil {
		in.Reply <- res
	}
	s.nextSeq++
}

// record journals the intent outcome and updates metrics.
func (s *Sequencer) record(in *event.OrderIntent, res event.Result, elapsed time.Duration) {
	outcome := "ACCEPTED"
	switch {
	case res.Err != nil:
		outcome = res.Err.Error()
		s.metrics.RecordRejected()
	case in.Kind == event.KindCancel:
		s.metrics.RecordCancel()
	default:
		s.metrics.RecordAccepted(elapsed.Nanoseconds())
	}

	if s.journal == nil {
		return
	}
	rec := &storage.OrderEventRecord{
		AgentID:   in.AgentID,
		Kind:      in.Kind.String(),
		Side:      in.Side.String(),
		Price:     in.Price.String(),
		Size:      in.Size,
		Outcome:   outcome,
		CreatedAt: time.Now(),
	}
	if err := s.journal.AppendOrderEvent(rec); err != nil {
		s.log.Error("journal append failed", slog.Any("error", err))
	}
}

// DumpState writes the venue's book and stats to a file (for post-mortem).
func (s *Sequencer) DumpState(filename string) {
	s.log.Info("dumping venue state", slog.String("file", filename))

	bids, asks := s.venue.Snapshot()
	data := struct {
		NextSeq uint64                `json:"next_seq"`
		Bids    interface{}           `json:"bids"`
		Asks    interface{}           `json:"asks"`
		Metrics infra.MetricsSnapshot `json:"metrics"`
	}{
		NextSeq: s.nextSeq,
		Bids:    bids,
		Asks:    asks,
		Metrics: s.metrics.Snapshot(),
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		s.log.Error("failed to marshal state", slog.Any("error", err))
		return
	}
	if err := os.WriteFile(filename, b, 0644); err != nil {
		s.log.Error("failed to write state dump", slog.Any("error", err))
	}
}
