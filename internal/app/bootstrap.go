package app

import (
	"log/slog"
	"time"

	"matchbook/internal/book"
	"matchbook/internal/exchange"
	"matchbook/internal/infra"
	"matchbook/internal/infra/storage"
)

// Bootstrap orchestrates the application startup sequence.
type Bootstrap struct {
	Config  *infra.Config
	Journal *storage.Journal
	Metrics *infra.Metrics
	Venue   *exchange.Exchange

	sinks []func(exchange.TradeReport)
}

// NewBootstrap creates a new Bootstrap instance.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{Metrics: &infra.Metrics{}}
}

// AddTradeSink registers an additional consumer of settled trades. Safe to
// call after Initialize but before trading starts.
func (b *Bootstrap) AddTradeSink(sink func(exchange.TradeReport)) {
	b.sinks = append(b.sinks, sink)
}

// Initialize loads config, sets up logging, the journal and the venue.
func (b *Bootstrap) Initialize(configPath string) error {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)
	slog.Info("bootstrapping venue", slog.String("name", cfg.Venue.Name))

	if cfg.Journal.Enabled {
		journal, err := storage.NewJournal(cfg.Journal.Path)
		if err != nil {
			return err
		}
		b.Journal = journal
		slog.Info("journal initialized")
	}

	policy := book.SelfMatchAllow
	if cfg.Venue.SelfMatch == infra.SelfMatchCancelResting {
		policy = book.SelfMatchCancelResting
	}

	b.Venue = exchange.New(exchange.Config{
		SelfMatch:    policy,
		SafetyMargin: cfg.Venue.SafetyMargin,
		Logger:       logger,
		OnTrade:      b.publishTrade,
	})
	slog.Info("venue initialized",
		slog.String("self_match", cfg.Venue.SelfMatch),
		slog.String("safety_margin", cfg.Venue.SafetyMargin.String()))
	return nil
}

// publishTrade fans one settled trade out to metrics, the journal and any
// registered sinks.
func (b *Bootstrap) publishTrade(r exchange.TradeReport) {
	b.Metrics.RecordTrade(r.Qty)

	if b.Journal != nil {
		rec := &storage.TradeRecord{
			TakerID:      r.TakerID,
			TakerSide:    r.TakerSide.String(),
			MakerID:      r.MakerID,
			MakerOrderID: r.MakerOrderID,
			Price:        r.Price.String(),
			Qty:          r.Qty,
			ExecutedAt:   r.Ts,
		}
		if err := b.Journal.AppendTrade(rec); err != nil {
			slog.Error("trade journal append failed", slog.Any("error", err))
		}
	}

	for _, sink := range b.sinks {
		sink(r)
	}
}

// DepthInterval returns the configured feed broadcast interval.
func (b *Bootstrap) DepthInterval() time.Duration {
	return time.Duration(b.Config.Feed.DepthIntervalMS) * time.Millisecond
}
