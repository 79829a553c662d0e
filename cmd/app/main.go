package main

import (
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/shopspring/decimal"

	"matchbook/internal/app"
	"matchbook/internal/engine"
	"matchbook/internal/event"
	"matchbook/internal/feed"
	"matchbook/internal/strategy"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// Pprof server (localhost only)
	go func() {
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("pprof server failed", slog.Any("error", err))
		}
	}()

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize("configs/config.yaml"); err != nil {
		slog.Error("bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	cfg := bootstrap.Config

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Feed server: depth/trade/stats broadcast for external consumers
	var feedSrv *feed.Server
	if cfg.Feed.Enabled {
		feedSrv = feed.NewServer(cfg.Feed.ListenAddr, bootstrap.DepthInterval(),
			bootstrap.Venue, bootstrap.Metrics, slog.Default())
		bootstrap.AddTradeSink(feedSrv.PublishTrade)
		feedSrv.Start(ctx)
		defer feedSrv.Shutdown(context.Background())
	}

	// Sequencer: the single-writer hotpath
	seq := engine.NewSequencer(1024, bootstrap.Venue, bootstrap.Journal, bootstrap.Metrics, slog.Default())
	go seq.Run(ctx)
	slog.Info("sequencer started")

	if cfg.Sim.Agents > 0 && cfg.Sim.Orders > 0 {
		runSimulation(ctx, bootstrap, seq)
	}

	<-ctx.Done()
	slog.Info("shutting down")
}

// runSimulation registers a population of agents and drives their order
// intents through the sequencer one at a time.
func runSimulation(ctx context.Context, bootstrap *app.Bootstrap, seq *engine.Sequencer) {
	cfg := bootstrap.Config
	rng := rand.New(rand.NewSource(cfg.Sim.Seed))

	agents := buildPopulation(bootstrap, rng)
	if len(agents) == 0 {
		return
	}

	cashBefore, invBefore := bootstrap.Venue.Totals()

	reply := make(chan event.Result, 1)
	nextSeq := uint64(1)
	for i := 0; i < cfg.Sim.Orders; i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		agent := agents[rng.Intn(len(agents))]
		action := agent.Decide(bootstrap.Venue.GetStats())
		if action == nil {
			continue
		}

		in := event.AcquireOrderIntent()
		in.Seq = nextSeq
		in.AgentID = agent.ID()
		in.Side = action.Side
		in.Size = action.Size
		in.Reply = reply
		if action.Kind == strategy.ActionLimit {
			in.Kind = event.KindLimit
			in.Price = action.Price
		} else {
			in.Kind = event.KindMarket
		}

		select {
		case seq.Inbox() <- in:
		case <-ctx.Done():
			return
		}
		res := <-reply
		event.ReleaseOrderIntent(in)
		nextSeq++

		if res.Err != nil {
			slog.Debug("intent rejected", slog.String("agent", agent.ID()), slog.Any("error", res.Err))
		}
	}

	cashAfter, invAfter := bootstrap.Venue.Totals()
	slog.Info("simulation finished",
		slog.Int("orders", cfg.Sim.Orders),
		slog.String("cash_before", cashBefore.String()),
		slog.String("cash_after", cashAfter.String()),
		slog.String("inventory_before", invBefore.String()),
		slog.String("inventory_after", invAfter.String()),
		slog.Any("metrics", bootstrap.Metrics.Snapshot()))

	if !cashBefore.Equal(cashAfter) || !invBefore.Equal(invAfter) {
		slog.Error("value conservation violated",
			slog.String("cash_delta", cashAfter.Sub(cashBefore).String()),
			slog.String("inventory_delta", invAfter.Sub(invBefore).String()))
	}
}

// buildPopulation registers a mixed population: half pure random liquidity,
// half liquidity-provider/taker agents with gaussian biases.
func buildPopulation(bootstrap *app.Bootstrap, rng *rand.Rand) []strategy.Agent {
	cfg := bootstrap.Config
	minShares, maxShares := cfg.Sim.MinShares, cfg.Sim.MaxShares
	if maxShares <= 0 {
		minShares, maxShares = 100, 200
	}

	var agents []strategy.Agent
	for i := 0; i < cfg.Sim.Agents; i++ {
		id := agentID(i)
		inventory := minShares + rng.Float64()*(maxShares-minShares)
		cash := inventory * cfg.Sim.RefPrice

		_, err := bootstrap.Venue.Register(id,
			decimal.NewFromFloat(cash).Round(6),
			decimal.NewFromFloat(inventory).Round(6))
		if err != nil {
			slog.Error("registration failed", slog.String("agent", id), slog.Any("error", err))
			continue
		}

		if i%2 == 0 {
			agents = append(agents, strategy.NewRandomAgent(id, rng.Int63()))
		} else {
			agents = append(agents, strategy.NewLPLTAgent(id, rng.Int63(),
				rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()))
		}
	}
	return agents
}

func agentID(i int) string {
	return "agent_" + strconv.Itoa(i+1)
}
