package strategy

import (
	"math"
	"math/rand"

	"github.com/shopspring/decimal"

	"matchbook/internal/domain"
	"matchbook/internal/exchange"
)

// Defaults for the zero-intelligence models.
const (
	paretoShape  = 1.8
	tickScale    = 0.5
	maxOrderSize = 10
	fallbackMid  = 100.0
	fallbackSprd = 0.5
)

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// pareto draws from a Pareto(shape) distribution with support [0, inf).
func pareto(r *rand.Rand, shape float64) float64 {
	u := r.Float64()
	return math.Pow(1-u, -1/shape) - 1
}

// midAndSpread reads the stats view, falling back to reference values on an
// empty book so agents can seed initial liquidity.
func midAndSpread(st exchange.Stats) (mid, spread float64) {
	mid, spread = fallbackMid, fallbackSprd
	if st.MidPrice != nil {
		mid, _ = st.MidPrice.Float64()
	}
	if st.Spread != nil {
		spread, _ = st.Spread.Float64()
	}
	return mid, spread
}

func roundPrice(p float64) decimal.Decimal {
	return decimal.NewFromFloat(p).Round(6)
}

// RandomAgent submits limit orders with a pareto-distributed offset from the
// mid price: bids below, asks above. Pure zero-intelligence liquidity.
type RandomAgent struct {
	id  string
	rng *rand.Rand
}

// NewRandomAgent creates a random agent with its own deterministic stream.
func NewRandomAgent(id string, seed int64) *RandomAgent {
	return &RandomAgent{id: id, rng: rand.New(rand.NewSource(seed))}
}

func (a *RandomAgent) ID() string { return a.id }

func (a *RandomAgent) Decide(st exchange.Stats) *Action {
	mid, spread := midAndSpread(st)
	offset := pareto(a.rng, paretoShape) * tickScale
	size := int64(a.rng.Intn(maxOrderSize) + 1)

	side := domain.Bid
	price := mid - spread/2 - offset
	if a.rng.Intn(2) == 1 {
		side = domain.Ask
		price = mid + spread/2 + offset
	}
	if price <= 0 {
		return nil
	}
	return &Action{Kind: ActionLimit, Side: side, Price: roundPrice(price), Size: size}
}

// LPLTAgent chooses between providing liquidity (a passive limit order away
// from the touch) and taking it (a market order), weighting the choice by
// the current spread and its side by the book imbalance.
type LPLTAgent struct {
	id  string
	rng *rand.Rand

	// Per-agent biases, drawn at population setup.
	B             float64 // base provide-vs-take appetite
	SpreadBias    float64
	ImbalanceBias float64
}

// NewLPLTAgent creates an agent with the given behavioural biases.
func NewLPLTAgent(id string, seed int64, b, spreadBias, imbalanceBias float64) *LPLTAgent {
	return &LPLTAgent{
		id:            id,
		rng:           rand.New(rand.NewSource(seed)),
		B:             b,
		SpreadBias:    spreadBias,
		ImbalanceBias: imbalanceBias,
	}
}

func (a *LPLTAgent) ID() string { return a.id }

func (a *LPLTAgent) Decide(st exchange.Stats) *Action {
	mid, spread := midAndSpread(st)
	size := int64(a.rng.Intn(maxOrderSize) + 1)

	// A heavy bid side pushes the agent toward buying.
	side := domain.Ask
	if a.rng.Float64() < sigmoid(a.ImbalanceBias*st.Imbalance) {
		side = domain.Bid
	}

	// Wide spreads make providing more attractive than taking. Taking also
	// needs a populated opposing side; otherwise fall through to providing.
	take := a.rng.Float64() >= sigmoid(a.B+a.SpreadBias*spread)
	opposingQuoted := (side == domain.Bid && st.BestAsk != nil) || (side == domain.Ask && st.BestBid != nil)
	if take && opposingQuoted {
		return &Action{Kind: ActionMarket, Side: side, Size: size}
	}

	offset := pareto(a.rng, paretoShape) * tickScale
	price := mid - spread/2 - offset
	if side == domain.Ask {
		price = mid + spread/2 + offset
	}
	if price <= 0 {
		return nil
	}
	return &Action{Kind: ActionLimit, Side: side, Price: roundPrice(price), Size: size}
}
