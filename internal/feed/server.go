package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"matchbook/internal/exchange"
	"matchbook/internal/infra"
)

// depthMessage is the periodic book snapshot pushed to subscribers.
type depthMessage struct {
	Type string      `json:"type"` // "depth"
	Bids interface{} `json:"bids"`
	Asks interface{} `json:"asks"`
	Ts   time.Time   `json:"ts"`
}

// tradeMessage is pushed for every completed trade.
type tradeMessage struct {
	Type      string    `json:"type"` // "trade"
	TakerID   string    `json:"taker_id"`
	TakerSide string    `json:"taker_side"`
	MakerID   string    `json:"maker_id"`
	Price     string    `json:"price"`
	Qty       int64     `json:"qty"`
	Ts        time.Time `json:"ts"`
}

// statsMessage carries the venue statistics view; nil fields are undefined.
type statsMessage struct {
	Type      string  `json:"type"` // "stats"
	MidPrice  *string `json:"mid_price"`
	Spread    *string `json:"spread"`
	BestBid   *string `json:"best_bid"`
	BestAsk   *string `json:"best_ask"`
	Imbalance float64 `json:"imbalance"`
}

// Server exposes the WebSocket feed and a metrics endpoint.
type Server struct {
	hub     *Hub
	venue   *exchange.Exchange
	metrics *infra.Metrics
	addr    string
	every   time.Duration
	log     *slog.Logger

	httpSrv *http.Server
}

// NewServer creates the feed server. every is the depth broadcast interval.
func NewServer(addr string, every time.Duration, venue *exchange.Exchange, metrics *infra.Metrics, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		hub:     NewHub(log),
		venue:   venue,
		metrics: metrics,
		addr:    addr,
		every:   every,
		log:     log,
	}
}

// PublishTrade forwards a settled trade to all subscribers. Safe to use as
// the venue's OnTrade callback.
func (s *Server) PublishTrade(r exchange.TradeReport) {
	s.hub.Broadcast(tradeMessage{
		Type:      "trade",
		TakerID:   r.TakerID,
		TakerSide: r.TakerSide.String(),
		MakerID:   r.MakerID,
		Price:     r.Price.String(),
		Qty:       r.Qty,
		Ts:        r.Ts,
	})
}

// Start runs the hub, the periodic depth/stats broadcaster and the HTTP
// listener. It returns immediately; Shutdown stops the listener.
func (s *Server) Start(ctx context.Context) {
	go s.hub.Run()
	go s.broadcastLoop(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.hub.ServeWS)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/depth", s.handleDepth)

	s.httpSrv = &http.Server{Addr: s.addr, Handler: mux}
	go func() {
		s.log.Info("feed server listening", slog.String("addr", s.addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("feed server failed", slog.Any("error", err))
		}
	}()
}

// Shutdown stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bids, asks := s.venue.Snapshot()
			s.hub.Broadcast(depthMessage{Type: "depth", Bids: bids, Asks: asks, Ts: time.Now()})
			s.hub.Broadcast(buildStats(s.venue.GetStats()))
		}
	}
}

func buildStats(st exchange.Stats) statsMessage {
	msg := statsMessage{Type: "stats", Imbalance: st.Imbalance}
	if st.MidPrice != nil {
		v := st.MidPrice.String()
		msg.MidPrice = &v
	}
	if st.Spread != nil {
		v := st.Spread.String()
		msg.Spread = &v
	}
	if st.BestBid != nil {
		v := st.BestBid.String()
		msg.BestBid = &v
	}
	if st.BestAsk != nil {
		v := st.BestAsk.String()
		msg.BestAsk = &v
	}
	return msg
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.metrics.Snapshot())
}

func (s *Server) handleDepth(w http.ResponseWriter, r *http.Request) {
	bids, asks := s.venue.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(depthMessage{Type: "depth", Bids: bids, Asks: asks, Ts: time.Now()})
}
