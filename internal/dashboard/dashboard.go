// Package dashboard serves the operator's read-only view: a JSON API
// over the engine's latest state and a websocket stream of throttled
// events.
package dashboard

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pairbot/gopair/pkg/logger"
)

var log = logger.WithField("module", "dashboard")

// Status is the top-level engine view.
type Status struct {
	SessionID     string    `json:"session_id"`
	StartedAt     time.Time `json:"started_at"`
	DryRun        bool      `json:"dry_run"`
	ActiveMarkets int       `json:"active_markets"`
	OpenOrders    int       `json:"open_orders"`
	EventsDropped uint64    `json:"events_dropped"`
}

// MarketView is one active market row.
type MarketView struct {
	Slug         string  `json:"slug"`
	MarketType   string  `json:"market_type"`
	EndTime      int64   `json:"end_time"`
	SecondsToEnd int     `json:"seconds_to_end"`
	UpBid        float64 `json:"up_bid"`
	UpAsk        float64 `json:"up_ask"`
	DownBid      float64 `json:"down_bid"`
	DownAsk      float64 `json:"down_ask"`
	Completed    bool    `json:"completed"`
}

// PositionView is one inventory row.
type PositionView struct {
	Slug          string  `json:"slug"`
	UpShares      float64 `json:"up_shares"`
	DownShares    float64 `json:"down_shares"`
	UpVWAP        float64 `json:"up_vwap"`
	DownVWAP      float64 `json:"down_vwap"`
	Hedged        float64 `json:"hedged"`
	PriorMergePnL float64 `json:"prior_merge_pnl"`
}

// PnLView is the session PnL summary.
type PnLView struct {
	RealizedPnL    float64 `json:"realized_pnl"`
	ExposureUSD    float64 `json:"exposure_usd"`
	OrdersNotional float64 `json:"orders_notional"`
	ReservedHedges float64 `json:"reserved_hedges"`
	Unhedged       float64 `json:"unhedged"`
	HedgedLocked   float64 `json:"hedged_locked"`
}

// Server owns the HTTP listener and the websocket hub. The engine
// pushes fresh views; handlers only read.
type Server struct {
	hub *Hub

	mu        sync.RWMutex
	status    Status
	markets   []MarketView
	inventory []PositionView
	pnl       PnLView

	http *http.Server
}

// NewServer builds the server; Run starts it.
func NewServer(listen string) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{hub: NewHub()}

	router := gin.New()
	router.Use(gin.Recovery())
	api := router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/markets", s.handleMarkets)
	api.GET("/inventory", s.handleInventory)
	api.GET("/pnl", s.handlePnL)
	router.GET("/ws", s.hub.HandleWS)

	s.http = &http.Server{Addr: listen, Handler: router}
	return s
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() {
	go s.hub.Run()
	log.WithField("listen", s.http.Addr).Info("dashboard listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("dashboard server exited")
	}
}

// Shutdown stops the listener and the hub.
func (s *Server) Shutdown(ctx context.Context) {
	_ = s.http.Shutdown(ctx)
	s.hub.Stop()
}

// Broadcast forwards one throttled event to websocket clients.
func (s *Server) Broadcast(eventType string, payload any) {
	s.hub.Broadcast(wsMessage{Type: eventType, At: time.Now().UnixMilli(), Payload: payload})
}

// SetStatus publishes the latest status view.
func (s *Server) SetStatus(v Status) {
	s.mu.Lock()
	s.status = v
	s.mu.Unlock()
}

// SetMarkets publishes the latest market rows.
func (s *Server) SetMarkets(v []MarketView) {
	s.mu.Lock()
	s.markets = v
	s.mu.Unlock()
}

// SetInventory publishes the latest inventory rows.
func (s *Server) SetInventory(v []PositionView) {
	s.mu.Lock()
	s.inventory = v
	s.mu.Unlock()
}

// SetPnL publishes the latest PnL summary.
func (s *Server) SetPnL(v PnLView) {
	s.mu.Lock()
	s.pnl = v
	s.mu.Unlock()
}

func (s *Server) handleStatus(c *gin.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c.JSON(http.StatusOK, s.status)
}

func (s *Server) handleMarkets(c *gin.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c.JSON(http.StatusOK, gin.H{"markets": s.markets})
}

func (s *Server) handleInventory(c *gin.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c.JSON(http.StatusOK, gin.H{"inventory": s.inventory})
}

func (s *Server) handlePnL(c *gin.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c.JSON(http.StatusOK, s.pnl)
}
