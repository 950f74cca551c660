// Package status exposes a read-only HTTP view of the controller: health,
// pair states, open positions, live orders and the terminal-order audit log.
package status

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tradectl/internal/logger"
	"tradectl/internal/market"
	"tradectl/internal/store"
	"tradectl/internal/store/audit"
)

type Config struct {
	Addr  string
	Store *store.Store
	Audit *audit.Store
	Feed  market.Source
}

type Server struct {
	cfg    Config
	router *gin.Engine
	srv    *http.Server
	start  time.Time
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("status: store is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9985"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{cfg: cfg, router: router, start: time.Now()}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	api := s.router.Group("/api")
	api.GET("/positions", s.handlePositions)
	api.GET("/orders", s.handleOrders)
	api.GET("/states", s.handleStates)
	api.GET("/audit/orders", s.handleAuditOrders)
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{Addr: s.cfg.Addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Infof("[status] listening on %s", s.cfg.Addr)
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutCtx)
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status": "ok",
		"uptime": time.Since(s.start).Round(time.Second).String(),
	}
	if s.cfg.Feed != nil {
		stats := s.cfg.Feed.Stats()
		resp["feed"] = gin.H{
			"reconnects":       stats.Reconnects,
			"subscribe_errors": stats.SubscribeErrors,
			"last_error":       stats.LastError,
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePositions(c *gin.Context) {
	snap := s.cfg.Store.Snapshot()
	sort.Slice(snap.Positions, func(i, j int) bool {
		return snap.Positions[i].Pair < snap.Positions[j].Pair
	})
	c.JSON(http.StatusOK, gin.H{"positions": snap.Positions})
}

func (s *Server) handleOrders(c *gin.Context) {
	snap := s.cfg.Store.Snapshot()
	sort.Slice(snap.Orders, func(i, j int) bool {
		return snap.Orders[i].CreatedAt.After(snap.Orders[j].CreatedAt)
	})
	c.JSON(http.StatusOK, gin.H{"orders": snap.Orders})
}

func (s *Server) handleStates(c *gin.Context) {
	snap := s.cfg.Store.Snapshot()
	c.JSON(http.StatusOK, gin.H{"states": snap.States})
}

func (s *Server) handleAuditOrders(c *gin.Context) {
	if s.cfg.Audit == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit log disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	pair := c.Query("pair")

	var (
		records []audit.OrderRecord
		err     error
	)
	if pair != "" {
		records, err = s.cfg.Audit.OrdersByPair(c.Request.Context(), pair, limit)
	} else {
		records, err = s.cfg.Audit.RecentOrders(c.Request.Context(), limit)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": records})
}
