// Package httpserver exposes the ingest and cluster query API.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tinytelemetry/faultline/internal/model"
	"github.com/tinytelemetry/faultline/internal/pipeline"
	"github.com/tinytelemetry/faultline/internal/store"
)

const (
	defaultClusterLimit = 50
	maxClusterLimit     = 500
	defaultEventLimit   = 100
	maxEventLimit       = 1000
	maxBatchEvents      = 5000
)

// Ingester is the gate the API hands event batches to.
type Ingester interface {
	Ingest(ctx context.Context, tenant string, events []*model.LogEvent) []model.Outcome
	Stats() pipeline.Stats
}

// Server provides the HTTP API for event ingest and cluster queries.
type Server struct {
	addr      string
	ingester  Ingester
	querier   model.ClusterQuerier
	tokens    map[string]string // API key -> tenant; empty map disables auth
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// Config holds the server wiring.
type Config struct {
	Addr     string
	Ingester Ingester
	Querier  model.ClusterQuerier
	Tokens   map[string]string
}

// NewServer creates a new HTTP API server.
func NewServer(conf Config) *Server {
	addr := conf.Addr
	if addr == "" {
		addr = "0.0.0.0:3000"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:     addr,
		ingester: conf.Ingester,
		querier:  conf.Querier,
		tokens:   conf.Tokens,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Server) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", s.handleHealth)

	v1 := r.Group("/api/v1")
	v1.POST("/ingest", s.handleIngest)
	v1.GET("/clusters", s.handleClusters)
	v1.GET("/clusters/:id", s.handleClusterByID)
	v1.GET("/clusters/:id/events", s.handleClusterEvents)
	v1.GET("/categories", s.handleCategories)

	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	r := s.router()

	s.server = &http.Server{
		Handler:           r,
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.startTime = time.Now()

	go s.server.Serve(listener)
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// tenantFor resolves the caller's tenant from the X-API-Key header. When
// no tokens are configured, auth is disabled and the X-Tenant header is
// trusted directly.
func (s *Server) tenantFor(c *gin.Context) (string, bool) {
	if len(s.tokens) == 0 {
		return c.GetHeader("X-Tenant"), true
	}
	tenant, ok := s.tokens[c.GetHeader("X-API-Key")]
	return tenant, ok
}

func (s *Server) handleIngest(c *gin.Context) {
	tenant, ok := s.tenantFor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown API key"})
		return
	}

	var req struct {
		Events []*model.LogEvent `json:"events" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing events field"})
		return
	}
	if len(req.Events) > maxBatchEvents {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "batch exceeds " + strconv.Itoa(maxBatchEvents) + " events"})
		return
	}

	outcomes := s.ingester.Ingest(c.Request.Context(), tenant, req.Events)

	accepted := 0
	rendered := make([]gin.H, len(outcomes))
	for i, o := range outcomes {
		if o.Status == model.OutcomeAccepted {
			accepted++
		}
		item := gin.H{"status": o.StatusString()}
		if o.ClusterID != "" {
			item["cluster_id"] = o.ClusterID
		}
		if o.EventID != "" {
			item["event_id"] = o.EventID
		}
		if o.Truncated {
			item["truncated"] = true
		}
		if !o.ResetAt.IsZero() {
			item["reset_at"] = o.ResetAt.UTC().Format(time.RFC3339)
		}
		rendered[i] = item
	}

	c.JSON(http.StatusOK, gin.H{
		"accepted": accepted,
		"total":    len(outcomes),
		"outcomes": rendered,
	})
}

func (s *Server) handleClusters(c *gin.Context) {
	tenant, ok := s.tenantFor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown API key"})
		return
	}

	limit := intQuery(c, "limit", defaultClusterLimit, maxClusterLimit)
	clusters, err := s.querier.TopClusters(limit, model.QueryOpts{Tenant: tenant})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read clusters"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"clusters": clusters, "count": len(clusters)})
}

func (s *Server) handleClusterByID(c *gin.Context) {
	if _, ok := s.tenantFor(c); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown API key"})
		return
	}

	cl, err := s.querier.ClusterByID(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "cluster not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read cluster"})
		return
	}
	c.JSON(http.StatusOK, cl)
}

func (s *Server) handleClusterEvents(c *gin.Context) {
	if _, ok := s.tenantFor(c); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown API key"})
		return
	}

	limit := intQuery(c, "limit", defaultEventLimit, maxEventLimit)
	events, err := s.querier.ClusterEvents(c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func (s *Server) handleCategories(c *gin.Context) {
	tenant, ok := s.tenantFor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown API key"})
		return
	}

	counts, err := s.querier.CategoryCounts(model.QueryOpts{Tenant: tenant})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read category counts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": counts})
}

func (s *Server) handleHealth(c *gin.Context) {
	eventCount, err := s.querier.TotalEventCount(model.QueryOpts{})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read health metrics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"uptime":      time.Since(s.startTime).String(),
		"event_count": eventCount,
		"pipeline":    s.ingester.Stats(),
	})
}

func intQuery(c *gin.Context, name string, def, max int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
