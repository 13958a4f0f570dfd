// Package ops serves the local operations listener: a small Gin router
// exposing liveness and Prometheus metrics. It binds to loopback by default
// and carries the same observability middleware as the rest of the stack
// (otelgin tracing, gzip compression).
package ops

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/config"
)

// NewRouter builds the ops router. Kept separate from the server so tests
// can exercise routes without binding a socket.
func NewRouter(db *gorm.DB, cfg config.Config) *gin.Engine {
	gin.SetMode(cfg.Ops.GinMode)

	r := gin.New()
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(gin.Recovery())
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// Liveness: verifies the SQLite handle is still usable.
	r.GET("/healthz", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// Server wraps the ops HTTP listener with lifecycle management.
type Server struct {
	srv *http.Server
	log zerolog.Logger
}

// New constructs the ops server from config. Callers still decide whether
// to Start it (cfg.Ops.Enabled).
func New(db *gorm.DB, cfg config.Config, log zerolog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              cfg.Ops.Addr,
			Handler:           NewRouter(db, cfg),
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log.With().Str("component", "ops").Logger(),
	}
}

// Start begins serving in a background goroutine. Listen errors other than
// a clean shutdown are logged, not fatal; the bot can run without its ops
// endpoint.
func (s *Server) Start() {
	s.log.Info().Str("addr", s.srv.Addr).Msg("ops listener starting")
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("ops listener failed")
		}
	}()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
