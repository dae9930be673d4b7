// Package statusserver exposes a minimal, unauthenticated gin HTTP
// server with GET /healthz and GET /stats for a running scan. It is
// off by default (config.ServerConfig.Enabled) since a scanner has no
// inbound API surface by design; when enabled it only ever reads scan
// progress, never mutates it.
package statusserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"zscan/internal/config"
	"zscan/internal/core/monitor"
)

// ProgressFunc returns a snapshot of the current scan's progress.
type ProgressFunc func() monitor.ScanProgress

// Server wraps a gin engine bound to cfg.Host:cfg.Port.
type Server struct {
	httpServer *http.Server
}

// New builds a Server. It does not start listening until Start is called.
func New(cfg *config.ServerConfig, progress ProgressFunc) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/stats", func(c *gin.Context) {
		p := progress()
		c.JSON(http.StatusOK, gin.H{
			"targets_scanned": p.TargetsScanned,
			"packets_sent":    p.PacketsSent,
			"packets_failed":  p.PacketsFailed,
			"responses_seen":  p.ResponsesSeen,
			"rate":            p.Rate,
			"elapsed_seconds": p.Elapsed.Seconds(),
		})
	})

	return &Server{
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler: engine,
		},
	}
}

// Start begins serving in the background. Bind errors other than a
// clean shutdown are delivered on the returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	return errCh
}

// Stop shuts the server down within the given timeout.
func (s *Server) Stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
