// Package server exposes the webhook HTTP surface that feeds chat
// events into the receipt pipeline.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mizutani/kakeibot/internal/confirm"
	"github.com/mizutani/kakeibot/internal/service"
	"github.com/mizutani/kakeibot/internal/storage"
)

// Server wires webhook events to the pipeline and the ledger.
type Server struct {
	coordinator *confirm.Coordinator
	ledger      *storage.SQLiteStorage
	gateway     service.MessageGateway
	metrics     *Metrics
	engine      *gin.Engine
}

// New builds the HTTP server and its routes.
func New(coordinator *confirm.Coordinator, ledger *storage.SQLiteStorage, gateway service.MessageGateway, registry *prometheus.Registry) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		coordinator: coordinator,
		ledger:      ledger,
		gateway:     gateway,
		engine:      engine,
	}
	if registry != nil {
		s.metrics = NewMetrics(registry)
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.POST("/webhook", s.handleWebhook)

	return s
}

// Run serves HTTP until the listener fails or the server is shut down.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
