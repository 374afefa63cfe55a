// Package dashboard serves a local JSON status API for one troupe bot.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/banterlabs/troupe/internal/conductor"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// StatusFunc reports the conductor connection status.
type StatusFunc func() conductor.Status

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	DB     *gorm.DB
	Status StatusFunc // optional; /api/status omits the connection block when nil
	Addr   string
	Out    io.Writer
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.DB == nil {
		return fmt.Errorf("dashboard: db is required")
	}
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:8490"
	}

	router := newRouter(opts.DB, opts.Status)

	srv := &http.Server{
		Addr:    opts.Addr,
		Handler: router,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dashboard running at http://%s\n", opts.Addr)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// newRouter builds the Gin router with all routes registered.
func newRouter(db *gorm.DB, status StatusFunc) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, db, status)
	return router
}
