package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"mijiamcp/internal/tool"
)

const shutdownTimeout = 10 * time.Second

type HTTPOptions struct {
	Server *mcp.Server
	// AuthSecret enables bearer-token auth on /mcp when set.
	AuthSecret string
	Metrics    http.Handler // optional
}

// NewHTTPHandler routes /mcp (streamable HTTP transport), /healthz and
// /metrics.
func NewHTTPHandler(opts HTTPOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{ //nolint:errcheck
			"status":  "ok",
			"name":    tool.ServerName,
			"version": tool.ServerVersion,
		})
	})
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	server := opts.Server
	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
	r.Group(func(r chi.Router) {
		if opts.AuthSecret != "" {
			r.Use(BearerAuth([]byte(opts.AuthSecret)))
		}
		r.Handle("/mcp", mcpHandler)
	})
	return r
}

// ListenAndServe serves h on addr until ctx is done, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving MCP over HTTP", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
