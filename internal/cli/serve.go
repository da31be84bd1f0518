package cli

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"crmcore/internal/core"
	"crmcore/internal/infra/api/httpapi"
)

const shutdownTimeout = 10 * time.Second

func (a *app) serveCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the entity API over HTTP for remote crmctl clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			handler, err := a.serveHandler(cmd.Context())
			if err != nil {
				return err
			}
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", addr, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "serving %s backend on http://%s\n", displayDriver(a.settings.Backend.Driver), ln.Addr())
			return serve(cmd.Context(), ln, handler, a.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	return cmd
}

// serveHandler mounts the entity API, Prometheus metrics and expvar.
func (a *app) serveHandler(ctx context.Context) (http.Handler, error) {
	if _, err := a.open(ctx); err != nil {
		return nil, err
	}
	api := httpapi.NewHandler(a.backend, httpapi.WithHandlerLogger(a.logger))
	vars := core.NewExpvarMetricsRecorder("")

	mux := http.NewServeMux()
	mux.Handle("/api/", instrument(api, a.metrics, vars))
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	mux.Handle("GET /debug/vars", expvar.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux, nil
}

func serve(ctx context.Context, ln net.Listener, handler http.Handler, logger core.Logger) error {
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down", "addr", ln.Addr().String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-done; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// instrument records every API request as operation http_<method>_<namespace>;
// 5xx responses count as failures.
func instrument(next http.Handler, recorders ...core.MetricsRecorder) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		op := "http_" + strings.ToLower(r.Method) + "_" + routeNamespace(r.URL.Path)
		for _, rec := range recorders {
			if rec != nil {
				rec.Observe(r.Context(), op, sw.status < http.StatusInternalServerError, time.Since(started))
			}
		}
	})
}

func routeNamespace(path string) string {
	rest := strings.TrimPrefix(path, "/api/v1/")
	if rest == path {
		return "unknown"
	}
	ns, _, _ := strings.Cut(rest, "/")
	if ns == "" {
		return "unknown"
	}
	return ns
}
