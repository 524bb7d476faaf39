// Command fluxgraphd loads a base graph artifact and serves traversal requests
// against it until terminated.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/wehubfusion/fluxgraph/pkg/graph"
	"github.com/wehubfusion/fluxgraph/pkg/scheduler"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Respects the container's cgroup CPU quota instead of the host's full core
	// count.
	undoMaxProcs, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		logger.Sugar().Debugf(format, args...)
	}))
	if err != nil {
		logger.Warn("failed to set GOMAXPROCS from cgroup quota", zap.Error(err))
	} else {
		defer undoMaxProcs()
	}

	var (
		graphPath  = flag.String("graph", "", "path to the base graph artifact (JSON)")
		addr       = flag.String("addr", ":8080", "HTTP listen address")
		otlpTarget = flag.String("otlp-endpoint", "", "OTLP/HTTP collector endpoint (empty disables tracing)")
	)
	flag.Parse()

	if *graphPath == "" {
		logger.Fatal("missing required -graph flag")
	}

	raw, err := os.ReadFile(*graphPath)
	if err != nil {
		logger.Fatal("reading graph artifact", zap.Error(err))
	}

	var g graph.Graph
	if err := json.Unmarshal(raw, &g); err != nil {
		logger.Fatal("parsing graph artifact", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := scheduler.Config{Logger: logger}

	var shutdownTracing func(context.Context) error
	if *otlpTarget != "" {
		tcfg := scheduler.DefaultTracingConfig("fluxgraphd")
		tcfg.OTLPEndpoint = *otlpTarget
		shutdownTracing, err = scheduler.SetupTracing(ctx, tcfg, logger)
		if err != nil {
			logger.Fatal("setting up tracing", zap.Error(err))
		}
		cfg.Tracer = otel.Tracer("fluxgraphd")
	}

	sched, err := scheduler.New(&g, nil, nil, cfg)
	if err != nil {
		logger.Fatal("constructing scheduler", zap.Error(err))
	}
	defer sched.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/url", newURLHandler(sched, logger))

	srv := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		logger.Info("fluxgraphd listening", zap.String("addr", *addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", zap.Error(err))
	}
	if shutdownTracing != nil {
		_ = scheduler.ShutdownTracing(shutdownTracing, logger)
	}
}

type urlRequest struct {
	Pattern string      `json:"pattern"`
	Value   interface{} `json:"value"`
	Field   string      `json:"field"`
}

func newURLHandler(sched *scheduler.Scheduler, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req urlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		result, err := sched.URL(r.Context(), req.Pattern, req.Value, req.Field, nil)
		if err != nil {
			logger.Warn("url traversal failed", zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"result": result})
	}
}
