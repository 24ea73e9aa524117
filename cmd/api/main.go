package main

import (
    "context"
    "errors"
    "log/slog"
    "net/http"
    "os"
    "os/signal"
    "strconv"
    "syscall"
    "time"

    "github.com/joho/godotenv"
    "github.com/prometheus/client_golang/prometheus/promhttp"

    "hookrelay/internal/api"
    "hookrelay/internal/config"
    "hookrelay/internal/metrics"
)

func main() {
    logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

    if err := godotenv.Load(); err != nil {
        logger.Debug("no .env file found, continuing with environment variables")
    }

    cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
    if err != nil {
        logger.Error("failed to load config", "err", err)
        os.Exit(1)
    }

    srv, err := api.NewServer(cfg, logger)
    if err != nil {
        logger.Error("failed to init server", "err", err)
        os.Exit(1)
    }

    metrics.RegisterDefault()

    mux := http.NewServeMux()

    // Webhook registry
    mux.HandleFunc("/v1/webhooks", srv.WebhooksHandler)
    mux.HandleFunc("/v1/webhooks/", srv.WebhookByIDHandler) // includes /test, /deactivate

    // Delivery ledger
    mux.HandleFunc("/v1/admin/deliveries", srv.DeliveriesHandler)
    mux.HandleFunc("/v1/admin/deliveries/sweep", srv.SweepHandler)
    mux.HandleFunc("/v1/admin/dead-letters", srv.DeadLettersHandler)

    // Health & metrics
    mux.HandleFunc("/healthz", srv.HealthHandler)
    mux.HandleFunc("/readyz", srv.ReadyHandler)
    mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

    httpSrv := &http.Server{
        Addr:              ":" + cfg.Port,
        Handler:           obsMiddleware(logger, mux),
        ReadHeaderTimeout: 5 * time.Second,
    }

    // Start delivery workers and the (optional) internal sweep ticker.
    srv.Dispatcher.Start(cfg.Workers)
    srv.Sweeper.Start(cfg.SweepInterval)

    go func() {
        logger.Info("API listening", "addr", httpSrv.Addr)
        if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            logger.Error("server error", "err", err)
            os.Exit(1)
        }
    }()

    quit := make(chan os.Signal, 1)
    signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
    <-quit
    logger.Info("shutting down")

    // Close the listener first so no request can dispatch into a stopped
    // worker pool, then drain the background workers.
    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
    defer cancel()
    if err := httpSrv.Shutdown(ctx); err != nil {
        logger.Error("forced shutdown", "err", err)
    }
    srv.Sweeper.Stop()
    srv.Dispatcher.Stop()
    logger.Info("exited")
}

type statusRecorder struct {
    http.ResponseWriter
    status int
}

func (r *statusRecorder) WriteHeader(code int) {
    r.status = code
    r.ResponseWriter.WriteHeader(code)
}

func obsMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        rec := &statusRecorder{ResponseWriter: w, status: 200}
        next.ServeHTTP(rec, r)
        dur := time.Since(start)
        status := strconv.Itoa(rec.status)
        metrics.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
        metrics.HTTPDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(dur.Seconds())
        logger.Info("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", dur)
    })
}
