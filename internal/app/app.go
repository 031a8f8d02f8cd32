// Package app wires configuration, the broker, discovery, the audit
// store, and the metrics server into one process lifecycle, the way
// the teacher's app.go wired its store/broker/mDNS/HTTP stack.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"mqttd/internal/audit"
	"mqttd/internal/broker"
	"mqttd/internal/config"
	"mqttd/internal/discovery"
	"mqttd/internal/metrics"
	"mqttd/internal/session"
)

const websocketPath = "/mqtt"

// App owns the broker and its supporting services for the process
// lifetime of one broker instance.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	registry   *session.Registry
	metrics    *metrics.Metrics
	audit      *audit.Store
	broker     *broker.Broker
	advertiser *discovery.Advertiser
}

// New constructs an App. Call Run to start it.
func New(cfg config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:      cfg,
		logger:   logger,
		registry: session.NewRegistry(),
		metrics:  metrics.New(),
	}
}

// Run starts the TCP listener, WebSocket listener, mDNS advertisement,
// and metrics/health HTTP server, and blocks until ctx is cancelled or
// one of them fails.
func (a *App) Run(ctx context.Context) error {
	store, err := audit.Open(a.cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	a.audit = store
	defer func() {
		if cerr := store.Close(); cerr != nil {
			a.logger.Error("close audit store", "error", cerr)
		}
	}()

	if err := store.InitSchema(ctx); err != nil {
		return fmt.Errorf("init audit schema: %w", err)
	}

	ln, err := net.Listen("tcp", a.cfg.TCPBindAddress)
	if err != nil {
		return fmt.Errorf("listen tcp: %w", err)
	}
	defer ln.Close()

	a.broker = broker.New(a.logger, a.registry, a.metrics, a.audit, a.cfg.KeepAliveFallback)

	if a.cfg.MDNSEnabled {
		if port := resolveTCPPort(ln.Addr()); port > 0 {
			adv := discovery.New(a.logger)
			txt := map[string]string{"websocket": a.cfg.WebSocketBindAddress}
			if err := adv.Start(a.cfg.MDNSServiceName, port, txt); err != nil {
				a.logger.Warn("mDNS advertisement failed", "error", err)
			} else {
				a.advertiser = adv
				defer adv.Stop()
			}
		} else {
			a.logger.Warn("unable to determine TCP port for mDNS advertisement", "addr", a.cfg.TCPBindAddress)
		}
	}

	httpServer := &http.Server{
		Addr:    a.cfg.MetricsBindAddress,
		Handler: a.httpRoutes(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("tcp listener started", "addr", ln.Addr())
		return a.broker.Serve(gctx, ln)
	})

	g.Go(func() error {
		a.logger.Info("websocket listener started", "addr", a.cfg.WebSocketBindAddress, "path", websocketPath)
		return a.broker.ServeWebSocket(gctx, a.cfg.WebSocketBindAddress, websocketPath)
	})

	g.Go(func() error {
		a.logger.Info("metrics/health server started", "addr", a.cfg.MetricsBindAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		a.broker.Shutdown()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) httpRoutes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/readyz", a.handleReadyz)
	mux.Handle("/metrics", a.metrics.Handler())
	return mux
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (a *App) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if a.broker == nil || a.audit == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"starting"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

func resolveTCPPort(addr net.Addr) int {
	if addr == nil {
		return 0
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}
