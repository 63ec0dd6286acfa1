package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matst80/wsgate/internal/obs"
	"github.com/matst80/wsgate/internal/ratelimit"
	"github.com/matst80/wsgate/internal/relay"
	"github.com/matst80/wsgate/internal/resolver"
)

type server struct {
	cfg      *Config
	registry *relay.Registry
	resolver *resolver.Resolver
	dialer   *relay.Dialer
	limiter  *ratelimit.SessionLimiter
	upgrader websocket.Upgrader

	baseCtx context.Context
	ready   atomic.Bool
	closing atomic.Bool
}

func main() {
	parseConfig()
	if cfg.Debug {
		obs.EnableDebug(true)
	}
	obs.Info("server.start", obs.Fields{
		"listen":    cfg.ListenAddr,
		"metrics":   cfg.MetricsAddr,
		"fallbacks": len(cfg.FallbackHosts),
		"backends":  len(cfg.DoHBackends),
		"gate":      cfg.Secret != "",
	})

	cache, err := newResolverCache(&cfg)
	if err != nil {
		obs.Error("resolver.cache.init", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}
	res, err := resolver.NewFromSpecs(cache, cfg.DoHBackends)
	if err != nil {
		obs.Error("resolver.init", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &server{
		cfg:      &cfg,
		registry: relay.NewRegistry(),
		resolver: res,
		dialer:   relay.NewDialer(res, cfg.FallbackHosts, relay.WithDialTimeout(cfg.DialTimeout)),
		limiter:  ratelimit.NewSessionLimiter(cfg.GlobalSessionRate, cfg.RemoteSessionRate, cfg.SessionBurst),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
		baseCtx: ctx,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", srv.handleRoot)
	mux.HandleFunc("/stats", srv.handleStats)
	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	go srv.startMetricsServer(cfg.MetricsAddr)
	go srv.runLimiterPrune(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	srv.ready.Store(true)
	obs.Info("server.ready", obs.Fields{})

	select {
	case <-ctx.Done():
		obs.Info("server.shutdown.signal", obs.Fields{})
	case err := <-errCh:
		obs.Error("server.listen", obs.Fields{"err": err.Error()})
	}

	srv.closing.Store(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	srv.registry.CloseAll()
	obs.Info("server.shutdown.complete", obs.Fields{})
}

// handleRoot upgrades tunnel clients and serves the liveness string to plain
// HTTP probes. Any other path is not found.
func (s *server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if websocket.IsWebSocketUpgrade(r) {
		s.handleTunnel(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("wsgate: alive\n"))
}

func (s *server) handleTunnel(w http.ResponseWriter, r *http.Request) {
	remote := remoteHost(r.RemoteAddr)
	if !s.limiter.Allow(remote) {
		obs.Warn("tunnel.ratelimited", obs.Fields{"remote": remote})
		obs.ErrorsTotal.WithLabelValues("ratelimit").Inc()
		http.Error(w, "too many sessions", http.StatusTooManyRequests)
		return
	}

	var respHeader http.Header
	if s.cfg.Secret != "" {
		if !s.authorize(r) {
			obs.Warn("tunnel.gate.denied", obs.Fields{"remote": remote})
			obs.ErrorsTotal.WithLabelValues("auth").Inc()
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		respHeader = http.Header{"Sec-WebSocket-Protocol": {s.cfg.Secret}}
	}

	ws, err := s.upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		obs.Warn("tunnel.upgrade", obs.Fields{"err": err.Error(), "remote": remote})
		return
	}
	sess := relay.NewSession(ws, s.dialer, relay.WithRegistry(s.registry))
	sess.Run(s.baseCtx)
}

// authorize checks the shared secret presented through subprotocol
// negotiation.
func (s *server) authorize(r *http.Request) bool {
	for _, p := range websocket.Subprotocols(r) {
		if len(p) == len(s.cfg.Secret) &&
			subtle.ConstantTimeCompare([]byte(p), []byte(s.cfg.Secret)) == 1 {
			return true
		}
	}
	return false
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(collectStats(s.registry, s.resolver))
}

func (s *server) runLimiterPrune(ctx context.Context) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if removed := s.limiter.Prune(10 * time.Minute); removed > 0 {
				obs.Debug("ratelimit.pruned", obs.Fields{"removed": removed})
			}
		}
	}
}

// startMetricsServer serves Prometheus metrics and health endpoints.
func (s *server) startMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if s.closing.Load() || !s.ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		obs.Error("metrics.server", obs.Fields{"err": err.Error(), "addr": addr})
	}
}

func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
