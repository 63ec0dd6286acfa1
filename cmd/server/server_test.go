package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/matst80/wsgate/internal/ratelimit"
	"github.com/matst80/wsgate/internal/relay"
	"github.com/matst80/wsgate/internal/resolver"
)

func newTestServer(t *testing.T, secret string) *server {
	t.Helper()
	cache := resolver.NewMemoryCache(16, resolver.DefaultTTL)
	res, err := resolver.NewFromSpecs(cache, resolver.DefaultBackendSpecs)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	return &server{
		cfg:      &Config{Secret: secret},
		registry: relay.NewRegistry(),
		resolver: res,
		dialer:   relay.NewDialer(res, nil),
		limiter:  ratelimit.NewSessionLimiter(0, 0, 1),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 2 * time.Second,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
		baseCtx: context.Background(),
	}
}

func TestDiagnosticsEndpoints(t *testing.T) {
	srv := newTestServer(t, "")
	mux := http.NewServeMux()
	mux.HandleFunc("/", srv.handleRoot)
	mux.HandleFunc("/stats", srv.handleStats)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("get /: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET / status = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/nothing-here")
	if err != nil {
		t.Fatalf("get unknown: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET unknown path status = %d, want 404", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/stats")
	if err != nil {
		t.Fatalf("get /stats: %v", err)
	}
	defer resp.Body.Close()
	var st Stats
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if st.Cache.Backend != "memory" {
		t.Errorf("cache backend = %q", st.Cache.Backend)
	}
	if len(st.Backends) != len(resolver.DefaultBackendSpecs) {
		t.Errorf("backends = %d, want %d", len(st.Backends), len(resolver.DefaultBackendSpecs))
	}
}

func TestTunnelGate(t *testing.T) {
	srv := newTestServer(t, "s3cret")
	ts := httptest.NewServer(http.HandlerFunc(srv.handleRoot))
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	// Wrong secret is rejected before the session exists.
	bad := websocket.Dialer{Subprotocols: []string{"nope"}, HandshakeTimeout: 2 * time.Second}
	if _, resp, err := bad.Dial(wsURL, nil); err == nil {
		t.Fatal("handshake with wrong secret succeeded")
	} else if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}

	// No subprotocol at all is also rejected.
	none := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	if _, _, err := none.Dial(wsURL, nil); err == nil {
		t.Fatal("handshake without secret succeeded")
	}

	// The right secret is echoed back as the negotiated subprotocol.
	good := websocket.Dialer{Subprotocols: []string{"s3cret"}, HandshakeTimeout: 2 * time.Second}
	conn, _, err := good.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("handshake with correct secret: %v", err)
	}
	defer conn.Close()
	if conn.Subprotocol() != "s3cret" {
		t.Errorf("negotiated subprotocol = %q", conn.Subprotocol())
	}
}

func TestTunnelGateDisabled(t *testing.T) {
	srv := newTestServer(t, "")
	ts := httptest.NewServer(http.HandlerFunc(srv.handleRoot))
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	d := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	conn, _, err := d.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("handshake without configured secret: %v", err)
	}
	conn.Close()
}

func TestTunnelOnlyAtRoot(t *testing.T) {
	srv := newTestServer(t, "")
	ts := httptest.NewServer(http.HandlerFunc(srv.handleRoot))
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/elsewhere"

	d := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	if _, resp, err := d.Dial(wsURL, nil); err == nil {
		t.Fatal("upgrade succeeded off the root path")
	} else if resp != nil && resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestParseConfigPopulatesLists(t *testing.T) {
	parseConfig()
	if len(cfg.DoHBackends) == 0 {
		t.Error("DoH backend list empty after parse")
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" a.example , ,b.example,")
	if len(got) != 2 || got[0] != "a.example" || got[1] != "b.example" {
		t.Errorf("splitList = %v", got)
	}
	if splitList("") != nil {
		t.Error("splitList(\"\") should be nil")
	}
}
