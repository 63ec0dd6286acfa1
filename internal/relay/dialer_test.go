package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"testing"
	"time"
)

type staticResolver map[string]string

func (r staticResolver) Resolve(_ context.Context, host string) (string, error) {
	if addr, ok := r[host]; ok {
		return addr, nil
	}
	return "", errors.New("unknown host")
}

// recordingDial scripts per-address outcomes and records attempt order.
type recordingDial struct {
	attempts []string
	outcome  map[string]error // nil = success with a pipe conn
}

func (d *recordingDial) dial(_ context.Context, _ string, addr string) (net.Conn, error) {
	d.attempts = append(d.attempts, addr)
	if err, ok := d.outcome[addr]; ok && err != nil {
		return nil, err
	}
	client, server := net.Pipe()
	go func() { _, _ = io.Copy(io.Discard, server) }()
	return client, nil
}

func TestConnectFallbackOrder(t *testing.T) {
	rec := &recordingDial{outcome: map[string]error{
		"192.0.2.1:443": syscall.ECONNREFUSED,
		"192.0.2.2:443": syscall.ETIMEDOUT,
	}}
	d := NewDialer(
		staticResolver{"h.test": "192.0.2.1", "f1.test": "192.0.2.2", "f2.test": "192.0.2.3"},
		[]string{"f1.test", "f2.test"},
		WithDialFunc(rec.dial),
	)
	conn, err := d.Connect(context.Background(), "h.test:443", nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	want := []string{"192.0.2.1:443", "192.0.2.2:443", "192.0.2.3:443"}
	if len(rec.attempts) != len(want) {
		t.Fatalf("attempts = %v, want %v", rec.attempts, want)
	}
	for i := range want {
		if rec.attempts[i] != want[i] {
			t.Errorf("attempt %d = %q, want %q", i, rec.attempts[i], want[i])
		}
	}
}

func TestConnectFatalShortCircuit(t *testing.T) {
	fatal := errors.New("tls handshake rejected")
	rec := &recordingDial{outcome: map[string]error{"192.0.2.1:80": fatal}}
	d := NewDialer(
		staticResolver{"h.test": "192.0.2.1", "f1.test": "192.0.2.2"},
		[]string{"f1.test"},
		WithDialFunc(rec.dial),
	)
	_, err := d.Connect(context.Background(), "h.test:80", nil)
	if err == nil {
		t.Fatal("Connect succeeded, want fatal error")
	}
	var de *DialError
	if !errors.As(err, &de) {
		t.Fatalf("err = %T, want *DialError", err)
	}
	if de.Retryable {
		t.Error("fatal error marked retryable")
	}
	if !errors.Is(err, fatal) {
		t.Errorf("err = %v, want wrapped %v", err, fatal)
	}
	if len(rec.attempts) != 1 {
		t.Errorf("attempts = %v, want exactly 1", rec.attempts)
	}
}

func TestConnectExhaustedReportsLastError(t *testing.T) {
	rec := &recordingDial{outcome: map[string]error{
		"192.0.2.1:80": syscall.ECONNREFUSED,
		"192.0.2.2:80": syscall.EHOSTUNREACH,
	}}
	d := NewDialer(
		staticResolver{"h.test": "192.0.2.1", "f1.test": "192.0.2.2"},
		[]string{"f1.test"},
		WithDialFunc(rec.dial),
	)
	_, err := d.Connect(context.Background(), "h.test:80", nil)
	var de *DialError
	if !errors.As(err, &de) {
		t.Fatalf("err = %T, want *DialError", err)
	}
	if !de.Retryable || de.Attempts != 2 {
		t.Errorf("DialError = %+v, want retryable after 2 attempts", de)
	}
	if !errors.Is(err, syscall.EHOSTUNREACH) {
		t.Errorf("err = %v, want last attempt's failure", err)
	}
}

func TestConnectResolutionFailureDegradesToDirectDial(t *testing.T) {
	rec := &recordingDial{outcome: map[string]error{}}
	d := NewDialer(staticResolver{}, nil, WithDialFunc(rec.dial))
	conn, err := d.Connect(context.Background(), "unresolvable.test:8080", nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()
	if len(rec.attempts) != 1 || rec.attempts[0] != "unresolvable.test:8080" {
		t.Errorf("attempts = %v, want direct dial of the original name", rec.attempts)
	}
}

func TestConnectLiteralIPSkipsResolver(t *testing.T) {
	rec := &recordingDial{outcome: map[string]error{}}
	var resolverCalled bool
	d := NewDialer(resolveFunc(func(ctx context.Context, host string) (string, error) {
		resolverCalled = true
		return host, nil
	}), nil, WithDialFunc(rec.dial))
	conn, err := d.Connect(context.Background(), "203.0.113.5:80", nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()
	if resolverCalled {
		t.Error("resolver consulted for a literal IP")
	}
}

type resolveFunc func(ctx context.Context, host string) (string, error)

func (f resolveFunc) Resolve(ctx context.Context, host string) (string, error) { return f(ctx, host) }

func TestConnectWritesInitialPayload(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	got := make(chan []byte, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		buf := make([]byte, 64)
		_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _ := c.Read(buf)
		got <- buf[:n]
	}()

	d := NewDialer(staticResolver{}, nil)
	conn, err := d.Connect(context.Background(), ln.Addr().String(), []byte("GET / HTTP/1.0\r\n\r\n"))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	select {
	case b := <-got:
		if string(b) != "GET / HTTP/1.0\r\n\r\n" {
			t.Errorf("target received %q", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("target never received the initial payload")
	}
}

func TestConnectBadAddressIsProtocolError(t *testing.T) {
	d := NewDialer(staticResolver{}, nil)
	_, err := d.Connect(context.Background(), "no-port", nil)
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Errorf("err = %T (%v), want *ProtocolError", err, err)
	}
}

func TestConnectCancelledContextIsFatal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := &recordingDial{outcome: map[string]error{"192.0.2.1:80": context.Canceled}}
	d := NewDialer(staticResolver{"h.test": "192.0.2.1"}, []string{"f1.test"}, WithDialFunc(rec.dial))
	_, err := d.Connect(ctx, "h.test:80", nil)
	if err == nil {
		t.Fatal("Connect succeeded with cancelled context")
	}
	if len(rec.attempts) != 1 {
		t.Errorf("attempts = %v, cancellation must not advance the chain", rec.attempts)
	}
}
