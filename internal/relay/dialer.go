package relay

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/matst80/wsgate/internal/obs"
)

// DefaultDialTimeout bounds each individual connection attempt.
const DefaultDialTimeout = 10 * time.Second

// HostResolver resolves a hostname to an address. Satisfied by
// *resolver.Resolver.
type HostResolver interface {
	Resolve(ctx context.Context, host string) (string, error)
}

// DialFunc opens one TCP connection; swapped out in tests.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Dialer establishes the destination connection for a session. The requested
// host is tried first, then each configured fallback egress host on the same
// port, absorbing retryable failures along the way.
type Dialer struct {
	resolver      HostResolver
	fallbackHosts []string
	timeout       time.Duration
	dial          DialFunc
}

// DialerOption tweaks a Dialer.
type DialerOption func(*Dialer)

// WithDialTimeout overrides the per-attempt connect bound.
func WithDialTimeout(d time.Duration) DialerOption {
	return func(dl *Dialer) { dl.timeout = d }
}

// WithDialFunc replaces the underlying TCP dial.
func WithDialFunc(fn DialFunc) DialerOption {
	return func(dl *Dialer) { dl.dial = fn }
}

// NewDialer builds a Dialer over the given resolver and fallback host list.
func NewDialer(res HostResolver, fallbackHosts []string, opts ...DialerOption) *Dialer {
	d := &Dialer{
		resolver:      res,
		fallbackHosts: fallbackHosts,
		timeout:       DefaultDialTimeout,
		dial:          (&net.Dialer{}).DialContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Connect dials addr, walking the fallback chain on retryable failures, and
// writes initial to the established connection before returning it. The first
// fatal failure, or the last failure once the chain exhausts, is returned as
// a *DialError.
func (d *Dialer) Connect(ctx context.Context, addr string, initial []byte) (net.Conn, error) {
	host, port, err := ParseAddr(addr)
	if err != nil {
		return nil, &ProtocolError{Reason: err.Error()}
	}
	candidates := make([]string, 0, 1+len(d.fallbackHosts))
	candidates = append(candidates, host)
	candidates = append(candidates, d.fallbackHosts...)

	var lastErr error
	for i, candidate := range candidates {
		if i > 0 {
			obs.DialFallbacksTotal.Inc()
		}
		target := candidate
		if net.ParseIP(candidate) == nil {
			// Resolution failure degrades to dialing the name directly, it
			// never aborts the attempt.
			if resolved, rerr := d.resolver.Resolve(ctx, candidate); rerr == nil {
				target = resolved
			} else {
				obs.Debug("dial.resolve.degraded", obs.Fields{"host": candidate, "err": rerr.Error()})
			}
		}
		attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
		conn, derr := d.dial(attemptCtx, "tcp", net.JoinHostPort(target, strconv.Itoa(port)))
		cancel()
		if derr == nil {
			obs.DialAttemptsTotal.WithLabelValues("ok").Inc()
			if len(initial) > 0 {
				if _, werr := conn.Write(initial); werr != nil {
					_ = conn.Close()
					return nil, &DialError{Addr: addr, Attempts: i + 1, Err: werr}
				}
			}
			return conn, nil
		}
		obs.DialAttemptsTotal.WithLabelValues("error").Inc()
		obs.Debug("dial.attempt.failed", obs.Fields{"candidate": candidate, "target": target, "err": derr.Error()})
		lastErr = derr
		if !retryableDialError(derr) {
			return nil, &DialError{Addr: addr, Attempts: i + 1, Err: derr}
		}
	}
	return nil, &DialError{Addr: addr, Attempts: len(candidates), Retryable: true, Err: lastErr}
}
