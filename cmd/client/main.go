// Command client exposes a relay destination as a local TCP listener. Every
// accepted connection becomes one tunnel session: a CONNECT for the
// configured target, then raw bytes both ways until either side closes.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/matst80/wsgate/internal/obs"
	"github.com/matst80/wsgate/internal/proto"
)

const (
	handshakeTimeout = 10 * time.Second
	connectTimeout   = 30 * time.Second
	writeTimeout     = 10 * time.Second

	relayDialAttempts = 4
	relayDialBackoff  = 250 * time.Millisecond
)

func main() {
	parseConfig()
	if cfg.Debug {
		obs.EnableDebug(true)
	}
	if cfg.Target == "" {
		obs.Error("client.config", obs.Fields{"err": "target is required"})
		os.Exit(1)
	}
	obs.Info("client.start", obs.Fields{"listen": cfg.ListenAddr, "server": cfg.ServerURL, "target": cfg.Target})

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		obs.Error("client.listen", obs.Fields{"err": err.Error(), "addr": cfg.ListenAddr})
		os.Exit(1)
	}
	defer ln.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				obs.Info("client.shutdown", obs.Fields{})
				return
			}
			obs.Error("client.accept", obs.Fields{"err": err.Error()})
			return
		}
		go bridge(c)
	}
}

// bridge runs one local connection through one relay session.
func bridge(local net.Conn) {
	defer local.Close()
	remote := local.RemoteAddr().String()

	ws, err := dialRelay(cfg.ServerURL, cfg.Secret)
	if err != nil {
		obs.Error("bridge.dial", obs.Fields{"err": err.Error(), "remote": remote})
		return
	}
	defer ws.Close()

	var writeMu sync.Mutex
	if err := writeFrame(ws, &writeMu, websocket.TextMessage, proto.Connect(cfg.Target, nil)); err != nil {
		obs.Error("bridge.connect", obs.Fields{"err": err.Error(), "remote": remote})
		return
	}

	// Wait for the relay to acknowledge before pumping local bytes out.
	_ = ws.SetReadDeadline(time.Now().Add(connectTimeout))
	msgType, data, err := ws.ReadMessage()
	if err != nil {
		obs.Error("bridge.ack", obs.Fields{"err": err.Error(), "remote": remote})
		return
	}
	if msgType != websocket.TextMessage || !proto.IsConnected(data) {
		if msg, ok := proto.ErrorMessage(data); ok {
			obs.Error("bridge.refused", obs.Fields{"err": msg, "remote": remote})
		} else {
			obs.Error("bridge.refused", obs.Fields{"frame": string(data), "remote": remote})
		}
		return
	}
	_ = ws.SetReadDeadline(time.Time{})
	obs.Debug("bridge.established", obs.Fields{"remote": remote})

	var once sync.Once
	closeBoth := func() { _ = local.Close(); _ = ws.Close() }

	go func() {
		defer once.Do(closeBoth)
		buf := make([]byte, 32*1024)
		for {
			n, err := local.Read(buf)
			if n > 0 {
				if werr := writeFrame(ws, &writeMu, websocket.BinaryMessage, buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				// Local EOF: ask the relay to finish the session.
				_ = writeFrame(ws, &writeMu, websocket.TextMessage, proto.CloseFrame())
				return
			}
		}
	}()

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			once.Do(closeBoth)
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			if _, err := local.Write(data); err != nil {
				once.Do(closeBoth)
				return
			}
		case websocket.TextMessage:
			if proto.IsClose(data) {
				once.Do(closeBoth)
				return
			}
			if msg, ok := proto.ErrorMessage(data); ok {
				obs.Error("bridge.session", obs.Fields{"err": msg, "remote": remote})
				once.Do(closeBoth)
				return
			}
		}
	}
}

// dialRelay connects to the relay, retrying transient failures with a
// doubling backoff. A rejected secret ends the attempts immediately.
func dialRelay(serverURL, secret string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	if secret != "" {
		dialer.Subprotocols = []string{secret}
	}
	backoff := relayDialBackoff
	var lastErr error
	for attempt := 0; attempt < relayDialAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}
		ws, resp, err := dialer.Dial(serverURL, nil)
		if err == nil {
			return ws, nil
		}
		lastErr = err
		if resp != nil && resp.StatusCode == http.StatusForbidden {
			return nil, err
		}
		obs.Warn("relay.dial.retry", obs.Fields{"err": err.Error(), "attempt": attempt + 1})
	}
	return nil, lastErr
}

func writeFrame(ws *websocket.Conn, mu *sync.Mutex, msgType int, data []byte) error {
	mu.Lock()
	defer mu.Unlock()
	if err := ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return ws.WriteMessage(msgType, data)
}
