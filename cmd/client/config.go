package main

import (
	"flag"
	"os"
)

// Config holds client runtime configuration.
type Config struct {
	ListenAddr string
	ServerURL  string
	Secret     string
	Target     string
	Debug      bool
}

var cfg Config

func init() {
	flag.StringVar(&cfg.ListenAddr, "listen", envOr("WSGATE_CLIENT_LISTEN", "127.0.0.1:1080"), "local TCP listen address")
	flag.StringVar(&cfg.ServerURL, "server", envOr("WSGATE_SERVER_URL", "ws://127.0.0.1:8080/"), "relay WebSocket URL")
	flag.StringVar(&cfg.Secret, "secret", envOr("WSGATE_SECRET", ""), "shared secret presented as a subprotocol")
	flag.StringVar(&cfg.Target, "target", envOr("WSGATE_TARGET", ""), "destination host:port requested for every session")
	flag.BoolVar(&cfg.Debug, "debug", os.Getenv("WSGATE_DEBUG") != "", "enable debug logs")
}

func parseConfig() {
	flag.Parse()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
