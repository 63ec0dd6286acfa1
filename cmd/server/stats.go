package main

import (
	"time"

	"github.com/matst80/wsgate/internal/relay"
	"github.com/matst80/wsgate/internal/resolver"
)

// Stats is the /stats JSON payload.
type Stats struct {
	Sessions      int                     `json:"sessions"`
	TotalSessions int64                   `json:"total_sessions"`
	Cache         resolver.CacheStats     `json:"cache"`
	Backends      []resolver.BackendStats `json:"backends"`
	Live          []relay.SessionInfo     `json:"live"`
	Now           string                  `json:"now"`
}

func collectStats(reg *relay.Registry, res *resolver.Resolver) Stats {
	cache, backends := res.Stats()
	return Stats{
		Sessions:      reg.Len(),
		TotalSessions: reg.Total(),
		Cache:         cache,
		Backends:      backends,
		Live:          reg.Snapshot(),
		Now:           time.Now().UTC().Format(time.RFC3339),
	}
}
