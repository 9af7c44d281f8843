package ratelimit

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/tutorialhub/answerd/internal/cache"
)

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetTime time.Time
	// Degraded marks decisions made against the cache's memory fallback.
	Degraded bool
}

// Limiter implements a sliding-window counter per client key on top of the
// cache service. It fails open: if the cache layer itself breaks, requests
// are allowed rather than blocked on an infrastructure hiccup.
type Limiter struct {
	cache       *cache.Service
	window      time.Duration
	maxRequests int
	keyPrefix   string
	logger      *log.Logger
	now         func() time.Time
}

// New builds a limiter with the given window and budget. The prefix keeps
// differently scoped policies (general vs answer) from sharing windows.
func New(c *cache.Service, window time.Duration, maxRequests int, keyPrefix string, logger *log.Logger) *Limiter {
	if logger == nil {
		logger = log.New(log.Writer(), "[RATELIMIT] ", log.LstdFlags)
	}
	return &Limiter{
		cache:       c,
		window:      window,
		maxRequests: maxRequests,
		keyPrefix:   keyPrefix,
		logger:      logger,
		now:         time.Now,
	}
}

// Check records one request attempt for clientKey and decides whether it is
// within budget. Timestamps older than the trailing window are pruned before
// the membership check.
func (l *Limiter) Check(ctx context.Context, clientKey string) Decision {
	key := l.keyPrefix + ":" + clientKey
	now := l.now()
	cutoff := now.Add(-l.window)

	var stamps []int64
	res := l.cache.Get(ctx, key)
	if res.Found {
		if err := json.Unmarshal(res.Value, &stamps); err != nil {
			// A corrupt window is discarded rather than blocking traffic.
			l.logger.Printf("discarding unreadable window for %s: %v", clientKey, err)
			stamps = nil
		}
	}

	kept := stamps[:0]
	for _, ts := range stamps {
		if t := time.UnixMilli(ts); t.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.maxRequests {
		oldest := time.UnixMilli(kept[0])
		return Decision{
			Allowed:   false,
			Remaining: 0,
			ResetTime: oldest.Add(l.window),
			Degraded:  res.Outcome == cache.OutcomeDegraded,
		}
	}

	kept = append(kept, now.UnixMilli())
	payload, err := json.Marshal(kept)
	if err != nil {
		// Marshalling int64s cannot realistically fail; allow regardless.
		l.logger.Printf("marshal window for %s: %v", clientKey, err)
		return Decision{Allowed: true, Remaining: l.maxRequests - len(kept), ResetTime: now.Add(l.window)}
	}
	ttl := time.Duration((l.window.Milliseconds()+999)/1000) * time.Second
	outcome := l.cache.Set(ctx, key, payload, ttl)

	reset := now.Add(l.window)
	if len(kept) > 0 {
		reset = time.UnixMilli(kept[0]).Add(l.window)
	}
	return Decision{
		Allowed:   true,
		Remaining: l.maxRequests - len(kept),
		ResetTime: reset,
		Degraded:  outcome == cache.OutcomeDegraded,
	}
}
