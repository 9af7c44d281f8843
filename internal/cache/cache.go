package cache

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

// Outcome says which tier served a cache operation, so callers and logs can
// tell "worked normally" from "worked via fallback".
type Outcome string

const (
	// OutcomeOK means the operation ran against the configured primary tier.
	OutcomeOK Outcome = "ok"
	// OutcomeDegraded means the remote tier failed at some point and the
	// in-process fallback served the operation instead.
	OutcomeDegraded Outcome = "degraded"
)

// GetResult carries a cache lookup result plus the tier that served it.
type GetResult struct {
	Value   []byte
	Found   bool
	Outcome Outcome
}

// Service is the two-tier cache: Redis first, an in-process map as fallback.
// Any remote failure flips remoteHealthy for the remainder of the process
// lifetime; there is deliberately no re-probing (see DESIGN.md).
type Service struct {
	remote *redis.Client
	memory *memoryCache
	logger *log.Logger

	mu            sync.Mutex
	remoteHealthy bool
}

// New builds a cache service. A nil client means no remote backend was
// configured and the in-process cache is the primary tier, not a fallback.
func New(client *redis.Client, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(log.Writer(), "[CACHE] ", log.LstdFlags)
	}
	return &Service{
		remote:        client,
		memory:        newMemoryCache(),
		logger:        logger,
		remoteHealthy: client != nil,
	}
}

func (s *Service) remoteUsable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote != nil && s.remoteHealthy
}

func (s *Service) markRemoteUnhealthy(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remoteHealthy {
		s.logger.Printf("remote cache %s failed, falling back to memory for process lifetime: %v", op, err)
	}
	s.remoteHealthy = false
}

// Degraded reports whether the service has fallen back to the memory tier
// after a remote failure.
func (s *Service) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote != nil && !s.remoteHealthy
}

// Get returns the cached value for key, or Found=false when absent.
func (s *Service) Get(ctx context.Context, key string) GetResult {
	if s.remoteUsable() {
		val, err := s.remote.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			return GetResult{Value: val, Found: true, Outcome: OutcomeOK}
		case err == redis.Nil:
			return GetResult{Outcome: OutcomeOK}
		default:
			s.markRemoteUnhealthy("get", err)
		}
	}
	val, found := s.memory.get(key)
	return GetResult{Value: val, Found: found, Outcome: s.memoryOutcome()}
}

// Set stores value under key with the given TTL.
func (s *Service) Set(ctx context.Context, key string, value []byte, ttl time.Duration) Outcome {
	if s.remoteUsable() {
		if err := s.remote.Set(ctx, key, value, ttl).Err(); err != nil {
			s.markRemoteUnhealthy("set", err)
		} else {
			return OutcomeOK
		}
	}
	s.memory.set(key, value, ttl)
	return s.memoryOutcome()
}

func (s *Service) memoryOutcome() Outcome {
	if s.Degraded() {
		return OutcomeDegraded
	}
	return OutcomeOK
}

// GenerateKey derives a stable cache key from free-form query text:
// lower-case, trim, strip anything that is not a letter, digit or space,
// then collapse whitespace runs into single hyphens. Equivalent phrasings
// ("What is Cursor?", "what  is  cursor???") collide on purpose.
func GenerateKey(prefix, text string) string {
	lowered := strings.ToLower(strings.TrimSpace(text))
	var b strings.Builder
	for _, r := range lowered {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	normalized := strings.Join(strings.Fields(b.String()), "-")
	return prefix + ":" + normalized
}

// EmbeddingKey digests embedding-request text into a fixed-size key. The
// dimensionality is part of the key so the two precision modes never share
// entries.
func EmbeddingKey(text string, dimensions int) string {
	sum := blake2b.Sum256([]byte(text))
	return fmt.Sprintf("embedding:%d:%s", dimensions, hex.EncodeToString(sum[:]))
}

// memoryCache is the in-process tier: a map of values with absolute expiry
// timestamps, treated as absent and lazily evicted once expired.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

const memorySweepThreshold = 4096

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]memoryEntry)}
}

func (m *memoryCache) get(key string) ([]byte, bool) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		m.mu.Lock()
		// Re-check under the write lock; another goroutine may have
		// refreshed the entry in between.
		if cur, ok := m.entries[key]; ok && time.Now().After(cur.expiresAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false
	}
	return entry.value, true
}

func (m *memoryCache) set(key string, value []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) >= memorySweepThreshold {
		now := time.Now()
		for k, e := range m.entries {
			if now.After(e.expiresAt) {
				delete(m.entries, k)
			}
		}
	}
	m.entries[key] = memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}
}
