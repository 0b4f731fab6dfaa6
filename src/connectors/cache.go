package connectors

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
)

// ResponseCache is a TTL-keyed cache for idempotent read calls. Holdings and
// prices are volatile, so TTLs stay short (60-300s depending on provider).
// Each connector owns its cache; instances are never shared across
// connectors.
type ResponseCache struct {
	c   *cache.Cache
	ttl time.Duration
}

// NewResponseCache builds a cache with the given default TTL in seconds.
// Non-positive values fall back to 300s.
func NewResponseCache(ttlSeconds int) *ResponseCache {
	if ttlSeconds <= 0 {
		ttlSeconds = 300
	}
	ttl := time.Duration(ttlSeconds) * time.Second
	return &ResponseCache{
		c:   cache.New(ttl, 2*ttl),
		ttl: ttl,
	}
}

// Get returns the cached value for key, or false once its TTL has elapsed.
func (rc *ResponseCache) Get(key string) (interface{}, bool) {
	return rc.c.Get(key)
}

// Set stores value under key with the default TTL.
func (rc *ResponseCache) Set(key string, value interface{}) {
	rc.c.Set(key, value, rc.ttl)
}

// SetWithTTL stores value under key with an explicit TTL override.
func (rc *ResponseCache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	rc.c.Set(key, value, ttl)
}

// Invalidate removes key and reports whether it was present.
func (rc *ResponseCache) Invalidate(key string) bool {
	_, found := rc.c.Get(key)
	rc.c.Delete(key)
	return found
}

// Clear removes every entry and returns the number removed.
func (rc *ResponseCache) Clear() int {
	n := rc.c.ItemCount()
	rc.c.Flush()
	return n
}

// Entries returns the current entry count, including not-yet-evicted expired
// items.
func (rc *ResponseCache) Entries() int {
	return rc.c.ItemCount()
}

// CacheKey derives a deterministic key from the parts of a call: method name,
// account, date range, whatever identifies the request. Unmarshalable parts
// fall back to their fmt representation so key derivation never fails.
func CacheKey(parts ...interface{}) string {
	data, err := json.Marshal(parts)
	if err != nil {
		data = []byte(fmt.Sprint(parts...))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16])
}
