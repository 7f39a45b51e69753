// Package cache implements a fingerprint-keyed response cache: completed
// search responses are replayed to identical later requests, amortizing
// query cost across clients.
//
// Grounded on predoxy's api.ProxyCache, a sync.Mutex-guarded map used the
// same way for shared proxy state. Entry's ordered-append and
// one-shot-completion semantics rule out an opaque-byte cache like bigcache,
// which is used instead for the per-filter scratch cache (filter.Params).
package cache

import (
	"sync"
	"time"

	ber "github.com/go-asn1-ber/asn1-ber"

	"github.com/achetronic/ldapdoxy/codec"
)

// Entry is a cached search response set, keyed by request fingerprint.
type Entry struct {
	// Request is the originating search payload, kept for debugging.
	Request *ber.Packet
	// Responses is the ordered sequence of searchResEntry/searchResRef
	// messages followed by exactly one terminal searchResDone.
	Responses []*codec.Message
	// Completed is set true on arrival of searchResDone. It transitions
	// false→true exactly once and is never reset (invariant 4).
	Completed bool
	// InsertedAt is used to expire the entry after Cache.ttl seconds.
	InsertedAt time.Time
}

// Cache is a shared, mutex-guarded store of Entry values. Every mutation of
// the map or of an Entry (Set, Append, Purge, expiry in Get) holds this
// single lock. Several pairs forwarding the same in-flight request may all
// Append to one entry; appends stop once it is completed.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	ttl     time.Duration
}

// New builds an empty Cache with entries expiring after ttl.
func New(ttl time.Duration) *Cache {
	return &Cache{entries: make(map[string]*Entry), ttl: ttl}
}

// Get returns a live, non-expired entry for fingerprint, or nil if absent
// or expired. The returned Entry must be treated as read-only by callers
// that intend only to replay it; Append, which also sets Completed, is the
// only sanctioned mutator.
func (c *Cache) Get(fingerprint string) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[fingerprint]
	if !ok {
		return nil
	}
	if c.expired(entry) {
		delete(c.entries, fingerprint)
		return nil
	}
	return entry
}

// Set inserts or overwrites the entry for fingerprint.
func (c *Cache) Set(fingerprint string, entry *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fingerprint] = entry
}

// Append adds msg to the entry for fingerprint, marking it Completed if msg
// is a searchResDone. It is a no-op if the fingerprint is unknown or the
// entry is already completed (invariant 4: no appends after completion).
func (c *Cache) Append(fingerprint string, msg *codec.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[fingerprint]
	if !ok || entry.Completed {
		return
	}
	entry.Responses = append(entry.Responses, msg)
	if msg.IsSearchResultDone() {
		entry.Completed = true
	}
}

// Purge evicts every entry older than the configured ttl. Called
// opportunistically when the proxy observes no active pairs.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for fp, entry := range c.entries {
		if c.expired(entry) {
			delete(c.entries, fp)
		}
	}
}

// Len reports the number of stored entries, including expired ones that Get
// or Purge has not yet removed. Used by tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) expired(entry *Entry) bool {
	if c.ttl <= 0 {
		return false
	}
	return time.Since(entry.InsertedAt) > c.ttl
}
