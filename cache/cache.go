// Package cache persists resolved answers keyed by normalized prompt.
//
// Every lookup reads the whole backing store; writes are read-modify-write
// cycles serialized by Cache so concurrent resolutions never lose updates.
// Two stores are provided: FileStore (a JSON object rewritten in full on each
// update) and PGStore (a response_cache table).
package cache

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/onnwee/renai/sanitize"
	"github.com/onnwee/renai/telemetry"
)

// Entry is one prompt → response mapping in store order.
type Entry struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

// Store is the persistence boundary used by Cache.
type Store interface {
	// Load returns every entry in store order.
	Load(ctx context.Context) ([]Entry, error)
	// Put inserts or replaces the response for prompt.
	Put(ctx context.Context, prompt, response string) error
}

// Cache wraps a Store with the lookup semantics used by the resolver.
type Cache struct {
	store Store
	mu    sync.Mutex // serializes writers
}

// New returns a Cache over store.
func New(store Store) *Cache {
	return &Cache{store: store}
}

// Snapshot loads the store. A failed load degrades to an empty snapshot.
func (c *Cache) Snapshot(ctx context.Context) *Snapshot {
	entries, err := c.store.Load(ctx)
	if err != nil {
		slog.Warn("response cache load failed; using empty cache", slog.Any("err", err), slog.String("component", "cache"))
		telemetry.IncCacheError("load")
		entries = nil
	}
	s := &Snapshot{entries: entries, keys: make([]string, len(entries))}
	for i, e := range entries {
		s.keys[i] = sanitize.Normalize(e.Prompt)
	}
	return s
}

// Entries returns the raw store contents, or nil if the store is unreadable.
func (c *Cache) Entries(ctx context.Context) []Entry {
	return c.Snapshot(ctx).entries
}

// Put stores response under prompt. Writers are serialized.
func (c *Cache) Put(ctx context.Context, prompt, response string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Put(ctx, prompt, response); err != nil {
		telemetry.IncCacheError("store")
		return err
	}
	return nil
}

// Snapshot is a point-in-time view of the cache.
type Snapshot struct {
	entries []Entry
	keys    []string // normalized prompts, parallel to entries
}

// Len reports the number of entries.
func (s *Snapshot) Len() int { return len(s.entries) }

// Exact returns the response whose normalized key equals prompt. When a
// legacy store holds several keys that normalize alike, the last one wins.
func (s *Snapshot) Exact(prompt string) (string, bool) {
	for i := len(s.keys) - 1; i >= 0; i-- {
		if s.keys[i] == prompt {
			return s.entries[i].Response, true
		}
	}
	return "", false
}

// Contained returns the response of the first key, in load order, that is a
// substring of prompt. Shorter keys can shadow longer, more specific ones.
func (s *Snapshot) Contained(prompt string) (key, response string, ok bool) {
	for i, k := range s.keys {
		if k == "" {
			continue
		}
		if strings.Contains(prompt, k) {
			return k, s.entries[i].Response, true
		}
	}
	return "", "", false
}
