package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/spec-kit/property-service/internal/events"
)

// QueryCache is the client-side cache whose entries events make stale.
type QueryCache interface {
	Invalidate(key string)
}

// Invalidator maps events to the query keys they make stale.
type Invalidator struct {
	cache QueryCache
}

// NewInvalidator wraps cache.
func NewInvalidator(cache QueryCache) *Invalidator {
	return &Invalidator{cache: cache}
}

// KeysFor returns the query keys affected by event. Unknown families yield
// nothing.
func KeysFor(event events.Event) []string {
	switch {
	case event.Type.HasPrefix("ticket."):
		keys := []string{"tickets"}
		for _, ref := range event.Resources {
			if ref.Type == "ticket" && ref.ID != "" {
				keys = append(keys, "ticket:"+ref.ID, "timeline:"+ref.ID)
			}
		}
		return keys
	case event.Type.HasPrefix("job."):
		return []string{"jobs"}
	}
	return nil
}

// Apply invalidates every key affected by event and returns them.
func (i *Invalidator) Apply(event events.Event) []string {
	keys := KeysFor(event)
	for _, key := range keys {
		i.cache.Invalidate(key)
	}
	return keys
}

// HandleFrame decodes an SSE frame produced by the hub and applies it.
// Frames that are not events are ignored.
func (i *Invalidator) HandleFrame(_ context.Context, frame Frame) error {
	var event events.Event
	if err := json.Unmarshal([]byte(frame.Data), &event); err != nil {
		return err
	}
	if event.Type == "" {
		event.Type = events.EventType(frame.Event)
	}
	i.Apply(event)
	return nil
}

// KeyCache is a QueryCache that counts invalidations per key. Readers compare
// generations to decide whether a cached query must be refetched.
type KeyCache struct {
	mu          sync.Mutex
	generations map[string]uint64
}

// NewKeyCache returns an empty cache.
func NewKeyCache() *KeyCache {
	return &KeyCache{generations: make(map[string]uint64)}
}

func (k *KeyCache) Invalidate(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.generations[key]++
}

// Generation returns how often key has been invalidated.
func (k *KeyCache) Generation(key string) uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.generations[key]
}

// Keys lists the keys invalidated at least once with the given prefix.
func (k *KeyCache) Keys(prefix string) []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	var out []string
	for key := range k.generations {
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	return out
}
