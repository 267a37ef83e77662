package tz

import (
	"context"
	"fmt"
	"sync"
	"time"

	logx "remindo/pkg/logx"
)

const (
	EntityUser = "user"
	EntityChat = "chat"
)

// DefaultOffset is used when neither the user nor the chat has a saved
// preference. Overridable via config.
const DefaultOffset = "+05:00"

// Store is the slice of persistence the resolver needs.
type Store interface {
	TimezoneOffset(ctx context.Context, entityID int64, entityType string) (offset string, found bool, err error)
	SetTimezoneOffset(ctx context.Context, entityID int64, entityType, offset string) error
}

// Resolver answers "what timezone does this reminder run in". Precedence is
// user preference, then chat preference, then the default. Lookups are
// cached; Set invalidates the affected entry so a change is visible on the
// very next resolve.
type Resolver struct {
	store Store
	def   string
	log   logx.Logger

	mu    sync.RWMutex
	cache map[cacheKey]string
}

type cacheKey struct {
	id   int64
	kind string
}

func NewResolver(store Store, defaultOffset string, log logx.Logger) (*Resolver, error) {
	if defaultOffset == "" {
		defaultOffset = DefaultOffset
	}
	if !Valid(defaultOffset) {
		return nil, fmt.Errorf("default offset %q is not a known utc offset", defaultOffset)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{
		store: store,
		def:   defaultOffset,
		log:   log,
		cache: make(map[cacheKey]string),
	}, nil
}

// Resolve returns the effective location and its offset string for a
// user acting in a chat. Store errors fall back to the default offset so a
// flaky database degrades reminders to the default zone instead of blocking
// them.
func (r *Resolver) Resolve(ctx context.Context, userID, chatID int64) (*time.Location, string) {
	if off, ok := r.lookup(ctx, userID, EntityUser); ok {
		return mustZone(off), off
	}
	if off, ok := r.lookup(ctx, chatID, EntityChat); ok {
		return mustZone(off), off
	}
	return mustZone(r.def), r.def
}

func (r *Resolver) lookup(ctx context.Context, id int64, kind string) (string, bool) {
	if id == 0 {
		return "", false
	}
	key := cacheKey{id: id, kind: kind}

	r.mu.RLock()
	off, hit := r.cache[key]
	r.mu.RUnlock()
	if hit {
		return off, off != ""
	}

	off, found, err := r.store.TimezoneOffset(ctx, id, kind)
	if err != nil {
		r.log.Warn("timezone lookup failed, using default",
			logx.Int64("entity_id", id), logx.String("entity_type", kind), logx.Err(err))
		return "", false
	}
	if found && !Valid(off) {
		r.log.Warn("stored timezone offset is not recognized, ignoring",
			logx.Int64("entity_id", id), logx.String("entity_type", kind), logx.String("offset", off))
		found = false
	}
	if !found {
		off = ""
	}
	// Negative results are cached too ("" means: no preference).
	r.mu.Lock()
	r.cache[key] = off
	r.mu.Unlock()
	return off, found
}

// Set stores a preference and invalidates the cache entry.
func (r *Resolver) Set(ctx context.Context, id int64, kind, offset string) error {
	if !Valid(offset) {
		return fmt.Errorf("unknown utc offset %q", offset)
	}
	if kind != EntityUser && kind != EntityChat {
		return fmt.Errorf("unknown entity type %q", kind)
	}
	if err := r.store.SetTimezoneOffset(ctx, id, kind, offset); err != nil {
		return err
	}
	r.mu.Lock()
	r.cache[cacheKey{id: id, kind: kind}] = offset
	r.mu.Unlock()
	return nil
}

// Default returns the configured fallback offset.
func (r *Resolver) Default() string { return r.def }

// mustZone assumes the offset was validated before it was cached or stored.
func mustZone(off string) *time.Location {
	loc, err := ParseOffset(off)
	if err != nil {
		return time.UTC
	}
	return loc
}
