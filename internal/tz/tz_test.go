package tz

import (
	"context"
	"errors"
	"testing"
	"time"

	logx "remindo/pkg/logx"
)

func TestParseOffset(t *testing.T) {
	t.Parallel()

	cases := []struct {
		offset  string
		seconds int
		wantErr bool
	}{
		{"+00:00", 0, false},
		{"+05:00", 5 * 3600, false},
		{"+05:45", 5*3600 + 45*60, false},
		{"-03:30", -(3*3600 + 30*60), false},
		{"-12:00", -12 * 3600, false},
		{"+14:00", 14 * 3600, false},
		{"+15:00", 0, true}, // not a real offset
		{"05:00", 0, true},  // sign required
		{"+5:00", 0, true},
		{"UTC", 0, true},
		{"", 0, true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.offset, func(t *testing.T) {
			t.Parallel()
			loc, err := ParseOffset(tc.offset)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseOffset(%q): expected error", tc.offset)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseOffset(%q): %v", tc.offset, err)
			}
			_, sec := time.Now().In(loc).Zone()
			if sec != tc.seconds {
				t.Fatalf("ParseOffset(%q) = %d seconds, want %d", tc.offset, sec, tc.seconds)
			}
		})
	}
}

func TestOffsetsTableIsValid(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for _, o := range Offsets {
		if seen[o] {
			t.Fatalf("duplicate offset %q", o)
		}
		seen[o] = true
		if _, err := ParseOffset(o); err != nil {
			t.Fatalf("table offset %q does not parse: %v", o, err)
		}
	}
}

type fakeTZStore struct {
	prefs map[cacheKey]string
	err   error
	gets  int
	sets  int
}

func (s *fakeTZStore) TimezoneOffset(_ context.Context, id int64, kind string) (string, bool, error) {
	s.gets++
	if s.err != nil {
		return "", false, s.err
	}
	off, ok := s.prefs[cacheKey{id: id, kind: kind}]
	return off, ok, nil
}

func (s *fakeTZStore) SetTimezoneOffset(_ context.Context, id int64, kind, offset string) error {
	s.sets++
	if s.err != nil {
		return s.err
	}
	s.prefs[cacheKey{id: id, kind: kind}] = offset
	return nil
}

func TestResolverPrecedence(t *testing.T) {
	t.Parallel()

	store := &fakeTZStore{prefs: map[cacheKey]string{
		{id: 10, kind: EntityUser}: "+03:00",
		{id: 20, kind: EntityChat}: "-05:00",
	}}
	r, err := NewResolver(store, "+05:00", logx.Nop())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	ctx := context.Background()

	// User preference wins over chat preference.
	if _, off := r.Resolve(ctx, 10, 20); off != "+03:00" {
		t.Fatalf("Resolve(user+chat) = %q, want +03:00", off)
	}
	// Chat preference when the user has none.
	if _, off := r.Resolve(ctx, 11, 20); off != "-05:00" {
		t.Fatalf("Resolve(chat only) = %q, want -05:00", off)
	}
	// Default when neither has one.
	if _, off := r.Resolve(ctx, 11, 21); off != "+05:00" {
		t.Fatalf("Resolve(default) = %q, want +05:00", off)
	}
}

func TestResolverCacheAndInvalidation(t *testing.T) {
	t.Parallel()

	store := &fakeTZStore{prefs: map[cacheKey]string{}}
	r, err := NewResolver(store, "+05:00", logx.Nop())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	ctx := context.Background()

	r.Resolve(ctx, 10, 20)
	r.Resolve(ctx, 10, 20)
	if store.gets != 2 { // one user miss + one chat miss, cached after that
		t.Fatalf("store gets = %d, want 2", store.gets)
	}

	if err := r.Set(ctx, 10, EntityUser, "+09:00"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, off := r.Resolve(ctx, 10, 20); off != "+09:00" {
		t.Fatalf("Resolve after Set = %q, want +09:00", off)
	}
}

func TestResolverRejectsBadInput(t *testing.T) {
	t.Parallel()

	store := &fakeTZStore{prefs: map[cacheKey]string{}}
	r, err := NewResolver(store, "+05:00", logx.Nop())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	if err := r.Set(context.Background(), 1, EntityUser, "+99:00"); err == nil {
		t.Fatal("Set must reject unknown offsets")
	}
	if err := r.Set(context.Background(), 1, "channel", "+03:00"); err == nil {
		t.Fatal("Set must reject unknown entity types")
	}
	if store.sets != 0 {
		t.Fatalf("store sets = %d, want 0", store.sets)
	}

	if _, err := NewResolver(store, "bogus", logx.Nop()); err == nil {
		t.Fatal("NewResolver must reject an invalid default offset")
	}
}

func TestResolverStoreErrorFallsBack(t *testing.T) {
	t.Parallel()

	store := &fakeTZStore{err: errors.New("db locked")}
	r, err := NewResolver(store, "+02:00", logx.Nop())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	loc, off := r.Resolve(context.Background(), 1, 2)
	if off != "+02:00" {
		t.Fatalf("Resolve with failing store = %q, want default +02:00", off)
	}
	_, sec := time.Now().In(loc).Zone()
	if sec != 2*3600 {
		t.Fatalf("zone seconds = %d, want %d", sec, 2*3600)
	}
}
