package cache

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/nimbusml/forecastd/internal/models"
)

func TestKey(t *testing.T) {
	loc := models.Location{Latitude: 40.7120, Longitude: -74.0060}

	got := Key(loc, 3, "run-1")
	want := "forecast:40.7120,-74.0060:h3:run-1"
	if got != want {
		t.Errorf("Key = %q, want %q", got, want)
	}

	// A different model version must never hit another version's entries.
	if Key(loc, 3, "run-2") == got {
		t.Error("key does not separate model versions")
	}
	if Key(loc, 7, "run-1") == got {
		t.Error("key does not separate horizons")
	}

	// Sub-precision coordinate jitter lands on the same entry.
	jittered := models.Location{Latitude: 40.71201, Longitude: -74.00599}
	if Key(jittered, 3, "run-1") != got {
		t.Error("nearby coordinates should share a key")
	}
}

func TestMemoryTTL(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	ctx := context.Background()
	m.Set(ctx, "k", []byte("payload"), 30*time.Minute)

	got, ok := m.Get(ctx, "k")
	if !ok || !bytes.Equal(got, []byte("payload")) {
		t.Fatalf("Get = %q, %v; want payload, true", got, ok)
	}

	now = now.Add(29 * time.Minute)
	if _, ok := m.Get(ctx, "k"); !ok {
		t.Error("entry expired before its TTL")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := m.Get(ctx, "k"); ok {
		t.Error("entry served after its TTL")
	}
}

func TestMemoryMiss(t *testing.T) {
	m := NewMemory()
	if _, ok := m.Get(context.Background(), "absent"); ok {
		t.Error("unknown key reported a hit")
	}
}

func TestMemoryOverwrite(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.Set(ctx, "k", []byte("old"), time.Minute)
	m.Set(ctx, "k", []byte("new"), time.Minute)

	got, ok := m.Get(ctx, "k")
	if !ok || string(got) != "new" {
		t.Errorf("Get = %q, %v; want new, true", got, ok)
	}
}
