package mqttpub

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegistry_AcquireDedupesByIdentity(t *testing.T) {
	r := NewRegistry(testLogger())
	cfg := Config{ClientID: "client-a", Topic: "/mqtt"}

	h1, err := r.Acquire("tcp://broker:1883", cfg)
	if err != nil {
		t.Fatalf("Acquire: unexpected error: %v", err)
	}
	h2, err := r.Acquire("tcp://broker:1883", cfg)
	if err != nil {
		t.Fatalf("Acquire: unexpected error: %v", err)
	}
	if h1 != h2 {
		t.Error("expected identical (url, topic, client_id) to reuse the same handle")
	}
	if r.Len() != 1 {
		t.Errorf("expected registry to hold 1 handle, got %d", r.Len())
	}
}

func TestRegistry_AcquireDistinguishesByTopicAndClientID(t *testing.T) {
	r := NewRegistry(testLogger())

	h1, _ := r.Acquire("tcp://broker:1883", Config{ClientID: "client-a", Topic: "/mqtt"})
	h2, _ := r.Acquire("tcp://broker:1883", Config{ClientID: "client-b", Topic: "/mqtt"})
	h3, _ := r.Acquire("tcp://broker:1883", Config{ClientID: "client-a", Topic: "/other"})

	if h1 == h2 || h1 == h3 || h2 == h3 {
		t.Error("expected distinct identities to get distinct handles")
	}
	if r.Len() != 3 {
		t.Errorf("expected 3 distinct handles, got %d", r.Len())
	}
}

func TestRegistry_ReleaseRemovesOnLastRef(t *testing.T) {
	r := NewRegistry(testLogger())
	cfg := Config{ClientID: "client-a", Topic: "/mqtt"}

	h, _ := r.Acquire("tcp://broker:1883", cfg)
	r.Acquire("tcp://broker:1883", cfg)
	if r.Len() != 1 {
		t.Fatalf("expected 1 handle after two acquires of same identity, got %d", r.Len())
	}

	r.Release(h)
	if r.Len() != 1 {
		t.Fatalf("expected handle to survive first release (refcount 1), got Len()=%d", r.Len())
	}

	r.Release(h)
	if r.Len() != 0 {
		t.Errorf("expected handle removed after last release, got Len()=%d", r.Len())
	}
}

func TestRegistry_AcquireReturnsErrRegistryFullAtCapacity(t *testing.T) {
	r := NewRegistry(testLogger())
	for i := 0; i < maxHandles; i++ {
		_, err := r.Acquire("tcp://broker:1883", Config{ClientID: fmt.Sprintf("client-%d", i), Topic: "/mqtt"})
		if err != nil {
			t.Fatalf("Acquire %d: unexpected error: %v", i, err)
		}
	}

	_, err := r.Acquire("tcp://broker:1883", Config{ClientID: "overflow", Topic: "/mqtt"})
	if !errors.Is(err, ErrRegistryFull) {
		t.Errorf("expected ErrRegistryFull at capacity, got %v", err)
	}
}

func TestRegistry_ReleaseUnknownIdentityIsNoop(t *testing.T) {
	r := NewRegistry(testLogger())
	other := NewRegistry(testLogger())
	h, _ := other.Acquire("tcp://broker:1883", Config{ClientID: "never-acquired-here", Topic: "/mqtt"})

	r.Release(h)
	if r.Len() != 0 {
		t.Errorf("expected no-op release to leave registry empty, got Len()=%d", r.Len())
	}
}

func TestRegistry_AcquireDefaultsEmptyClientID(t *testing.T) {
	r := NewRegistry(testLogger())

	h1, err := r.Acquire("tcp://broker:1883", Config{Topic: "/mqtt"})
	if err != nil {
		t.Fatalf("Acquire: unexpected error: %v", err)
	}
	h2, err := r.Acquire("tcp://broker:1883", Config{Topic: "/mqtt"})
	if err != nil {
		t.Fatalf("Acquire: unexpected error: %v", err)
	}
	if h1 == h2 {
		t.Error("expected two callers leaving client_id empty to get distinct defaulted identities")
	}
	if r.Len() != 2 {
		t.Errorf("expected 2 distinct handles, got %d", r.Len())
	}
}
