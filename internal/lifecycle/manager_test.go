package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/fetch"
)

var referenceManifest = []string{"./", "./index.html", "./data.csv"}

func siteFetcher(failKey string) fetch.Fetcher {
	return fetch.FetcherFunc(func(_ context.Context, req *fetch.Request) (*cache.Entry, error) {
		if req.Key() == failKey {
			return nil, errors.New("connection refused")
		}
		return &cache.Entry{Key: req.Key(), Status: http.StatusOK, Body: []byte("body of " + req.Key())}, nil
	})
}

func newManager(t *testing.T, store cache.Store, fetcher fetch.Fetcher, generation string) *Manager {
	t.Helper()
	m, err := NewManager(Options{
		Store:      store,
		Fetcher:    fetcher,
		Generation: generation,
		Manifest:   referenceManifest,
	})
	if err != nil {
		t.Fatalf("manager error: %v", err)
	}
	return m
}

func TestInstallPrecachesManifest(t *testing.T) {
	store := cache.NewMemoryStore()
	gen, err := newManager(t, store, siteFetcher(""), "sv-fi-game-v1").Install(context.Background())
	if err != nil {
		t.Fatalf("install error: %v", err)
	}
	keys, _ := gen.Keys(context.Background())
	if len(keys) != 3 || keys[0] != "/" || keys[1] != "/data.csv" || keys[2] != "/index.html" {
		t.Fatalf("unexpected keys after install: %v", keys)
	}
	entry, err := gen.Get(context.Background(), "/data.csv")
	if err != nil || string(entry.Body) != "body of /data.csv" {
		t.Fatalf("unexpected data entry: %v %v", entry, err)
	}
}

func TestInstallFailureLeavesNoGeneration(t *testing.T) {
	store := cache.NewMemoryStore()
	_, err := newManager(t, store, siteFetcher("/data.csv"), "sv-fi-game-v2").Install(context.Background())
	if !errors.Is(err, ErrInstallFailed) {
		t.Fatalf("expected ErrInstallFailed, got %v", err)
	}
	names, _ := store.Generations(context.Background())
	if len(names) != 0 {
		t.Fatalf("failed install must not publish a generation, got %v", names)
	}
}

func TestInstallFailureKeepsExistingGenerationUntouched(t *testing.T) {
	store := cache.NewMemoryStore()
	ctx := context.Background()
	existing, _ := store.Open(ctx, "sv-fi-game-v1")
	_ = existing.Put(ctx, &cache.Entry{Key: "/notes.txt", Body: []byte("lazy")})

	_, err := newManager(t, store, siteFetcher("/index.html"), "sv-fi-game-v1").Install(ctx)
	if !errors.Is(err, ErrInstallFailed) {
		t.Fatalf("expected ErrInstallFailed, got %v", err)
	}
	keys, _ := existing.Keys(ctx)
	if len(keys) != 1 || keys[0] != "/notes.txt" {
		t.Fatalf("manifest resources must not be partially stored, got %v", keys)
	}
}

func TestInstallTreatsErrorStatusAsFailure(t *testing.T) {
	store := cache.NewMemoryStore()
	fetcher := fetch.FetcherFunc(func(_ context.Context, req *fetch.Request) (*cache.Entry, error) {
		status := http.StatusOK
		if req.Key() == "/data.csv" {
			status = http.StatusNotFound
		}
		return &cache.Entry{Key: req.Key(), Status: status}, nil
	})
	if _, err := newManager(t, store, fetcher, "v1").Install(context.Background()); !errors.Is(err, ErrInstallFailed) {
		t.Fatalf("expected ErrInstallFailed for 404, got %v", err)
	}
}

func TestInstallDeduplicatesManifestKeys(t *testing.T) {
	var calls atomic.Int32
	fetcher := fetch.FetcherFunc(func(_ context.Context, req *fetch.Request) (*cache.Entry, error) {
		calls.Add(1)
		return &cache.Entry{Key: req.Key(), Status: http.StatusOK}, nil
	})
	m, err := NewManager(Options{
		Store:       cache.NewMemoryStore(),
		Fetcher:     fetcher,
		Generation:  "v1",
		Manifest:    []string{"./index.html", "/index.html", "index.html"},
		Concurrency: 1,
	})
	if err != nil {
		t.Fatalf("manager error: %v", err)
	}
	if _, err := m.Install(context.Background()); err != nil {
		t.Fatalf("install error: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one fetch, got %d", calls.Load())
	}
}

func TestActivateLeavesOnlyCurrentGeneration(t *testing.T) {
	ctx := context.Background()
	for _, preexisting := range [][]string{
		nil,
		{"sv-fi-game-v0"},
		{"a", "sv-fi-game-v1", "z"},
		{"sv-fi-game-v1"},
	} {
		store := cache.NewMemoryStore()
		for _, name := range preexisting {
			if _, err := store.Open(ctx, name); err != nil {
				t.Fatalf("open error: %v", err)
			}
		}
		m := newManager(t, store, siteFetcher(""), "sv-fi-game-v1")
		if _, err := m.Install(ctx); err != nil {
			t.Fatalf("install error: %v", err)
		}
		if err := m.Activate(ctx); err != nil {
			t.Fatalf("activate error: %v", err)
		}
		names, _ := store.Generations(ctx)
		if len(names) != 1 || names[0] != "sv-fi-game-v1" {
			t.Fatalf("preexisting %v: expected only current generation, got %v", preexisting, names)
		}
	}
}

func TestNewManagerValidatesOptions(t *testing.T) {
	if _, err := NewManager(Options{Store: cache.NewMemoryStore(), Fetcher: siteFetcher(""), Generation: "../x", Manifest: referenceManifest}); !errors.Is(err, cache.ErrInvalidGeneration) {
		t.Fatalf("expected ErrInvalidGeneration, got %v", err)
	}
	if _, err := NewManager(Options{Store: cache.NewMemoryStore(), Fetcher: siteFetcher(""), Generation: "v1"}); err == nil {
		t.Fatalf("empty manifest should fail")
	}
}
