package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/background"
	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/fetch"
	"github.com/any-hub/shellcache/internal/server"
	"github.com/any-hub/shellcache/internal/worker"
)

func TestStatusReportsController(t *testing.T) {
	app, _ := newDiagnosticsApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/-/status", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload statusPayload
	decodeBody(t, resp, &payload)
	if payload.Controller != "sv-fi-game-v1" {
		t.Fatalf("unexpected controller %q", payload.Controller)
	}
	if len(payload.Generations) != 1 || payload.Generations[0] != "sv-fi-game-v1" {
		t.Fatalf("unexpected generations %v", payload.Generations)
	}
	if payload.Pinned != "data.csv" || payload.AppShell != "/index.html" || len(payload.Manifest) != 3 {
		t.Fatalf("unexpected worker details %+v", payload)
	}
}

func TestGenerationDetail(t *testing.T) {
	app, _ := newDiagnosticsApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/-/generations/sv-fi-game-v1", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload generationPayload
	decodeBody(t, resp, &payload)
	if !payload.Current || len(payload.Entries) != 3 {
		t.Fatalf("unexpected generation payload %+v", payload)
	}
	if payload.TotalHuman == "" || payload.Entries[0].SizeHuman == "" {
		t.Fatalf("expected human readable sizes")
	}
}

func TestGenerationDetailNotFound(t *testing.T) {
	app, store := newDiagnosticsApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/-/generations/sv-fi-game-v9", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	names, _ := store.Generations(context.Background())
	if len(names) != 1 {
		t.Fatalf("diagnostics must not create generations, got %v", names)
	}
}

func TestEncodeGenerationHumanizesSizes(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	summary := cache.Summary{
		Name:      "v1",
		TotalSize: 2048,
		Entries: []cache.EntrySummary{
			{Key: "/data.csv", Status: 200, Size: 2048, StoredAt: now.Add(-time.Hour)},
		},
	}
	payload := encodeGeneration(summary, "v2", now)
	if payload.Current {
		t.Fatalf("v1 is not the current generation")
	}
	if payload.TotalHuman != "2.0 KiB" {
		t.Fatalf("unexpected total size %q", payload.TotalHuman)
	}
	if payload.Entries[0].StoredAgo != "1 hour ago" {
		t.Fatalf("unexpected relative time %q", payload.Entries[0].StoredAgo)
	}
}

func newDiagnosticsApp(t *testing.T) (*fiber.App, cache.Store) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := cache.NewMemoryStore()
	site := fetch.FetcherFunc(func(_ context.Context, req *fetch.Request) (*cache.Entry, error) {
		return &cache.Entry{Key: req.Key(), Status: http.StatusOK, Body: []byte("content of " + req.Key())}, nil
	})
	tasks := background.NewGroup(logger)
	host := worker.NewHost(site, tasks, logger)
	if _, err := worker.Start(context.Background(), host, worker.Options{
		Store:      store,
		Fetcher:    site,
		Tasks:      tasks,
		Generation: "sv-fi-game-v1",
		Manifest:   []string{"./", "./index.html", "./data.csv"},
		AppShell:   "./index.html",
		Pinned:     "data.csv",
		Logger:     logger,
	}); err != nil {
		t.Fatalf("start error: %v", err)
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      server.NewHandler(host, logger),
		ListenPort: 5000,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	RegisterStatusRoutes(app, StatusOptions{Host: host, Store: store})
	return app, store
}

func decodeBody(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}
