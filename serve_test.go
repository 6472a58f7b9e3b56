package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/background"
	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/config"
	"github.com/any-hub/shellcache/internal/server"
	"github.com/any-hub/shellcache/internal/worker"
)

func TestReloadSiteDeploysNewGeneration(t *testing.T) {
	origin := newSiteStub(t)
	store := cache.NewMemoryStore()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	first := siteConfigFile(t, origin.URL, "sv-fi-game-v1")
	cfg, err := config.Load(first)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	fetcher, err := server.NewOriginFetcher(cfg)
	if err != nil {
		t.Fatalf("origin error: %v", err)
	}
	tasks := background.NewGroup(logger)
	host := worker.NewHost(fetcher, tasks, logger)
	if _, err := worker.Start(context.Background(), host, workerOptions(cfg, store, fetcher, tasks, logger)); err != nil {
		t.Fatalf("start error: %v", err)
	}

	unchanged := reloadSite(context.Background(), first, cfg.Site, host, store, logger)
	if unchanged.Generation != "sv-fi-game-v1" {
		t.Fatalf("未变化的配置不应重新部署")
	}

	second := siteConfigFile(t, origin.URL, "sv-fi-game-v2")
	site := reloadSite(context.Background(), second, cfg.Site, host, store, logger)
	if site.Generation != "sv-fi-game-v2" {
		t.Fatalf("reload 应返回新站点配置，得到 %s", site.Generation)
	}
	if got := worker.GenerationOf(host.Controller()); got != "sv-fi-game-v2" {
		t.Fatalf("新版本应接管，当前 %s", got)
	}
	names, err := store.Generations(context.Background())
	if err != nil {
		t.Fatalf("generations error: %v", err)
	}
	if len(names) != 1 || names[0] != "sv-fi-game-v2" {
		t.Fatalf("activate 后只应保留新代，得到 %v", names)
	}
}

func TestReloadSiteKeepsControllerOnBadConfig(t *testing.T) {
	origin := newSiteStub(t)
	store := cache.NewMemoryStore()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg, err := config.Load(siteConfigFile(t, origin.URL, "sv-fi-game-v1"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	fetcher, err := server.NewOriginFetcher(cfg)
	if err != nil {
		t.Fatalf("origin error: %v", err)
	}
	tasks := background.NewGroup(logger)
	host := worker.NewHost(fetcher, tasks, logger)
	if _, err := worker.Start(context.Background(), host, workerOptions(cfg, store, fetcher, tasks, logger)); err != nil {
		t.Fatalf("start error: %v", err)
	}

	broken := writeConfigFile(t, `ListenPort = 5000`)
	site := reloadSite(context.Background(), broken, cfg.Site, host, store, logger)
	if site.Generation != "sv-fi-game-v1" {
		t.Fatalf("无效配置应保留原站点配置")
	}
	if got := worker.GenerationOf(host.Controller()); got != "sv-fi-game-v1" {
		t.Fatalf("控制者不应变化，当前 %s", got)
	}
}

func siteConfigFile(t *testing.T, origin, generation string) string {
	t.Helper()
	return writeConfigFile(t, fmt.Sprintf(`
LogLevel = "error"
StorageDriver = "memory"

Origin = "%s/"
Generation = "%s"
`, origin, generation))
}

func newSiteStub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/", "/index.html":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html>shell</html>"))
		case "/data.csv":
			w.Header().Set("Content-Type", "text/csv")
			_, _ = w.Write([]byte("a,b\n"))
		default:
			http.NotFound(w, r)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}
