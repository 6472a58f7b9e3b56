// Package routes 注册 /-/ 前缀下的诊断接口。
package routes

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/version"
	"github.com/any-hub/shellcache/internal/worker"
)

// StatusOptions 描述诊断接口读取的运行时对象。
type StatusOptions struct {
	Host  *worker.Host
	Store cache.Store
}

type statusPayload struct {
	Version     string   `json:"version"`
	Controller  string   `json:"controller"`
	Generations []string `json:"generations"`
	Manifest    []string `json:"manifest,omitempty"`
	AppShell    string   `json:"app_shell,omitempty"`
	Pinned      string   `json:"pinned_resource,omitempty"`
	InFlight    int64    `json:"background_in_flight"`
	Failed      int64    `json:"background_failed"`
}

type entryPayload struct {
	Key       string    `json:"key"`
	Status    int       `json:"status"`
	Size      int64     `json:"size"`
	SizeHuman string    `json:"size_human"`
	StoredAt  time.Time `json:"stored_at"`
	StoredAgo string    `json:"stored_ago"`
}

type generationPayload struct {
	Name       string         `json:"name"`
	Current    bool           `json:"current"`
	Entries    []entryPayload `json:"entries"`
	TotalSize  int64          `json:"total_size"`
	TotalHuman string         `json:"total_size_human"`
}

// RegisterStatusRoutes 暴露 /-/status 与 /-/generations/:name 诊断接口。
func RegisterStatusRoutes(app *fiber.App, opts StatusOptions) {
	if app == nil || opts.Host == nil || opts.Store == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		names, err := opts.Store.Generations(requestContext(c))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "store_unavailable"})
		}
		return c.JSON(buildStatus(opts.Host, names))
	})

	app.Get("/-/generations", func(c fiber.Ctx) error {
		names, err := opts.Store.Generations(requestContext(c))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "store_unavailable"})
		}
		return c.JSON(fiber.Map{
			"current":     worker.GenerationOf(opts.Host.Controller()),
			"generations": names,
		})
	})

	app.Get("/-/generations/:name", func(c fiber.Ctx) error {
		name := strings.TrimSpace(c.Params("name"))
		if err := cache.ValidateGeneration(name); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_generation"})
		}
		summary, err := cache.Inspect(requestContext(c), opts.Store, name)
		if errors.Is(err, cache.ErrGenerationMissing) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "generation_not_found"})
		}
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "store_unavailable"})
		}
		current := worker.GenerationOf(opts.Host.Controller())
		return c.JSON(encodeGeneration(summary, current, time.Now()))
	})
}

func buildStatus(host *worker.Host, names []string) statusPayload {
	controller := host.Controller()
	payload := statusPayload{
		Version:     version.Full(),
		Controller:  worker.GenerationOf(controller),
		Generations: names,
		InFlight:    host.Tasks().InFlight(),
		Failed:      host.Tasks().Failed(),
	}
	if payload.Generations == nil {
		payload.Generations = []string{}
	}
	if w, ok := controller.(*worker.Worker); ok {
		payload.Manifest = w.Manifest()
		payload.AppShell = w.AppShell()
		payload.Pinned = w.Pinned()
	}
	return payload
}

func encodeGeneration(summary cache.Summary, current string, now time.Time) generationPayload {
	payload := generationPayload{
		Name:       summary.Name,
		Current:    summary.Name == current,
		Entries:    make([]entryPayload, 0, len(summary.Entries)),
		TotalSize:  summary.TotalSize,
		TotalHuman: humanize.IBytes(uint64(summary.TotalSize)),
	}
	for _, entry := range summary.Entries {
		payload.Entries = append(payload.Entries, entryPayload{
			Key:       entry.Key,
			Status:    entry.Status,
			Size:      entry.Size,
			SizeHuman: humanize.IBytes(uint64(entry.Size)),
			StoredAt:  entry.StoredAt,
			StoredAgo: humanize.RelTime(entry.StoredAt, now, "ago", "from now"),
		})
	}
	return payload
}

func requestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
