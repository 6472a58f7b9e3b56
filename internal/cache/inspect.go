package cache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

// EntrySummary 是诊断用的条目摘要，不包含正文。
type EntrySummary struct {
	Key      string    `json:"key"`
	Status   int       `json:"status"`
	Size     int64     `json:"size"`
	StoredAt time.Time `json:"stored_at"`
}

// Summary 汇总一个代的全部条目。
type Summary struct {
	Name      string         `json:"name"`
	Entries   []EntrySummary `json:"entries"`
	TotalSize int64          `json:"total_size"`
}

// Inspect 读取代内全部条目的摘要；代不存在时返回 ErrGenerationMissing，且不会创建该代。
func Inspect(ctx context.Context, store Store, name string) (Summary, error) {
	names, err := store.Generations(ctx)
	if err != nil {
		return Summary{}, err
	}
	if !slices.Contains(names, name) {
		return Summary{}, fmt.Errorf("%w: %s", ErrGenerationMissing, name)
	}
	gen, err := store.Open(ctx, name)
	if err != nil {
		return Summary{}, err
	}
	keys, err := gen.Keys(ctx)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Name: name, Entries: make([]EntrySummary, 0, len(keys))}
	for _, key := range keys {
		entry, err := gen.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return Summary{}, fmt.Errorf("inspect %s: %w", key, err)
		}
		summary.Entries = append(summary.Entries, EntrySummary{
			Key:      key,
			Status:   entry.Status,
			Size:     entry.Size(),
			StoredAt: entry.StoredAt,
		})
		summary.TotalSize += entry.Size()
	}
	return summary, nil
}
