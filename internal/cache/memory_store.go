package cache

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore 是纯内存实现，进程退出即丢失，适合测试与临时部署。
type MemoryStore struct {
	mu          sync.RWMutex
	generations map[string]map[string]*Entry
}

type memoryGeneration struct {
	store *MemoryStore
	name  string
}

// NewMemoryStore 创建空的内存缓存。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{generations: make(map[string]map[string]*Entry)}
}

func (m *MemoryStore) Open(ctx context.Context, generation string) (Generation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateGeneration(generation); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.generations[generation]; !ok {
		m.generations[generation] = make(map[string]*Entry)
	}
	return &memoryGeneration{store: m, name: generation}, nil
}

func (m *MemoryStore) Generations(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.generations))
	for name := range m.generations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryStore) Delete(ctx context.Context, generation string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.generations, generation)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func (g *memoryGeneration) Name() string {
	return g.name
}

func (g *memoryGeneration) Get(ctx context.Context, key string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.store.mu.RLock()
	defer g.store.mu.RUnlock()
	entry, ok := g.store.generations[g.name][key]
	if !ok {
		return nil, ErrNotFound
	}
	return entry.Clone(), nil
}

func (g *memoryGeneration) Put(ctx context.Context, entry *Entry) error {
	return g.PutAll(ctx, []*Entry{entry})
}

func (g *memoryGeneration) PutAll(ctx context.Context, entries []*Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := make([]*Entry, 0, len(entries))
	for _, entry := range entries {
		if err := checkEntry(entry); err != nil {
			return err
		}
		stored = append(stored, stampEntry(entry))
	}

	g.store.mu.Lock()
	defer g.store.mu.Unlock()
	bucket, ok := g.store.generations[g.name]
	if !ok {
		return ErrGenerationMissing
	}
	for _, entry := range stored {
		bucket[entry.Key] = entry
	}
	return nil
}

func (g *memoryGeneration) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.store.mu.RLock()
	defer g.store.mu.RUnlock()
	bucket := g.store.generations[g.name]
	keys := make([]string, 0, len(bucket))
	for key := range bucket {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
