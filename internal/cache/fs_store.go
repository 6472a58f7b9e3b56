package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const entrySuffix = ".entry"

// NewFileStore 以 basePath 为根目录构建磁盘缓存，每个代对应一个子目录。
func NewFileStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一条目并发写入，落盘采用临时文件 + rename。
type fileStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

type fileGeneration struct {
	store *fileStore
	name  string
	dir   string
}

func (s *fileStore) Open(ctx context.Context, generation string) (Generation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.generationDir(generation)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create generation %s: %w", generation, err)
	}
	return &fileGeneration{store: s, name: generation, dir: dir}, nil
}

func (s *fileStore) Generations(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		if !item.IsDir() || strings.HasPrefix(item.Name(), ".") {
			continue
		}
		names = append(names, item.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *fileStore) Delete(ctx context.Context, generation string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.generationDir(generation)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

func (s *fileStore) Close() error {
	return nil
}

func (s *fileStore) generationDir(generation string) (string, error) {
	if err := ValidateGeneration(generation); err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, generation), nil
}

func (g *fileGeneration) Name() string {
	return g.name
}

func (g *fileGeneration) Get(ctx context.Context, key string) (*Entry, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	filePath := g.entryPath(key)
	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer f.Close()

	entry, err := decodeEntry(f, true)
	if err != nil {
		return nil, err
	}
	// xxhash 碰撞时文件属于其它 key，按未命中处理。
	if entry.Key != key {
		return nil, ErrNotFound
	}
	return entry, nil
}

func (g *fileGeneration) Put(ctx context.Context, entry *Entry) error {
	return g.PutAll(ctx, []*Entry{entry})
}

// PutAll 先为每个条目写好临时文件，全部成功后再逐个 rename；任一写入失败则清理全部临时文件。
func (g *fileGeneration) PutAll(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if err := checkEntry(entry); err != nil {
			return err
		}
		keys = append(keys, entry.Key)
	}

	unlock := g.store.lockEntries(g.name, keys)
	defer unlock()

	if info, err := os.Stat(g.dir); err != nil || !info.IsDir() {
		return ErrGenerationMissing
	}

	temps := make([]string, 0, len(entries))
	cleanup := func() {
		for _, name := range temps {
			os.Remove(name)
		}
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			cleanup()
			return err
		}
		tempName, err := g.writeTemp(stampEntry(entry))
		if err != nil {
			cleanup()
			return err
		}
		temps = append(temps, tempName)
	}

	for i, entry := range entries {
		if err := os.Rename(temps[i], g.entryPath(entry.Key)); err != nil {
			cleanup()
			return err
		}
	}
	return nil
}

func (g *fileGeneration) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items, err := os.ReadDir(g.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	keys := make([]string, 0, len(items))
	for _, item := range items {
		if item.IsDir() || !strings.HasSuffix(item.Name(), entrySuffix) {
			continue
		}
		f, err := os.Open(filepath.Join(g.dir, item.Name()))
		if err != nil {
			continue
		}
		entry, err := decodeEntry(f, false)
		f.Close()
		if err != nil {
			continue
		}
		keys = append(keys, entry.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (g *fileGeneration) writeTemp(entry *Entry) (string, error) {
	tempFile, err := os.CreateTemp(g.dir, ".cache-*")
	if err != nil {
		return "", err
	}
	tempName := tempFile.Name()

	err = encodeEntry(tempFile, entry)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return "", err
	}
	return tempName, nil
}

func (g *fileGeneration) entryPath(key string) string {
	return filepath.Join(g.dir, fmt.Sprintf("%016x%s", xxhash.Sum64String(key), entrySuffix))
}

// lockEntries 按排序后的顺序加锁，避免批量写入之间互相死锁。
func (s *fileStore) lockEntries(generation string, keys []string) func() {
	seen := make(map[string]struct{}, len(keys))
	ordered := make([]string, 0, len(keys))
	for _, key := range keys {
		lockKey := generation + "::" + key
		if _, ok := seen[lockKey]; ok {
			continue
		}
		seen[lockKey] = struct{}{}
		ordered = append(ordered, lockKey)
	}
	sort.Strings(ordered)

	unlocks := make([]func(), 0, len(ordered))
	for _, key := range ordered {
		unlocks = append(unlocks, s.lockEntry(key))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

func (s *fileStore) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}
