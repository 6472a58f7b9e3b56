package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Store 管理所有缓存代（generation）命名空间，进程内共享一份实例。
type Store interface {
	// Open 打开指定代的命名空间，不存在时创建。
	Open(ctx context.Context, generation string) (Generation, error)

	// Generations 返回当前持久化的全部代名称，按名称排序。
	Generations(ctx context.Context) ([]string, error)

	// Delete 删除整个代及其全部条目，不存在时视为成功。
	Delete(ctx context.Context, generation string) error

	// Close 释放底层资源（文件句柄、数据库连接等）。
	Close() error
}

// Generation 是单个代命名空间的读写句柄，单个 key 的 Get/Put 需保证原子性。
type Generation interface {
	Name() string

	// Get 返回 key 对应的条目；不存在时返回 ErrNotFound。
	Get(ctx context.Context, key string) (*Entry, error)

	// Put 写入（覆盖）单个条目。
	Put(ctx context.Context, entry *Entry) error

	// PutAll 以全有或全无的语义批量写入，供 install 阶段预缓存使用。
	PutAll(ctx context.Context, entries []*Entry) error

	// Keys 列出该代已有的全部 key，按字典序排序。
	Keys(ctx context.Context) ([]string, error)
}

// Entry 表示一条缓存的响应：状态码、头部与不透明的正文字节。
type Entry struct {
	Key      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Clone 返回一份深拷贝，便于同一响应既返回给调用方又写回缓存。
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	cloned := &Entry{
		Key:      e.Key,
		Status:   e.Status,
		Header:   e.Header.Clone(),
		StoredAt: e.StoredAt,
	}
	if e.Body != nil {
		cloned.Body = append([]byte(nil), e.Body...)
	}
	if cloned.Header == nil {
		cloned.Header = http.Header{}
	}
	return cloned
}

// Size 返回正文字节数。
func (e *Entry) Size() int64 {
	if e == nil {
		return 0
	}
	return int64(len(e.Body))
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidGeneration 表示代名称无法作为命名空间使用。
	ErrInvalidGeneration = errors.New("invalid generation name")
	// ErrGenerationMissing 表示代已被删除，旧句柄上的写入会被拒绝。
	ErrGenerationMissing = errors.New("cache generation no longer exists")
)

const (
	DriverFS     = "fs"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// NewStore 按驱动名称构建缓存存储；path 对 fs 为目录，对 sqlite 为数据库文件。
func NewStore(driver, path string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverFS:
		return NewFileStore(path)
	case DriverSQLite:
		store, err := NewSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}

// ValidateGeneration 校验代名称可安全用作目录名或主键。
func ValidateGeneration(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: empty", ErrInvalidGeneration)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %s", ErrInvalidGeneration, name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: leading dot in %s", ErrInvalidGeneration, name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: path separator in %s", ErrInvalidGeneration, name)
	}
	return nil
}

func stampEntry(entry *Entry) *Entry {
	stored := entry.Clone()
	if stored.StoredAt.IsZero() {
		stored.StoredAt = time.Now().UTC()
	}
	if stored.Status == 0 {
		stored.Status = http.StatusOK
	}
	return stored
}

func checkEntry(entry *Entry) error {
	if entry == nil {
		return errors.New("nil cache entry")
	}
	if entry.Key == "" {
		return errors.New("cache entry key required")
	}
	return nil
}
