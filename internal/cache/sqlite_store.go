package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteStore 将所有代存放在同一个 SQLite 文件中，代与条目分表保存。
type SQLiteStore struct {
	db *sql.DB
}

type sqliteGeneration struct {
	db   *sql.DB
	name string
}

var sqliteSchema = []string{
	"CREATE TABLE IF NOT EXISTS generations (name TEXT PRIMARY KEY, created_at INTEGER NOT NULL)",
	`CREATE TABLE IF NOT EXISTS entries (
		generation TEXT NOT NULL,
		key TEXT NOT NULL,
		status INTEGER NOT NULL,
		header BLOB,
		body BLOB,
		stored_at INTEGER NOT NULL,
		PRIMARY KEY (generation, key)
	)`,
	"PRAGMA journal_mode=WAL",
}

// NewSQLiteStore 打开（或创建）dbPath 指向的数据库，"memory" 表示共享内存库。
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, errors.New("sqlite database path required")
	}
	dsn := dbPath
	if dbPath == DriverMemory {
		dsn = "file::memory:?cache=shared"
	} else if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite 同一时刻只允许一个写事务，单连接避免 database is locked。
	db.SetMaxOpenConns(1)

	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Open(ctx context.Context, generation string) (Generation, error) {
	if err := ValidateGeneration(generation); err != nil {
		return nil, err
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO generations (name, created_at) VALUES (?, ?)",
		generation, time.Now().UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("create generation %s: %w", generation, err)
	}
	return &sqliteGeneration{db: s.db, name: generation}, nil
}

func (s *SQLiteStore) Generations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM generations ORDER BY name ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, generation string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE generation = ?", generation); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM generations WHERE name = ?", generation); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (g *sqliteGeneration) Name() string {
	return g.name
}

func (g *sqliteGeneration) Get(ctx context.Context, key string) (*Entry, error) {
	var (
		status   int
		header   []byte
		body     []byte
		storedAt int64
	)
	err := g.db.QueryRowContext(ctx,
		"SELECT status, header, body, stored_at FROM entries WHERE generation = ? AND key = ?",
		g.name, key).Scan(&status, &header, &body, &storedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	entry := &Entry{
		Key:      key,
		Status:   status,
		Header:   http.Header{},
		Body:     body,
		StoredAt: time.Unix(0, storedAt).UTC(),
	}
	if len(header) > 0 {
		if err := json.Unmarshal(header, &entry.Header); err != nil {
			return nil, fmt.Errorf("decode cached header: %w", err)
		}
	}
	return entry, nil
}

func (g *sqliteGeneration) Put(ctx context.Context, entry *Entry) error {
	return g.PutAll(ctx, []*Entry{entry})
}

// PutAll 在单个事务中写入全部条目，任一失败即回滚。
func (g *sqliteGeneration) PutAll(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, entry := range entries {
		if err := checkEntry(entry); err != nil {
			return err
		}
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM generations WHERE name = ?", g.name).Scan(&exists)
	if err != nil {
		tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return ErrGenerationMissing
		}
		return err
	}

	for _, entry := range entries {
		stored := stampEntry(entry)
		header, err := json.Marshal(stored.Header)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("encode header for %s: %w", stored.Key, err)
		}
		_, err = tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO entries (generation, key, status, header, body, stored_at) VALUES (?, ?, ?, ?, ?, ?)",
			g.name, stored.Key, stored.Status, header, stored.Body, stored.StoredAt.UnixNano())
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (g *sqliteGeneration) Keys(ctx context.Context) ([]string, error) {
	rows, err := g.db.QueryContext(ctx,
		"SELECT key FROM entries WHERE generation = ? ORDER BY key ASC", g.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
