// Package cache 提供基于 SQLite 的生成结果缓存。
//
// 缓存失败从不致命：所有错误包装为 *contract.CacheError，
// 由调用方按强制未命中处理。
package cache

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"aicommit/pkg/contract"
)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	fingerprint TEXT PRIMARY KEY,
	message     TEXT NOT NULL,
	branch      TEXT NOT NULL DEFAULT '',
	paths       TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_branch ON entries(branch);
`

// Store 实现 contract.Cache。单连接串行访问，避免 SQLITE_BUSY。
type Store struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// Open 打开（必要时创建）缓存库。ttl<=0 表示永不过期。
func Open(path string, ttl time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &contract.CacheError{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, &contract.CacheError{Op: "open", Err: err}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &contract.CacheError{Op: "open", Err: err}
	}
	return &Store{db: db, ttl: ttl, now: time.Now}, nil
}

// Lookup 返回有效条目；未命中返回 (nil, nil)。
// 约束：过期条目等同未命中，并顺带删除。
func (s *Store) Lookup(ctx context.Context, fp contract.Fingerprint) (*contract.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT message, branch, paths, created_at FROM entries WHERE fingerprint = ?`, string(fp))
	var e contract.CacheEntry
	var paths string
	var created int64
	if err := row.Scan(&e.Text, &e.Branch, &paths, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, &contract.CacheError{Op: "lookup", Err: err}
	}
	e.Fingerprint = fp
	e.CreatedAt = time.Unix(created, 0).UTC()
	if paths != "" {
		e.Paths = strings.Split(paths, "\x00")
	}
	if s.ttl > 0 && s.now().Sub(e.CreatedAt) > s.ttl {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM entries WHERE fingerprint = ?`, string(fp)); err != nil {
			return nil, &contract.CacheError{Op: "expire", Err: err}
		}
		return nil, nil
	}
	return &e, nil
}

// Insert 写入条目。已有同指纹条目时保留先写者。
func (s *Store) Insert(ctx context.Context, e contract.CacheEntry) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO entries (fingerprint, message, branch, paths, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		string(e.Fingerprint), e.Text, e.Branch, strings.Join(e.Paths, "\x00"), created.Unix())
	if err != nil {
		return &contract.CacheError{Op: "insert", Err: err}
	}
	return nil
}

// InvalidateBranch 删除非当前分支的条目。空分支条目不受影响。
func (s *Store) InvalidateBranch(ctx context.Context, current string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE branch != '' AND branch != ?`, current)
	if err != nil {
		return &contract.CacheError{Op: "invalidate_branch", Err: err}
	}
	return nil
}

// InvalidatePaths 删除路径集与 touched 有交集的条目。
// keep 指纹豁免（同指纹即同输入）。
// 路径列以 NUL 连接存储，无法用 SQL 表达交集，逐行判断。
func (s *Store) InvalidatePaths(ctx context.Context, touched []string, keep contract.Fingerprint) error {
	if len(touched) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(touched))
	for _, p := range touched {
		set[p] = struct{}{}
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT fingerprint, paths FROM entries WHERE paths != '' AND fingerprint != ?`, string(keep))
	if err != nil {
		return &contract.CacheError{Op: "invalidate_paths", Err: err}
	}
	var stale []string
	for rows.Next() {
		var fp, paths string
		if err := rows.Scan(&fp, &paths); err != nil {
			rows.Close()
			return &contract.CacheError{Op: "invalidate_paths", Err: err}
		}
		for _, p := range strings.Split(paths, "\x00") {
			if _, hit := set[p]; hit {
				stale = append(stale, fp)
				break
			}
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return &contract.CacheError{Op: "invalidate_paths", Err: err}
	}
	rows.Close()
	for _, fp := range stale {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE fingerprint = ?`, fp); err != nil {
			return &contract.CacheError{Op: "invalidate_paths", Err: err}
		}
	}
	return nil
}

// Close 关闭底层连接。
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return &contract.CacheError{Op: "close", Err: err}
	}
	return nil
}
