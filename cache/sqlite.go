package cache

import (
	"context"
	"database/sql"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache (
	key TEXT PRIMARY KEY,
	container TEXT NOT NULL,
	value BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_expires_at ON cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_cache_container ON cache(container);
CREATE TABLE IF NOT EXISTS cache_tags (
	tag TEXT NOT NULL,
	key TEXT NOT NULL,
	PRIMARY KEY (tag, key)
);`

// rows with expires_at = 0 never expire
const sqliteLive = `(expires_at = 0 OR expires_at > ?)`

type sqliteHandler struct {
	db        *sql.DB
	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
}

var _ Handler = (*sqliteHandler)(nil)

// NewSQLite returns a new Handler backed by SQLite.
// If dbPath is empty or ":memory:", an in-memory database is used.
func NewSQLite(ctx context.Context, dbPath string, opts ...Option) (Handler, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}
	cfg := applyOptions("sqlite", opts)
	if cfg.expiryCheck <= 0 {
		cfg.expiryCheck = time.Minute
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrapf(err, "cache: failed to open sqlite database %q", dbPath)
	}
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "cache: failed to enable WAL")
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "cache: failed to create schema")
	}

	childCtx, cancel := context.WithCancel(ctx)
	c := &sqliteHandler{
		db:     db,
		ctx:    childCtx,
		cancel: cancel,
		cfg:    cfg,
	}
	c.waitGroup.Add(1)
	go c.run()
	return c, nil
}

func (c *sqliteHandler) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, c.cfg.queryTimeout)
}

func (c *sqliteHandler) Name() string {
	return c.cfg.name
}

func (c *sqliteHandler) CreateKey(segments ...any) (string, error) {
	return c.cfg.keys.Build(segments...)
}

func (c *sqliteHandler) now() int64 {
	return c.cfg.now().UnixNano()
}

func (c *sqliteHandler) Contains(ctx context.Context, key string) bool {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	var one int
	err := c.db.QueryRowContext(qctx, `SELECT 1 FROM cache WHERE key = ? AND `+sqliteLive, key, c.now()).Scan(&one)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		c.cfg.logger.Error("contains '%s' failed: %s", key, err)
	}
	return err == nil
}

func (c *sqliteHandler) item(key string, data []byte, expiresAt int64) Item[any] {
	var expires time.Time
	if expiresAt > 0 {
		expires = time.Unix(0, expiresAt)
	}
	return encodedItem(key, data, c.cfg.codec, expires, c.cfg.name)
}

func (c *sqliteHandler) Get(ctx context.Context, key string) Item[any] {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	var (
		data      []byte
		expiresAt int64
	)
	err := c.db.QueryRowContext(qctx,
		`SELECT value, expires_at FROM cache WHERE key = ? AND `+sqliteLive, key, c.now(),
	).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		c.cfg.logger.Debug("couldn't find cache item with key '%s'", key)
		return Empty[any](key)
	}
	if err != nil {
		c.cfg.logger.Error("get '%s' failed: %s", key, err)
		return Empty[any](key)
	}
	return c.item(key, data, expiresAt)
}

func (c *sqliteHandler) GetByTag(ctx context.Context, tags ...string) []Item[any] {
	if len(tags) == 0 {
		return nil
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	args := make([]any, 0, len(tags)+1)
	for _, tag := range tags {
		args = append(args, tag)
	}
	args = append(args, c.now())
	rows, err := c.db.QueryContext(qctx,
		`SELECT key, value, expires_at FROM cache
		WHERE key IN (SELECT key FROM cache_tags WHERE tag IN (?`+strings.Repeat(",?", len(tags)-1)+`))
		AND `+sqliteLive+` ORDER BY key`, args...)
	if err != nil {
		c.cfg.logger.Error("get by tag failed: %s", err)
		return nil
	}
	defer rows.Close()
	var items []Item[any]
	for rows.Next() {
		var (
			key       string
			data      []byte
			expiresAt int64
		)
		if err := rows.Scan(&key, &data, &expiresAt); err != nil {
			c.cfg.logger.Error("get by tag failed: %s", err)
			return items
		}
		items = append(items, c.item(key, data, expiresAt))
	}
	if err := rows.Err(); err != nil {
		c.cfg.logger.Error("get by tag failed: %s", err)
	}
	return items
}

func (c *sqliteHandler) AddOrUpdate(ctx context.Context, key string, val any, expires time.Time, tags ...string) (any, error) {
	if key == "" {
		return val, invalidArgument("key must not be empty")
	}
	if isNil(val) {
		return val, invalidArgument("cannot store nil value at key '%s'", key)
	}
	now := c.cfg.now()
	expires = c.cfg.expiry(expires)
	if !expires.Equal(NoExpiry) && !expires.After(now) {
		c.RemoveByKey(ctx, key)
		return val, nil
	}
	data, err := c.cfg.codec.Marshal(val)
	if err != nil {
		return val, errors.Wrapf(err, "cache: failed to encode value for key '%s'", key)
	}
	var expiresAt int64
	if !expires.Equal(NoExpiry) {
		expiresAt = expires.UnixNano()
	}
	container := containerOf(key)

	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	if err := c.write(qctx, key, container, data, expiresAt, tags); err != nil {
		c.cfg.logger.Error("set '%s' failed: %s", key, err)
		return val, nil
	}
	stampExpiry(val, expires, now)
	return val, nil
}

func (c *sqliteHandler) write(ctx context.Context, key, container string, data []byte, expiresAt int64, tags []string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO cache (key, container, value, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, container, data, expiresAt,
	); err != nil {
		return err
	}
	// fields share the expiry of their container
	if _, err := tx.ExecContext(ctx, `UPDATE cache SET expires_at = ? WHERE container = ?`, expiresAt, container); err != nil {
		return err
	}
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO cache_tags (tag, key) VALUES (?, ?)`, tag, key); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (c *sqliteHandler) exec(ctx context.Context, op string, query string, args ...any) (int64, bool) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	result, err := c.db.ExecContext(qctx, query, args...)
	if err != nil {
		c.cfg.logger.Error("%s failed: %s", op, err)
		return 0, false
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, true
	}
	return rows, true
}

func (c *sqliteHandler) RemoveByKey(ctx context.Context, key string) bool {
	if ParseKey(key).IsComposite() {
		rows, _ := c.exec(ctx, "remove", `DELETE FROM cache WHERE key = ?`, key)
		return rows > 0
	}
	// a plain key removes the whole container
	rows, _ := c.exec(ctx, "remove", `DELETE FROM cache WHERE container = ?`, key)
	return rows > 0
}

func (c *sqliteHandler) RemoveByPattern(ctx context.Context, pattern string) (bool, error) {
	if pattern == "" {
		return false, invalidArgument("pattern must not be empty")
	}
	_, ok := c.exec(ctx, "remove by pattern", `DELETE FROM cache WHERE container GLOB ? OR key GLOB ?`, pattern, pattern)
	return ok, nil
}

func (c *sqliteHandler) RemoveByRegexp(_ context.Context, _ *regexp.Regexp) (bool, error) {
	return false, unsupported(c.cfg.name, "regular expression removal")
}

func (c *sqliteHandler) RemoveByTag(ctx context.Context, tags ...string) bool {
	ok := true
	for _, tag := range tags {
		if _, done := c.exec(ctx, "remove by tag",
			`DELETE FROM cache WHERE container IN (
				SELECT c.container FROM cache c JOIN cache_tags t ON t.key = c.key WHERE t.tag = ?
			)`, tag); !done {
			ok = false
			continue
		}
		if _, done := c.exec(ctx, "drop tag", `DELETE FROM cache_tags WHERE tag = ?`, tag); !done {
			ok = false
		}
	}
	return ok
}

func (c *sqliteHandler) Purge(ctx context.Context) bool {
	_, ok := c.exec(ctx, "purge", `DELETE FROM cache`)
	if !ok {
		return false
	}
	_, ok = c.exec(ctx, "purge tags", `DELETE FROM cache_tags`)
	return ok
}

func (c *sqliteHandler) Close() error {
	var dbErr error
	c.once.Do(func() {
		c.cancel()
		c.waitGroup.Wait()
		dbErr = c.db.Close()
	})
	return dbErr
}

func (c *sqliteHandler) reap() {
	if n, ok := c.exec(c.ctx, "remove expired", `DELETE FROM cache WHERE expires_at > 0 AND expires_at <= ?`, c.now()); ok && n > 0 {
		c.cfg.logger.Debug("removed %d expired entries", n)
	}
	c.exec(c.ctx, "remove orphaned tags", `DELETE FROM cache_tags WHERE key NOT IN (SELECT key FROM cache)`)
}

func (c *sqliteHandler) run() {
	defer c.waitGroup.Done()
	ticker := time.NewTicker(c.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.reap()
		}
	}
}
