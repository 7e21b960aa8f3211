package sync

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/kvsync/kvsync/internal/assets"
	"github.com/kvsync/kvsync/internal/db"
)

const digestCacheSchema = `
CREATE TABLE IF NOT EXISTS digest_cache (
	path   TEXT PRIMARY KEY,
	size   INTEGER NOT NULL,
	mtime  INTEGER NOT NULL,
	digest TEXT NOT NULL
);
`

type digestRow struct {
	Path   string `db:"path"`
	Size   int64  `db:"size"`
	Mtime  int64  `db:"mtime"`
	Digest string `db:"digest"`
}

// DigestCache persists file digests keyed by root-relative path, so
// unchanged files skip re-hashing on later runs. A stored digest is
// valid only while the file's size and mtime both still match.
// A nil *DigestCache is usable and caches nothing.
type DigestCache struct {
	db *sqlx.DB
}

// OpenDigestCache opens or creates the cache database at path.
func OpenDigestCache(ctx context.Context, path string) (*DigestCache, error) {
	sqldb, err := db.NewSqliteDB(db.WithPath(path), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, err
	}

	if _, err := sqldb.ExecContext(ctx, digestCacheSchema); err != nil {
		sqldb.Close()
		return nil, err
	}

	return &DigestCache{db: sqldb}, nil
}

// Lookup returns the cached digest for path, or ok=false when there is no
// entry, the entry is stale, or the stored digest is malformed.
func (c *DigestCache) Lookup(ctx context.Context, path string, size, mtime int64) (string, bool) {
	if c == nil {
		return "", false
	}

	var row digestRow
	err := c.db.GetContext(ctx, &row,
		`SELECT path, size, mtime, digest FROM digest_cache WHERE path = ?`, path)
	if err != nil {
		return "", false
	}

	if row.Size != size || row.Mtime != mtime || !assets.IsDigest(row.Digest) {
		return "", false
	}
	return row.Digest, true
}

// Store records the digest for path at the given size and mtime.
func (c *DigestCache) Store(ctx context.Context, path, digest string, size, mtime int64) error {
	if c == nil {
		return nil
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO digest_cache (path, size, mtime, digest) VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			size = excluded.size, mtime = excluded.mtime, digest = excluded.digest`,
		path, digest, size, mtime)
	return err
}

// Forget drops the entry for path, if any.
func (c *DigestCache) Forget(ctx context.Context, path string) error {
	if c == nil {
		return nil
	}

	_, err := c.db.ExecContext(ctx, `DELETE FROM digest_cache WHERE path = ?`, path)
	return err
}

// Close releases the underlying database.
func (c *DigestCache) Close() error {
	if c == nil {
		return nil
	}
	return c.db.Close()
}
