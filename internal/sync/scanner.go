package sync

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kvsync/kvsync/internal/assets"
)

// PathFilter decides which root-relative paths a scan includes.
// Directory paths carry a trailing slash.
type PathFilter interface {
	ShouldInclude(relPath string) bool
}

type includeAll struct{}

func (includeAll) ShouldInclude(string) bool { return true }

// scanItem is one regular file found during the walk, pending a digest.
type scanItem struct {
	absPath string
	relPath string
	size    int64
	mtime   time.Time
}

// Scanner walks an asset root and produces a digest index of its files.
// Digests come from the cache when size and mtime are unchanged, and are
// computed concurrently otherwise.
type Scanner struct {
	rootDir     string
	filter      PathFilter
	cache       *DigestCache
	concurrency int
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithScanConcurrency bounds parallel digest computation. The default is
// the CPU count.
func WithScanConcurrency(n int) ScannerOption {
	return func(s *Scanner) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewScanner builds a scanner over rootDir. A nil filter includes
// everything, a nil cache disables digest reuse.
func NewScanner(rootDir string, filter PathFilter, cache *DigestCache, opts ...ScannerOption) *Scanner {
	if filter == nil {
		filter = includeAll{}
	}
	s := &Scanner{
		rootDir:     rootDir,
		filter:      filter,
		cache:       cache,
		concurrency: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the scanned directory.
func (s *Scanner) Root() string {
	return s.rootDir
}

// Scan walks the root and returns the index of all included files.
// Any filesystem or checksum failure aborts the scan with an error, so a
// sync never proceeds on a partial view of the tree.
func (s *Scanner) Scan(ctx context.Context) (assets.Index, error) {
	items, err := s.collect(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]*assets.Record, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, item := range items {
		g.Go(func() error {
			rec, err := s.digestItem(gctx, item)
			if err != nil {
				return err
			}
			results[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ix := assets.NewIndex()
	for _, rec := range results {
		ix.Set(rec)
	}
	return ix, nil
}

// collect walks the tree and gathers the regular files that pass the filter.
func (s *Scanner) collect(ctx context.Context) ([]scanItem, error) {
	fi, err := os.Stat(s.rootDir)
	if err != nil {
		return nil, &ScanError{Path: s.rootDir, Err: err}
	}
	if !fi.IsDir() {
		return nil, &ScanError{Path: s.rootDir, Err: syscall.ENOTDIR}
	}

	var items []scanItem

	err = filepath.WalkDir(s.rootDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return &ScanError{Path: path, Err: walkErr}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		relPath, err := filepath.Rel(s.rootDir, path)
		if err != nil {
			return &ScanError{Path: path, Err: err}
		}
		relPath = assets.NormPath(relPath)

		if d.IsDir() {
			if relPath == "" {
				return nil // the root itself
			}
			if !s.filter.ShouldInclude(relPath + "/") {
				return fs.SkipDir
			}
			return nil
		}

		// Symlinks, sockets and other specials never sync.
		if !d.Type().IsRegular() {
			return nil
		}

		if !s.filter.ShouldInclude(relPath) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return &ScanError{Path: path, Err: err}
		}

		items = append(items, scanItem{
			absPath: path,
			relPath: relPath,
			size:    info.Size(),
			mtime:   info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return items, nil
}

// digestItem resolves a file's digest through the cache or by hashing it.
// Cache rows key on nanosecond mtimes; records carry unix seconds.
func (s *Scanner) digestItem(ctx context.Context, item scanItem) (*assets.Record, error) {
	if digest, ok := s.cache.Lookup(ctx, item.relPath, item.size, item.mtime.UnixNano()); ok {
		return assets.NewRecord(item.relPath, digest, item.size, item.mtime.Unix()), nil
	}

	digest, size, err := assets.DigestFile(item.absPath)
	if err != nil {
		return nil, &ChecksumError{Path: item.relPath, Err: err}
	}

	// A failed cache write only costs a re-hash next run.
	if err := s.cache.Store(ctx, item.relPath, digest, size, item.mtime.UnixNano()); err != nil {
		slog.Warn("scan", "op", "cache", "path", item.relPath, "error", err)
	}

	// The hashed size wins over the walk's stat if the file grew between.
	return assets.NewRecord(item.relPath, digest, size, item.mtime.Unix()), nil
}
