package media

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// defaultWorkers bounds the download pool when no count is configured.
const defaultWorkers = 4

// Options configures how the resolver fetches and stores media.
type Options struct {
	// Convert and ConvertImages must both be set for images to be
	// re-encoded; paths that don't look like images pass through.
	Convert       bool
	ConvertImages bool
	MaxDimension  int
	Quality       int
	// MaxBytes discards any fetched blob larger than this; zero means
	// no limit.
	MaxBytes int64
	Workers  int
}

// Progress is called after every item completes, successfully or not.
type Progress func(done, total int)

// Resolver drains a queue of distinct media paths into the cache.
type Resolver struct {
	cache   *Cache
	fetcher *Fetcher
	opts    Options
}

// NewResolver returns a resolver over the given cache and fetcher.
func NewResolver(cache *Cache, fetcher *Fetcher, opts Options) *Resolver {
	if opts.Workers < 1 {
		opts.Workers = defaultWorkers
	}
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = 1024
	}
	if opts.Quality <= 0 {
		opts.Quality = 85
	}
	return &Resolver{cache: cache, fetcher: fetcher, opts: opts}
}

// ResolveAll fetches every path not already cached, using a bounded
// worker pool. Each path's failure is logged and absorbed; the export
// continues with the media it could get. Re-running over cached paths
// performs no network fetches at all.
func (r *Resolver) ResolveAll(ctx context.Context, paths []string, progress Progress) {
	total := len(paths)
	if total == 0 {
		return
	}
	var done atomic.Int64
	report := func() {
		if progress != nil {
			progress(int(done.Add(1)), total)
		} else {
			done.Add(1)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for _, path := range paths {
		path := path
		g.Go(func() error {
			r.Resolve(ctx, path)
			report()
			return nil
		})
	}
	// Workers never return errors; failures are per-item and logged.
	_ = g.Wait()
}

// Resolve moves a single path into the cache if it isn't there yet.
// Resolving an already-cached path is a no-op, so callers may retry
// freely.
func (r *Resolver) Resolve(ctx context.Context, path string) {
	key := Key(path)
	if r.cache.Has(key) {
		return
	}

	data, err := r.fetcher.Fetch(ctx, path)
	if err != nil {
		slog.Warn("media fetch failed", "path", path, "error", err)
		return
	}

	if r.opts.MaxBytes > 0 && int64(len(data)) > r.opts.MaxBytes {
		slog.Info("skipping oversized media", "path", path, "bytes", len(data))
		return
	}

	if r.opts.Convert && r.opts.ConvertImages && IsConvertibleImage(path) {
		converted, err := TranscodeImage(data, r.opts.MaxDimension, r.opts.Quality)
		if err != nil {
			// Keep the original bytes when conversion fails.
			slog.Warn("image conversion failed", "path", path, "error", err)
		} else {
			data = converted
		}
	}

	if err := r.cache.Put(key, data); err != nil {
		slog.Warn("media cache write failed", "path", path, "error", err)
	}
}
