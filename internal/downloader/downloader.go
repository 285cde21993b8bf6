package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/JHill6253/snapchat-export/internal/catalog"
	"github.com/JHill6253/snapchat-export/internal/fetch"
	"github.com/JHill6253/snapchat-export/internal/manifest"
	"github.com/JHill6253/snapchat-export/internal/media"
	"github.com/JHill6253/snapchat-export/internal/progress"
)

// Fetcher retrieves the payload for one item.
type Fetcher interface {
	Fetch(ctx context.Context, item catalog.Item) (*fetch.Result, error)
}

// Compositor merges an overlay onto a base asset. A nil overlay must
// return the base bytes unchanged.
type Compositor interface {
	Composite(ctx context.Context, base, overlay []byte, kind catalog.MediaKind) (*media.Asset, error)
}

// Tagger embeds capture metadata into a written file.
type Tagger interface {
	Embed(ctx context.Context, path string, item catalog.Item) error
}

// Writer stores a finished asset and returns its key.
type Writer interface {
	Save(ctx context.Context, item catalog.Item, a *media.Asset, opts media.SaveOptions) (string, error)
}

// Options configures a download run.
type Options struct {
	// Workers is the configured concurrency; the effective worker count
	// is capped at the pending item count.
	Workers int

	// Delay is the inter-item spacing per worker and the basis for
	// staggered worker starts.
	Delay time.Duration

	// SkipExisting maps an already-present output file to a skip
	// instead of an overwrite.
	SkipExisting bool

	// OutputDir is the local destination root, used to resolve written
	// keys to absolute paths for the tagger.
	OutputDir string

	Fetcher    Fetcher
	Compositor Compositor
	Writer     Writer
	Manifest   *manifest.Store

	// Tagger is optional; nil disables tag embedding.
	Tagger Tagger

	// Progress is an optional progress reporter.
	Progress *progress.Reporter

	// OnProgress, if set, is invoked after each processed item with the
	// done count over the pending total. Observability only.
	OnProgress func(done, total int, item catalog.Item)

	// Warnf receives degraded-but-continue notices (compositing or
	// tagging failures). Default: stderr.
	Warnf func(format string, args ...any)
}

// ItemFailure pairs a failed item with its final error.
type ItemFailure struct {
	Item catalog.Item
	Err  error
}

// Summary aggregates a finished run. Counts reflect the original input
// ordering, not completion order.
type Summary struct {
	Total       int
	AlreadyDone int
	Downloaded  int
	Skipped     int
	Failed      int
	Retried     int
	Pictures    int
	Clips       int
	Bytes       int64
	Failures    []ItemFailure
}

// ErrNoItems is returned when the catalog produced nothing to process.
var ErrNoItems = errors.New("downloader: no items in catalog")

// Run downloads every pending item from the catalog under bounded
// concurrency. Per-item failures are contained and counted; only
// run-level conditions (empty catalog, cancellation) surface as errors.
func Run(ctx context.Context, items []catalog.Item, opts Options) (*Summary, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Warnf == nil {
		opts.Warnf = func(format string, args ...any) {
			fmt.Fprintf(os.Stderr, "[snapchat-export] Warning: "+format+"\n", args...)
		}
	}

	pending := opts.Manifest.Pending(items)

	summary := &Summary{
		Total:       len(items),
		AlreadyDone: len(items) - len(pending),
	}
	if len(pending) == 0 {
		return summary, nil
	}

	workers := opts.Workers
	if workers > len(pending) {
		workers = len(pending)
	}

	// Single producer fills the queue up front; a channel receive is the
	// atomic pop.
	queue := make(chan catalog.Item, len(pending))
	for _, it := range pending {
		queue <- it
	}
	close(queue)

	var (
		mu   sync.Mutex
		done int
		wg   sync.WaitGroup
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()

			// Stagger first iterations so workers don't burst the
			// exchange endpoint at start.
			stagger := opts.Delay * time.Duration(index) / time.Duration(workers)
			if stagger > 0 {
				if err := wait(ctx, stagger); err != nil {
					return
				}
			}

			for {
				if ctx.Err() != nil {
					return
				}

				item, ok := <-queue
				if !ok {
					return
				}

				outcome := processItem(ctx, item, opts)

				mu.Lock()
				done++
				current := done
				summary.Retried += outcome.retries
				switch {
				case outcome.err != nil:
					summary.Failed++
					summary.Failures = append(summary.Failures, ItemFailure{Item: item, Err: outcome.err})
				case outcome.skipped:
					summary.Skipped++
				default:
					summary.Downloaded++
					summary.Bytes += outcome.size
					if item.Kind == catalog.KindClip {
						summary.Clips++
					} else {
						summary.Pictures++
					}
				}
				mu.Unlock()

				if opts.OnProgress != nil {
					opts.OnProgress(current, len(pending), item)
				}

				if len(queue) > 0 && opts.Delay > 0 {
					if err := wait(ctx, opts.Delay); err != nil {
						return
					}
				}
			}
		}(i)
	}

	wg.Wait()

	// Workers append failures in completion order; the aggregate reports
	// them in the catalog's order.
	position := make(map[string]int, len(items))
	for i, it := range items {
		position[it.ID] = i
	}
	sort.Slice(summary.Failures, func(a, b int) bool {
		return position[summary.Failures[a].Item.ID] < position[summary.Failures[b].Item.ID]
	})

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// outcome carries one item's result back into the aggregate under the
// summary mutex.
type outcome struct {
	err     error
	skipped bool
	size    int64
	retries int
}

// processItem runs the full pipeline for one item: fetch, composite,
// write, tag, record. Compositing and tagging failures degrade with a
// warning instead of failing the item.
func processItem(ctx context.Context, item catalog.Item, opts Options) outcome {
	if opts.Progress != nil {
		opts.Progress.ItemStarted(item)
	}

	res, err := opts.Fetcher.Fetch(ctx, item)
	if err != nil {
		var (
			exhausted *fetch.ExhaustedError
			fatal     *fetch.FatalError
		)
		retries := 0
		switch {
		case errors.As(err, &exhausted):
			retries = exhausted.Attempts - 1
		case errors.As(err, &fatal) && fatal.Attempts > 0:
			retries = fatal.Attempts - 1
		}
		if opts.Progress != nil {
			opts.Progress.ItemFailed(item, err)
		}
		return outcome{err: err, retries: retries}
	}

	asset, err := opts.Compositor.Composite(ctx, res.Data, res.Overlay, res.Kind)
	if err != nil {
		opts.Warnf("compositing %s: %v (keeping base asset)", item.ID, err)
		asset = &media.Asset{Data: res.Data, ContentType: res.ContentType, Ext: res.Ext}
	}

	key, err := opts.Writer.Save(ctx, item, asset, media.SaveOptions{SkipExisting: opts.SkipExisting})
	if err != nil {
		if errors.Is(err, media.ErrExists) {
			// The file is there but was missing from the manifest;
			// record it so the next run skips the fetch entirely.
			if mErr := opts.Manifest.Complete(ctx, item, key, int64(len(asset.Data))); mErr != nil {
				opts.Warnf("recording skipped item %s: %v", item.ID, mErr)
			}
			if opts.Progress != nil {
				opts.Progress.ItemSkipped(item)
			}
			return outcome{skipped: true, retries: res.Attempts - 1}
		}
		if opts.Progress != nil {
			opts.Progress.ItemFailed(item, err)
		}
		return outcome{err: err, retries: res.Attempts - 1}
	}

	if opts.Tagger != nil {
		path := filepath.Join(opts.OutputDir, filepath.FromSlash(key))
		if err := opts.Tagger.Embed(ctx, path, item); err != nil {
			opts.Warnf("tagging %s: %v", item.ID, err)
		}
	}

	if err := opts.Manifest.Complete(ctx, item, key, int64(len(asset.Data))); err != nil {
		opts.Warnf("recording %s: %v", item.ID, err)
	}

	if opts.Progress != nil {
		opts.Progress.ItemCompleted(item, int64(len(asset.Data)))
	}
	return outcome{size: int64(len(asset.Data)), retries: res.Attempts - 1}
}

// wait sleeps for d or until the context is cancelled.
func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Report writes the final aggregate in the CLI's output format.
func (s *Summary) Report(w io.Writer) {
	fmt.Fprintf(w, "[snapchat-export] Done: %d downloaded (%d pictures, %d clips) | %d skipped | %d failed | %d retries\n",
		s.Downloaded, s.Pictures, s.Clips, s.Skipped, s.Failed, s.Retried)
	fmt.Fprintf(w, "[snapchat-export] Already downloaded in earlier runs: %d of %d total\n", s.AlreadyDone, s.Total)
	if s.Bytes > 0 {
		fmt.Fprintf(w, "[snapchat-export] Fetched %s this run\n", progress.FormatBytes(s.Bytes))
	}
	for _, f := range s.Failures {
		fmt.Fprintf(w, "[snapchat-export]   failed %s: %v\n", f.Item.ID, f.Err)
	}
}
