package downloader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"

	"github.com/JHill6253/snapchat-export/internal/catalog"
	"github.com/JHill6253/snapchat-export/internal/fetch"
	"github.com/JHill6253/snapchat-export/internal/manifest"
	"github.com/JHill6253/snapchat-export/internal/media"
)

// stubFetcher serves canned results keyed by item identity and counts
// concurrent calls for the worker-bound test.
type stubFetcher struct {
	mu      sync.Mutex
	results map[string]*fetch.Result
	errs    map[string]error

	active    atomic.Int32
	maxActive atomic.Int32
	hold      time.Duration
	holds     map[string]time.Duration
}

func (f *stubFetcher) Fetch(ctx context.Context, item catalog.Item) (*fetch.Result, error) {
	cur := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		max := f.maxActive.Load()
		if cur <= max || f.maxActive.CompareAndSwap(max, cur) {
			break
		}
	}
	hold := f.hold
	if d, ok := f.holds[item.ID]; ok {
		hold = d
	}
	if hold > 0 {
		select {
		case <-time.After(hold):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[item.ID]; ok {
		return nil, err
	}
	if res, ok := f.results[item.ID]; ok {
		return res, nil
	}
	return &fetch.Result{
		Data:        []byte("payload-" + item.ID),
		ContentType: "image/jpeg",
		Ext:         ".jpg",
		Kind:        item.Kind,
		Attempts:    1,
	}, nil
}

// stubCompositor echoes the base bytes as a finished asset, or fails on
// demand.
type stubCompositor struct {
	fail bool
}

func (c *stubCompositor) Composite(ctx context.Context, base, overlay []byte, kind catalog.MediaKind) (*media.Asset, error) {
	if c.fail {
		return nil, &media.CompositeError{Reason: "forced failure"}
	}
	ext := ".jpg"
	ct := "image/jpeg"
	if kind == catalog.KindClip {
		ext = ".mp4"
		ct = "video/mp4"
	}
	if overlay != nil {
		base = append(append([]byte{}, base...), overlay...)
	}
	return &media.Asset{Data: base, ContentType: ct, Ext: ext}, nil
}

// stubTagger records the paths it was asked to tag.
type stubTagger struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (tg *stubTagger) Embed(ctx context.Context, path string, item catalog.Item) error {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	tg.paths = append(tg.paths, path)
	return tg.err
}

func testStore(t *testing.T) *manifest.Store {
	t.Helper()
	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	require.NoError(t, err)
	t.Cleanup(func() { bucket.Close() })

	store, err := manifest.Load(context.Background(), bucket, "/exports")
	require.NoError(t, err)
	return store
}

func testItems(n int) []catalog.Item {
	items := make([]catalog.Item, n)
	for i := range items {
		kind := catalog.KindPicture
		if i%2 == 1 {
			kind = catalog.KindClip
		}
		items[i] = catalog.Item{
			ID:         fmt.Sprintf("item-%d", i),
			Kind:       kind,
			CapturedAt: time.Date(2023, 1, 1+i, 10, 0, 0, 0, time.UTC),
		}
	}
	return items
}

func baseOptions(t *testing.T, store *manifest.Store, bucket *blob.Bucket) Options {
	t.Helper()
	return Options{
		Workers:    2,
		Fetcher:    &stubFetcher{},
		Compositor: &stubCompositor{},
		Writer:     media.NewWriter(bucket),
		Manifest:   store,
		Warnf:      func(format string, args ...any) { t.Logf("warn: "+format, args...) },
	}
}

func newBucket(t *testing.T) *blob.Bucket {
	t.Helper()
	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	require.NoError(t, err)
	t.Cleanup(func() { bucket.Close() })
	return bucket
}

func TestRunDownloadsPending(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	bucket := newBucket(t)

	items := testItems(5)
	// One item already recorded by an earlier run.
	store.Record(items[2], "2023/item-2.jpg", 10)

	opts := baseOptions(t, store, bucket)

	var progressCalls atomic.Int32
	opts.OnProgress = func(done, total int, item catalog.Item) {
		progressCalls.Add(1)
		assert.Equal(t, 4, total)
	}

	summary, err := Run(ctx, items, opts)
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 1, summary.AlreadyDone)
	assert.Equal(t, 4, summary.Downloaded)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, int32(4), progressCalls.Load())

	// Every processed item landed in the bucket and the manifest.
	for _, i := range []int{0, 1, 3, 4} {
		item := items[i]
		assert.True(t, store.Has(item.ID), "manifest missing %s", item.ID)

		ext := ".jpg"
		if item.Kind == catalog.KindClip {
			ext = ".mp4"
		}
		key := fmt.Sprintf("%04d/%s%s", item.CapturedAt.Year(), item.ID, ext)
		ok, bErr := bucket.Exists(ctx, key)
		require.NoError(t, bErr)
		assert.True(t, ok, "bucket missing %s", key)
	}
	assert.Equal(t, 5, store.Stats().Total)
}

func TestRunKindCounts(t *testing.T) {
	store := testStore(t)
	bucket := newBucket(t)

	items := testItems(4) // alternating picture/clip

	summary, err := Run(context.Background(), items, baseOptions(t, store, bucket))
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Pictures)
	assert.Equal(t, 2, summary.Clips)
	assert.Greater(t, summary.Bytes, int64(0))
}

func TestRunWorkerBound(t *testing.T) {
	store := testStore(t)
	bucket := newBucket(t)

	fetcher := &stubFetcher{hold: 30 * time.Millisecond}
	opts := baseOptions(t, store, bucket)
	opts.Workers = 10
	opts.Fetcher = fetcher

	// Effective concurrency is capped at the pending count of 3.
	_, err := Run(context.Background(), testItems(3), opts)
	require.NoError(t, err)

	assert.LessOrEqual(t, fetcher.maxActive.Load(), int32(3))
}

func TestRunFailureContained(t *testing.T) {
	store := testStore(t)
	bucket := newBucket(t)

	boom := errors.New("signature rejected")
	fetcher := &stubFetcher{errs: map[string]error{"item-1": boom}}

	opts := baseOptions(t, store, bucket)
	opts.Fetcher = fetcher

	items := testItems(3)
	summary, err := Run(context.Background(), items, opts)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Downloaded)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "item-1", summary.Failures[0].Item.ID)
	assert.ErrorIs(t, summary.Failures[0].Err, boom)

	// The failed item stays pending for the next run.
	assert.False(t, store.Has("item-1"))
	assert.True(t, store.Has("item-0"))
	assert.True(t, store.Has("item-2"))
}

func TestRunRetriedCount(t *testing.T) {
	store := testStore(t)
	bucket := newBucket(t)

	fetcher := &stubFetcher{
		results: map[string]*fetch.Result{
			"item-0": {Data: []byte("p"), ContentType: "image/jpeg", Ext: ".jpg", Kind: catalog.KindPicture, Attempts: 3},
		},
		errs: map[string]error{
			"item-1": &fetch.ExhaustedError{Attempts: 4, Err: errors.New("503")},
			"item-2": &fetch.FatalError{Attempts: 2, Err: errors.New("empty payload")},
		},
	}

	opts := baseOptions(t, store, bucket)
	opts.Fetcher = fetcher

	summary, err := Run(context.Background(), testItems(3), opts)
	require.NoError(t, err)

	// item-0 succeeded on its third attempt (2 retries), item-1 burned
	// its full budget (3 retries), item-2 retried once before failing
	// fatally.
	assert.Equal(t, 6, summary.Retried)
	assert.Equal(t, 1, summary.Downloaded)
	assert.Equal(t, 2, summary.Failed)
}

func TestRunFailuresInCatalogOrder(t *testing.T) {
	store := testStore(t)
	bucket := newBucket(t)

	// Holds make the items complete in reverse order; the aggregate
	// must still list failures in catalog order.
	fetcher := &stubFetcher{
		errs: map[string]error{
			"item-0": errors.New("first"),
			"item-1": errors.New("second"),
			"item-2": errors.New("third"),
		},
		holds: map[string]time.Duration{
			"item-0": 60 * time.Millisecond,
			"item-1": 30 * time.Millisecond,
			"item-2": 0,
		},
	}

	opts := baseOptions(t, store, bucket)
	opts.Workers = 3
	opts.Fetcher = fetcher

	summary, err := Run(context.Background(), testItems(3), opts)
	require.NoError(t, err)

	require.Len(t, summary.Failures, 3)
	assert.Equal(t, "item-0", summary.Failures[0].Item.ID)
	assert.Equal(t, "item-1", summary.Failures[1].Item.ID)
	assert.Equal(t, "item-2", summary.Failures[2].Item.ID)
}

func TestRunSkipExistingRecordsManifest(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	bucket := newBucket(t)

	items := testItems(1)

	// Output file exists on disk but the manifest knows nothing about it.
	key := fmt.Sprintf("%04d/%s.jpg", items[0].CapturedAt.Year(), items[0].ID)
	require.NoError(t, bucket.WriteAll(ctx, key, []byte("old"), nil))

	opts := baseOptions(t, store, bucket)
	opts.SkipExisting = true

	summary, err := Run(ctx, items, opts)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Downloaded)
	assert.True(t, store.Has(items[0].ID), "skipped item must be recorded")

	// The pre-existing file was not overwritten.
	data, err := bucket.ReadAll(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), data)
}

func TestRunCompositeFailureDegrades(t *testing.T) {
	store := testStore(t)
	bucket := newBucket(t)

	var warned atomic.Int32
	opts := baseOptions(t, store, bucket)
	opts.Compositor = &stubCompositor{fail: true}
	opts.Warnf = func(format string, args ...any) { warned.Add(1) }

	summary, err := Run(context.Background(), testItems(1), opts)
	require.NoError(t, err)

	// Compositing failure keeps the raw asset instead of failing.
	assert.Equal(t, 1, summary.Downloaded)
	assert.Equal(t, 0, summary.Failed)
	assert.GreaterOrEqual(t, warned.Load(), int32(1))
}

func TestRunTaggerInvokedWithLocalPath(t *testing.T) {
	store := testStore(t)
	bucket := newBucket(t)

	tagger := &stubTagger{}
	opts := baseOptions(t, store, bucket)
	opts.OutputDir = "/exports"
	opts.Tagger = tagger

	items := testItems(1)
	_, err := Run(context.Background(), items, opts)
	require.NoError(t, err)

	require.Len(t, tagger.paths, 1)
	assert.Contains(t, tagger.paths[0], "/exports")
	assert.Contains(t, tagger.paths[0], items[0].ID)
}

func TestRunTaggerFailureDegrades(t *testing.T) {
	store := testStore(t)
	bucket := newBucket(t)

	opts := baseOptions(t, store, bucket)
	opts.OutputDir = "/exports"
	opts.Tagger = &stubTagger{err: errors.New("exiftool exploded")}

	summary, err := Run(context.Background(), testItems(1), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Downloaded)
	assert.True(t, store.Has("item-0"))
}

func TestRunEmptyCatalog(t *testing.T) {
	store := testStore(t)
	bucket := newBucket(t)

	_, err := Run(context.Background(), nil, baseOptions(t, store, bucket))
	assert.ErrorIs(t, err, ErrNoItems)
}

func TestRunAllAlreadyDone(t *testing.T) {
	store := testStore(t)
	bucket := newBucket(t)

	items := testItems(2)
	for _, it := range items {
		store.Record(it, "2023/"+it.ID+".jpg", 1)
	}

	summary, err := Run(context.Background(), items, baseOptions(t, store, bucket))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.AlreadyDone)
	assert.Equal(t, 0, summary.Downloaded)
}

func TestRunCancellation(t *testing.T) {
	store := testStore(t)
	bucket := newBucket(t)

	fetcher := &stubFetcher{hold: 50 * time.Millisecond}
	opts := baseOptions(t, store, bucket)
	opts.Workers = 1
	opts.Fetcher = fetcher

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	summary, err := Run(ctx, testItems(10), opts)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	assert.Less(t, summary.Downloaded, 10, "cancellation should stop the run early")
}

func TestSummaryReport(t *testing.T) {
	s := &Summary{
		Total:       10,
		AlreadyDone: 3,
		Downloaded:  5,
		Skipped:     1,
		Failed:      1,
		Retried:     2,
		Pictures:    3,
		Clips:       2,
		Bytes:       2048,
		Failures: []ItemFailure{
			{Item: catalog.Item{ID: "bad-1"}, Err: errors.New("gave up")},
		},
	}

	var buf strings.Builder
	s.Report(&buf)

	out := buf.String()
	assert.Contains(t, out, "5 downloaded (3 pictures, 2 clips)")
	assert.Contains(t, out, "1 skipped")
	assert.Contains(t, out, "1 failed")
	assert.Contains(t, out, "2 retries")
	assert.Contains(t, out, "3 of 10 total")
	assert.Contains(t, out, "2.00 KB")
	assert.Contains(t, out, "failed bad-1: gave up")
}
