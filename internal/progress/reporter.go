package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JHill6253/snapchat-export/internal/catalog"
)

// Options configures the progress reporter.
type Options struct {
	// TotalItems is the number of pending items this run will process.
	TotalItems int

	// AlreadyDone is the number of items skipped via the manifest.
	AlreadyDone int

	// Workers is the number of parallel workers.
	Workers int

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration
}

// Reporter outputs human-readable progress information. All notification
// methods are safe for concurrent use by workers and are observers only:
// the run is correct without a reporter attached.
type Reporter struct {
	opts Options

	completedItems atomic.Int32
	skippedItems   atomic.Int32
	failedItems    atomic.Int32
	retries        atomic.Int32
	inFlight       atomic.Int32
	completedBytes atomic.Int64

	mu        sync.Mutex
	startTime time.Time
	stopCh    chan struct{}
	stopped   bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
	}
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.startTime = time.Now()

	fmt.Fprintf(r.opts.Output, "[snapchat-export] Pending: %d items | Already downloaded: %d | Workers: %d\n",
		r.opts.TotalItems,
		r.opts.AlreadyDone,
		r.opts.Workers,
	)

	go r.updateLoop()
}

// Stop stops the progress reporter and prints the final line.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
}

// ItemStarted marks an item as in flight.
func (r *Reporter) ItemStarted(catalog.Item) {
	r.inFlight.Add(1)
}

// ItemCompleted marks an item as downloaded.
func (r *Reporter) ItemCompleted(item catalog.Item, size int64) {
	r.completedBytes.Add(size)
	r.completedItems.Add(1)
	r.inFlight.Add(-1)
}

// ItemSkipped marks an item as skipped (output already present).
func (r *Reporter) ItemSkipped(catalog.Item) {
	r.skippedItems.Add(1)
	r.inFlight.Add(-1)
}

// ItemFailed marks an item as failed.
func (r *Reporter) ItemFailed(item catalog.Item, err error) {
	r.failedItems.Add(1)
	r.inFlight.Add(-1)
	fmt.Fprintf(r.opts.Output, "\n[snapchat-export] Failed: %s: %v\n", item.ID, err)
}

// RetryScheduled streams a retry notice as it happens.
func (r *Reporter) RetryScheduled(item catalog.Item, attempt int, delay time.Duration, err error) {
	r.retries.Add(1)
	fmt.Fprintf(r.opts.Output, "\n[snapchat-export] Retry %d for %s in %s: %v\n", attempt, item.ID, delay.Round(time.Millisecond), err)
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress outputs the current progress.
func (r *Reporter) printProgress() {
	completed := int(r.completedItems.Load())
	skipped := int(r.skippedItems.Load())
	failed := int(r.failedItems.Load())
	inFlight := int(r.inFlight.Load())
	done := completed + skipped + failed

	var percent float64
	var eta string
	if r.opts.TotalItems > 0 {
		percent = float64(done) / float64(r.opts.TotalItems) * 100
		if done > 0 {
			perItem := time.Since(r.startTime) / time.Duration(done)
			eta = formatDuration(perItem * time.Duration(r.opts.TotalItems-done))
		} else {
			eta = "calculating..."
		}
	}

	fmt.Fprintf(r.opts.Output, "\r[snapchat-export] Progress: %.1f%% | %d/%d items | %s | in-flight: %d | failed: %d | ETA: %s    ",
		percent,
		done,
		r.opts.TotalItems,
		FormatBytes(r.completedBytes.Load()),
		inFlight,
		failed,
		eta,
	)
}

// printFinalStatus outputs the final status.
func (r *Reporter) printFinalStatus() {
	duration := time.Since(r.startTime)

	fmt.Fprintf(r.opts.Output, "\r[snapchat-export] Finished: %d downloaded | %d skipped | %d failed | %d retries    \n",
		r.completedItems.Load(),
		r.skippedItems.Load(),
		r.failedItems.Load(),
		r.retries.Load(),
	)
	fmt.Fprintf(r.opts.Output, "[snapchat-export] Total: %s in %s\n",
		FormatBytes(r.completedBytes.Load()),
		formatDuration(duration),
	)
}

// FormatBytes formats bytes as a human-readable string.
func FormatBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}
