// Package downloader orchestrates the parallel download of a memories
// export.
//
// This package coordinates the fetch client, the media collaborators,
// and the resume manifest. It owns the shared work queue and the worker
// pool, and it is the only writer of the manifest during a run.
//
// # Usage
//
// The main entry point is the Run function:
//
//	summary, err := downloader.Run(ctx, items, downloader.Options{
//	    Workers:  4,
//	    Delay:    time.Second,
//	    Fetcher:  client,
//	    Manifest: store,
//	    ...
//	})
//
// # Worker Pool
//
// Pending items are filtered against the manifest before any worker
// starts, then fed through a buffered channel drained by at most
// min(Workers, pending) goroutines. Worker start times are staggered
// and each worker waits Delay between items while the queue is
// non-empty.
//
// # Failure Containment
//
// A failed item increments the failure counter and never aborts
// siblings. Compositing and tagging failures degrade to the best
// available asset with a warning. Cancellation is observed between
// items; in-flight fetches finish naturally.
package downloader
