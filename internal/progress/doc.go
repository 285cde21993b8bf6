// Package progress provides progress reporting for export downloads.
//
// This package outputs human-readable progress information to stderr,
// including item counts, downloaded bytes, and an ETA derived from the
// average per-item duration so far.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    TotalItems:  len(pending),
//	    AlreadyDone: alreadyDone,
//	    Workers:     workers,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
// # Output Format
//
//	[snapchat-export] Pending: 340 items | Already downloaded: 120 | Workers: 4
//	[snapchat-export] Progress: 45.2% | 154/340 items | 1.21 GB | in-flight: 4 | failed: 2 | ETA: 8m 12s
//	[snapchat-export] Finished: 330 downloaded | 6 skipped | 4 failed | 11 retries
package progress
