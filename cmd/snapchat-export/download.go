package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gocloud.dev/blob/fileblob"

	"github.com/JHill6253/snapchat-export/internal/catalog"
	"github.com/JHill6253/snapchat-export/internal/config"
	"github.com/JHill6253/snapchat-export/internal/downloader"
	"github.com/JHill6253/snapchat-export/internal/fetch"
	"github.com/JHill6253/snapchat-export/internal/manifest"
	"github.com/JHill6253/snapchat-export/internal/media"
	"github.com/JHill6253/snapchat-export/internal/progress"
	"github.com/JHill6253/snapchat-export/internal/signedurl"
)

func runDownload(args []string) int {
	fs := flag.NewFlagSet("download", flag.ExitOnError)

	configPath := fs.String("config", "", "Path to YAML config file")
	catalogPath := fs.String("catalog", "", "Path to memories_history.json (required)")
	outputDir := fs.String("output", "", "Destination directory (required)")
	workers := fs.Int("workers", 0, "Number of parallel download workers")
	delay := fs.Duration("delay", 0, "Delay between items per worker")
	retryAttempts := fs.Int("retry-attempts", -1, "Max retries per item after the first attempt")
	retryBackoff := fs.Duration("retry-backoff", 0, "Initial retry backoff")
	showProgress := fs.Bool("progress", false, "Show live progress output")
	noSkip := fs.Bool("overwrite", false, "Overwrite existing output files instead of skipping")
	noTags := fs.Bool("no-tags", false, "Skip embedding capture metadata via exiftool")
	noBundles := fs.Bool("no-bundles", false, "Skip zip bundles, fetch base media only")
	expiryThreshold := fs.Duration("expiry-threshold", 0, "Age after which signed links count as expired")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: snapchat-export download [options]

Download every memory listed in the export catalog into the destination
directory. Completed items are recorded in a manifest at the destination
root, so an interrupted run resumes where it stopped.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	// Layering: defaults, then config file, then environment, then any
	// flag the user set explicitly.
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFromFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			return ExitInvalidArgs
		}
		cfg = loaded
	}
	if err := cfg.LoadFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading environment: %v\n", err)
		return ExitInvalidArgs
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["catalog"] {
		cfg.CatalogPath = *catalogPath
	}
	if set["output"] {
		cfg.OutputDir = *outputDir
	}
	if set["workers"] {
		cfg.Workers = *workers
	}
	if set["delay"] {
		cfg.Delay = *delay
	}
	if set["retry-attempts"] {
		cfg.Retry.Attempts = *retryAttempts
	}
	if set["retry-backoff"] {
		cfg.Retry.Backoff = *retryBackoff
	}
	if set["progress"] {
		cfg.Progress = *showProgress
	}
	if set["overwrite"] {
		cfg.SkipExisting = !*noSkip
	}
	if set["no-tags"] {
		cfg.EmbedTags = !*noTags
	}
	if set["no-bundles"] {
		cfg.NoBundles = *noBundles
	}
	if set["expiry-threshold"] {
		cfg.ExpiryThreshold = *expiryThreshold
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fs.Usage()
		return ExitInvalidArgs
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\n[snapchat-export] Received interrupt, finishing in-flight items...")
		cancel()
	}()

	return download(ctx, cfg)
}

func download(ctx context.Context, cfg config.Config) int {
	items, err := catalog.ParseFile(cfg.CatalogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitCatalogError
	}
	if len(items) == 0 {
		fmt.Fprintln(os.Stderr, "Error: catalog lists no downloadable memories")
		return ExitCatalogError
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating destination: %v\n", err)
		return ExitStorageError
	}

	bucket, err := fileblob.OpenBucket(cfg.OutputDir, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening destination: %v\n", err)
		return ExitStorageError
	}
	defer bucket.Close()

	store, err := manifest.Load(ctx, bucket, cfg.OutputDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading manifest: %v\n", err)
		return ExitStorageError
	}
	if store.DiscardedReason != "" {
		fmt.Fprintf(os.Stderr, "[snapchat-export] Warning: %s; starting a fresh manifest (previous history is discarded)\n", store.DiscardedReason)
	}

	// One pre-flight expiry check on a representative bundle link decides
	// bundle usage for the whole batch.
	disableBundles := cfg.NoBundles
	if !disableBundles {
		for _, it := range items {
			if it.ZipDownloadLink == "" {
				continue
			}
			exp := signedurl.CheckExpiration(it.ZipDownloadLink, cfg.ExpiryThreshold)
			if exp.Expired {
				fmt.Fprintf(os.Stderr, "[snapchat-export] Warning: bundle links are %.1f hours old (threshold %s); falling back to base media without overlays\n",
					exp.AgeHours, cfg.ExpiryThreshold)
				disableBundles = true
			}
			break
		}
	}

	var tagger downloader.Tagger
	if cfg.EmbedTags {
		if path := media.DetectExiftool(); path != "" {
			t, err := media.NewTagger(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[snapchat-export] Warning: exiftool unavailable: %v\n", err)
			} else {
				defer t.Close()
				tagger = t
			}
		} else {
			fmt.Fprintln(os.Stderr, "[snapchat-export] Warning: exiftool not found, capture metadata will not be embedded")
		}
	}

	ffmpegPath := media.DetectFFmpeg()
	if ffmpegPath == "" {
		fmt.Fprintln(os.Stderr, "[snapchat-export] Note: ffmpeg not found, clip overlays will not be composited")
	}

	var reporter *progress.Reporter
	var onRetry func(catalog.Item, int, time.Duration, error)
	pendingCount := len(store.Pending(items))
	if cfg.Progress {
		reporter = progress.NewReporter(progress.Options{
			TotalItems:  pendingCount,
			AlreadyDone: len(items) - pendingCount,
			Workers:     cfg.Workers,
		})
		reporter.Start()
		defer reporter.Stop()
		onRetry = reporter.RetryScheduled
	}

	client := fetch.NewClient(fetch.Options{
		MaxRetries:          cfg.Retry.Attempts,
		Backoff:             cfg.Retry.Backoff,
		MaxIdleConnsPerHost: cfg.Workers * 2,
		DisableBundles:      disableBundles,
		OnRetry:             onRetry,
	})

	summary, err := downloader.Run(ctx, items, downloader.Options{
		Workers:      cfg.Workers,
		Delay:        cfg.Delay,
		SkipExisting: cfg.SkipExisting,
		OutputDir:    cfg.OutputDir,
		Fetcher:      client,
		Compositor:   &media.Compositor{FFmpegPath: ffmpegPath},
		Writer:       media.NewWriter(bucket),
		Manifest:     store,
		Tagger:       tagger,
		Progress:     reporter,
	})

	if reporter != nil {
		reporter.Stop()
	}

	if err != nil {
		if ctx.Err() != nil {
			if summary != nil {
				summary.Report(os.Stderr)
			}
			fmt.Fprintln(os.Stderr, "[snapchat-export] Interrupted, run again to resume")
			return ExitInterrupted
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}

	summary.Report(os.Stderr)

	if summary.Failed > 0 {
		fmt.Fprintln(os.Stderr, "[snapchat-export] Some items failed, run again to retry them")
		return ExitItemsFailed
	}
	return ExitSuccess
}
