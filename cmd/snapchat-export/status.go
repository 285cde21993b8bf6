package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"gocloud.dev/blob/fileblob"

	"github.com/JHill6253/snapchat-export/internal/catalog"
	"github.com/JHill6253/snapchat-export/internal/manifest"
)

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)

	outputDir := fs.String("output", "", "Destination directory (required)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: snapchat-export status [options]

Show how many memories the destination's manifest records, broken down
by kind.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	if *outputDir == "" {
		fmt.Fprintln(os.Stderr, "Error: -output is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	ctx := context.Background()

	bucket, err := fileblob.OpenBucket(*outputDir, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening destination: %v\n", err)
		return ExitStorageError
	}
	defer bucket.Close()

	store, err := manifest.Load(ctx, bucket, *outputDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading manifest: %v\n", err)
		return ExitStorageError
	}
	if store.DiscardedReason != "" {
		fmt.Fprintf(os.Stderr, "[snapchat-export] Warning: %s\n", store.DiscardedReason)
	}

	stats := store.Stats()
	fmt.Printf("Destination:  %s\n", stats.OutputDir)
	fmt.Printf("Completed:    %d\n", stats.Total)
	fmt.Printf("  pictures:   %d\n", stats.ByKind[catalog.KindPicture])
	fmt.Printf("  clips:      %d\n", stats.ByKind[catalog.KindClip])
	if !stats.UpdatedAt.IsZero() && stats.Total > 0 {
		fmt.Printf("Last update:  %s\n", stats.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
	}

	return ExitSuccess
}
