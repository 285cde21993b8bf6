// Package media holds the collaborators that turn a fetched payload into
// a finished file: the compositor that layers overlays onto base assets,
// the tagger that embeds capture metadata via a warm exiftool process,
// and the writer that stores results into the destination bucket.
//
// Compositing and tagging failures are classified so the orchestrator
// can degrade: a CompositeError falls back to the uncomposited base, a
// tagging error is logged and the item still completes.
package media
