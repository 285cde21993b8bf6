package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/JHill6253/snapchat-export/internal/catalog"
)

const (
	// FileName is the fixed, hidden manifest name at the destination root.
	FileName = ".snapchat-export.json"

	// Version is the current manifest format version. A stored manifest
	// with a different version is discarded, not migrated.
	Version = 1
)

// Entry records one completed item.
type Entry struct {
	CompletedAt time.Time         `json:"completed_at"`
	OutputPath  string            `json:"output_path"`
	Size        int64             `json:"size"`
	Kind        catalog.MediaKind `json:"kind"`
	CapturedAt  time.Time         `json:"captured_at"`
}

// Manifest is the durable record of completed items for one destination.
type Manifest struct {
	Version   int              `json:"version"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	OutputDir string           `json:"output_dir"`
	Entries   map[string]Entry `json:"entries"`
}

// Stats summarizes a manifest.
type Stats struct {
	Total     int
	ByKind    map[catalog.MediaKind]int
	CreatedAt time.Time
	UpdatedAt time.Time
	OutputDir string
}

// Store owns the manifest for a run and serializes all mutation and
// persistence behind one mutex, so parallel workers can record
// completions without interleaving the map mutation and the file write.
type Store struct {
	bucket *blob.Bucket

	mu sync.Mutex
	m  *Manifest

	// DiscardedReason is set when Load found a manifest it could not
	// keep (version mismatch, unreadable JSON) and started fresh.
	DiscardedReason string
}

// Load reads the manifest from the bucket's destination root. A missing
// file yields a fresh manifest. A version mismatch or unreadable file
// also yields a fresh manifest, with DiscardedReason set so the caller
// can warn loudly before any history is overwritten.
func Load(ctx context.Context, bucket *blob.Bucket, outputDir string) (*Store, error) {
	s := &Store{bucket: bucket}

	data, err := bucket.ReadAll(ctx, FileName)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			s.m = fresh(outputDir)
			return s, nil
		}
		return nil, fmt.Errorf("manifest: read %s: %w", FileName, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		s.DiscardedReason = fmt.Sprintf("unreadable manifest: %v", err)
		s.m = fresh(outputDir)
		return s, nil
	}

	if m.Version != Version {
		s.DiscardedReason = fmt.Sprintf("manifest version %d does not match %d", m.Version, Version)
		s.m = fresh(outputDir)
		return s, nil
	}

	if m.Entries == nil {
		m.Entries = make(map[string]Entry)
	}
	s.m = &m
	return s, nil
}

func fresh(outputDir string) *Manifest {
	now := time.Now().UTC()
	return &Manifest{
		Version:   Version,
		CreatedAt: now,
		UpdatedAt: now,
		OutputDir: outputDir,
		Entries:   make(map[string]Entry),
	}
}

// Record inserts the completion entry for item, keyed by its identity.
// The mutation is in-memory only; call Save to persist.
func (s *Store) Record(item catalog.Item, outputPath string, size int64) Entry {
	e := Entry{
		CompletedAt: time.Now().UTC(),
		OutputPath:  outputPath,
		Size:        size,
		Kind:        item.Kind,
		CapturedAt:  item.CapturedAt,
	}

	s.mu.Lock()
	s.m.Entries[item.ID] = e
	s.mu.Unlock()
	return e
}

// Save bumps the updated stamp and writes the full manifest to the
// bucket. The write replaces the previous object wholesale, so an
// interrupted run loses at most the in-flight item. The mutex is held
// across both the marshal and the write: releasing it in between would
// let a stale snapshot land after a newer one and durably drop entries.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.m.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(s.m, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: marshal: %w", err)
	}

	if err := s.bucket.WriteAll(ctx, FileName, data, nil); err != nil {
		return fmt.Errorf("manifest: write %s: %w", FileName, err)
	}
	return nil
}

// Complete records item and persists the manifest as one serialized
// step. This is the call workers use.
func (s *Store) Complete(ctx context.Context, item catalog.Item, outputPath string, size int64) error {
	s.Record(item, outputPath, size)
	return s.Save(ctx)
}

// Has reports whether the identity is already recorded.
func (s *Store) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m.Entries[id]
	return ok
}

// Pending filters items down to those not yet recorded, preserving the
// input order.
func (s *Store) Pending(items []catalog.Item) []catalog.Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]catalog.Item, 0, len(items))
	for _, it := range items {
		if _, ok := s.m.Entries[it.ID]; !ok {
			pending = append(pending, it)
		}
	}
	return pending
}

// Stats summarizes the current manifest contents.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Total:     len(s.m.Entries),
		ByKind:    make(map[catalog.MediaKind]int),
		CreatedAt: s.m.CreatedAt,
		UpdatedAt: s.m.UpdatedAt,
		OutputDir: s.m.OutputDir,
	}
	for _, e := range s.m.Entries {
		st.ByKind[e.Kind]++
	}
	return st
}
