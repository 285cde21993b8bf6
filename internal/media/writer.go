package media

import (
	"context"
	"errors"
	"fmt"

	"gocloud.dev/blob"

	"github.com/JHill6253/snapchat-export/internal/catalog"
)

// ErrExists is returned by Writer.Save when the target already exists
// and skip-existing was requested. Callers use errors.Is to map this to
// a skip rather than a failure.
var ErrExists = errors.New("media: output already exists")

// Asset is a finished media payload ready to be written.
type Asset struct {
	Data        []byte
	ContentType string
	Ext         string
}

// SaveOptions controls Writer.Save behavior.
type SaveOptions struct {
	// SkipExisting makes Save return ErrExists instead of overwriting.
	SkipExisting bool
}

// Writer stores finished assets into the destination bucket, laid out
// as <capture year>/<identity><ext>.
type Writer struct {
	bucket *blob.Bucket
}

// NewWriter creates a writer over the destination bucket.
func NewWriter(bucket *blob.Bucket) *Writer {
	return &Writer{bucket: bucket}
}

// Save writes the asset and returns its key within the destination.
func (w *Writer) Save(ctx context.Context, item catalog.Item, a *Asset, opts SaveOptions) (string, error) {
	key := fmt.Sprintf("%04d/%s%s", item.CapturedAt.Year(), item.ID, a.Ext)

	if opts.SkipExisting {
		exists, err := w.bucket.Exists(ctx, key)
		if err != nil {
			return "", fmt.Errorf("media: check %s: %w", key, err)
		}
		if exists {
			return key, fmt.Errorf("media: %s: %w", key, ErrExists)
		}
	}

	err := w.bucket.WriteAll(ctx, key, a.Data, &blob.WriterOptions{ContentType: a.ContentType})
	if err != nil {
		return "", fmt.Errorf("media: write %s: %w", key, err)
	}
	return key, nil
}
