// Package bundle splits a zip container fetched from the export service
// into a base media asset and an optional overlay layer.
package bundle

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/JHill6253/snapchat-export/internal/catalog"
)

// Contents is the result of a successful extraction. Base is never empty;
// Overlay is nil when the container carries no overlay layer.
type Contents struct {
	Base    []byte
	Kind    catalog.MediaKind
	Ext     string
	Overlay []byte
}

// StructuralError indicates the container itself is unusable: not a zip,
// unreadable entries, or no media entry at all.
type StructuralError struct {
	Reason string
	Err    error
}

func (e *StructuralError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bundle: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("bundle: %s", e.Reason)
}

func (e *StructuralError) Unwrap() error { return e.Err }

// Extract locates the base asset and overlay inside data. Entries are
// classified by name: a png named after the overlay layer wins as overlay,
// a jpeg always wins as base, an mp4 wins as base for clips, and an
// unlabeled png is assumed to be the overlay when none was found yet.
// A fallback pass takes the first media-like entry as base when the
// labeled pass found none.
func Extract(data []byte, kind catalog.MediaKind) (*Contents, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &StructuralError{Reason: "not a readable zip container", Err: err}
	}

	var (
		base        []byte
		baseKind    catalog.MediaKind
		baseExt     string
		overlay     []byte
		overlayName string
	)

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := strings.ToLower(f.Name)

		switch {
		case strings.HasSuffix(name, ".png") && strings.Contains(name, "overlay"):
			overlay, err = readEntry(f)
			overlayName = name
		case strings.HasSuffix(name, ".jpg") || strings.HasSuffix(name, ".jpeg"):
			base, err = readEntry(f)
			baseKind, baseExt = catalog.KindPicture, ".jpg"
		case strings.HasSuffix(name, ".mp4"):
			base, err = readEntry(f)
			baseKind, baseExt = catalog.KindClip, ".mp4"
		case strings.HasSuffix(name, ".png") && overlay == nil:
			// An unlabeled transparency image is assumed to be the overlay.
			overlay, err = readEntry(f)
			overlayName = name
		}
		if err != nil {
			return nil, &StructuralError{Reason: fmt.Sprintf("read entry %s", f.Name), Err: err}
		}
	}

	if len(base) == 0 {
		var promoted string
		base, baseKind, baseExt, promoted, err = fallbackBase(zr, kind)
		if err != nil {
			return nil, err
		}
		// The fallback may promote the entry already claimed as overlay;
		// an asset cannot be layered onto itself.
		if promoted == overlayName {
			overlay = nil
		}
	}

	if len(base) == 0 {
		return nil, &StructuralError{Reason: "container holds no usable media"}
	}

	return &Contents{Base: base, Kind: baseKind, Ext: baseExt, Overlay: overlay}, nil
}

// fallbackBase takes the first image-like or video-like entry in file
// order as the base asset, returning the entry name it promoted.
// Entries without a recognized extension (some exports name the media
// entry bare) are classified by the item's declared kind.
func fallbackBase(zr *zip.Reader, kind catalog.MediaKind) ([]byte, catalog.MediaKind, string, string, error) {
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := strings.ToLower(f.Name)

		switch {
		case strings.HasSuffix(name, ".jpg"), strings.HasSuffix(name, ".jpeg"), strings.HasSuffix(name, ".png"):
			data, err := readEntry(f)
			if err != nil {
				return nil, "", "", "", &StructuralError{Reason: fmt.Sprintf("read entry %s", f.Name), Err: err}
			}
			ext := ".jpg"
			if strings.HasSuffix(name, ".png") {
				ext = ".png"
			}
			return data, catalog.KindPicture, ext, name, nil
		case strings.HasSuffix(name, ".mp4"), strings.HasSuffix(name, ".mov"):
			data, err := readEntry(f)
			if err != nil {
				return nil, "", "", "", &StructuralError{Reason: fmt.Sprintf("read entry %s", f.Name), Err: err}
			}
			ext := ".mp4"
			if strings.HasSuffix(name, ".mov") {
				ext = ".mov"
			}
			return data, catalog.KindClip, ext, name, nil
		case !strings.Contains(name, "."):
			data, err := readEntry(f)
			if err != nil {
				return nil, "", "", "", &StructuralError{Reason: fmt.Sprintf("read entry %s", f.Name), Err: err}
			}
			if kind == catalog.KindClip {
				return data, catalog.KindClip, ".mp4", name, nil
			}
			return data, catalog.KindPicture, ".jpg", name, nil
		}
	}
	return nil, "", "", "", &StructuralError{Reason: "container holds no usable media"}
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
