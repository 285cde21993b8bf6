package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/JHill6253/snapchat-export/internal/catalog"
)

// CompositeError classifies a compositing failure. Callers treat it as
// non-fatal and fall back to the uncomposited base asset.
type CompositeError struct {
	Reason string
	Err    error
}

func (e *CompositeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("composite: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("composite: %s", e.Reason)
}

func (e *CompositeError) Unwrap() error { return e.Err }

// DetectFFmpeg probes once for an ffmpeg binary. An empty result means
// video compositing is unavailable and clips keep their separate overlay.
func DetectFFmpeg() string {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return ""
	}
	return path
}

// Compositor layers an overlay onto a base asset. Pictures are composited
// in-process; clips require ffmpeg and silently degrade to the plain base
// when it is absent.
type Compositor struct {
	// FFmpegPath is the probed ffmpeg binary, empty when unavailable.
	FFmpegPath string
}

// Composite returns the merged asset. A nil overlay returns the base
// bytes unchanged, re-wrapped with the default content type for the kind.
func (c *Compositor) Composite(ctx context.Context, base, overlay []byte, kind catalog.MediaKind) (*Asset, error) {
	if overlay == nil {
		return plainAsset(base, kind), nil
	}

	switch kind {
	case catalog.KindPicture:
		return compositePicture(base, overlay)
	case catalog.KindClip:
		if c.FFmpegPath == "" {
			return plainAsset(base, kind), nil
		}
		return c.compositeClip(ctx, base, overlay)
	default:
		return nil, &CompositeError{Reason: fmt.Sprintf("unknown media kind %q", kind)}
	}
}

func plainAsset(base []byte, kind catalog.MediaKind) *Asset {
	if kind == catalog.KindClip {
		return &Asset{Data: base, ContentType: "video/mp4", Ext: ".mp4"}
	}
	return &Asset{Data: base, ContentType: "image/jpeg", Ext: ".jpg"}
}

// compositePicture draws the overlay over the base image and re-encodes
// as JPEG.
func compositePicture(base, overlay []byte) (*Asset, error) {
	baseImg, _, err := image.Decode(bytes.NewReader(base))
	if err != nil {
		return nil, &CompositeError{Reason: "decode base image", Err: err}
	}

	overlayImg, err := png.Decode(bytes.NewReader(overlay))
	if err != nil {
		return nil, &CompositeError{Reason: "decode overlay image", Err: err}
	}

	bounds := baseImg.Bounds()
	merged := image.NewRGBA(bounds)
	draw.Draw(merged, bounds, baseImg, bounds.Min, draw.Src)
	draw.Draw(merged, overlayImg.Bounds().Add(bounds.Min), overlayImg, overlayImg.Bounds().Min, draw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, merged, &jpeg.Options{Quality: 92}); err != nil {
		return nil, &CompositeError{Reason: "encode merged image", Err: err}
	}

	return &Asset{Data: buf.Bytes(), ContentType: "image/jpeg", Ext: ".jpg"}, nil
}

// compositeClip burns the overlay into the video with ffmpeg. All temp
// files live in a private scratch directory removed on every path.
func (c *Compositor) compositeClip(ctx context.Context, base, overlay []byte) (*Asset, error) {
	scratch := filepath.Join(os.TempDir(), "snapchat-export-"+uuid.NewString())
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return nil, &CompositeError{Reason: "create scratch dir", Err: err}
	}
	defer os.RemoveAll(scratch)

	basePath := filepath.Join(scratch, "base.mp4")
	overlayPath := filepath.Join(scratch, "overlay.png")
	outPath := filepath.Join(scratch, "out.mp4")

	if err := os.WriteFile(basePath, base, 0o644); err != nil {
		return nil, &CompositeError{Reason: "write base clip", Err: err}
	}
	if err := os.WriteFile(overlayPath, overlay, 0o644); err != nil {
		return nil, &CompositeError{Reason: "write overlay", Err: err}
	}

	cmd := exec.CommandContext(ctx, c.FFmpegPath,
		"-y",
		"-i", basePath,
		"-i", overlayPath,
		"-filter_complex", "[1:v][0:v]scale2ref[ov][base];[base][ov]overlay=0:0",
		"-c:a", "copy",
		outPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, &CompositeError{
			Reason: fmt.Sprintf("ffmpeg: %s", lastLine(stderr.String())),
			Err:    err,
		}
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, &CompositeError{Reason: "read ffmpeg output", Err: err}
	}

	return &Asset{Data: out, ContentType: "video/mp4", Ext: ".mp4"}, nil
}

func lastLine(s string) string {
	lines := bytes.Split(bytes.TrimSpace([]byte(s)), []byte("\n"))
	if len(lines) == 0 {
		return ""
	}
	return string(lines[len(lines)-1])
}
