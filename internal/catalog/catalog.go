package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// MediaKind identifies the type of a memory.
type MediaKind string

const (
	KindPicture MediaKind = "picture"
	KindClip    MediaKind = "clip"
)

// GeoPoint is a latitude/longitude pair from the export's location field.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// Item is one memory to download. ID is stable across exports of the same
// account: the signed query parameters of a download link rotate between
// exports, but the media id embedded in the link does not.
type Item struct {
	ID         string
	CapturedAt time.Time
	Kind       MediaKind
	Location   *GeoPoint

	// DownloadLink is the signed descriptor URL exchanged for the payload URL.
	DownloadLink string

	// ZipDownloadLink, when present, points at a zip bundle containing the
	// base media plus its overlay layer.
	ZipDownloadLink string
}

// dateLayout matches the timestamp format used by memories_history.json.
const dateLayout = "2006-01-02 15:04:05 UTC"

type rawHistory struct {
	SavedMedia []rawEntry `json:"Saved Media"`
}

type rawEntry struct {
	Date            string `json:"Date"`
	MediaType       string `json:"Media Type"`
	Location        string `json:"Location"`
	DownloadLink    string `json:"Download Link"`
	ZipDownloadLink string `json:"Zip Download Link"`
}

// Parse reads a memories_history.json document and returns its items in
// file order. Entries with an unrecognized media type or no download link
// are skipped.
func Parse(r io.Reader) ([]Item, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("catalog: read: %w", err)
	}

	var hist rawHistory
	if err := json.Unmarshal(data, &hist); err != nil {
		return nil, fmt.Errorf("catalog: parse memories history: %w", err)
	}

	items := make([]Item, 0, len(hist.SavedMedia))
	for _, e := range hist.SavedMedia {
		if e.DownloadLink == "" {
			continue
		}

		var kind MediaKind
		switch strings.ToLower(e.MediaType) {
		case "image", "photo":
			kind = KindPicture
		case "video":
			kind = KindClip
		default:
			continue
		}

		capturedAt, err := time.Parse(dateLayout, e.Date)
		if err != nil {
			return nil, fmt.Errorf("catalog: parse date %q: %w", e.Date, err)
		}

		items = append(items, Item{
			ID:              identityFor(e),
			CapturedAt:      capturedAt,
			Kind:            kind,
			Location:        parseLocation(e.Location),
			DownloadLink:    e.DownloadLink,
			ZipDownloadLink: e.ZipDownloadLink,
		})
	}

	return items, nil
}

// ParseFile parses the export file at path.
func ParseFile(path string) ([]Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// identityFor derives the stable resume key for an entry. The mid query
// parameter of the download link is used when present; otherwise the
// capture date and media type are hashed, which are the only fields
// guaranteed not to rotate between exports.
func identityFor(e rawEntry) string {
	if u, err := url.Parse(e.DownloadLink); err == nil {
		if mid := u.Query().Get("mid"); mid != "" {
			return mid
		}
	}

	h := sha256.Sum256([]byte(e.Date + "|" + e.MediaType))
	return hex.EncodeToString(h[:])[:16]
}

// parseLocation extracts coordinates from a string like
// "Latitude, Longitude: 40.7, -74.0". Missing or zero coordinates yield nil.
func parseLocation(s string) *GeoPoint {
	_, coords, ok := strings.Cut(s, ":")
	if !ok {
		return nil
	}

	parts := strings.Split(coords, ",")
	if len(parts) != 2 {
		return nil
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return nil
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil
	}

	if lat == 0 && lon == 0 {
		return nil
	}
	return &GeoPoint{Latitude: lat, Longitude: lon}
}
