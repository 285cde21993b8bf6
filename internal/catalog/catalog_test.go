package catalog

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleHistory = `{
  "Saved Media": [
    {
      "Date": "2023-04-12 18:30:01 UTC",
      "Media Type": "Image",
      "Location": "Latitude, Longitude: 40.7128, -74.006",
      "Download Link": "https://app.snapchat.com/dmd/memories?uid=u1&sid=s1&mid=media-one&ts=1681323001000&sig=aaa"
    },
    {
      "Date": "2023-04-13 09:15:22 UTC",
      "Media Type": "Video",
      "Location": "Latitude, Longitude: 0.0, 0.0",
      "Download Link": "https://app.snapchat.com/dmd/memories?uid=u1&sid=s2&mid=media-two&ts=1681323002000&sig=bbb",
      "Zip Download Link": "https://app.snapchat.com/dmd/memories?uid=u1&sid=s2&mid=media-two&ts=1681323002000&sig=ccc&zip=true"
    }
  ]
}`

func TestParse(t *testing.T) {
	items, err := Parse(strings.NewReader(sampleHistory))
	require.NoError(t, err)
	require.Len(t, items, 2)

	pic := items[0]
	assert.Equal(t, "media-one", pic.ID)
	assert.Equal(t, KindPicture, pic.Kind)
	assert.Equal(t, time.Date(2023, 4, 12, 18, 30, 1, 0, time.UTC), pic.CapturedAt)
	require.NotNil(t, pic.Location)
	assert.InDelta(t, 40.7128, pic.Location.Latitude, 1e-9)
	assert.InDelta(t, -74.006, pic.Location.Longitude, 1e-9)
	assert.Empty(t, pic.ZipDownloadLink)

	clip := items[1]
	assert.Equal(t, "media-two", clip.ID)
	assert.Equal(t, KindClip, clip.Kind)
	assert.Nil(t, clip.Location, "zero coordinates mean no location")
	assert.NotEmpty(t, clip.ZipDownloadLink)
}

func TestParseIdentityWithoutMid(t *testing.T) {
	doc := `{
  "Saved Media": [
    {
      "Date": "2023-04-12 18:30:01 UTC",
      "Media Type": "Image",
      "Download Link": "https://app.snapchat.com/dmd/memories?uid=u1&sig=aaa"
    }
  ]
}`

	first, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Len(t, first[0].ID, 16)

	// Same date and type must hash to the same identity even when the
	// signed query differs between exports.
	rotated := strings.Replace(doc, "sig=aaa", "sig=zzz", 1)
	second, err := Parse(strings.NewReader(rotated))
	require.NoError(t, err)
	assert.Equal(t, first[0].ID, second[0].ID)
}

func TestParseSkipsUnusableEntries(t *testing.T) {
	doc := `{
  "Saved Media": [
    {"Date": "2023-04-12 18:30:01 UTC", "Media Type": "Sticker", "Download Link": "https://example.com/x?a=b"},
    {"Date": "2023-04-12 18:30:02 UTC", "Media Type": "Image", "Download Link": ""},
    {"Date": "2023-04-12 18:30:03 UTC", "Media Type": "Video", "Download Link": "https://example.com/x?mid=keep"}
  ]
}`

	items, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "keep", items[0].ID)
}

func TestParseMalformedJSON(t *testing.T) {
	_, err := Parse(strings.NewReader("{not json"))
	assert.Error(t, err)
}

func TestParseBadDate(t *testing.T) {
	doc := `{"Saved Media": [{"Date": "yesterday", "Media Type": "Image", "Download Link": "https://example.com/x?a=b"}]}`
	_, err := Parse(strings.NewReader(doc))
	assert.Error(t, err)
}

func TestParseLocation(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  *GeoPoint
	}{
		{"valid", "Latitude, Longitude: 51.5072, -0.1276", &GeoPoint{51.5072, -0.1276}},
		{"zero is absent", "Latitude, Longitude: 0.0, 0.0", nil},
		{"empty", "", nil},
		{"no colon", "somewhere", nil},
		{"garbage coords", "Latitude, Longitude: here, there", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseLocation(tt.input)
			assert.Equal(t, tt.want, got)
		})
	}
}
