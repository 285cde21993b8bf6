// Package signedurl inspects the time-limited signed URLs carried by a
// memories export.
package signedurl

import (
	"math"
	"net/url"
	"strconv"
	"time"
)

// timestampParam is the query parameter holding the link's issuance time
// as epoch milliseconds.
const timestampParam = "ts"

// Expiration describes the age of a signed URL relative to a threshold.
type Expiration struct {
	Expired  bool
	AgeHours float64
	IssuedAt *time.Time
}

// CheckExpiration extracts the issuance timestamp from rawURL and compares
// its age against threshold. When the timestamp is absent or unparsable
// the result is not-expired with zero age: expiry can only advise, never
// block a download on its own.
func CheckExpiration(rawURL string, threshold time.Duration) Expiration {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Expiration{}
	}

	raw := u.Query().Get(timestampParam)
	if raw == "" {
		return Expiration{}
	}

	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || millis <= 0 {
		return Expiration{}
	}

	issued := time.UnixMilli(millis)
	age := time.Since(issued)
	if age < 0 {
		age = 0
	}

	return Expiration{
		Expired:  age > threshold,
		AgeHours: math.Round(age.Hours()*10) / 10,
		IssuedAt: &issued,
	}
}
