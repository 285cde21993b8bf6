// Package retry implements the backoff and error classification policy
// shared by all network operations.
package retry

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"
)

// MaxDelay caps the computed backoff regardless of attempt number.
const MaxDelay = 30 * time.Second

// HTTPError represents a non-success HTTP response.
type HTTPError struct {
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("http status %s", e.Status)
	}
	return fmt.Sprintf("http status %d", e.StatusCode)
}

// retryableStatus lists the HTTP statuses worth retrying: rate limiting,
// request timeout, and server-side failures.
var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// networkIndicators are message fragments that identify transport-layer
// failures from the net package and friends.
var networkIndicators = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"broken pipe",
	"socket",
	"network is unreachable",
}

// DelayFor returns the backoff before retry number attempt (0-based).
// The delay is base doubled per attempt with a uniform jitter of up to
// 25% in either direction, capped at MaxDelay. Jitter keeps parallel
// workers from retrying in lockstep after a shared outage.
func DelayFor(attempt int, base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}

	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= MaxDelay {
			d = MaxDelay
			break
		}
	}

	jittered := time.Duration(float64(d) * (0.75 + rand.Float64()*0.5))
	if jittered > MaxDelay {
		jittered = MaxDelay
	}
	return jittered
}

// IsRetryable reports whether err is worth retrying. HTTP errors are
// classified by status code; everything else is matched against known
// transport failure messages. Malformed responses and client errors
// other than 408/429 are not retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var he *HTTPError
	if errors.As(err, &he) {
		return retryableStatus[he.StatusCode]
	}

	msg := strings.ToLower(err.Error())
	for _, ind := range networkIndicators {
		if strings.Contains(msg, ind) {
			return true
		}
	}
	return false
}
