// Package forward translates internal tracking events into the wire
// formats of third-party ad/analytics platforms and delivers them with
// bounded retries.
//
// No raw PII ever leaves through a forwarder: the only user-matching key
// attached to any outbound event is a SHA-256 hash of the already
// anonymized session identifier.
package forward

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/healthtrack/healthtrack-go/event"
)

// Result reports the outcome of one SendEvents call.
type Result struct {
	Success    bool     `json:"success"`
	EventCount int      `json:"eventCount"`
	Errors     []string `json:"errors,omitempty"`
}

// Forwarder is the shared contract of the four platform adapters.
// Credentials are set once via Configure and treated as read-only
// afterward; concurrent SendEvents calls are safe.
type Forwarder interface {
	// Name identifies the platform ("ga4", "meta", "tiktok", "linkedin").
	Name() string
	// Configure installs the platform credential bag. Missing required
	// keys fail fast with no network call.
	Configure(creds map[string]string) error
	// IsConfigured reports whether Configure succeeded.
	IsConfigured() bool
	// SendEvents delivers the events, retrying transient failures.
	SendEvents(ctx context.Context, events []event.TrackingEvent) Result
	// ValidateCredentials performs a lightweight read-only probe and
	// returns a human-readable message. It never mutates credentials.
	ValidateCredentials(ctx context.Context) (bool, string)
}

// Retry policy shared by all forwarders.
const (
	maxAttempts    = 3
	baseBackoff    = 500 * time.Millisecond
	requestTimeout = 15 * time.Second
)

// retryableError marks a transient failure (5xx-equivalent or a
// platform rate-limit code) worth another attempt.
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// retryable wraps err so withRetry tries again.
func retryable(err error) error { return &retryableError{err: err} }

// withRetry runs fn up to maxAttempts times with doubling backoff.
// Only errors wrapped by retryable trigger another attempt; anything
// else (destination validation errors, 4xx) surfaces immediately.
func withRetry(ctx context.Context, fn func() error) error {
	delay := baseBackoff
	var last error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		last = err
		re, ok := err.(*retryableError)
		if !ok {
			return err
		}
		last = re.err
		if attempt == maxAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return last
}

// externalID is the only user-matching key forwarded to any platform.
func externalID(sessionID string) string {
	sum := sha256.Sum256([]byte(sessionID))
	return hex.EncodeToString(sum[:])
}

// dedupID derives the stable per-event deduplication identifier from
// (session, type, name, timestamp), truncated to a fixed length so
// identical inputs always produce the identical id.
func dedupID(ev *event.TrackingEvent) string {
	sum := sha256.Sum256([]byte(ev.AnonymizedSessionID + "|" + string(ev.EventType) + "|" + ev.EventName + "|" + ev.Timestamp))
	return hex.EncodeToString(sum[:])[:32]
}

// eventTime parses the event timestamp into epoch seconds, falling back
// to now for anything unparseable.
func eventTime(ev *event.TrackingEvent) int64 {
	t, err := time.Parse(time.RFC3339, ev.Timestamp)
	if err != nil {
		return time.Now().Unix()
	}
	return t.Unix()
}

// conversionValue extracts the optional numeric value and currency from
// a conversion's properties. Currency defaults to USD when a value is
// present without one.
func conversionValue(ev *event.TrackingEvent) (value float64, currency string, ok bool) {
	raw, exists := ev.Properties["value"]
	if !exists {
		return 0, "", false
	}
	switch v := raw.(type) {
	case float64:
		value = v
	case int:
		value = float64(v)
	default:
		return 0, "", false
	}
	currency = "USD"
	if c, ok := ev.Properties["currency"].(string); ok && c != "" {
		currency = c
	}
	return value, currency, true
}

// isPurchase reports whether a conversion's name marks a completed
// purchase; unmatched conversions map to each platform's lead event.
func isPurchase(name string) bool {
	return strings.Contains(strings.ToLower(name), "purchase")
}

// newJSONRequest builds a POST with a JSON body and content type.
func newJSONRequest(ctx context.Context, url string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// classifyStatus converts an HTTP status into the shared retry taxonomy.
func classifyStatus(status int, body string) error {
	switch {
	case status >= 200 && status <= 299:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return retryable(fmt.Errorf("status %d: %s", status, body))
	default:
		return fmt.Errorf("status %d: %s", status, body)
	}
}
