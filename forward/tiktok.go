package forward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/healthtrack/healthtrack-go/event"
)

// tiktokRateLimitCode is the body-level code TikTok returns when
// throttling; it arrives with HTTP 200 and must be retried.
const tiktokRateLimitCode = 40100

// TikTok delivers events to the TikTok Events API.
type TikTok struct {
	pixelCode   string
	accessToken string
	httpc       *http.Client

	trackURL string // overridable for tests
}

// NewTikTok returns an unconfigured TikTok forwarder.
func NewTikTok() *TikTok {
	return &TikTok{
		httpc:    &http.Client{Timeout: requestTimeout},
		trackURL: "https://business-api.tiktok.com/open_api/v1.3/event/track/",
	}
}

func (t *TikTok) Name() string { return "tiktok" }

// Configure requires pixel_code and access_token.
func (t *TikTok) Configure(creds map[string]string) error {
	if creds["pixel_code"] == "" || creds["access_token"] == "" {
		return errors.New("tiktok: pixel_code and access_token required")
	}
	t.pixelCode = creds["pixel_code"]
	t.accessToken = creds["access_token"]
	return nil
}

func (t *TikTok) IsConfigured() bool { return t.pixelCode != "" && t.accessToken != "" }

type tiktokUser struct {
	ExternalID string `json:"external_id"`
}

type tiktokPage struct {
	URL      string `json:"url,omitempty"`
	Referrer string `json:"referrer,omitempty"`
}

type tiktokEvent struct {
	Event      string         `json:"event"`
	EventTime  int64          `json:"event_time"`
	EventID    string         `json:"event_id"`
	User       tiktokUser     `json:"user"`
	Page       tiktokPage     `json:"page"`
	Properties map[string]any `json:"properties,omitempty"`
}

type tiktokPayload struct {
	EventSource   string        `json:"event_source"`
	EventSourceID string        `json:"event_source_id"`
	TestEventCode string        `json:"test_event_code,omitempty"`
	Data          []tiktokEvent `json:"data"`
}

type tiktokResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (t *TikTok) mapEvent(ev *event.TrackingEvent) tiktokEvent {
	name := ev.EventName
	props := map[string]any{}

	switch ev.EventType {
	case event.TypePageView:
		name = "Pageview"
	case event.TypeConversion:
		if isPurchase(ev.EventName) {
			name = "CompletePayment"
		} else {
			name = "SubmitForm"
		}
		if value, currency, ok := conversionValue(ev); ok {
			props["value"] = value
			props["currency"] = currency
		}
	}

	out := tiktokEvent{
		Event:     name,
		EventTime: eventTime(ev),
		EventID:   dedupID(ev),
		User:      tiktokUser{ExternalID: externalID(ev.AnonymizedSessionID)},
		Page:      tiktokPage{URL: ev.PageURL, Referrer: ev.Referrer},
	}
	if len(props) > 0 {
		out.Properties = props
	}
	return out
}

func (t *TikTok) post(ctx context.Context, payload tiktokPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return withRetry(ctx, func() error {
		req, err := newJSONRequest(ctx, t.trackURL, body)
		if err != nil {
			return err
		}
		req.Header.Set("Access-Token", t.accessToken)

		resp, err := t.httpc.Do(req)
		if err != nil {
			return retryable(err)
		}
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return classifyStatus(resp.StatusCode, string(respBody))
		}

		// TikTok signals failure inside a 200 body.
		var tr tiktokResponse
		if err := json.Unmarshal(respBody, &tr); err != nil {
			return fmt.Errorf("unparseable response: %w", err)
		}
		switch tr.Code {
		case 0:
			return nil
		case tiktokRateLimitCode:
			return retryable(fmt.Errorf("rate limited (code %d): %s", tr.Code, tr.Message))
		default:
			return fmt.Errorf("code %d: %s", tr.Code, tr.Message)
		}
	})
}

// SendEvents posts all events in one Events API call.
func (t *TikTok) SendEvents(ctx context.Context, events []event.TrackingEvent) Result {
	if !t.IsConfigured() {
		return Result{Errors: []string{"tiktok: not configured"}}
	}
	if len(events) == 0 {
		return Result{Success: true}
	}

	payload := tiktokPayload{EventSource: "web", EventSourceID: t.pixelCode}
	for i := range events {
		payload.Data = append(payload.Data, t.mapEvent(&events[i]))
	}

	if err := t.post(ctx, payload); err != nil {
		return Result{Errors: []string{fmt.Sprintf("tiktok: %v", err)}}
	}
	return Result{Success: true, EventCount: len(events)}
}

// ValidateCredentials sends a synthetic event flagged with a test event
// code, which TikTok validates without recording.
func (t *TikTok) ValidateCredentials(ctx context.Context) (bool, string) {
	if !t.IsConfigured() {
		return false, "tiktok: not configured"
	}

	probe := tiktokPayload{
		EventSource:   "web",
		EventSourceID: t.pixelCode,
		TestEventCode: "credential_check",
		Data: []tiktokEvent{{
			Event:     "Pageview",
			EventTime: eventTime(&event.TrackingEvent{}),
			EventID:   "credential-check",
			User:      tiktokUser{ExternalID: externalID("credential-check")},
		}},
	}
	if err := t.post(ctx, probe); err != nil {
		return false, fmt.Sprintf("tiktok: %v", err)
	}
	return true, "tiktok: credentials accepted"
}
