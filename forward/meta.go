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

// Meta rate-limit error codes that warrant a retry (application-level
// throttling and API-too-many-calls).
var metaRetryableCodes = map[int]bool{4: true, 17: true, 32: true, 80004: true}

// Meta delivers events to the Meta (Facebook) Conversions API.
type Meta struct {
	pixelID       string
	accessToken   string
	testEventCode string
	httpc         *http.Client

	baseURL string // overridable for tests
}

// NewMeta returns an unconfigured Meta forwarder.
func NewMeta() *Meta {
	return &Meta{
		httpc:   &http.Client{Timeout: requestTimeout},
		baseURL: "https://graph.facebook.com/v18.0",
	}
}

func (m *Meta) Name() string { return "meta" }

// Configure requires pixel_id and access_token; test_event_code is
// optional and routes events to the pixel's test console.
func (m *Meta) Configure(creds map[string]string) error {
	if creds["pixel_id"] == "" || creds["access_token"] == "" {
		return errors.New("meta: pixel_id and access_token required")
	}
	m.pixelID = creds["pixel_id"]
	m.accessToken = creds["access_token"]
	m.testEventCode = creds["test_event_code"]
	return nil
}

func (m *Meta) IsConfigured() bool { return m.pixelID != "" && m.accessToken != "" }

type metaUserData struct {
	ExternalID string `json:"external_id"`
}

type metaEvent struct {
	EventName      string         `json:"event_name"`
	EventTime      int64          `json:"event_time"`
	EventID        string         `json:"event_id"`
	ActionSource   string         `json:"action_source"`
	EventSourceURL string         `json:"event_source_url,omitempty"`
	UserData       metaUserData   `json:"user_data"`
	CustomData     map[string]any `json:"custom_data,omitempty"`
}

type metaPayload struct {
	Data          []metaEvent `json:"data"`
	TestEventCode string      `json:"test_event_code,omitempty"`
	AccessToken   string      `json:"access_token"`
}

type metaErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (m *Meta) mapEvent(ev *event.TrackingEvent) metaEvent {
	name := ev.EventName
	custom := map[string]any{}

	switch ev.EventType {
	case event.TypePageView:
		name = "PageView"
	case event.TypeConversion:
		if isPurchase(ev.EventName) {
			name = "Purchase"
		} else {
			name = "Lead"
		}
		if value, currency, ok := conversionValue(ev); ok {
			custom["value"] = value
			custom["currency"] = currency
		}
	}

	out := metaEvent{
		EventName:      name,
		EventTime:      eventTime(ev),
		EventID:        dedupID(ev),
		ActionSource:   "website",
		EventSourceURL: ev.PageURL,
		UserData:       metaUserData{ExternalID: externalID(ev.AnonymizedSessionID)},
	}
	if len(custom) > 0 {
		out.CustomData = custom
	}
	return out
}

// SendEvents posts all events in one Graph API call.
func (m *Meta) SendEvents(ctx context.Context, events []event.TrackingEvent) Result {
	if !m.IsConfigured() {
		return Result{Errors: []string{"meta: not configured"}}
	}
	if len(events) == 0 {
		return Result{Success: true}
	}

	payload := metaPayload{AccessToken: m.accessToken, TestEventCode: m.testEventCode}
	for i := range events {
		payload.Data = append(payload.Data, m.mapEvent(&events[i]))
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{Errors: []string{fmt.Sprintf("meta: encode: %v", err)}}
	}

	target := fmt.Sprintf("%s/%s/events", m.baseURL, m.pixelID)
	err = withRetry(ctx, func() error {
		req, err := newJSONRequest(ctx, target, body)
		if err != nil {
			return err
		}
		resp, err := m.httpc.Do(req)
		if err != nil {
			return retryable(err)
		}
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return nil
		}
		// Graph API reports throttling via error codes inside a 400.
		var eb metaErrorBody
		if json.Unmarshal(respBody, &eb) == nil && metaRetryableCodes[eb.Error.Code] {
			return retryable(fmt.Errorf("rate limited (code %d): %s", eb.Error.Code, eb.Error.Message))
		}
		if eb.Error.Message != "" {
			return fmt.Errorf("%s", eb.Error.Message)
		}
		return classifyStatus(resp.StatusCode, string(respBody))
	})
	if err != nil {
		return Result{Errors: []string{fmt.Sprintf("meta: %v", err)}}
	}

	return Result{Success: true, EventCount: len(events)}
}

// ValidateCredentials performs a read-only pixel lookup.
func (m *Meta) ValidateCredentials(ctx context.Context) (bool, string) {
	if !m.IsConfigured() {
		return false, "meta: not configured"
	}

	target := fmt.Sprintf("%s/%s?fields=id&access_token=%s", m.baseURL, m.pixelID, m.accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, err.Error()
	}
	resp, err := m.httpc.Do(req)
	if err != nil {
		return false, fmt.Sprintf("meta: unreachable: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return true, "meta: credentials accepted"
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var eb metaErrorBody
	if json.Unmarshal(respBody, &eb) == nil && eb.Error.Message != "" {
		return false, "meta: " + eb.Error.Message
	}
	return false, fmt.Sprintf("meta: pixel lookup returned %d", resp.StatusCode)
}
