package forward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/healthtrack/healthtrack-go/event"
)

// GA4 delivers events over the Google Analytics 4 Measurement Protocol.
type GA4 struct {
	measurementID string
	apiSecret     string
	httpc         *http.Client

	// collectURL and debugURL are overridable for tests.
	collectURL string
	debugURL   string
}

// NewGA4 returns an unconfigured GA4 forwarder.
func NewGA4() *GA4 {
	return &GA4{
		httpc:      &http.Client{Timeout: requestTimeout},
		collectURL: "https://www.google-analytics.com/mp/collect",
		debugURL:   "https://www.google-analytics.com/debug/mp/collect",
	}
}

func (g *GA4) Name() string { return "ga4" }

// Configure requires measurement_id and api_secret.
func (g *GA4) Configure(creds map[string]string) error {
	if creds["measurement_id"] == "" || creds["api_secret"] == "" {
		return errors.New("ga4: measurement_id and api_secret required")
	}
	g.measurementID = creds["measurement_id"]
	g.apiSecret = creds["api_secret"]
	return nil
}

func (g *GA4) IsConfigured() bool { return g.measurementID != "" && g.apiSecret != "" }

type ga4Event struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

type ga4Payload struct {
	ClientID string     `json:"client_id"`
	Events   []ga4Event `json:"events"`
}

// mapEvent translates an internal event into the GA4 vocabulary.
func (g *GA4) mapEvent(ev *event.TrackingEvent) ga4Event {
	params := map[string]any{
		"event_id":      dedupID(ev),
		"page_location": ev.PageURL,
	}
	if ev.Referrer != "" {
		params["page_referrer"] = ev.Referrer
	}

	name := ev.EventName
	switch ev.EventType {
	case event.TypePageView:
		name = "page_view"
	case event.TypeConversion:
		if isPurchase(ev.EventName) {
			name = "purchase"
			params["transaction_id"] = dedupID(ev)
		} else {
			name = "generate_lead"
		}
		if value, currency, ok := conversionValue(ev); ok {
			params["value"] = value
			params["currency"] = currency
		}
	}

	return ga4Event{Name: name, Params: params}
}

// SendEvents posts all events in one Measurement Protocol call, keyed by
// the hashed session id as client_id.
func (g *GA4) SendEvents(ctx context.Context, events []event.TrackingEvent) Result {
	if !g.IsConfigured() {
		return Result{Errors: []string{"ga4: not configured"}}
	}
	if len(events) == 0 {
		return Result{Success: true}
	}

	// GA4 keys the payload by client; group events per session.
	bySession := map[string][]ga4Event{}
	for i := range events {
		id := externalID(events[i].AnonymizedSessionID)
		bySession[id] = append(bySession[id], g.mapEvent(&events[i]))
	}

	sent := 0
	var errs []string
	for clientID, mapped := range bySession {
		if err := g.send(ctx, g.collectURL, clientID, mapped); err != nil {
			errs = append(errs, fmt.Sprintf("ga4: %v", err))
			continue
		}
		sent += len(mapped)
	}

	return Result{Success: len(errs) == 0, EventCount: sent, Errors: errs}
}

func (g *GA4) send(ctx context.Context, endpoint, clientID string, events []ga4Event) error {
	body, err := json.Marshal(ga4Payload{ClientID: clientID, Events: events})
	if err != nil {
		return err
	}

	target := fmt.Sprintf("%s?measurement_id=%s&api_secret=%s",
		endpoint, url.QueryEscape(g.measurementID), url.QueryEscape(g.apiSecret))

	return withRetry(ctx, func() error {
		req, err := newJSONRequest(ctx, target, body)
		if err != nil {
			return err
		}
		resp, err := g.httpc.Do(req)
		if err != nil {
			return retryable(err)
		}
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return classifyStatus(resp.StatusCode, string(respBody))
	})
}

// ValidateCredentials posts a synthetic event to the debug endpoint,
// which validates without recording, and reports any validation message.
func (g *GA4) ValidateCredentials(ctx context.Context) (bool, string) {
	if !g.IsConfigured() {
		return false, "ga4: not configured"
	}

	probe := []ga4Event{{Name: "page_view", Params: map[string]any{"engagement_time_msec": 1}}}
	body, _ := json.Marshal(ga4Payload{ClientID: "credential.check", Events: probe})

	target := fmt.Sprintf("%s?measurement_id=%s&api_secret=%s",
		g.debugURL, url.QueryEscape(g.measurementID), url.QueryEscape(g.apiSecret))

	req, err := newJSONRequest(ctx, target, body)
	if err != nil {
		return false, err.Error()
	}
	resp, err := g.httpc.Do(req)
	if err != nil {
		return false, fmt.Sprintf("ga4: debug endpoint unreachable: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Sprintf("ga4: debug endpoint returned %d", resp.StatusCode)
	}

	var out struct {
		ValidationMessages []struct {
			Description string `json:"description"`
		} `json:"validationMessages"`
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	if err := json.Unmarshal(respBody, &out); err == nil && len(out.ValidationMessages) > 0 {
		return false, "ga4: " + out.ValidationMessages[0].Description
	}
	return true, "ga4: credentials accepted"
}
