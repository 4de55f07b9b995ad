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

// LinkedIn delivers conversions to the LinkedIn Conversions API. The
// platform accepts conversion events only; page views and custom events
// are filtered out before delivery.
type LinkedIn struct {
	conversionURN string
	accessToken   string
	httpc         *http.Client

	eventsURL string // overridable for tests
	probeURL  string
}

// NewLinkedIn returns an unconfigured LinkedIn forwarder.
func NewLinkedIn() *LinkedIn {
	return &LinkedIn{
		httpc:     &http.Client{Timeout: requestTimeout},
		eventsURL: "https://api.linkedin.com/rest/conversionEvents",
		probeURL:  "https://api.linkedin.com/v2/me",
	}
}

func (l *LinkedIn) Name() string { return "linkedin" }

// Configure requires conversion_urn and access_token.
func (l *LinkedIn) Configure(creds map[string]string) error {
	if creds["conversion_urn"] == "" || creds["access_token"] == "" {
		return errors.New("linkedin: conversion_urn and access_token required")
	}
	l.conversionURN = creds["conversion_urn"]
	l.accessToken = creds["access_token"]
	return nil
}

func (l *LinkedIn) IsConfigured() bool { return l.conversionURN != "" && l.accessToken != "" }

type linkedinUserID struct {
	IDType  string `json:"idType"`
	IDValue string `json:"idValue"`
}

type linkedinUser struct {
	UserIDs []linkedinUserID `json:"userIds"`
}

type linkedinValue struct {
	CurrencyCode string `json:"currencyCode"`
	Amount       string `json:"amount"`
}

type linkedinEvent struct {
	Conversion           string         `json:"conversion"`
	ConversionHappenedAt int64          `json:"conversionHappenedAt"`
	EventID              string         `json:"eventId"`
	User                 linkedinUser   `json:"user"`
	ConversionValue      *linkedinValue `json:"conversionValue,omitempty"`
}

func (l *LinkedIn) mapEvent(ev *event.TrackingEvent) linkedinEvent {
	out := linkedinEvent{
		Conversion:           l.conversionURN,
		ConversionHappenedAt: eventTime(ev) * 1000,
		EventID:              dedupID(ev),
		User: linkedinUser{
			// The hashed session id is the only matching key available;
			// no raw contact information exists at this point.
			UserIDs: []linkedinUserID{{IDType: "SHA256_EMAIL", IDValue: externalID(ev.AnonymizedSessionID)}},
		},
	}
	if value, currency, ok := conversionValue(ev); ok {
		out.ConversionValue = &linkedinValue{CurrencyCode: currency, Amount: fmt.Sprintf("%.2f", value)}
	}
	return out
}

// SendEvents delivers conversion events one at a time (the Conversions
// API takes one event per call). Non-conversion input yields a trivial
// success with zero events sent.
func (l *LinkedIn) SendEvents(ctx context.Context, events []event.TrackingEvent) Result {
	if !l.IsConfigured() {
		return Result{Errors: []string{"linkedin: not configured"}}
	}

	var conversions []event.TrackingEvent
	for _, ev := range events {
		if ev.EventType == event.TypeConversion {
			conversions = append(conversions, ev)
		}
	}
	if len(conversions) == 0 {
		return Result{Success: true}
	}

	sent := 0
	var errs []string
	for i := range conversions {
		body, err := json.Marshal(l.mapEvent(&conversions[i]))
		if err != nil {
			errs = append(errs, fmt.Sprintf("linkedin: encode: %v", err))
			continue
		}
		err = withRetry(ctx, func() error {
			req, err := newJSONRequest(ctx, l.eventsURL, body)
			if err != nil {
				return err
			}
			req.Header.Set("Authorization", "Bearer "+l.accessToken)
			req.Header.Set("LinkedIn-Version", "202401")
			req.Header.Set("X-Restli-Protocol-Version", "2.0.0")

			resp, err := l.httpc.Do(req)
			if err != nil {
				return retryable(err)
			}
			defer resp.Body.Close()
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return classifyStatus(resp.StatusCode, string(respBody))
		})
		if err != nil {
			errs = append(errs, fmt.Sprintf("linkedin: %v", err))
			continue
		}
		sent++
	}

	return Result{Success: len(errs) == 0, EventCount: sent, Errors: errs}
}

// ValidateCredentials performs a read-only identity check against the
// profile endpoint.
func (l *LinkedIn) ValidateCredentials(ctx context.Context) (bool, string) {
	if !l.IsConfigured() {
		return false, "linkedin: not configured"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.probeURL, nil)
	if err != nil {
		return false, err.Error()
	}
	req.Header.Set("Authorization", "Bearer "+l.accessToken)

	resp, err := l.httpc.Do(req)
	if err != nil {
		return false, fmt.Sprintf("linkedin: unreachable: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return true, "linkedin: credentials accepted"
	}
	return false, fmt.Sprintf("linkedin: identity check returned %d", resp.StatusCode)
}
