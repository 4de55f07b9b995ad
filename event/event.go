// Package event defines the wire-level tracking event and batch types
// shared by the client SDK and the ingestion endpoint.
package event

import (
	"fmt"
	"time"
)

// SDKVersion is stamped onto every event created by the client SDK.
const SDKVersion = "1.0.0"

// Type classifies a tracking event.
type Type string

const (
	TypePageView    Type = "page_view"
	TypeCustomEvent Type = "custom_event"
	TypeConversion  Type = "conversion"
)

// Valid reports whether t is one of the known event types.
func (t Type) Valid() bool {
	switch t {
	case TypePageView, TypeCustomEvent, TypeConversion:
		return true
	}
	return false
}

// Wire-level limits enforced at the ingestion boundary.
const (
	MaxBatchEvents   = 100
	MaxEventNameLen  = 255
	MaxSessionIDLen  = 255
	MaxURLLen        = 2048
	MaxSDKVersionLen = 50
)

// TrackingEvent is one observed user action, scrubbed of PHI before it
// leaves the browser and again server-side.
type TrackingEvent struct {
	EventType           Type           `json:"event_type"`
	EventName           string         `json:"event_name"`
	Properties          map[string]any `json:"properties,omitempty"`
	Timestamp           string         `json:"timestamp"`
	AnonymizedSessionID string         `json:"anonymized_session_id"`
	PageURL             string         `json:"page_url"`
	Referrer            string         `json:"referrer"`
	SDKVersion          string         `json:"sdk_version"`
	PHIScrubbed         []string       `json:"phi_scrubbed,omitempty"`
}

// ConsentState is the two-boolean consent snapshot attached to a batch.
type ConsentState struct {
	Analytics bool `json:"analytics"`
	Marketing bool `json:"marketing"`
}

// Batch is the POST /api/v1/events payload.
type Batch struct {
	APIKey  string          `json:"apiKey"`
	Events  []TrackingEvent `json:"events"`
	Consent *ConsentState   `json:"consent,omitempty"`
}

// BatchResponse is returned on acceptance (202).
type BatchResponse struct {
	Success  bool     `json:"success"`
	EventIDs []string `json:"eventIds"`
	Received int      `json:"received"`
}

// FieldError reports a single field's validation failure.
type FieldError struct {
	Field string `json:"field"`
	Msg   string `json:"message"`
}

func (e FieldError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Msg) }

// Validate performs strict shape checks on a single event. The returned
// field names are prefixed so batch-level errors point at the offending
// item, e.g. "events[3].event_name".
func (ev *TrackingEvent) Validate(prefix string) []FieldError {
	var errs []FieldError

	if !ev.EventType.Valid() {
		errs = append(errs, FieldError{prefix + "event_type", "must be page_view, custom_event or conversion"})
	}
	if ev.EventName == "" {
		errs = append(errs, FieldError{prefix + "event_name", "required"})
	} else if len(ev.EventName) > MaxEventNameLen {
		errs = append(errs, FieldError{prefix + "event_name", fmt.Sprintf("max length %d", MaxEventNameLen)})
	}
	if ev.Timestamp == "" {
		errs = append(errs, FieldError{prefix + "timestamp", "required"})
	} else if _, err := time.Parse(time.RFC3339, ev.Timestamp); err != nil {
		errs = append(errs, FieldError{prefix + "timestamp", "must be RFC3339"})
	}
	if ev.AnonymizedSessionID == "" {
		errs = append(errs, FieldError{prefix + "anonymized_session_id", "required"})
	} else if len(ev.AnonymizedSessionID) > MaxSessionIDLen {
		errs = append(errs, FieldError{prefix + "anonymized_session_id", fmt.Sprintf("max length %d", MaxSessionIDLen)})
	}
	if len(ev.PageURL) > MaxURLLen {
		errs = append(errs, FieldError{prefix + "page_url", fmt.Sprintf("max length %d", MaxURLLen)})
	}
	if len(ev.Referrer) > MaxURLLen {
		errs = append(errs, FieldError{prefix + "referrer", fmt.Sprintf("max length %d", MaxURLLen)})
	}
	if len(ev.SDKVersion) > MaxSDKVersionLen {
		errs = append(errs, FieldError{prefix + "sdk_version", fmt.Sprintf("max length %d", MaxSDKVersionLen)})
	}

	return errs
}

// Validate checks the whole batch: key presence, item count cap, and each
// event in place. A nil result means the batch is acceptable.
func (b *Batch) Validate() []FieldError {
	var errs []FieldError

	if b.APIKey == "" {
		errs = append(errs, FieldError{"apiKey", "required"})
	}
	if len(b.Events) == 0 {
		errs = append(errs, FieldError{"events", "must contain at least one event"})
	} else if len(b.Events) > MaxBatchEvents {
		errs = append(errs, FieldError{"events", fmt.Sprintf("max %d events per batch", MaxBatchEvents)})
	} else {
		for i := range b.Events {
			errs = append(errs, b.Events[i].Validate(fmt.Sprintf("events[%d].", i))...)
		}
	}

	return errs
}
