package forward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthtrack/healthtrack-go/event"
)

func sampleEvent(t event.Type, name string) event.TrackingEvent {
	return event.TrackingEvent{
		EventType:           t,
		EventName:           name,
		Timestamp:           "2026-08-27T10:00:00Z",
		AnonymizedSessionID: "0123456789abcdef0123456789abcdef",
		PageURL:             "https://clinic.example.com/services",
		SDKVersion:          event.SDKVersion,
	}
}

func TestWithRetry_NonRetryableStopsImmediately(t *testing.T) {
	var calls int
	err := withRetry(context.Background(), func() error {
		calls++
		return errors.New("bad credentials")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_RetryableExhaustsAttempts(t *testing.T) {
	var calls int
	err := withRetry(context.Background(), func() error {
		calls++
		return retryable(errors.New("upstream 503"))
	})
	assert.Error(t, err)
	assert.Equal(t, maxAttempts, calls)
	// The wrapper is unwrapped before surfacing.
	assert.EqualError(t, err, "upstream 503")
}

func TestClassifyStatus(t *testing.T) {
	assert.NoError(t, classifyStatus(200, ""))
	assert.NoError(t, classifyStatus(204, ""))

	var re *retryableError
	assert.ErrorAs(t, classifyStatus(429, "slow down"), &re)
	assert.ErrorAs(t, classifyStatus(503, "down"), &re)

	err := classifyStatus(400, "bad request")
	assert.Error(t, err)
	assert.False(t, errors.As(err, &re))
}

func TestDedupIDStable(t *testing.T) {
	ev := sampleEvent(event.TypeConversion, "purchase_complete")
	a := dedupID(&ev)
	b := dedupID(&ev)
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)

	ev2 := ev
	ev2.Timestamp = "2026-08-27T10:00:01Z"
	assert.NotEqual(t, a, dedupID(&ev2))
}

func TestConversionValue(t *testing.T) {
	ev := sampleEvent(event.TypeConversion, "purchase")
	_, _, ok := conversionValue(&ev)
	assert.False(t, ok)

	ev.Properties = map[string]any{"value": float64(99.5)}
	value, currency, ok := conversionValue(&ev)
	require.True(t, ok)
	assert.Equal(t, 99.5, value)
	assert.Equal(t, "USD", currency, "currency defaults to USD")

	ev.Properties["currency"] = "EUR"
	_, currency, _ = conversionValue(&ev)
	assert.Equal(t, "EUR", currency)
}

func TestIsPurchase(t *testing.T) {
	assert.True(t, isPurchase("purchase_complete"))
	assert.True(t, isPurchase("Purchase"))
	assert.False(t, isPurchase("appointment_booked"))
}

func TestGA4_MapEvent(t *testing.T) {
	g := NewGA4()

	pv := sampleEvent(event.TypePageView, "page_view")
	assert.Equal(t, "page_view", g.mapEvent(&pv).Name)

	lead := sampleEvent(event.TypeConversion, "appointment_booked")
	assert.Equal(t, "generate_lead", g.mapEvent(&lead).Name)

	buy := sampleEvent(event.TypeConversion, "purchase_complete")
	buy.Properties = map[string]any{"value": float64(42)}
	mapped := g.mapEvent(&buy)
	assert.Equal(t, "purchase", mapped.Name)
	assert.Equal(t, dedupID(&buy), mapped.Params["transaction_id"])
	assert.Equal(t, float64(42), mapped.Params["value"])
	assert.Equal(t, "USD", mapped.Params["currency"])
}

func TestGA4_SendEvents_RetriesThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var payload ga4Payload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, externalID("0123456789abcdef0123456789abcdef"), payload.ClientID)
		require.Len(t, payload.Events, 1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	g := NewGA4()
	require.NoError(t, g.Configure(map[string]string{"measurement_id": "G-TEST", "api_secret": "s3cret"}))
	g.collectURL = srv.URL

	res := g.SendEvents(context.Background(), []event.TrackingEvent{sampleEvent(event.TypePageView, "page_view")})
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.EventCount)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestGA4_ValidateCredentials_ReportsValidationMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"validationMessages":[{"description":"api_secret invalid"}]}`)
	}))
	defer srv.Close()

	g := NewGA4()
	require.NoError(t, g.Configure(map[string]string{"measurement_id": "G-TEST", "api_secret": "bad"}))
	g.debugURL = srv.URL

	ok, msg := g.ValidateCredentials(context.Background())
	assert.False(t, ok)
	assert.Contains(t, msg, "api_secret invalid")
}

func TestGA4_NotConfigured(t *testing.T) {
	g := NewGA4()
	assert.Error(t, g.Configure(map[string]string{"measurement_id": "G-TEST"}))
	assert.False(t, g.IsConfigured())

	res := g.SendEvents(context.Background(), []event.TrackingEvent{sampleEvent(event.TypePageView, "pv")})
	assert.False(t, res.Success)
}

func TestMeta_MapEvent(t *testing.T) {
	m := NewMeta()

	pv := sampleEvent(event.TypePageView, "page_view")
	assert.Equal(t, "PageView", m.mapEvent(&pv).EventName)

	lead := sampleEvent(event.TypeConversion, "contact_form")
	assert.Equal(t, "Lead", m.mapEvent(&lead).EventName)

	buy := sampleEvent(event.TypeConversion, "purchase_complete")
	buy.Properties = map[string]any{"value": float64(10), "currency": "EUR"}
	mapped := m.mapEvent(&buy)
	assert.Equal(t, "Purchase", mapped.EventName)
	assert.Equal(t, "website", mapped.ActionSource)
	assert.Equal(t, externalID(buy.AnonymizedSessionID), mapped.UserData.ExternalID)
	assert.Equal(t, "EUR", mapped.CustomData["currency"])
}

func TestMeta_RetriesBodyRateLimitCode(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"message":"too many calls","code":17}}`)
			return
		}
		fmt.Fprint(w, `{"events_received":1}`)
	}))
	defer srv.Close()

	m := NewMeta()
	require.NoError(t, m.Configure(map[string]string{"pixel_id": "123", "access_token": "tok"}))
	m.baseURL = srv.URL

	res := m.SendEvents(context.Background(), []event.TrackingEvent{sampleEvent(event.TypeCustomEvent, "cta_click")})
	assert.True(t, res.Success)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestMeta_PermanentErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"Invalid OAuth access token","code":190}}`)
	}))
	defer srv.Close()

	m := NewMeta()
	require.NoError(t, m.Configure(map[string]string{"pixel_id": "123", "access_token": "bad"}))
	m.baseURL = srv.URL

	res := m.SendEvents(context.Background(), []event.TrackingEvent{sampleEvent(event.TypeCustomEvent, "cta_click")})
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "Invalid OAuth access token")
	assert.Equal(t, int32(1), attempts.Load())
}

func TestTikTok_MapEvent(t *testing.T) {
	tk := NewTikTok()

	pv := sampleEvent(event.TypePageView, "page_view")
	assert.Equal(t, "Pageview", tk.mapEvent(&pv).Event)

	form := sampleEvent(event.TypeConversion, "appointment_booked")
	assert.Equal(t, "SubmitForm", tk.mapEvent(&form).Event)

	buy := sampleEvent(event.TypeConversion, "purchase_complete")
	assert.Equal(t, "CompletePayment", tk.mapEvent(&buy).Event)
}

func TestTikTok_RetriesBodyRateLimitCode(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.Header.Get("Access-Token"))
		if attempts.Add(1) == 1 {
			fmt.Fprint(w, `{"code":40100,"message":"rate limit"}`)
			return
		}
		fmt.Fprint(w, `{"code":0,"message":"OK"}`)
	}))
	defer srv.Close()

	tk := NewTikTok()
	require.NoError(t, tk.Configure(map[string]string{"pixel_code": "px", "access_token": "tok"}))
	tk.trackURL = srv.URL

	res := tk.SendEvents(context.Background(), []event.TrackingEvent{sampleEvent(event.TypeCustomEvent, "cta_click")})
	assert.True(t, res.Success)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestTikTok_BodyErrorCodeIsPermanent(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		fmt.Fprint(w, `{"code":40001,"message":"invalid pixel"}`)
	}))
	defer srv.Close()

	tk := NewTikTok()
	require.NoError(t, tk.Configure(map[string]string{"pixel_code": "px", "access_token": "tok"}))
	tk.trackURL = srv.URL

	res := tk.SendEvents(context.Background(), []event.TrackingEvent{sampleEvent(event.TypeCustomEvent, "cta_click")})
	assert.False(t, res.Success)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestLinkedIn_FiltersNonConversions(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	l := NewLinkedIn()
	require.NoError(t, l.Configure(map[string]string{"conversion_urn": "urn:lla:llaPartnerConversion:1", "access_token": "tok"}))
	l.eventsURL = srv.URL

	res := l.SendEvents(context.Background(), []event.TrackingEvent{
		sampleEvent(event.TypePageView, "page_view"),
		sampleEvent(event.TypeCustomEvent, "cta_click"),
	})
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.EventCount)
	assert.Equal(t, int32(0), hits.Load(), "non-conversions never reach the wire")
}

func TestLinkedIn_SendsConversions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "202401", r.Header.Get("LinkedIn-Version"))

		var ev linkedinEvent
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		assert.Equal(t, "urn:lla:llaPartnerConversion:1", ev.Conversion)
		require.Len(t, ev.User.UserIDs, 1)
		assert.Equal(t, "SHA256_EMAIL", ev.User.UserIDs[0].IDType)
		require.NotNil(t, ev.ConversionValue)
		assert.Equal(t, "150.00", ev.ConversionValue.Amount)
		assert.Equal(t, "USD", ev.ConversionValue.CurrencyCode)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	l := NewLinkedIn()
	require.NoError(t, l.Configure(map[string]string{"conversion_urn": "urn:lla:llaPartnerConversion:1", "access_token": "tok"}))
	l.eventsURL = srv.URL

	conv := sampleEvent(event.TypeConversion, "appointment_booked")
	conv.Properties = map[string]any{"value": float64(150)}

	res := l.SendEvents(context.Background(), []event.TrackingEvent{conv})
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.EventCount)
}
