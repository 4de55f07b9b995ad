package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthtrack/healthtrack-go/event"
	"github.com/healthtrack/healthtrack-go/forward"
	"github.com/healthtrack/healthtrack-go/internal/auth"
)

// fakeUsage returns a fixed count and records the queried window.
type fakeUsage struct {
	count int64
	orgID string
	from  time.Time
	to    time.Time
}

func (f *fakeUsage) CountEvents(ctx context.Context, orgID string, from, to time.Time) (int64, error) {
	f.orgID = orgID
	f.from = from
	f.to = to
	return f.count, nil
}

func newDashboardRouter(st UsageStore, forwarders []forward.Forwarder) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/api/v1")
	g.Use(auth.APIKeyMiddleware(map[string]string{"org-key-123": "org1"}))
	RegisterUsageRoutes(g, st)
	RegisterPlatformRoutes(g, forwarders)
	return r
}

func dashboardGet(r *gin.Engine, path, apiKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestUsage_ReturnsCount(t *testing.T) {
	st := &fakeUsage{count: 42}
	r := newDashboardRouter(st, nil)

	w := dashboardGet(r, "/api/v1/usage?from=2026-08-01T00:00:00Z&to=2026-08-27T00:00:00Z", "org-key-123")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count int64 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(42), resp.Count)
	assert.Equal(t, "org1", st.orgID)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), st.from)
}

func TestUsage_RequiresWindow(t *testing.T) {
	r := newDashboardRouter(&fakeUsage{}, nil)

	w := dashboardGet(r, "/api/v1/usage", "org-key-123")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = dashboardGet(r, "/api/v1/usage?from=yesterday&to=2026-08-27T00:00:00Z", "org-key-123")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// from must precede to.
	w = dashboardGet(r, "/api/v1/usage?from=2026-08-27T00:00:00Z&to=2026-08-01T00:00:00Z", "org-key-123")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUsage_RequiresAPIKey(t *testing.T) {
	r := newDashboardRouter(&fakeUsage{}, nil)
	w := dashboardGet(r, "/api/v1/usage?from=2026-08-01T00:00:00Z&to=2026-08-27T00:00:00Z", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// validationForwarder is a canned-response forward.Forwarder double.
type validationForwarder struct {
	name       string
	configured bool
	valid      bool
	message    string
}

func (v *validationForwarder) Name() string { return v.name }

func (v *validationForwarder) Configure(map[string]string) error { return nil }

func (v *validationForwarder) IsConfigured() bool { return v.configured }

func (v *validationForwarder) SendEvents(context.Context, []event.TrackingEvent) forward.Result {
	return forward.Result{Success: true}
}

func (v *validationForwarder) ValidateCredentials(context.Context) (bool, string) {
	return v.valid, v.message
}

func TestPlatformValidate(t *testing.T) {
	forwarders := []forward.Forwarder{
		&validationForwarder{name: "ga4", configured: true, valid: true, message: "ga4: credentials accepted"},
		&validationForwarder{name: "meta", configured: false},
	}
	r := newDashboardRouter(&fakeUsage{}, forwarders)

	w := dashboardGet(r, "/api/v1/platforms/validate", "org-key-123")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Platforms []struct {
			Platform   string `json:"platform"`
			Configured bool   `json:"configured"`
			Valid      bool   `json:"valid"`
			Message    string `json:"message"`
		} `json:"platforms"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Platforms, 2)

	assert.Equal(t, "ga4", resp.Platforms[0].Platform)
	assert.True(t, resp.Platforms[0].Configured)
	assert.True(t, resp.Platforms[0].Valid)

	assert.Equal(t, "meta", resp.Platforms[1].Platform)
	assert.False(t, resp.Platforms[1].Configured)
	assert.False(t, resp.Platforms[1].Valid, "unconfigured platforms are never probed")
}
