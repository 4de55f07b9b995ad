package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/healthtrack/healthtrack-go/forward"
	"github.com/healthtrack/healthtrack-go/internal/auth"
)

// UsageStore is the query surface for the usage endpoint.
type UsageStore interface {
	CountEvents(ctx context.Context, orgID string, from, to time.Time) (int64, error)
}

// RegisterUsageRoutes registers the dashboard-facing usage endpoint.
//
// GET /api/v1/usage?from=...&to=...
// - Requires X-API-Key (organization context)
// - Returns the accepted-event count for the window [from,to)
func RegisterUsageRoutes(r gin.IRoutes, st UsageStore) {
	r.GET("/usage", func(c *gin.Context) {
		orgID := auth.OrgID(c)
		if orgID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		fromStr := c.Query("from")
		toStr := c.Query("to")
		if fromStr == "" || toStr == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from, to are required"})
			return
		}

		from, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
		to, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}

		from = from.UTC()
		to = to.UTC()

		if !from.Before(to) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be < to"})
			return
		}

		count, err := st.CountEvents(c.Request.Context(), orgID, from, to)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"count": count})
	})
}

// RegisterPlatformRoutes registers the credential-validation endpoint
// the dashboard calls after saving platform credentials.
//
// GET /api/v1/platforms/validate
// - Requires X-API-Key (organization context)
// - Probes every configured forwarder read-only and reports per-platform
//   validity with the destination's own message
func RegisterPlatformRoutes(r gin.IRoutes, forwarders []forward.Forwarder) {
	r.GET("/platforms/validate", func(c *gin.Context) {
		orgID := auth.OrgID(c)
		if orgID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		type platformStatus struct {
			Platform   string `json:"platform"`
			Configured bool   `json:"configured"`
			Valid      bool   `json:"valid"`
			Message    string `json:"message,omitempty"`
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 20*time.Second)
		defer cancel()

		out := make([]platformStatus, 0, len(forwarders))
		for _, f := range forwarders {
			st := platformStatus{Platform: f.Name(), Configured: f.IsConfigured()}
			if st.Configured {
				st.Valid, st.Message = f.ValidateCredentials(ctx)
			}
			out = append(out, st)
		}

		c.JSON(http.StatusOK, gin.H{"platforms": out})
	})
}
