package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/healthtrack/healthtrack-go/event"
	"github.com/healthtrack/healthtrack-go/internal/auth"
	"github.com/healthtrack/healthtrack-go/internal/config"
	"github.com/healthtrack/healthtrack-go/internal/metrics"
	"github.com/healthtrack/healthtrack-go/internal/ratelimit"
	"github.com/healthtrack/healthtrack-go/phi"
)

// EventStore is the persistence surface the ingestion endpoint needs.
type EventStore interface {
	InsertEvents(ctx context.Context, orgID string, events []event.TrackingEvent) ([]string, error)
	InsertAudit(ctx context.Context, orgID string, received, serverRedactions int, consent *event.ConsentState, anonymizedIP string) error
}

// RegisterEventRoutes registers the ingestion-path endpoint.
//
// POST /api/v1/events
//   - Authenticates the batch via its body-carried apiKey (the SDK runs
//     on third-party sites, so the key travels with the payload)
//   - Re-applies PHI scrubbing with the server capability set before
//     anything is persisted
//   - Rate limited per API key; 429 carries Retry-After
//   - Returns 202 once the batch is durable
func RegisterEventRoutes(r gin.IRoutes, cfg config.Config, st EventStore, limiter *ratelimit.Limiter) {
	classifier := phi.New(phi.ServerCapabilities())

	r.POST("/events", func(c *gin.Context) {
		var batch event.Batch
		if err := c.ShouldBindJSON(&batch); err != nil {
			metrics.BatchesRejected.WithLabelValues("malformed_json").Inc()
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"errors":  []event.FieldError{{Field: "body", Msg: "invalid JSON payload"}},
			})
			return
		}

		if errs := batch.Validate(); len(errs) > 0 {
			metrics.BatchesRejected.WithLabelValues("validation").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "errors": errs})
			return
		}

		orgID, ok := auth.LookupOrg(cfg.APIKeys, batch.APIKey)
		if !ok {
			metrics.BatchesRejected.WithLabelValues("auth").Inc()
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid API key"})
			return
		}

		if allowed, _, resetAt := limiter.Allow(c.Request.Context(), batch.APIKey); !allowed {
			metrics.RateLimited.Inc()
			retryAfter := int(time.Until(resetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			c.JSON(http.StatusTooManyRequests, gin.H{"success": false, "error": "rate limit exceeded"})
			return
		}

		// Server-side scrub: the client scrubber is trusted but not
		// relied upon. Session ids are re-hashed under the org salt so
		// nothing correlates across tenants.
		orgSalt := cfg.OrgSalt(orgID)
		serverRedactions := 0
		for i := range batch.Events {
			ev := &batch.Events[i]

			scrubbed, paths := classifier.ScrubProperties(ev.Properties)
			ev.Properties = scrubbed
			if len(paths) > 0 {
				serverRedactions += len(paths)
				ev.PHIScrubbed = mergePaths(ev.PHIScrubbed, paths)
			}

			ev.PageURL = classifier.ScrubURL(ev.PageURL)
			ev.Referrer = classifier.ScrubReferrer(ev.Referrer)
			ev.AnonymizedSessionID = phi.SaltedHash(orgSalt, ev.AnonymizedSessionID)
		}
		if serverRedactions > 0 {
			metrics.ServerRedactions.Add(float64(serverRedactions))
		}

		ids, err := st.InsertEvents(c.Request.Context(), orgID, batch.Events)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "db insert failed"})
			return
		}

		// Audit is best-effort: a failed audit row must not reject an
		// already-durable batch.
		if err := st.InsertAudit(
			c.Request.Context(), orgID, len(batch.Events), serverRedactions,
			batch.Consent, phi.AnonymizeIP(c.ClientIP()),
		); err != nil {
			log.Printf("ingest audit insert failed: %v", err)
		}

		metrics.BatchesAccepted.Inc()
		metrics.EventsAccepted.Add(float64(len(batch.Events)))

		c.JSON(http.StatusAccepted, event.BatchResponse{
			Success:  true,
			EventIDs: ids,
			Received: len(batch.Events),
		})
	})
}

// mergePaths appends server-found redaction paths to the client's list,
// skipping duplicates so re-scrubbing stays idempotent in the record.
func mergePaths(existing, found []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, p := range existing {
		seen[p] = true
	}
	for _, p := range found {
		if !seen[p] {
			existing = append(existing, p)
			seen[p] = true
		}
	}
	return existing
}
