package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// orgCtxKey is the Gin context key used to store the authenticated
// organization ID.
const orgCtxKey = "org_id"

// LookupOrg resolves an API key to its organization ID. Comparison is
// constant-time per candidate key so timing does not leak key prefixes.
// In production this mapping would typically come from the dashboard's
// credential store.
func LookupOrg(keys map[string]string, apiKey string) (string, bool) {
	if apiKey == "" {
		return "", false
	}
	for key, org := range keys {
		if len(key) == len(apiKey) && subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
			return org, true
		}
	}
	return "", false
}

// APIKeyMiddleware guards the dashboard-facing endpoints via X-API-Key.
// The ingestion endpoint authenticates the batch body instead (the
// browser SDK carries its key in the payload).
func APIKeyMiddleware(keys map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := strings.TrimSpace(c.GetHeader("X-API-Key"))
		orgID, ok := LookupOrg(keys, apiKey)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(orgCtxKey, orgID)
		c.Next()
	}
}

// OrgID returns the authenticated organization ID from the request context.
func OrgID(c *gin.Context) string {
	v, _ := c.Get(orgCtxKey)
	s, _ := v.(string)
	return s
}
