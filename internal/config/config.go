package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains runtime configuration required by the gateway.
type Config struct {
	DBURL   string
	APIKeys map[string]string // apiKey -> organization ID

	// PHISalt is the per-deployment root for the per-organization
	// session-id salt. Must be stable across restarts so hashed session
	// ids stay deterministic for deduplication.
	PHISalt string

	// RedisAddr enables the distributed rate limiter when set; empty
	// means the in-process fallback runs alone.
	RedisAddr string

	RateLimit  int // batches per window per API key
	RateWindow time.Duration

	// Platforms maps forwarder name -> credential bag, read-only after
	// load. A platform with no credentials stays unconfigured.
	Platforms map[string]map[string]string
}

// Load reads required values from environment variables.
// API_KEYS format: "org1:key1,org2:key2"
func Load() (Config, error) {
	dbURL := strings.TrimSpace(os.Getenv("DB_URL"))
	if dbURL == "" {
		return Config{}, errors.New("DB_URL required")
	}

	apiKeysRaw := strings.TrimSpace(os.Getenv("API_KEYS"))
	apiKeys := map[string]string{}

	if apiKeysRaw != "" {
		pairs := strings.Split(apiKeysRaw, ",")
		for _, p := range pairs {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			parts := strings.SplitN(p, ":", 2)
			if len(parts) != 2 {
				return Config{}, errors.New(`API_KEYS must be "org:key,org:key"`)
			}
			org := strings.TrimSpace(parts[0])
			key := strings.TrimSpace(parts[1])
			if org == "" || key == "" {
				return Config{}, errors.New(`API_KEYS must be "org:key,org:key"`)
			}
			apiKeys[key] = org
		}
	}

	// Local dev fallback so the service runs out-of-the-box.
	if len(apiKeys) == 0 {
		apiKeys["org-key-123"] = "org1"
	}

	salt := strings.TrimSpace(os.Getenv("PHI_SALT"))
	if salt == "" {
		salt = "dev-salt-not-for-production"
	}

	return Config{
		DBURL:      dbURL,
		APIKeys:    apiKeys,
		PHISalt:    salt,
		RedisAddr:  strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RateLimit:  envInt("RATE_LIMIT", 60),
		RateWindow: time.Duration(envInt("RATE_WINDOW_SECONDS", 60)) * time.Second,
		Platforms:  loadPlatforms(),
	}, nil
}

// OrgSalt derives the per-organization salt from the deployment root.
// Different organizations get unrelated salts, so hashed session ids
// never correlate across tenants.
func (c Config) OrgSalt(orgID string) string {
	return c.PHISalt + ":" + orgID
}

// loadPlatforms collects forwarder credentials from the environment.
// Only platforms with at least one value set appear in the map.
func loadPlatforms() map[string]map[string]string {
	platforms := map[string]map[string]string{}

	add := func(name string, creds map[string]string) {
		for _, v := range creds {
			if v != "" {
				platforms[name] = creds
				return
			}
		}
	}

	add("ga4", map[string]string{
		"measurement_id": os.Getenv("GA4_MEASUREMENT_ID"),
		"api_secret":     os.Getenv("GA4_API_SECRET"),
	})
	add("meta", map[string]string{
		"pixel_id":        os.Getenv("META_PIXEL_ID"),
		"access_token":    os.Getenv("META_ACCESS_TOKEN"),
		"test_event_code": os.Getenv("META_TEST_EVENT_CODE"),
	})
	add("tiktok", map[string]string{
		"pixel_code":   os.Getenv("TIKTOK_PIXEL_CODE"),
		"access_token": os.Getenv("TIKTOK_ACCESS_TOKEN"),
	})
	add("linkedin", map[string]string{
		"conversion_urn": os.Getenv("LINKEDIN_CONVERSION_URN"),
		"access_token":   os.Getenv("LINKEDIN_ACCESS_TOKEN"),
	})

	return platforms
}

func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
