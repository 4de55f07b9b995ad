package main

import (
	"context"
	"log"

	redis "github.com/redis/go-redis/v9"

	"github.com/healthtrack/healthtrack-go/forward"
	"github.com/healthtrack/healthtrack-go/internal/config"
	"github.com/healthtrack/healthtrack-go/internal/httpserver"
	"github.com/healthtrack/healthtrack-go/internal/ratelimit"
	"github.com/healthtrack/healthtrack-go/internal/relay"
	"github.com/healthtrack/healthtrack-go/internal/store"
)

// main boots the gateway: config → DB → schema → forwarders → relay → HTTP server.
func main() {
	// Load runtime config from environment (DB_URL, API_KEYS, PHI_SALT,
	// platform credentials).
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	// Connect to durable storage (Postgres) using a connection pool.
	db, err := store.NewPostgresStore(cfg.DBURL)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	// Ensure required tables/indexes exist so `docker compose up --build` is enough.
	if err := db.EnsureSchema(); err != nil {
		log.Fatal(err)
	}

	// Optional Redis for cross-instance rate limiting; absent, the
	// limiter runs per-instance.
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	limiter := ratelimit.New(rdb, cfg.RateLimit, cfg.RateWindow)

	// Configure platform forwarders from per-organization credentials.
	forwarders := buildForwarders(cfg)

	// Background relay drains persisted events to the platforms.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.New(db, forwarders).Run(ctx)

	// Build HTTP router (public health + ingestion + authenticated APIs).
	router := httpserver.NewRouter(cfg, db, limiter, forwarders)

	log.Println("server started on :8080")
	log.Fatal(router.Run(":8080"))
}

// buildForwarders configures each platform adapter that has credentials.
func buildForwarders(cfg config.Config) []forward.Forwarder {
	all := []forward.Forwarder{
		forward.NewGA4(),
		forward.NewMeta(),
		forward.NewTikTok(),
		forward.NewLinkedIn(),
	}
	for _, f := range all {
		creds, ok := cfg.Platforms[f.Name()]
		if !ok {
			continue
		}
		if err := f.Configure(creds); err != nil {
			log.Printf("forwarder %s left unconfigured: %v", f.Name(), err)
		}
	}
	return all
}
