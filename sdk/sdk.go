// Package sdk is the client half of the gateway: it turns tracking calls
// into PHI-scrubbed event records, gates them on consent, batches them,
// and delivers them to the ingestion endpoint with at-least-once
// semantics.
//
// A Client is an explicit instance with its own queues, timer and
// lifecycle. Embedding environments that want a page-global handle
// attach one themselves; nothing here is process-global.
package sdk

import (
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/healthtrack/healthtrack-go/consent"
	"github.com/healthtrack/healthtrack-go/event"
	"github.com/healthtrack/healthtrack-go/phi"
)

// Storage keys for session identity.
const (
	storageKeySession  = "ht_session_id"
	storageKeyIdentify = "ht_identify_id"
)

// Config configures a Client. Zero values take the documented defaults.
type Config struct {
	// APIKey authenticates batches at the ingestion endpoint. Required.
	APIKey string
	// ServerURL is the ingestion endpoint. Default "/api/v1/events"
	// (same-origin deployments); embedding servers pass an absolute URL.
	ServerURL string
	// Debug enables diagnostic logging.
	Debug bool
	// BatchSize triggers a flush when the ready queue reaches it. Default 10.
	BatchSize int
	// BatchInterval is the periodic flush timer. Default 5s.
	BatchInterval time.Duration
	// MaxQueued caps total queued events; the oldest event is dropped on
	// overflow. Default 1000.
	MaxQueued int
	// HTTPClient overrides the delivery client. Default: 10s timeout.
	HTTPClient *http.Client
	// Storage persists session identity. Default in-memory.
	Storage Storage
	// Consent supplies the consent resolver. Default: a resolver with no
	// CMP adapters, i.e. permissive until SetConsent is called.
	Consent *consent.Resolver
}

// Defaults applied by New.
const (
	DefaultServerURL     = "/api/v1/events"
	DefaultBatchSize     = 10
	DefaultBatchInterval = 5 * time.Second
	DefaultMaxQueued     = 1000
	defaultHTTPTimeout   = 10 * time.Second
	beaconTimeout        = 2 * time.Second
)

// Client is the SDK core. All methods are safe for concurrent use.
type Client struct {
	cfg        Config
	classifier *phi.Classifier
	resolver   *consent.Resolver
	httpc      *http.Client
	storage    Storage

	mu        sync.Mutex
	sessionID string
	pageURL   string
	referrer  string
	sensitive []SensitivePagePattern
	pending   []event.TrackingEvent // created while consent fully denied
	ready     []event.TrackingEvent // eligible for delivery
	closed    bool

	stop chan struct{}
}

// New builds and starts a Client: resolves session identity, subscribes
// to consent changes, and starts the periodic batch timer. The returned
// client is live until Close.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("sdk: APIKey required")
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = DefaultServerURL
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = DefaultBatchInterval
	}
	if cfg.MaxQueued <= 0 {
		cfg.MaxQueued = DefaultMaxQueued
	}
	if cfg.Storage == nil {
		cfg.Storage = NewMemoryStorage()
	}
	if cfg.Consent == nil {
		cfg.Consent = consent.NewResolver()
	}
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: defaultHTTPTimeout}
	}

	c := &Client{
		cfg:        cfg,
		classifier: phi.New(phi.ClientCapabilities()),
		resolver:   cfg.Consent,
		httpc:      httpc,
		storage:    cfg.Storage,
		stop:       make(chan struct{}),
	}
	if cfg.Debug {
		c.classifier.Debugf = c.logf
	}

	c.sessionID = c.resolveSessionID()

	// CMP-driven consent grants release the pending queue; the manual
	// path in SetConsent additionally forces a flush.
	c.resolver.Subscribe(func(st consent.State) {
		if st.Any() {
			c.drainPending()
		}
	})

	go c.timerLoop()

	return c, nil
}

// resolveSessionID applies the identity priority: previously stored
// identify hash, else previously stored session token, else a fresh one.
func (c *Client) resolveSessionID() string {
	if id := c.storage.Get(storageKeyIdentify); id != "" {
		return id
	}
	if id := c.storage.Get(storageKeySession); id != "" {
		return id
	}
	id := phi.NewSessionToken()
	c.storage.Set(storageKeySession, id)
	return id
}

// SetPage supplies the current navigation context (the embedding
// environment's stand-in for window.location). An automatic page view is
// fired for the new page.
func (c *Client) SetPage(pageURL, referrer string) {
	c.mu.Lock()
	c.pageURL = pageURL
	c.referrer = referrer
	c.mu.Unlock()

	c.TrackPageView(nil)
}

// TrackPageView records a page-view event. On a block-sensitive page the
// event is not created at all.
func (c *Client) TrackPageView(properties map[string]any) {
	c.mu.Lock()
	page := c.pageURL
	c.mu.Unlock()

	if action, ok := c.sensitiveAction(page); ok && action == ActionBlock {
		c.logf("sdk: page view suppressed on blocked page")
		return
	}
	c.enqueue(c.createEvent(event.TypePageView, string(event.TypePageView), properties))
}

// TrackEvent records a custom event.
func (c *Client) TrackEvent(name string, properties map[string]any) {
	if name == "" {
		c.logf("sdk: trackEvent ignored: empty name")
		return
	}
	c.enqueue(c.createEvent(event.TypeCustomEvent, name, properties))
}

// TrackConversion records a conversion event. A non-zero value is
// carried in the properties; currency defaults to USD downstream when a
// value is present without one.
func (c *Client) TrackConversion(name string, value float64, properties map[string]any) {
	if name == "" {
		c.logf("sdk: trackConversion ignored: empty name")
		return
	}
	if value != 0 {
		props := make(map[string]any, len(properties)+1)
		for k, v := range properties {
			props[k] = v
		}
		props["value"] = value
		properties = props
	}
	c.enqueue(c.createEvent(event.TypeConversion, name, properties))
}

// Identify replaces the session identity with a one-way hash of the
// caller-supplied identifier. The raw identifier is never stored or
// transmitted.
func (c *Client) Identify(userID string) {
	if userID == "" {
		return
	}
	hashed := phi.SessionHash(userID)
	c.storage.Set(storageKeyIdentify, hashed)

	c.mu.Lock()
	c.sessionID = hashed
	c.mu.Unlock()
}

// SetConsent applies a manual consent override. If the resulting state
// grants any category, queued events are released and flushed
// immediately.
func (c *Client) SetConsent(u consent.Update) {
	c.resolver.Set(u)
	if c.resolver.Current().Any() {
		c.drainPending()
		if err := c.Flush(); err != nil {
			c.logf("sdk: flush after consent grant failed: %v", err)
		}
	}
}

// GetConsent returns the current consent state.
func (c *Client) GetConsent() consent.State {
	return c.resolver.Current()
}

// RegisterCMPAdapter registers a host consent adapter at higher priority
// than the built-ins.
func (c *Client) RegisterCMPAdapter(a consent.Adapter) {
	c.resolver.Register(a)
}

// SessionID returns the current anonymized session identifier.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// createEvent builds an immutable scrubbed event record.
func (c *Client) createEvent(t event.Type, name string, properties map[string]any) event.TrackingEvent {
	scrubbed, paths := c.classifier.ScrubProperties(properties)

	c.mu.Lock()
	page := c.pageURL
	ref := c.referrer
	session := c.sessionID
	c.mu.Unlock()

	pageURL := c.classifier.ScrubURL(page)
	referrer := c.classifier.ScrubReferrer(ref)
	if action, ok := c.sensitiveAction(page); ok && action != "" {
		// Any sensitive match aggravates scrubbing: attribution click
		// ids must not tie this visit to an ad platform.
		pageURL = c.classifier.StripClickIDs(pageURL)
		referrer = c.classifier.StripClickIDs(referrer)
	}

	ev := event.TrackingEvent{
		EventType:           t,
		EventName:           name,
		Properties:          scrubbed,
		Timestamp:           time.Now().UTC().Format(time.RFC3339),
		AnonymizedSessionID: session,
		PageURL:             pageURL,
		Referrer:            referrer,
		SDKVersion:          event.SDKVersion,
	}
	if len(paths) > 0 {
		ev.PHIScrubbed = paths
	}
	return ev
}

func (c *Client) logf(format string, args ...any) {
	if c.cfg.Debug {
		log.Printf(format, args...)
	}
}
