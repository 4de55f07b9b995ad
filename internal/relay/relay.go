// Package relay drains persisted events to the configured platform
// forwarders in the background.
package relay

import (
	"context"
	"log"
	"time"

	"github.com/healthtrack/healthtrack-go/event"
	"github.com/healthtrack/healthtrack-go/forward"
	"github.com/healthtrack/healthtrack-go/internal/metrics"
	"github.com/healthtrack/healthtrack-go/internal/store"
)

// Defaults for the polling loop.
const (
	DefaultInterval  = 10 * time.Second
	DefaultBatchSize = 100
)

// EventSource is the store surface the relay needs.
type EventSource interface {
	ListUnforwarded(ctx context.Context, limit int) ([]store.StoredEvent, error)
	MarkForwarded(ctx context.Context, eventIDs []string) error
}

// Relay polls for unforwarded events and fans them out to every
// configured forwarder. Events are marked delivered only when all
// configured platforms accepted them, so a failing platform retries the
// whole slice on the next tick: at-least-once toward each destination,
// with the per-event dedup ids absorbing the duplicates.
type Relay struct {
	source     EventSource
	forwarders []forward.Forwarder
	interval   time.Duration
	batchSize  int
}

// New builds a relay over the configured forwarders. Unconfigured
// forwarders are skipped up front.
func New(source EventSource, forwarders []forward.Forwarder) *Relay {
	var configured []forward.Forwarder
	for _, f := range forwarders {
		if f.IsConfigured() {
			configured = append(configured, f)
		}
	}
	return &Relay{
		source:     source,
		forwarders: configured,
		interval:   DefaultInterval,
		batchSize:  DefaultBatchSize,
	}
}

// Run polls until ctx is cancelled. Safe to run in a goroutine from main.
func (r *Relay) Run(ctx context.Context) {
	if len(r.forwarders) == 0 {
		log.Println("relay: no forwarders configured, not starting")
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.tick(ctx); err != nil {
				log.Printf("relay: tick failed: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// tick forwards one slice of unforwarded events.
func (r *Relay) tick(ctx context.Context) error {
	stored, err := r.source.ListUnforwarded(ctx, r.batchSize)
	if err != nil {
		return err
	}
	if len(stored) == 0 {
		return nil
	}

	events := make([]event.TrackingEvent, 0, len(stored))
	ids := make([]string, 0, len(stored))
	for _, se := range stored {
		events = append(events, se.Event)
		ids = append(ids, se.ID)
	}

	allOK := true
	for _, f := range r.forwarders {
		res := f.SendEvents(ctx, events)
		outcome := "success"
		if !res.Success {
			outcome = "failure"
			allOK = false
			for _, msg := range res.Errors {
				log.Printf("relay: %s delivery error: %s", f.Name(), msg)
			}
		}
		metrics.ForwardAttempts.WithLabelValues(f.Name(), outcome).Inc()
		if res.EventCount > 0 {
			metrics.ForwardedEvents.WithLabelValues(f.Name()).Add(float64(res.EventCount))
		}
	}

	if !allOK {
		return nil
	}
	return r.source.MarkForwarded(ctx, ids)
}
