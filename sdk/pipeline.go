package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/healthtrack/healthtrack-go/consent"
	"github.com/healthtrack/healthtrack-go/event"
)

// enqueue routes a new event to the pending or ready queue depending on
// consent, enforces the queue ceiling, and triggers a size-based flush.
// An event lives in exactly one queue at a time.
func (c *Client) enqueue(ev event.TrackingEvent) {
	granted := c.resolver.Current().Any()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logf("sdk: event dropped after Close")
		return
	}
	if granted {
		c.ready = append(c.ready, ev)
	} else {
		c.pending = append(c.pending, ev)
	}

	// Ceiling with drop-oldest: failing delivery plus denied consent
	// must not grow memory without bound.
	if over := len(c.ready) + len(c.pending) - c.cfg.MaxQueued; over > 0 {
		if len(c.pending) >= over {
			c.pending = c.pending[over:]
		} else {
			c.ready = c.ready[over-len(c.pending):]
			c.pending = nil
		}
		c.logf("sdk: queue ceiling reached, dropped %d oldest event(s)", over)
	}

	sizeTriggered := granted && len(c.ready) >= c.cfg.BatchSize
	c.mu.Unlock()

	if sizeTriggered {
		go func() {
			if err := c.Flush(); err != nil {
				c.logf("sdk: size-triggered flush failed: %v", err)
			}
		}()
	}
}

// drainPending moves everything from the pending queue into the ready
// queue, preserving relative order.
func (c *Client) drainPending() {
	c.mu.Lock()
	if len(c.pending) > 0 {
		c.ready = append(c.ready, c.pending...)
		c.pending = nil
	}
	c.mu.Unlock()
}

// Flush snapshots the ready queue, clears it, and attempts delivery of
// the snapshot. On failure the undelivered remainder is prepended back
// onto whatever has queued up since, so failed events keep priority and
// their original order on the next attempt; acknowledged sub-batches
// are never re-sent. Concurrent flushes are allowed; each works on its
// own snapshot, so events can split across batches but are never lost
// or duplicated.
func (c *Client) Flush() error {
	c.mu.Lock()
	if len(c.ready) == 0 {
		c.mu.Unlock()
		return nil
	}
	snapshot := c.ready
	c.ready = nil
	c.mu.Unlock()

	remainder, err := c.deliver(context.Background(), snapshot)
	if err != nil {
		c.requeue(remainder)
		return err
	}
	return nil
}

// requeue prepends failed events ahead of anything queued meanwhile.
func (c *Client) requeue(events []event.TrackingEvent) {
	c.mu.Lock()
	c.ready = append(append([]event.TrackingEvent{}, events...), c.ready...)
	c.mu.Unlock()
}

// deliver posts events to the ingestion endpoint, splitting into batches
// the server will accept. A failed batch aborts delivery; the returned
// slice is the undelivered remainder, starting at the failed batch, so
// the caller never re-sends what the server already acknowledged.
func (c *Client) deliver(ctx context.Context, events []event.TrackingEvent) ([]event.TrackingEvent, error) {
	for len(events) > 0 {
		n := len(events)
		if n > event.MaxBatchEvents {
			n = event.MaxBatchEvents
		}
		if err := c.post(ctx, c.httpc, events[:n]); err != nil {
			return events, err
		}
		events = events[n:]
	}
	return nil, nil
}

// post sends one batch. Non-2xx responses count as delivery failure.
func (c *Client) post(ctx context.Context, httpc *http.Client, events []event.TrackingEvent) error {
	st := c.resolver.Current()
	batch := event.Batch{
		APIKey: c.cfg.APIKey,
		Events: events,
		Consent: &event.ConsentState{
			Analytics: st.Analytics,
			Marketing: st.Marketing,
		},
	}

	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("sdk: encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ServerURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sdk: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpc.Do(req)
	if err != nil {
		return fmt.Errorf("sdk: deliver batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sdk: server rejected batch: status %d", resp.StatusCode)
	}
	return nil
}

// timerLoop drives the periodic flush until Close.
func (c *Client) timerLoop() {
	ticker := time.NewTicker(c.cfg.BatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.Flush(); err != nil {
				c.logf("sdk: timed flush failed: %v", err)
			}
		case <-c.stop:
			return
		}
	}
}

// Close stops the timer and makes a best-effort, fire-and-forget final
// delivery of anything still queued, the Go counterpart of the
// page-unload beacon. Failures are logged only; there is nothing left to
// re-queue into. Close is idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	remaining := c.ready
	c.ready = nil
	c.mu.Unlock()

	close(c.stop)

	if len(remaining) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), beaconTimeout)
	defer cancel()
	beacon := &http.Client{Timeout: beaconTimeout}
	for len(remaining) > 0 {
		n := len(remaining)
		if n > event.MaxBatchEvents {
			n = event.MaxBatchEvents
		}
		if err := c.post(ctx, beacon, remaining[:n]); err != nil {
			c.logf("sdk: final beacon send failed: %v", err)
			return
		}
		remaining = remaining[n:]
	}
}

// Consent returns the client's resolver for direct adapter wiring.
func (c *Client) Consent() *consent.Resolver { return c.resolver }
