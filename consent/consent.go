// Package consent normalizes consent state from third-party
// consent-management platforms (CMPs) into a two-boolean pair the event
// pipeline can gate on.
//
// Three mutually exclusive authorities, in precedence order:
//
//	manual override > detected CMP > default-permissive
//
// A manual override, once set, is permanent for the resolver's lifetime;
// later CMP changes cannot alter the reported state.
package consent

import "sync"

// State is the normalized consent pair.
type State struct {
	Analytics bool `json:"analytics"`
	Marketing bool `json:"marketing"`
}

// Any reports whether at least one consent category is granted. The
// pipeline uses this to decide whether queued events may be released.
func (s State) Any() bool { return s.Analytics || s.Marketing }

// Update is a partial consent change; nil fields keep their current value.
type Update struct {
	Analytics *bool
	Marketing *bool
}

// Bool is a convenience for building Updates.
func Bool(v bool) *bool { return &v }

// Adapter translates one CMP's native signals into a State.
// Built-ins cover Google Consent Mode v2, OneTrust and Cookiebot; host
// applications may register their own.
type Adapter interface {
	// Name identifies the adapter in logs.
	Name() string
	// Present reports whether the underlying CMP is active. The first
	// present adapter in probe order becomes the sole authority.
	Present() bool
	// Consent reads the CMP's current signals.
	Consent() State
	// OnChange subscribes fn to the CMP's native update mechanism.
	OnChange(fn func(State))
}

// Resolver owns adapter probing, the manual override, and change
// notification. Safe for concurrent use.
type Resolver struct {
	mu        sync.Mutex
	adapters  []Adapter // probe order: registered first, then built-ins
	active    Adapter
	resolved  bool
	manual    bool
	override  State
	listeners []func(State)
}

// NewResolver builds a resolver over the given built-in adapters in
// probe order. Adapters registered later via Register probe before them.
func NewResolver(builtins ...Adapter) *Resolver {
	return &Resolver{adapters: builtins}
}

// Register inserts a host-application adapter at higher priority than
// the built-ins. Registration after an adapter has already been detected
// does not displace the active authority.
func (r *Resolver) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters = append([]Adapter{a}, r.adapters...)
	if r.resolved && r.active == nil {
		// Nothing was detected on the first pass; give the new adapter
		// a chance on the next resolve.
		r.resolved = false
	}
}

// Resolve probes the adapter list once. The first adapter whose presence
// check succeeds becomes active and its native change notifications are
// re-emitted to resolver listeners. Subsequent calls are no-ops.
func (r *Resolver) Resolve() {
	r.mu.Lock()
	if r.resolved {
		r.mu.Unlock()
		return
	}
	r.resolved = true

	var active Adapter
	for _, a := range r.adapters {
		if a.Present() {
			active = a
			break
		}
	}
	r.active = active
	r.mu.Unlock()

	if active != nil {
		active.OnChange(func(st State) {
			r.emitFromAdapter(st)
		})
	}
}

// emitFromAdapter forwards a CMP-driven change unless a manual override
// has claimed authority.
func (r *Resolver) emitFromAdapter(st State) {
	r.mu.Lock()
	if r.manual {
		r.mu.Unlock()
		return
	}
	listeners := append([]func(State){}, r.listeners...)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(st)
	}
}

// Set applies a manual override. Unset fields keep the currently
// reported value. The override persists for the resolver's lifetime and
// is broadcast through the same change channel as CMP updates.
func (r *Resolver) Set(u Update) {
	cur := r.Current()

	r.mu.Lock()
	if u.Analytics != nil {
		cur.Analytics = *u.Analytics
	}
	if u.Marketing != nil {
		cur.Marketing = *u.Marketing
	}
	r.manual = true
	r.override = cur
	listeners := append([]func(State){}, r.listeners...)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(cur)
	}
}

// Current returns the consent state from the highest-precedence
// authority. Absent both an override and a detected CMP, the default is
// permissive.
func (r *Resolver) Current() State {
	r.Resolve()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.manual {
		return r.override
	}
	if r.active != nil {
		return r.active.Consent()
	}
	return State{Analytics: true, Marketing: true}
}

// Subscribe registers fn for consent-change notifications from whichever
// authority is active.
func (r *Resolver) Subscribe(fn func(State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// ActiveAdapter returns the name of the detected CMP adapter, or "" when
// none was found.
func (r *Resolver) ActiveAdapter() string {
	r.Resolve()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return ""
	}
	return r.active.Name()
}
