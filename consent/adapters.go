package consent

import (
	"strings"
	"sync"
)

// The built-in adapters read CMP signals through getter functions
// supplied by the embedding environment (the Go counterpart of browser
// globals). A nil getter, or a getter reporting no data, means the CMP
// is absent. Each adapter exposes an Update hook the host calls when the
// underlying platform's consent changes; the adapter re-reads its
// signals and notifies subscribers.

// notifier is the shared change-notification plumbing.
type notifier struct {
	mu  sync.Mutex
	fns []func(State)
}

func (n *notifier) OnChange(fn func(State)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fns = append(n.fns, fn)
}

func (n *notifier) notify(st State) {
	n.mu.Lock()
	fns := append([]func(State){}, n.fns...)
	n.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

// GoogleConsentMode reads Google Consent Mode v2 commands from an
// event-layer slice. Each command maps signal names ("analytics_storage",
// "ad_storage", "ad_user_data") to "granted" or "denied". Later commands
// override earlier ones for the same key: last write wins by scan
// order, not by timestamp.
type GoogleConsentMode struct {
	notifier
	layer func() []map[string]string
}

// NewGoogleConsentMode wraps an event-layer accessor. layer returns the
// consent commands oldest-first; nil means the platform is absent.
func NewGoogleConsentMode(layer func() []map[string]string) *GoogleConsentMode {
	return &GoogleConsentMode{layer: layer}
}

func (g *GoogleConsentMode) Name() string { return "google-consent-mode" }

func (g *GoogleConsentMode) Present() bool {
	return g.layer != nil && g.layer() != nil
}

func (g *GoogleConsentMode) Consent() State {
	signals := map[string]string{}
	if g.layer != nil {
		for _, cmd := range g.layer() {
			for k, v := range cmd {
				signals[k] = v
			}
		}
	}
	return State{
		Analytics: signals["analytics_storage"] == "granted",
		Marketing: signals["ad_storage"] == "granted" || signals["ad_user_data"] == "granted",
	}
}

// Update is the push-interception point: the host calls it after a new
// consent command lands on the event layer.
func (g *GoogleConsentMode) Update() { g.notify(g.Consent()) }

// OneTrust category codes for the two consent dimensions.
const (
	oneTrustAnalyticsGroup = "C0002" // Performance/Analytics Cookies
	oneTrustMarketingGroup = "C0004" // Targeting Cookies
)

// OneTrust reads consent from the live active-groups variable when
// available, falling back to the parsed OptanonConsent cookie.
type OneTrust struct {
	notifier
	activeGroups func() string // e.g. ",C0001,C0002,"; "" means unavailable
	cookie       func() string // raw OptanonConsent cookie value
}

// NewOneTrust wraps the two OneTrust signal sources; either may be nil.
func NewOneTrust(activeGroups, cookie func() string) *OneTrust {
	return &OneTrust{activeGroups: activeGroups, cookie: cookie}
}

func (o *OneTrust) Name() string { return "onetrust" }

func (o *OneTrust) Present() bool {
	if o.activeGroups != nil && o.activeGroups() != "" {
		return true
	}
	return o.cookie != nil && o.cookie() != ""
}

func (o *OneTrust) Consent() State {
	if o.activeGroups != nil {
		if groups := o.activeGroups(); groups != "" {
			return State{
				Analytics: strings.Contains(groups, oneTrustAnalyticsGroup),
				Marketing: strings.Contains(groups, oneTrustMarketingGroup),
			}
		}
	}
	if o.cookie != nil {
		return parseOptanonGroups(o.cookie())
	}
	return State{}
}

// Update is the OnConsentChanged hook equivalent.
func (o *OneTrust) Update() { o.notify(o.Consent()) }

// parseOptanonGroups extracts the groups segment of an OptanonConsent
// cookie ("...&groups=C0001:1,C0002:1,C0004:0&...") and reads the :1/:0
// grant flags per category code.
func parseOptanonGroups(cookie string) State {
	var st State
	for _, part := range strings.Split(cookie, "&") {
		if !strings.HasPrefix(part, "groups=") {
			continue
		}
		for _, entry := range strings.Split(strings.TrimPrefix(part, "groups="), ",") {
			code, flag, ok := strings.Cut(entry, ":")
			if !ok {
				continue
			}
			granted := flag == "1"
			switch code {
			case oneTrustAnalyticsGroup:
				st.Analytics = granted
			case oneTrustMarketingGroup:
				st.Marketing = granted
			}
		}
	}
	return st
}

// CookiebotFlags is the boolean bag Cookiebot exposes on its global
// object. Ok reports whether the object carried consent data at all;
// absent data means denied.
type CookiebotFlags struct {
	Statistics bool
	Marketing  bool
	Ok         bool
}

// Cookiebot reads consent booleans directly off the Cookiebot global.
type Cookiebot struct {
	notifier
	flags func() CookiebotFlags
}

// NewCookiebot wraps a Cookiebot flag accessor; nil means absent.
func NewCookiebot(flags func() CookiebotFlags) *Cookiebot {
	return &Cookiebot{flags: flags}
}

func (c *Cookiebot) Name() string { return "cookiebot" }

func (c *Cookiebot) Present() bool {
	return c.flags != nil && c.flags().Ok
}

func (c *Cookiebot) Consent() State {
	if c.flags == nil {
		return State{}
	}
	f := c.flags()
	if !f.Ok {
		return State{}
	}
	return State{Analytics: f.Statistics, Marketing: f.Marketing}
}

// Update stands in for the CookiebotOnAccept/CookiebotOnDecline DOM
// event pair: the host calls it on either.
func (c *Cookiebot) Update() { c.notify(c.Consent()) }
