package sdk

import (
	"fmt"
	"regexp"
)

// Action is what happens when a page URL matches a sensitive pattern.
type Action string

const (
	// ActionBlock prevents page-view event creation entirely.
	ActionBlock Action = "block"
	// ActionStrip triggers aggressive URL/ad-click-id stripping while
	// still recording the event.
	ActionStrip Action = "strip"
)

// SensitivePagePattern flags URLs whose page context must not leak.
// Patterns form an ordered list; the first one whose regex matches the
// current URL wins and no further patterns are evaluated.
type SensitivePagePattern struct {
	Pattern string
	Action  Action

	re *regexp.Regexp
}

// compile validates the pattern and action, caching the regex.
func (p *SensitivePagePattern) compile() error {
	switch p.Action {
	case ActionBlock, ActionStrip:
	default:
		return fmt.Errorf("sensitive page action must be %q or %q, got %q", ActionBlock, ActionStrip, p.Action)
	}
	re, err := regexp.Compile(p.Pattern)
	if err != nil {
		return fmt.Errorf("sensitive page pattern %q: %w", p.Pattern, err)
	}
	p.re = re
	return nil
}

// defaultHealthcarePatterns cover page paths that commonly reveal a
// visitor's health context. Portal and results pages are blocked
// outright; condition/treatment browsing is stripped but still counted.
var defaultHealthcarePatterns = []SensitivePagePattern{
	{Pattern: `(?i)/patient-?portal`, Action: ActionBlock},
	{Pattern: `(?i)/my-?chart`, Action: ActionBlock},
	{Pattern: `(?i)/lab-?results?`, Action: ActionBlock},
	{Pattern: `(?i)/appointment`, Action: ActionStrip},
	{Pattern: `(?i)/booking`, Action: ActionStrip},
	{Pattern: `(?i)/conditions?/`, Action: ActionStrip},
	{Pattern: `(?i)/treatments?/`, Action: ActionStrip},
	{Pattern: `(?i)/symptoms?`, Action: ActionStrip},
	{Pattern: `(?i)/diagnosis`, Action: ActionStrip},
	{Pattern: `(?i)/prescription`, Action: ActionStrip},
	{Pattern: `(?i)/billing`, Action: ActionStrip},
	{Pattern: `(?i)/insurance`, Action: ActionStrip},
}

// ConfigureSensitivePages replaces the pattern list. Returns an error if
// any pattern fails to compile; on error the existing list is kept.
func (c *Client) ConfigureSensitivePages(patterns []SensitivePagePattern) error {
	compiled := make([]SensitivePagePattern, len(patterns))
	copy(compiled, patterns)
	for i := range compiled {
		if err := compiled[i].compile(); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.sensitive = compiled
	c.mu.Unlock()
	return nil
}

// AddSensitivePagePattern appends one pattern to the list.
func (c *Client) AddSensitivePagePattern(pattern string, action Action) error {
	p := SensitivePagePattern{Pattern: pattern, Action: action}
	if err := p.compile(); err != nil {
		return err
	}

	c.mu.Lock()
	c.sensitive = append(c.sensitive, p)
	c.mu.Unlock()
	return nil
}

// LoadDefaultHealthcarePatterns appends the built-in healthcare pattern
// set to whatever is already configured.
func (c *Client) LoadDefaultHealthcarePatterns() {
	defaults := make([]SensitivePagePattern, len(defaultHealthcarePatterns))
	copy(defaults, defaultHealthcarePatterns)
	for i := range defaults {
		// Built-ins are known-good regexes.
		_ = defaults[i].compile()
	}

	c.mu.Lock()
	c.sensitive = append(c.sensitive, defaults...)
	c.mu.Unlock()
}

// sensitiveAction returns the action of the first matching pattern.
func (c *Client) sensitiveAction(pageURL string) (Action, bool) {
	c.mu.Lock()
	patterns := c.sensitive
	c.mu.Unlock()

	for i := range patterns {
		if patterns[i].re != nil && patterns[i].re.MatchString(pageURL) {
			return patterns[i].Action, true
		}
	}
	return "", false
}
