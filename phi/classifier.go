// Package phi detects and redacts Protected Health Information in
// tracking data before it is stored or forwarded.
//
// Detection runs in two stages per field:
//  1. Field-name check against a fixed vocabulary of conventionally
//     PHI-bearing names. A name match short-circuits value inspection:
//     the whole value is replaced regardless of its content.
//  2. Value-pattern check in a fixed priority order (credit card →
//     email → SSN → phone → date of birth) so overlapping patterns
//     cannot double-match.
//
// The same classifier serves both deployment sites; Capabilities selects
// which extra checks run where (credit-card detection, referrer
// reduction and IP anonymization are server-side concerns).
package phi

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Redacted is the sentinel written over every redacted value. It matches
// no PHI pattern and no PHI field name, which makes scrubbing idempotent.
const Redacted = "[REDACTED]"

// Kind classifies the pattern a value matched.
type Kind string

const (
	KindCreditCard Kind = "credit_card"
	KindEmail      Kind = "email"
	KindSSN        Kind = "ssn"
	KindPhone      Kind = "phone"
	KindDOB        Kind = "date_of_birth"
)

// Capabilities selects which checks a classifier instance runs.
type Capabilities struct {
	// CreditCard enables the credit-card value pattern (server side).
	CreditCard bool
	// ReduceReferrer collapses referrers to scheme+host+path (server side).
	ReduceReferrer bool
	// ExtraClickIDs extends the ad-attribution parameter list with
	// platform-specific variants (server side).
	ExtraClickIDs []string
	// ExtraFieldTerms extends the sensitive field-name vocabulary.
	ExtraFieldTerms []string
}

// ClientCapabilities returns the check set used inside the SDK.
func ClientCapabilities() Capabilities {
	return Capabilities{}
}

// ServerCapabilities returns the stricter check set used at ingestion.
func ServerCapabilities() Capabilities {
	return Capabilities{
		CreditCard:     true,
		ReduceReferrer: true,
		ExtraClickIDs:  []string{"dclid", "yclid", "twclid", "igshid", "mc_eid", "epik"},
		ExtraFieldTerms: []string{
			"diagnosis", "procedure_code", "icd", "npi",
		},
	}
}

// pattern pairs a compiled regex with the PHI kind it detects.
// Order in the patterns slice is the evaluation priority.
type pattern struct {
	re   *regexp.Regexp
	kind Kind
}

// Undelimited 9-digit runs deliberately classify as phone, not SSN: the
// SSN pattern requires separators to disambiguate. Known false-negative
// risk for SSN detection, preserved on purpose.
var (
	reCreditCard = regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{4}\b`)
	reEmail      = regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)
	reSSN        = regexp.MustCompile(`\b\d{3}[-\s]\d{2}[-\s]\d{4}\b`)
	rePhone      = regexp.MustCompile(`(\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{3,4}\b`)
	reDOB        = regexp.MustCompile(`\b(?:\d{1,2}[/\-]\d{1,2}[/\-]\d{2,4}|\d{4}-\d{2}-\d{2})\b`)
)

// baseFieldTerms is the substring vocabulary for field-name detection.
// Matching is case-insensitive and greedy: any term appearing anywhere
// in a field name marks the field sensitive.
var baseFieldTerms = []string{
	// contact
	"email", "e-mail", "phone", "mobile", "telephone", "fax",
	// name components
	"first_name", "firstname", "last_name", "lastname",
	"full_name", "fullname", "middle_name", "maiden_name", "patient_name",
	// government / tax identifiers
	"ssn", "social_security", "socialsecurity", "tax_id", "national_id",
	// address components
	"address", "street", "zip", "zipcode", "postal",
	// medical-record / insurance identifiers
	"mrn", "medical_record", "patient_id", "member_id",
	"insurance", "policy_number", "group_number",
	"date_of_birth", "birthdate", "dob",
	// financial identifiers
	"credit_card", "creditcard", "card_number", "cvv",
	"account_number", "routing_number", "iban",
}

// Classifier is a PHI detector/scrubber for one deployment site.
// Instances are immutable after construction and safe for concurrent use.
type Classifier struct {
	caps       Capabilities
	patterns   []pattern
	fieldTerms []string
	clickIDs   []string

	// Debugf, when set, receives fail-open warnings (malformed URLs and
	// the like). Nil means silent.
	Debugf func(format string, args ...any)
}

// New builds a classifier for the given capability set.
func New(caps Capabilities) *Classifier {
	c := &Classifier{caps: caps}

	if caps.CreditCard {
		c.patterns = append(c.patterns, pattern{reCreditCard, KindCreditCard})
	}
	c.patterns = append(c.patterns,
		pattern{reEmail, KindEmail},
		pattern{reSSN, KindSSN},
		pattern{rePhone, KindPhone},
		pattern{reDOB, KindDOB},
	)

	c.fieldTerms = append(c.fieldTerms, baseFieldTerms...)
	c.fieldTerms = append(c.fieldTerms, caps.ExtraFieldTerms...)

	c.clickIDs = append(c.clickIDs, baseClickIDs...)
	c.clickIDs = append(c.clickIDs, caps.ExtraClickIDs...)

	return c
}

func (c *Classifier) debugf(format string, args ...any) {
	if c.Debugf != nil {
		c.Debugf(format, args...)
	}
}

// DetectPattern reports whether s contains a value matching a PHI
// pattern, and which kind. Patterns are tried in priority order; the
// first hit wins.
func (c *Classifier) DetectPattern(s string) (Kind, bool) {
	for _, p := range c.patterns {
		if p.re.MatchString(s) {
			return p.kind, true
		}
	}
	return "", false
}

// IsSensitiveField reports whether a field name is conventionally
// PHI-bearing. The check is a case-insensitive substring match, so
// "patientEmailAddress" and "billing_zip" both qualify.
func (c *Classifier) IsSensitiveField(name string) bool {
	lower := strings.ToLower(name)
	for _, term := range c.fieldTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// Scrub returns a redacted copy of v plus the ordered list of field
// paths that were redacted. Objects are walked depth-first with keys in
// sorted order (paths are deterministic); arrays element-wise. Non-string
// scalars pass through untouched. Scrub never fails: unrecognized types
// are returned as-is.
func (c *Classifier) Scrub(v any) (any, []string) {
	var paths []string
	out := c.walk(v, "", &paths)
	return out, paths
}

// ScrubProperties is the map-rooted form of Scrub used on event
// properties. A nil map stays nil.
func (c *Classifier) ScrubProperties(props map[string]any) (map[string]any, []string) {
	if props == nil {
		return nil, nil
	}
	out, paths := c.Scrub(props)
	return out.(map[string]any), paths
}

func (c *Classifier) walk(v any, path string, paths *[]string) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		out := make(map[string]any, len(val))
		for _, k := range keys {
			p := joinPath(path, k)
			if c.IsSensitiveField(k) {
				if s, ok := val[k].(string); ok && s == Redacted {
					// Already carries the sentinel, nothing new to report.
					out[k] = s
					continue
				}
				// Name match short-circuits: the value is replaced
				// wholesale, nested content included.
				out[k] = Redacted
				*paths = append(*paths, p)
				continue
			}
			out[k] = c.walk(val[k], p, paths)
		}
		return out

	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = c.walk(item, fmt.Sprintf("%s[%d]", path, i), paths)
		}
		return out

	case string:
		if _, ok := c.DetectPattern(val); ok {
			*paths = append(*paths, path)
			return Redacted
		}
		return val
	}
	return v
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}
