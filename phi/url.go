package phi

import (
	"net"
	"net/url"
	"strings"
)

// baseClickIDs are the ad-attribution query parameters stripped on both
// deployment sites. Server capabilities extend this list.
var baseClickIDs = []string{
	"gclid", "fbclid", "msclkid", "ttclid", "li_fat_id", "wbraid", "gbraid",
}

// sensitiveParams are query parameter names deleted from URLs
// unconditionally, whatever their value.
var sensitiveParams = []string{
	"email", "e-mail", "phone", "tel", "name", "first_name", "last_name",
	"address", "ssn", "dob", "patient_id", "mrn", "member_id", "policy_number",
}

// ScrubURL removes sensitive query parameters from raw. Known-sensitive
// parameter names and ad click identifiers are deleted outright; every
// remaining parameter value is re-scanned against the value patterns and
// deleted on a match. Malformed URLs fail open: the input is returned
// unchanged and a debug warning is emitted.
func (c *Classifier) ScrubURL(raw string) string {
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		c.debugf("phi: unparseable url passed through: %v", err)
		return raw
	}

	q := u.Query()
	for _, name := range sensitiveParams {
		q.Del(name)
	}
	for _, name := range c.clickIDs {
		q.Del(name)
	}
	for name, values := range q {
		for _, v := range values {
			if _, ok := c.DetectPattern(v); ok {
				q.Del(name)
				break
			}
		}
	}

	u.RawQuery = q.Encode()
	return u.String()
}

// StripClickIDs removes only the ad-attribution parameters. Used when a
// page is flagged strip-sensitive but full URL scrubbing is not
// otherwise triggered.
func (c *Classifier) StripClickIDs(raw string) string {
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		c.debugf("phi: unparseable url passed through: %v", err)
		return raw
	}

	q := u.Query()
	for _, name := range c.clickIDs {
		q.Del(name)
	}

	u.RawQuery = q.Encode()
	return u.String()
}

// ScrubReferrer sanitizes a referrer URL. With ReduceReferrer capability
// the referrer collapses to scheme+host+path, dropping the whole query:
// referrers are treated as higher risk than page URLs. Without it the
// generic URL scrub applies.
func (c *Classifier) ScrubReferrer(raw string) string {
	if raw == "" {
		return raw
	}
	if !c.caps.ReduceReferrer {
		return c.ScrubURL(raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		c.debugf("phi: unparseable referrer passed through: %v", err)
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u.String()
}

// AnonymizeIP truncates an IP address for storage: IPv4 zeroes the last
// octet, IPv6 keeps only the top 48 bits (the routing prefix) after
// expanding any :: shorthand. Unparseable input is returned unchanged.
func AnonymizeIP(raw string) string {
	ip := net.ParseIP(strings.TrimSpace(raw))
	if ip == nil {
		return raw
	}

	if v4 := ip.To4(); v4 != nil {
		v4[3] = 0
		return v4.String()
	}

	v6 := ip.To16()
	for i := 6; i < 16; i++ {
		v6[i] = 0
	}
	return v6.String()
}
