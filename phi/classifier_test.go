package phi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectPattern_PriorityOrder(t *testing.T) {
	c := New(ServerCapabilities())

	// 16 digits overlap with the phone pattern's digit runs; the credit
	// card pattern has priority.
	kind, ok := c.DetectPattern("4111 1111 1111 1111")
	require.True(t, ok)
	assert.Equal(t, KindCreditCard, kind)

	kind, ok = c.DetectPattern("4111111111111111")
	require.True(t, ok)
	assert.Equal(t, KindCreditCard, kind)

	// Delimited 9 digits are an SSN.
	kind, ok = c.DetectPattern("123-45-6789")
	require.True(t, ok)
	assert.Equal(t, KindSSN, kind)

	// Undelimited 9 digits classify as phone. Both branches of the
	// ambiguity are pinned here.
	kind, ok = c.DetectPattern("123456789")
	require.True(t, ok)
	assert.Equal(t, KindPhone, kind)
}

func TestDetectPattern_Kinds(t *testing.T) {
	c := New(ClientCapabilities())

	cases := []struct {
		in   string
		kind Kind
	}{
		{"patient@example.com", KindEmail},
		{"reach me at someone@clinic.org today", KindEmail},
		{"555-123-4567", KindPhone},
		{"(555) 123-4567", KindPhone},
		{"+1 555 123 4567", KindPhone},
		{"01/02/1990", KindDOB},
		{"1990-01-02", KindDOB},
	}
	for _, tc := range cases {
		kind, ok := c.DetectPattern(tc.in)
		require.True(t, ok, "expected match for %q", tc.in)
		assert.Equal(t, tc.kind, kind, "input %q", tc.in)
	}
}

func TestDetectPattern_NoMatch(t *testing.T) {
	c := New(ClientCapabilities())

	for _, in := range []string{
		"services",
		"hello world",
		"",
		Redacted,
		"2026-08-27T10:00:00Z", // ISO instant, not a bare date
	} {
		_, ok := c.DetectPattern(in)
		assert.False(t, ok, "unexpected match for %q", in)
	}
}

func TestDetectPattern_CreditCardClientDisabled(t *testing.T) {
	// The client capability set has no credit-card pattern. A spaced card
	// number matches nothing client-side; a contiguous 16-digit run still
	// trips the phone pattern's digit-run matching.
	c := New(ClientCapabilities())

	_, ok := c.DetectPattern("4111 1111 1111 1111")
	assert.False(t, ok)

	kind, ok := c.DetectPattern("4111111111111111")
	require.True(t, ok)
	assert.Equal(t, KindPhone, kind)
}

func TestIsSensitiveField(t *testing.T) {
	c := New(ClientCapabilities())

	for _, name := range []string{
		"email", "Email", "patientEmailAddress",
		"phone", "mobile_number",
		"ssn", "social_security_number",
		"first_name", "LastName",
		"billing_zip", "street_address",
		"mrn", "insurance_id", "date_of_birth",
	} {
		assert.True(t, c.IsSensitiveField(name), "expected sensitive: %q", name)
	}

	for _, name := range []string{
		"event_name", "page", "utm_source", "count", "category",
	} {
		assert.False(t, c.IsSensitiveField(name), "expected not sensitive: %q", name)
	}
}

func TestScrub_FieldNameShortCircuit(t *testing.T) {
	c := New(ClientCapabilities())

	// The value is not an email, but the field name alone forces
	// redaction.
	out, paths := c.ScrubProperties(map[string]any{"email": "not-an-email-string"})
	assert.Equal(t, Redacted, out["email"])
	assert.Equal(t, []string{"email"}, paths)
}

func TestScrub_NestedPath(t *testing.T) {
	c := New(ClientCapabilities())

	in := map[string]any{
		"form": map[string]any{
			"fields": map[string]any{
				"contact_email": "a@b.com",
				"topic":         "billing question",
			},
		},
		"page": "services",
	}

	out, paths := c.ScrubProperties(in)
	require.Equal(t, []string{"form.fields.contact_email"}, paths)

	form := out["form"].(map[string]any)
	fields := form["fields"].(map[string]any)
	assert.Equal(t, Redacted, fields["contact_email"])
	assert.Equal(t, "billing question", fields["topic"])
	assert.Equal(t, "services", out["page"])
}

func TestScrub_ArrayIndexPath(t *testing.T) {
	c := New(ClientCapabilities())

	in := map[string]any{
		"items": []any{
			map[string]any{"sku": "a1"},
			map[string]any{"sku": "a2"},
			map[string]any{"sku": "a3", "note": "call 555-123-4567"},
		},
	}

	out, paths := c.ScrubProperties(in)
	require.Equal(t, []string{"items[2].note"}, paths)

	items := out["items"].([]any)
	assert.Equal(t, "a1", items[0].(map[string]any)["sku"])
	assert.Equal(t, Redacted, items[2].(map[string]any)["note"])
}

func TestScrub_ValuePattern(t *testing.T) {
	c := New(ClientCapabilities())

	out, paths := c.ScrubProperties(map[string]any{
		"contact": "patient@example.com",
		"page":    "services",
		"count":   float64(3),
		"active":  true,
	})

	assert.Equal(t, Redacted, out["contact"])
	assert.Equal(t, "services", out["page"])
	assert.Equal(t, float64(3), out["count"])
	assert.Equal(t, true, out["active"])
	assert.Equal(t, []string{"contact"}, paths)
}

func TestScrub_Idempotent(t *testing.T) {
	c := New(ServerCapabilities())

	in := map[string]any{
		"email":   "a@b.com",
		"note":    "ssn is 123-45-6789",
		"nested":  map[string]any{"phone": "555-123-4567"},
		"harmless": "keep me",
	}

	once, paths := c.ScrubProperties(in)
	require.NotEmpty(t, paths)

	twice, paths2 := c.ScrubProperties(once)
	assert.Empty(t, paths2, "re-scrubbing must find nothing")
	assert.Equal(t, once, twice)
}

func TestScrub_SentinelFieldsNotRecounted(t *testing.T) {
	c := New(ServerCapabilities())

	// A sensitive field that already carries the sentinel (redacted
	// upstream) must not be reported again; only fresh findings count.
	out, paths := c.ScrubProperties(map[string]any{
		"email": Redacted,
		"phone": "555-123-4567",
	})

	assert.Equal(t, []string{"phone"}, paths)
	assert.Equal(t, Redacted, out["email"])
	assert.Equal(t, Redacted, out["phone"])
}

func TestScrub_NilAndScalars(t *testing.T) {
	c := New(ClientCapabilities())

	out, paths := c.ScrubProperties(nil)
	assert.Nil(t, out)
	assert.Empty(t, paths)

	v, paths := c.Scrub(42)
	assert.Equal(t, 42, v)
	assert.Empty(t, paths)
}
