package ticker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"hub", "HUB"},
		{"  bhp ", "BHP"},
		{"HUB.AX", "HUB"},
		{"a2m.ax", "A2M"},
		{"https://au.finance.yahoo.com/quote/CBA.AX/", "CBA"},
		{"see https://au.finance.yahoo.com/lookup?p=CSL.AX.", "CSL"},
		{"please send the ASX: WES chart", "WES"},
		{"create a report for TLS today", "TLS"},
		{"chart with code: NAB to me@example.com", "NAB"},
		{"please email the chart of FMG", "FMG"},
		{"", ""},
		{"   ", ""},
		{"123456", ""},
		{"please send the chart", ""},
		{"../../etc/passwd", "ETC"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Normalize(tc.in), "input %q", tc.in)
	}
}

func TestNormalizeOutputIsAlwaysValid(t *testing.T) {
	inputs := []string{"hub", "x/../y", "<script>", "A;B", "quote/ANZ.AX?x=1", "ASX - MQG"}
	for _, in := range inputs {
		if got := Normalize(in); got != "" {
			assert.True(t, Valid(got), "normalize(%q) = %q is not a valid token", in, got)
		}
	}
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("HUB"))
	assert.True(t, Valid("A2M"))
	assert.False(t, Valid("hub"))
	assert.False(t, Valid("TOOLONG"))
	assert.False(t, Valid("1234"))
	assert.False(t, Valid("HU/B"))
	assert.False(t, Valid(""))
}

func TestBuildQuoteURL(t *testing.T) {
	assert.Equal(t, "https://au.finance.yahoo.com/quote/HUB.AX/", BuildQuoteURL("", "hub"))
	assert.Equal(t, "https://example.test/q/BHP", BuildQuoteURL("https://example.test/q/%s", "BHP"))
}

func TestIsQuoteURL(t *testing.T) {
	assert.True(t, IsQuoteURL("https://au.finance.yahoo.com/quote/HUB.AX/"))
	assert.True(t, IsQuoteURL("https://finance.yahoo.com/quote/HUB.AX"))
	assert.False(t, IsQuoteURL("https://consent.yahoo.com/v2/collectConsent"))
	assert.False(t, IsQuoteURL("https://au.finance.yahoo.com/"))
	assert.False(t, IsQuoteURL("https://evilfinance.yahoo.com.attacker.test/quote/"))
}
