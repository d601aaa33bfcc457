package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joshdurbin/product-cache/internal/domain"
)

func TestExtractLink(t *testing.T) {
	trusted := []string{"digikala.com", "torob.com"}

	tests := []struct {
		name    string
		raw     domain.RawResult
		strict  string
		relaxed string
	}{
		{
			name:    "merchant link preferred",
			raw:     domain.RawResult{MerchantLink: "https://www.digikala.com/p/1", Link: "https://torob.com/p/1"},
			strict:  "https://www.digikala.com/p/1",
			relaxed: "https://www.digikala.com/p/1",
		},
		{
			name:    "trusted later candidate beats untrusted earlier one",
			raw:     domain.RawResult{MerchantLink: "https://shady.example/p/1", SourceLink: "https://m.torob.com/p/9"},
			strict:  "https://m.torob.com/p/9",
			relaxed: "https://m.torob.com/p/9",
		},
		{
			name:    "untrusted only",
			raw:     domain.RawResult{Link: "https://shop.example.com/item"},
			strict:  "",
			relaxed: "https://shop.example.com/item",
		},
		{
			name:    "provider internal never accepted",
			raw:     domain.RawResult{Link: "https://www.google.com/shopping/product/1", ProductLink: "https://www.google.com/shopping/product/1"},
			strict:  "",
			relaxed: "",
		},
		{
			name:    "product link is not a candidate",
			raw:     domain.RawResult{ProductLink: "https://www.digikala.com/p/1"},
			strict:  "",
			relaxed: "",
		},
		{
			name:    "redirect unwrapped",
			raw:     domain.RawResult{Link: "https://www.google.com/url?q=https://www.digikala.com/p/7&sa=U"},
			strict:  "https://www.digikala.com/p/7",
			relaxed: "https://www.digikala.com/p/7",
		},
		{
			name:    "lookalike domain is not a subdomain",
			raw:     domain.RawResult{Link: "https://notdigikala.com/p/1"},
			strict:  "",
			relaxed: "https://notdigikala.com/p/1",
		},
		{
			name:    "non http schemes rejected",
			raw:     domain.RawResult{MerchantLink: "javascript:alert(1)", SourceLink: "ftp://digikala.com/x", Link: "/relative/path"},
			strict:  "",
			relaxed: "",
		},
		{
			name:    "country google domain is internal",
			raw:     domain.RawResult{Link: "https://shopping.google.co.ir/p/1"},
			strict:  "",
			relaxed: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.strict, extractLink(tt.raw, trusted, false))
			assert.Equal(t, tt.relaxed, extractLink(tt.raw, trusted, true))
		})
	}
}

func TestIsTrusted(t *testing.T) {
	trusted := []string{"Digikala.com", " torob.com "}

	assert.True(t, isTrusted("digikala.com", trusted))
	assert.True(t, isTrusted("WWW.DIGIKALA.COM", trusted))
	assert.True(t, isTrusted("api.torob.com.", trusted))
	assert.False(t, isTrusted("digikala.com.evil.io", trusted))
	assert.False(t, isTrusted("xdigikala.com", trusted))
	assert.False(t, isTrusted("digikala.com", nil))
}
