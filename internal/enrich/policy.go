package enrich

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Price policies for results without a usable price
const (
	PricePolicyDrop        = "drop"
	PricePolicyPlaceholder = "placeholder"
)

// CategoryRules holds the relevance keywords of one category.
// Matching is case-insensitive over title and description.
type CategoryRules struct {
	Include []string `yaml:"include" json:"include,omitempty"`
	Exclude []string `yaml:"exclude" json:"exclude,omitempty"`
}

// Policy configures the enrichment pipeline
type Policy struct {
	TrustedDomains []string `yaml:"trusted_domains" json:"trusted_domains"`
	// RelaxedLinks accepts any non-provider link when no trusted one exists
	RelaxedLinks bool `yaml:"relaxed_links" json:"relaxed_links"`

	PricePolicy      string `yaml:"price_policy" json:"price_policy"`
	PlaceholderPrice string `yaml:"placeholder_price" json:"placeholder_price,omitempty"`
	DefaultCurrency  string `yaml:"default_currency" json:"default_currency"`

	Categories map[string]CategoryRules `yaml:"categories" json:"categories,omitempty"`

	SourceLanguage       string `yaml:"source_language" json:"source_language"`
	TargetLanguage       string `yaml:"target_language" json:"target_language"`
	TranslateConcurrency int    `yaml:"translate_concurrency" json:"translate_concurrency"`
}

// DefaultPolicy returns the default enrichment policy
func DefaultPolicy() Policy {
	return Policy{
		TrustedDomains: []string{
			"digikala.com",
			"torob.com",
			"basalam.com",
			"emalls.ir",
			"technolife.ir",
			"snappshop.ir",
			"divar.ir",
			"amazon.com",
			"ebay.com",
			"aliexpress.com",
		},
		PricePolicy:          PricePolicyDrop,
		DefaultCurrency:      "IRT",
		SourceLanguage:       "fa",
		TargetLanguage:       "en",
		TranslateConcurrency: 4,
	}
}

// Validate checks the policy for unusable values
func (p Policy) Validate() error {
	switch p.PricePolicy {
	case PricePolicyDrop:
	case PricePolicyPlaceholder:
		price, err := decimal.NewFromString(p.PlaceholderPrice)
		if err != nil {
			return fmt.Errorf("placeholder price %q is not a number: %w", p.PlaceholderPrice, err)
		}
		if !price.IsPositive() {
			return fmt.Errorf("placeholder price must be positive, got: %s", p.PlaceholderPrice)
		}
	default:
		return fmt.Errorf("unknown price policy: %q", p.PricePolicy)
	}

	if len(p.TrustedDomains) == 0 && !p.RelaxedLinks {
		return fmt.Errorf("trusted domains cannot be empty unless relaxed links are enabled")
	}

	for _, d := range p.TrustedDomains {
		if strings.TrimSpace(d) == "" {
			return fmt.Errorf("trusted domains cannot contain an empty entry")
		}
	}

	if p.TranslateConcurrency < 0 {
		return fmt.Errorf("translate concurrency cannot be negative, got: %d", p.TranslateConcurrency)
	}

	return nil
}

func (p Policy) placeholder() (decimal.Decimal, bool) {
	if p.PricePolicy != PricePolicyPlaceholder {
		return decimal.Zero, false
	}
	price, err := decimal.NewFromString(p.PlaceholderPrice)
	if err != nil || !price.IsPositive() {
		return decimal.Zero, false
	}
	return price, true
}
