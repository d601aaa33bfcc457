package enrich

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/joshdurbin/product-cache/internal/domain"
)

// currencyTokens maps symbols and words found in display prices to codes.
// Longer tokens come first so "US$" wins over "$".
var currencyTokens = []struct {
	token string
	code  string
}{
	{"تومان", "IRT"},
	{"toman", "IRT"},
	{"ریال", "IRR"},
	{"﷼", "IRR"},
	{"rial", "IRR"},
	{"us$", "USD"},
	{"usd", "USD"},
	{"$", "USD"},
	{"€", "EUR"},
	{"eur", "EUR"},
	{"£", "GBP"},
	{"gbp", "GBP"},
	{"د.إ", "AED"},
	{"aed", "AED"},
	{"₺", "TRY"},
	{"₹", "INR"},
}

// extractPrice prefers the provider's parsed number and falls back to the display string
func extractPrice(extracted *float64, display string) (decimal.Decimal, bool) {
	if extracted != nil && *extracted > 0 {
		return decimal.NewFromFloat(*extracted), true
	}
	return parseDisplayPrice(display)
}

// parseDisplayPrice reads the first number in a display price such as
// "۱٬۲۵۰٬۰۰۰ تومان", "$1,299.99" or "1.250.000 IRR". Only positive amounts are returned.
func parseDisplayPrice(display string) (decimal.Decimal, bool) {
	token := firstNumber(display)
	if token == "" {
		return decimal.Zero, false
	}

	amount, err := decimal.NewFromString(normalizeSeparators(token))
	if err != nil || !amount.IsPositive() {
		return decimal.Zero, false
	}
	return amount, true
}

// firstNumber returns the first run of digits and separators with digits
// mapped to ASCII and spaces between digit groups removed
func firstNumber(s string) string {
	var b strings.Builder
	started := false

	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			started = true
		case r >= '۰' && r <= '۹':
			b.WriteRune('0' + (r - '۰'))
			started = true
		case r >= '٠' && r <= '٩':
			b.WriteRune('0' + (r - '٠'))
			started = true
		case r == '.' || r == '٫':
			if started {
				b.WriteRune('.')
			}
		case r == ',' || r == '٬' || r == '،':
			if started {
				b.WriteRune(',')
			}
		case unicode.IsSpace(r):
			// group separator inside a number, or padding around it
		default:
			if started {
				return strings.TrimRight(b.String(), ".,")
			}
		}
	}

	return strings.TrimRight(b.String(), ".,")
}

// normalizeSeparators decides which of ',' and '.' is the decimal separator.
// With both present the last one is decimal. A lone separator followed by
// exactly three digits is a thousands separator.
func normalizeSeparators(num string) string {
	lastComma := strings.LastIndex(num, ",")
	lastDot := strings.LastIndex(num, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			num = strings.ReplaceAll(num, ".", "")
			return strings.Replace(num, ",", ".", 1)
		}
		return strings.ReplaceAll(num, ",", "")

	case lastComma >= 0:
		if strings.Count(num, ",") == 1 && len(num)-lastComma-1 != 3 {
			return strings.Replace(num, ",", ".", 1)
		}
		return strings.ReplaceAll(num, ",", "")

	case lastDot >= 0:
		if strings.Count(num, ".") == 1 && len(num)-lastDot-1 != 3 {
			return num
		}
		return strings.ReplaceAll(num, ".", "")
	}

	return num
}

// extractOriginalPrice returns the pre-discount price only when it exceeds price
func extractOriginalPrice(raw domain.RawResult, price decimal.Decimal) *decimal.Decimal {
	original, ok := extractPrice(raw.ExtractedOldPrice, raw.OldPrice)
	if !ok || !original.GreaterThan(price) {
		return nil
	}
	return &original
}

// inferCurrency prefers an explicit code, then symbols in the display strings, then fallback
func inferCurrency(explicit string, fallback string, displays ...string) string {
	explicit = strings.TrimSpace(explicit)
	if len(explicit) == 3 && isASCIILetters(explicit) {
		return strings.ToUpper(explicit)
	}
	if code := currencyFromText(explicit); code != "" {
		return code
	}

	for _, display := range displays {
		if code := currencyFromText(display); code != "" {
			return code
		}
	}
	return fallback
}

func currencyFromText(s string) string {
	if s == "" {
		return ""
	}
	lower := strings.ToLower(s)
	for _, t := range currencyTokens {
		if strings.Contains(lower, t.token) {
			return t.code
		}
	}
	return ""
}

func isASCIILetters(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}
