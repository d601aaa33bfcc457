// Package cachekey builds the canonical keys that address both cache tiers.
package cachekey

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/joshdurbin/product-cache/internal/domain"
)

// Separator joins the category and normalized text of a key
const Separator = ":"

// runeMap folds Arabic letter variants onto their Persian forms and
// Persian/Arabic-Indic digits onto ASCII digits.
var runeMap = map[rune]rune{
	'ي': 'ی',
	'ى': 'ی',
	'ك': 'ک',
	'ۀ': 'ه',
}

func init() {
	for i := rune(0); i < 10; i++ {
		runeMap['۰'+i] = '0' + i // extended Arabic-Indic (Persian)
		runeMap['٠'+i] = '0' + i // Arabic-Indic
	}
}

// Normalize lowercases text, drops nonspacing and enclosing marks, replaces every
// rune that is not a letter, digit or spacing mark with a space, collapses
// whitespace and trims.
// Normalize(Normalize(s)) == Normalize(s) for every s.
func Normalize(text string) string {
	text = norm.NFKC.String(text)

	var b strings.Builder
	b.Grow(len(text))
	pendingSpace := false
	for _, r := range text {
		if mapped, ok := runeMap[r]; ok {
			r = mapped
		}
		switch {
		case unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Me, r):
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mc, r):
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(unicode.ToLower(r))
		default:
			pendingSpace = true
		}
	}
	return b.String()
}

// BuildKey returns the canonical key for a category and free-text query
func BuildKey(category, text string) string {
	return NormalizeCategory(category) + Separator + Normalize(text)
}

// NormalizeCategory normalizes a category name, defaulting to the general category
func NormalizeCategory(category string) string {
	c := strings.ReplaceAll(Normalize(category), " ", "-")
	if c == "" {
		return domain.DefaultCategory
	}
	return c
}

// SplitKey splits a canonical key into its category and text parts
func SplitKey(key string) (category, text string) {
	category, text, found := strings.Cut(key, Separator)
	if !found {
		return key, ""
	}
	return category, text
}
