package matcher

import (
	"encoding/json"
	"strings"
	"unicode"

	"gorm.io/datatypes"
)

// NormalizeStyleCode lowercases a style code and strips separators so
// "DD1391-100", "dd1391 100" and "DD1391100" all collide.
func NormalizeStyleCode(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeBrand folds case and collapses whitespace, matching the
// brands.norm_name column.
func NormalizeBrand(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(raw)), " ")
}

// Tokenize lowercases a product name, strips punctuation, and returns the
// distinct token set.
func Tokenize(name string) map[string]struct{} {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, name)
	out := map[string]struct{}{}
	for _, tok := range strings.Fields(cleaned) {
		out[tok] = struct{}{}
	}
	return out
}

func normalizeDigits(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func platformKey(source, externalID string) string {
	source = strings.ToLower(strings.TrimSpace(source))
	externalID = strings.TrimSpace(externalID)
	if source == "" || externalID == "" {
		return ""
	}
	return source + "|" + externalID
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func decodePatterns(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var items []string
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
