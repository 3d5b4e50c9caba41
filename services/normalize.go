package services

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	// lotAddressRegexp matches lot/homesite pseudo-addresses such as
	// "Lot 12", "Homesite #45" or "HS 0003, Block B".
	lotAddressRegexp = regexp.MustCompile(`(?i)^\s*(?:lot|homesite|home\s+site|hs)\b\s*#?\s*([a-z]?\d[a-z0-9-]*)`)

	nonAlnumRegexp = regexp.MustCompile(`[^a-z0-9]+`)
)

var placeholderAddresses = map[string]struct{}{
	"address not available": {},
	"not available":         {},
	"n a":                   {},
	"na":                    {},
	"tbd":                   {},
	"none":                  {},
	"unknown":               {},
}

var streetAbbreviations = map[string]string{
	"street":    "st",
	"avenue":    "ave",
	"av":        "ave",
	"road":      "rd",
	"drive":     "dr",
	"lane":      "ln",
	"court":     "ct",
	"boulevard": "blvd",
	"circle":    "cir",
	"place":     "pl",
	"trail":     "trl",
	"parkway":   "pkwy",
	"terrace":   "ter",
	"highway":   "hwy",
	"cove":      "cv",
	"crossing":  "xing",
	"point":     "pt",
	"square":    "sq",
	"north":     "n",
	"south":     "s",
	"east":      "e",
	"west":      "w",
	"northeast": "ne",
	"northwest": "nw",
	"southeast": "se",
	"southwest": "sw",
	"apartment": "apt",
	"suite":     "ste",
	"unit":      "unit",
}

// fold lowercases s with full Unicode case folding and strips diacritics.
// A new transformer is built per call since casers carry state.
func fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), cases.Fold(), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

// tokens folds s and splits it on anything that is not a letter or digit.
func tokens(s string) []string {
	return strings.Fields(nonAlnumRegexp.ReplaceAllString(fold(s), " "))
}

// slugify turns a display name into a stable id: "KB Home" -> "kb-home".
func slugify(s string) string {
	return strings.Join(tokens(s), "-")
}

// isPlaceholderAddress reports whether an address field carries no usable
// street address: blank, a "not available" marker, or a lot-only pseudo-address.
func isPlaceholderAddress(addr string) bool {
	if strings.TrimSpace(addr) == "" {
		return true
	}
	if _, ok := placeholderAddresses[strings.Join(tokens(addr), " ")]; ok {
		return true
	}
	return lotAddressRegexp.MatchString(addr)
}

// homesiteFromAddress extracts "12" from pseudo-addresses like "Lot 12".
func homesiteFromAddress(addr string) string {
	m := lotAddressRegexp.FindStringSubmatch(addr)
	if len(m) < 2 {
		return ""
	}
	return normalizeHomesite(m[1])
}

// normalizeHomesite drops a "Lot"/"Homesite" prefix and leading zeros.
func normalizeHomesite(s string) string {
	if m := lotAddressRegexp.FindStringSubmatch(s); len(m) == 2 {
		s = m[1]
	}
	s = strings.Join(tokens(s), "-")
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" && s != "" {
		return "0"
	}
	return trimmed
}

// normalizeAddress canonicalises a street address for use in identity keys.
// Placeholders normalise to "".
func normalizeAddress(addr string) string {
	if isPlaceholderAddress(addr) {
		return ""
	}
	toks := tokens(addr)
	for i, tok := range toks {
		if abbr, ok := streetAbbreviations[tok]; ok {
			toks[i] = abbr
		}
	}
	return strings.Join(toks, " ")
}

// normalizeModel folds a floor-plan name, dropping a trailing "plan"/"model"
// word so that "The 2486 Plan" and "2486" agree.
func normalizeModel(name string) string {
	toks := tokens(name)
	if len(toks) > 1 && toks[0] == "the" {
		toks = toks[1:]
	}
	if n := len(toks); n > 1 && (toks[n-1] == "plan" || toks[n-1] == "model") {
		toks = toks[:n-1]
	}
	if len(toks) > 1 && (toks[0] == "plan" || toks[0] == "model") {
		toks = toks[1:]
	}
	return strings.Join(toks, " ")
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}
