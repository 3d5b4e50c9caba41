package services

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"newhome-tracker/models"
)

var (
	// priceRegexp captures a numeric price with an optional K/M multiplier.
	priceRegexp = regexp.MustCompile(`(?i)(\d[\d,]*(?:\.\d+)?)\s*([km])?\b`)
	// numberRegexp captures the first plain number ("2,486 sq ft", "2.5 ba").
	numberRegexp = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
)

// Cleaner transforms RawListings into typed Observations.
type Cleaner struct {
	log zerolog.Logger
}

// NewCleaner creates a Cleaner with the given logger.
func NewCleaner(log zerolog.Logger) *Cleaner {
	return &Cleaner{log: log.With().Str("component", "cleaner").Logger()}
}

// Clean parses every raw listing. Records without a model name or a positive
// price are dropped and reported; every other malformed field is left at its
// zero value.
func (c *Cleaner) Clean(raw []models.RawListing) ([]models.Observation, []models.ItemError) {
	result := make([]models.Observation, 0, len(raw))
	var dropped []models.ItemError

	for i, r := range raw {
		builder := normaliseText(r.BuilderName)
		model := normaliseText(r.ModelName)
		if model == "" {
			c.log.Warn().Int("position", i).Str("builder", r.BuilderName).Msg("Dropping listing without model name")
			dropped = append(dropped, models.ItemError{Key: rawLabel(i, r), Builder: slugify(builder), Reason: "missing model name"})
			continue
		}

		price := parsePrice(r.RawPrice)
		if price <= 0 {
			c.log.Warn().Int("position", i).Str("model", model).Str("raw_price", r.RawPrice).Msg("Dropping listing without a usable price")
			dropped = append(dropped, models.ItemError{Key: rawLabel(i, r), Builder: slugify(builder), Reason: "missing or invalid price"})
			continue
		}

		community := normaliseText(r.Community)
		address := normaliseText(r.Address)

		homesite := normalizeHomesite(r.Homesite)
		if homesite == "" {
			homesite = homesiteFromAddress(address)
		}
		if isPlaceholderAddress(address) {
			address = ""
		}

		result = append(result, models.Observation{
			BuilderID:     slugify(builder),
			BuilderName:   builder,
			CommunityID:   slugify(community),
			CommunityName: community,
			ModelName:     model,
			Address:       address,
			City:          normaliseText(r.City),
			State:         strings.ToUpper(normaliseText(r.State)),
			ZipCode:       parseZip(r.ZipCode),
			Homesite:      homesite,
			Price:         price,
			Bedrooms:      int(parseNumber(r.Bedrooms)),
			Bathrooms:     parseNumber(r.Bathrooms),
			SquareFeet:    int(math.Round(parseNumber(r.SquareFeet))),
			GarageSpaces:  int(parseNumber(r.GarageSpaces)),
			LotSize:       parseNumber(r.LotSize),
			Status:        parseStatusText(r.Status),
			Features:      cleanFeatures(r.Features),
			URL:           strings.TrimSpace(r.URL),
			Position:      i,
		})
	}

	c.log.Info().
		Int("received", len(raw)).
		Int("cleaned", len(result)).
		Int("dropped", len(dropped)).
		Msg("Cleaned batch")
	return result, dropped
}

// parsePrice extracts a whole-currency price.
// Examples:
//
//	"$439,990"          -> 439990
//	"From $389,990.00"  -> 389990
//	"$1.2M"             -> 1200000
//	"Call for pricing"  -> 0
func parsePrice(raw string) int64 {
	m := priceRegexp.FindStringSubmatch(raw)
	if len(m) < 2 {
		return 0
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0
	}
	switch strings.ToLower(m[2]) {
	case "k":
		v *= 1_000
	case "m":
		v *= 1_000_000
	}
	return int64(math.Round(v))
}

// parseNumber returns the first number in s, or 0.
func parseNumber(s string) float64 {
	match := numberRegexp.FindString(s)
	if match == "" {
		return 0
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
	if err != nil {
		return 0
	}
	return v
}

// parseZip keeps the five-digit ZIP code, dropping any +4 extension.
func parseZip(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 5 {
		if _, err := strconv.Atoi(s[:5]); err == nil {
			return s[:5]
		}
	}
	return ""
}

// parseStatusText maps builder-site status wording onto the status enum.
// Wording that matches nothing is StatusUnknown, never a guess.
func parseStatusText(s string) models.Status {
	t := strings.Join(tokens(s), " ")
	switch {
	case t == "":
		return models.StatusUnknown
	case strings.Contains(t, "sold") || strings.Contains(t, "closed"):
		return models.StatusSold
	case strings.Contains(t, "pending") || strings.Contains(t, "under contract") || strings.Contains(t, "contingent"):
		return models.StatusPending
	case strings.Contains(t, "quick move") || strings.Contains(t, "move in ready") ||
		strings.Contains(t, "ready now") || t == "qmi" || t == "spec":
		return models.StatusQuickMoveIn
	case strings.Contains(t, "available") || strings.Contains(t, "for sale") || strings.Contains(t, "now selling"):
		return models.StatusAvailable
	}
	return models.StatusUnknown
}

// cleanFeatures trims, de-duplicates (case-insensitively) and sorts features.
func cleanFeatures(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, f := range raw {
		f = normaliseText(f)
		if f == "" {
			continue
		}
		k := fold(f)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func rawLabel(i int, r models.RawListing) string {
	return "#" + strconv.Itoa(i) + " " + normaliseText(r.BuilderName+" "+r.Community+" "+r.ModelName)
}
