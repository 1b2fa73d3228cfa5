package extract

import (
	"regexp"
	"strings"

	"github.com/ignite/promo-digest/internal/domain"
)

var savingsTextRe = regexp.MustCompile(`(?i)\bsale\b|\bclearance\b|\bmarkdown\b|\bbogo\b|buy one get one|2 for 1|half off`)
var numericDiscountRe = regexp.MustCompile(`(?i)\$\d+(\.\d+)?\s*(off)?|\d+%\s*off|save\s*\$\d+`)

// hasSavingsSignal requires a candidate to carry a
// savings signal beyond "free shipping" alone.
func hasSavingsSignal(p domain.ExtractedPromo) bool {
	if p.PercentOff > 0 || p.AmountOff > 0 {
		return true
	}
	if strings.TrimSpace(p.Code) != "" {
		return true
	}
	if strings.EqualFold(p.Vertical, "flight") && p.FlightPrice > 0 {
		return true
	}
	text := p.DiscountText + " " + p.FreeText + " " + p.Summary + " " + p.Headline
	if savingsTextRe.MatchString(text) || numericDiscountRe.MatchString(text) {
		return true
	}
	return false
}

// FlightPreferences configures the flight vertical's eligibility filter.
type FlightPreferences struct {
	Origins           []string
	DestinationRegions []string
	MaxPriceUSD       map[string]float64
}

var regionCanon = map[string]string{
	"europe": "europe", "eu": "europe",
	"asia": "asia",
	"north america": "north america", "na": "north america",
	"south america": "south america", "sa": "south america",
	"middle east": "middle east",
	"africa": "africa",
	"oceania": "oceania", "australia": "oceania",
}

func canonicalRegion(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if canon, ok := regionCanon[key]; ok {
		return canon
	}
	return key
}

// passesFlightFilter enforces the flight vertical filter: a price is
// required, origin must overlap configured preferred origins (when any are
// set), destination must canonicalize to a preferred region, and price must
// not exceed that region's configured max.
func passesFlightFilter(p domain.ExtractedPromo, prefs FlightPreferences) bool {
	if !strings.EqualFold(p.Vertical, "flight") {
		return true
	}
	if p.FlightPrice <= 0 {
		return false
	}
	if len(prefs.Origins) > 0 && !containsFold(prefs.Origins, p.FlightOrigin) {
		return false
	}
	region := canonicalRegion(p.FlightDest)
	if len(prefs.DestinationRegions) > 0 {
		allowed := false
		for _, r := range prefs.DestinationRegions {
			if canonicalRegion(r) == region {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	if max, ok := prefs.MaxPriceUSD[region]; ok && p.FlightPrice > max {
		return false
	}
	return true
}

func containsFold(list []string, target string) bool {
	for _, s := range list {
		if strings.EqualFold(s, target) {
			return true
		}
	}
	return false
}

// FilterPromos applies the shared input gates and the flight filter
// to an extraction result's promo list, used by both PromoMerger and the
// Extractor's own gate pass.
func FilterPromos(promos []domain.ExtractedPromo, prefs FlightPreferences) []domain.ExtractedPromo {
	var out []domain.ExtractedPromo
	for _, p := range promos {
		if !hasSavingsSignal(p) {
			continue
		}
		if !passesFlightFilter(p, prefs) {
			continue
		}
		out = append(out, p)
	}
	return out
}
