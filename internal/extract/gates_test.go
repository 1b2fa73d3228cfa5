package extract

import (
	"testing"

	"github.com/ignite/promo-digest/internal/domain"
)

func TestHasSavingsSignal(t *testing.T) {
	tests := []struct {
		name string
		p    domain.ExtractedPromo
		want bool
	}{
		{"percent off", domain.ExtractedPromo{PercentOff: 20}, true},
		{"amount off", domain.ExtractedPromo{AmountOff: 10}, true},
		{"has code", domain.ExtractedPromo{Code: "SAVE10"}, true},
		{"flight with price", domain.ExtractedPromo{Vertical: "flight", FlightPrice: 199}, true},
		{"discount text mentions sale", domain.ExtractedPromo{DiscountText: "Summer Sale"}, true},
		{"free text mentions numeric discount", domain.ExtractedPromo{FreeText: "Save $15 today"}, true},
		{"free shipping alone is not a savings signal", domain.ExtractedPromo{FreeText: "Free shipping on all orders"}, false},
		{"empty promo has no signal", domain.ExtractedPromo{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hasSavingsSignal(tt.p); got != tt.want {
				t.Errorf("hasSavingsSignal(%+v) = %v, want %v", tt.p, got, tt.want)
			}
		})
	}
}

func TestPassesFlightFilter(t *testing.T) {
	prefs := FlightPreferences{
		Origins:            []string{"JFK", "EWR"},
		DestinationRegions: []string{"Europe"},
		MaxPriceUSD:        map[string]float64{"europe": 500},
	}

	tests := []struct {
		name string
		p    domain.ExtractedPromo
		want bool
	}{
		{"non-flight vertical always passes", domain.ExtractedPromo{Vertical: "retail"}, true},
		{"flight with no price fails", domain.ExtractedPromo{Vertical: "flight", FlightPrice: 0}, false},
		{"flight from disallowed origin fails", domain.ExtractedPromo{Vertical: "flight", FlightPrice: 300, FlightOrigin: "LAX", FlightDest: "Paris"}, false},
		{"flight to disallowed region fails", domain.ExtractedPromo{Vertical: "flight", FlightPrice: 300, FlightOrigin: "JFK", FlightDest: "Tokyo"}, false},
		{"flight over max price fails", domain.ExtractedPromo{Vertical: "flight", FlightPrice: 600, FlightOrigin: "JFK", FlightDest: "Europe"}, false},
		{"flight within all preferences passes", domain.ExtractedPromo{Vertical: "flight", FlightPrice: 300, FlightOrigin: "JFK", FlightDest: "Europe"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := passesFlightFilter(tt.p, prefs); got != tt.want {
				t.Errorf("passesFlightFilter(%+v) = %v, want %v", tt.p, got, tt.want)
			}
		})
	}
}

func TestPassesFlightFilterWithNoPreferencesConfiguredOnlyRequiresPrice(t *testing.T) {
	p := domain.ExtractedPromo{Vertical: "flight", FlightPrice: 9999, FlightOrigin: "XYZ", FlightDest: "Nowhere"}
	if !passesFlightFilter(p, FlightPreferences{}) {
		t.Error("flight promo should pass when no origin/region/price preferences are configured")
	}
}

func TestFilterPromosDropsNonSavingsAndDisallowedFlights(t *testing.T) {
	prefs := FlightPreferences{DestinationRegions: []string{"Europe"}}
	promos := []domain.ExtractedPromo{
		{Headline: "20% off", PercentOff: 20},
		{Headline: "free shipping only", FreeText: "free shipping"},
		{Headline: "cheap flight", Vertical: "flight", FlightPrice: 100, FlightDest: "Tokyo"},
		{Headline: "europe flight", Vertical: "flight", FlightPrice: 100, FlightDest: "Europe"},
	}
	got := FilterPromos(promos, prefs)
	if len(got) != 2 {
		t.Fatalf("FilterPromos() returned %d promos, want 2: %+v", len(got), got)
	}
	if got[0].Headline != "20% off" || got[1].Headline != "europe flight" {
		t.Errorf("FilterPromos() kept unexpected promos: %+v", got)
	}
}
