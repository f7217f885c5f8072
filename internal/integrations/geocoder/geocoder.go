package geocoder

import (
	"context"
	"strings"

	"github.com/BearBump/PinBox/internal/models"
)

type Outcome int

const (
	// OutcomeNotFound: the provider answered, but no result carries a pincode.
	OutcomeNotFound Outcome = iota
	OutcomeFound
	// OutcomeProviderError: the provider call itself failed.
	OutcomeProviderError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeProviderError:
		return "provider_error"
	default:
		return "not_found"
	}
}

// Lookup is the result of a geocoding query. It never carries a Go error:
// provider failures are the OutcomeProviderError variant with a Reason.
type Lookup struct {
	Outcome  Outcome
	Pincode  string
	AreaName string
	Coords   *models.Coordinates
	Reason   string
}

func Found(pin, area string, coords *models.Coordinates) Lookup {
	return Lookup{Outcome: OutcomeFound, Pincode: pin, AreaName: area, Coords: coords}
}

func NotFound() Lookup {
	return Lookup{Outcome: OutcomeNotFound}
}

func ProviderError(reason string) Lookup {
	return Lookup{Outcome: OutcomeProviderError, Reason: reason}
}

type Client interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) Lookup
	ForwardGeocode(ctx context.Context, address string) Lookup
}

type Component struct {
	LongName string
	Types    []string
}

type Result struct {
	Components []Component
	Location   *models.Coordinates
}

// areaPickOrder is the preference for a human-readable locality label.
var areaPickOrder = []string{
	"sublocality_level_2",
	"sublocality_level_1",
	"sublocality",
	"neighborhood",
	"administrative_area_level_5",
	"administrative_area_level_4",
	"administrative_area_level_3",
	"locality",
	"postal_town",
	"administrative_area_level_2",
}

// Extract returns the first postal code found across results, the area label of
// the result that carried it and that result's location.
func Extract(results []Result) Lookup {
	for i, r := range results {
		pin := postalCode(r.Components)
		if pin == "" {
			continue
		}
		area := ExtractArea(r.Components)
		if area == "" {
			for j, other := range results {
				if j == i {
					continue
				}
				if area = ExtractArea(other.Components); area != "" {
					break
				}
			}
		}
		return Found(pin, area, r.Location)
	}
	return NotFound()
}

// ExtractArea picks the locality label by areaPickOrder.
func ExtractArea(comps []Component) string {
	byType := make(map[string]string, len(comps))
	for _, c := range comps {
		for _, t := range c.Types {
			if _, ok := byType[t]; !ok && c.LongName != "" {
				byType[t] = c.LongName
			}
		}
	}
	for _, t := range areaPickOrder {
		if v, ok := byType[t]; ok {
			return v
		}
	}
	return ""
}

func postalCode(comps []Component) string {
	for _, c := range comps {
		for _, t := range c.Types {
			if t != "postal_code" {
				continue
			}
			pin := strings.ReplaceAll(strings.TrimSpace(c.LongName), " ", "")
			if models.ValidPincode(pin) {
				return pin
			}
		}
	}
	return ""
}
