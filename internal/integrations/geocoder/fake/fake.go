package fake

import (
	"context"
	"math"
	"strings"

	"github.com/BearBump/PinBox/internal/integrations/geocoder"
	"github.com/BearBump/PinBox/internal/models"
)

// Place is one known locality of the fake geocoder.
type Place struct {
	Coords  models.Coordinates
	Pincode string
	Area    string
	Address string
}

// FakeClient: локальная заглушка геокодера для демо и тестов без ключа Google.
// Reverse lookups snap to the nearest place within MaxDistanceDeg.
type FakeClient struct {
	Places         []Place
	MaxDistanceDeg float64
}

func DefaultPlaces() []Place {
	return []Place{
		{Coords: models.Coordinates{Lat: 22.5726, Lng: 88.3639}, Pincode: "700001", Area: "B.B.D. Bagh", Address: "B.B.D. Bagh, Kolkata"},
		{Coords: models.Coordinates{Lat: 22.5535, Lng: 88.3520}, Pincode: "700016", Area: "Park Street", Address: "Park Street, Kolkata"},
		{Coords: models.Coordinates{Lat: 28.6315, Lng: 77.2167}, Pincode: "110001", Area: "Connaught Place", Address: "Connaught Place, New Delhi"},
		{Coords: models.Coordinates{Lat: 19.0760, Lng: 72.8777}, Pincode: "400001", Area: "Fort", Address: "Fort, Mumbai"},
	}
}

func New() *FakeClient {
	return &FakeClient{Places: DefaultPlaces(), MaxDistanceDeg: 0.05}
}

func (f *FakeClient) ReverseGeocode(ctx context.Context, lat, lng float64) geocoder.Lookup {
	if err := ctx.Err(); err != nil {
		return geocoder.ProviderError(err.Error())
	}
	best := -1
	bestDist := math.MaxFloat64
	for i, p := range f.Places {
		d := math.Hypot(p.Coords.Lat-lat, p.Coords.Lng-lng)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 || bestDist > f.MaxDistanceDeg {
		return geocoder.NotFound()
	}
	p := f.Places[best]
	return geocoder.Found(p.Pincode, p.Area, &models.Coordinates{Lat: p.Coords.Lat, Lng: p.Coords.Lng})
}

func (f *FakeClient) ForwardGeocode(ctx context.Context, address string) geocoder.Lookup {
	if err := ctx.Err(); err != nil {
		return geocoder.ProviderError(err.Error())
	}
	needle := strings.ToLower(strings.TrimSpace(address))
	if needle == "" {
		return geocoder.NotFound()
	}
	for _, p := range f.Places {
		if strings.Contains(strings.ToLower(p.Address), needle) || strings.Contains(needle, p.Pincode) {
			return geocoder.Found(p.Pincode, p.Area, &models.Coordinates{Lat: p.Coords.Lat, Lng: p.Coords.Lng})
		}
	}
	return geocoder.NotFound()
}
