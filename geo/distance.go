package geo

import (
	"fmt"
	"math"
)

// EarthRadiusKm is the mean Earth radius used by Haversine.
const EarthRadiusKm = 6371.0

// kmPerDegree is the great-circle length of one degree of arc.
const kmPerDegree = EarthRadiusKm * math.Pi / 180

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether p lies inside the latitude/longitude ranges.
func (p Point) Valid() bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lng) &&
		p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

func toRadians(deg float64) float64 {
	return deg * (math.Pi / 180)
}

// DistanceKm is the Haversine distance between a and b in kilometres.
func DistanceKm(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}

// WithinRadius reports whether point is at most radiusKm from center.
func WithinRadius(center, point Point, radiusKm float64) bool {
	return DistanceKm(center, point) <= radiusKm
}

// FormatDistance renders a distance for display: metres below 1 km, one
// decimal up to 10 km, whole kilometres above.
func FormatDistance(km float64) string {
	if km < 1 {
		return fmt.Sprintf("%dm away", int(math.Round(km*1000)))
	}
	if km < 10 {
		return fmt.Sprintf("%.1fkm away", km)
	}
	return fmt.Sprintf("%dkm away", int(math.Round(km)))
}
