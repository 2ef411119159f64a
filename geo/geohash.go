// Package geo holds the location helpers used by discovery: geohash
// encoding, great-circle distance and radius based query bounds.
package geo

import (
	"math"
	"strings"
)

// base32 is the geohash alphabet. It skips a, i, l and o.
const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// DefaultPrecision is the geohash length stored on profiles.
const DefaultPrecision = 9

// Encode returns the geohash of lat/lng with the given number of characters.
// Inputs outside [-90,90] x [-180,180] are not validated here.
func Encode(lat, lng float64, precision int) string {
	if precision <= 0 {
		precision = DefaultPrecision
	}

	var sb strings.Builder
	sb.Grow(precision)

	minLat, maxLat := -90.0, 90.0
	minLng, maxLng := -180.0, 180.0
	isLng := true
	bits, idx := 0, 0

	for sb.Len() < precision {
		if isLng {
			mid := (minLng + maxLng) / 2
			if lng >= mid {
				idx = idx*2 + 1
				minLng = mid
			} else {
				idx = idx * 2
				maxLng = mid
			}
		} else {
			mid := (minLat + maxLat) / 2
			if lat >= mid {
				idx = idx*2 + 1
				minLat = mid
			} else {
				idx = idx * 2
				maxLat = mid
			}
		}
		isLng = !isLng
		bits++

		if bits == 5 {
			sb.WriteByte(base32[idx])
			bits, idx = 0, 0
		}
	}
	return sb.String()
}

// Box is the lat/lng rectangle covered by a geohash cell.
type Box struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// Center returns the middle of the box.
func (b Box) Center() Point {
	return Point{Lat: (b.MinLat + b.MaxLat) / 2, Lng: (b.MinLng + b.MaxLng) / 2}
}

// Decode returns the cell covered by hash. ok is false when hash contains a
// character outside the geohash alphabet.
func Decode(hash string) (box Box, ok bool) {
	box = Box{MinLat: -90, MaxLat: 90, MinLng: -180, MaxLng: 180}
	isLng := true
	for i := 0; i < len(hash); i++ {
		idx := strings.IndexByte(base32, hash[i])
		if idx < 0 {
			return Box{}, false
		}
		for bit := 4; bit >= 0; bit-- {
			on := idx>>uint(bit)&1 == 1
			if isLng {
				mid := (box.MinLng + box.MaxLng) / 2
				if on {
					box.MinLng = mid
				} else {
					box.MaxLng = mid
				}
			} else {
				mid := (box.MinLat + box.MaxLat) / 2
				if on {
					box.MinLat = mid
				} else {
					box.MaxLat = mid
				}
			}
			isLng = !isLng
		}
	}
	return box, true
}

// CellSize returns the height and width in degrees of a cell at precision.
func CellSize(precision int) (latDeg, lngDeg float64) {
	totalBits := 5 * precision
	lngBits := (totalBits + 1) / 2
	latBits := totalBits / 2
	return 180 / math.Exp2(float64(latBits)), 360 / math.Exp2(float64(lngBits))
}

// Neighbors returns the up to eight cells of the same precision that touch
// hash. Cells past the poles are omitted, longitudes wrap around.
func Neighbors(hash string) []string {
	box, ok := Decode(hash)
	if !ok || hash == "" {
		return nil
	}
	c := box.Center()
	h := box.MaxLat - box.MinLat
	w := box.MaxLng - box.MinLng

	out := make([]string, 0, 8)
	for _, dy := range []float64{1, 0, -1} {
		for _, dx := range []float64{-1, 0, 1} {
			if dx == 0 && dy == 0 {
				continue
			}
			lat := c.Lat + dy*h
			if lat > 90 || lat < -90 {
				continue
			}
			out = append(out, Encode(lat, wrapLng(c.Lng+dx*w), len(hash)))
		}
	}
	return out
}

// PrecisionForRadius maps a search radius to a geohash length. Larger radii
// give shorter, coarser hashes. CoverPrefixes never uses a finer precision
// than this.
func PrecisionForRadius(radiusKm float64) int {
	switch {
	case radiusKm <= 0.5:
		return 8
	case radiusKm <= 2:
		return 7
	case radiusKm <= 10:
		return 6
	case radiusKm <= 40:
		return 5
	case radiusKm <= 150:
		return 4
	case radiusKm <= 600:
		return 3
	default:
		return 2
	}
}

// coverMargin widens the degree box so rounding in the km/degree conversion
// never drops a point that Haversine would accept.
const coverMargin = 1.05

// CoverPrefixes returns geohash prefixes whose cells together contain every
// point within radiusKm of c. A nil result means the area cannot be bounded
// by prefixes (polar caps, radii spanning half the globe) and callers should
// not restrict by geohash at all.
func CoverPrefixes(c Point, radiusKm float64) []string {
	if radiusKm < 0 {
		radiusKm = 0
	}
	dLat := radiusKm / kmPerDegree * coverMargin
	if c.Lat+dLat >= 90 || c.Lat-dLat <= -90 {
		return nil
	}
	maxAbsLat := math.Max(math.Abs(c.Lat+dLat), math.Abs(c.Lat-dLat))
	dLng := dLat / math.Cos(toRadians(maxAbsLat))
	if dLng >= 180 {
		return nil
	}

	// The center cell and its neighbours contain the whole box as long as
	// a cell is at least as large as the half extent on both axes.
	precision := 0
	for p := min(PrecisionForRadius(radiusKm), DefaultPrecision); p >= 1; p-- {
		h, w := CellSize(p)
		if h >= dLat && w >= dLng {
			precision = p
			break
		}
	}
	if precision == 0 {
		return nil
	}

	center := Encode(c.Lat, c.Lng, precision)
	out := []string{center}
	for _, n := range Neighbors(center) {
		box, _ := Decode(n)
		if box.overlaps(c, dLat, dLng) {
			out = append(out, n)
		}
	}
	return out
}

// overlaps reports whether the cell shares points with the box of half
// extents dLat, dLng around c. Cells are closed at the minimum edge and open
// at the maximum edge, the same way Encode assigns points.
func (b Box) overlaps(c Point, dLat, dLng float64) bool {
	if b.MinLat > c.Lat+dLat || b.MaxLat <= c.Lat-dLat {
		return false
	}
	w := b.MaxLng - b.MinLng
	d := wrapLng(b.MinLng + w/2 - c.Lng)
	return d-w/2 <= dLng && d+w/2 > -dLng
}

// HasAnyPrefix reports whether hash starts with one of prefixes.
func HasAnyPrefix(hash string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(hash, p) {
			return true
		}
	}
	return false
}

func wrapLng(lng float64) float64 {
	for lng >= 180 {
		lng -= 360
	}
	for lng < -180 {
		lng += 360
	}
	return lng
}
