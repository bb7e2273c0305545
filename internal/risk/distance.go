package risk

import "math"

const earthRadiusKm = 6371.0

// haversineDistance returns the great-circle distance between two points in
// kilometers.
func haversineDistance(a, b Coordinates) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKm * c
}

// nearestKnownDistance returns the distance in kilometers from loc to the
// closest entry in known. Returns 0 when known is empty; callers treat an
// empty history as "no location baseline yet".
func nearestKnownDistance(loc Coordinates, known []Coordinates) float64 {
	if len(known) == 0 {
		return 0
	}
	min := math.MaxFloat64
	for _, k := range known {
		if d := haversineDistance(loc, k); d < min {
			min = d
		}
	}
	return min
}
