package geo

import "math"

// Mean Earth radius in meters.
const earthRadius = 6371000

// Haversine returns the great-circle distance in meters between two WGS84
// coordinate pairs. Identical inputs yield 0.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * (math.Pi / 180)
	lat2Rad := lat2 * (math.Pi / 180)
	deltaLatRad := (lat2 - lat1) * (math.Pi / 180)
	deltaLonRad := (lon2 - lon1) * (math.Pi / 180)

	a := math.Sin(deltaLatRad/2)*math.Sin(deltaLatRad/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLonRad/2)*math.Sin(deltaLonRad/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}
