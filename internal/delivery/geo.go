package delivery

import "math"

const earthRadiusMiles = 3958.8

// HaversineMiles returns the great-circle distance between two coordinates
// in statute miles.
func HaversineMiles(a, b Coord) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMiles * math.Asin(math.Min(1, math.Sqrt(h)))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// coordsClose reports whether two coordinates are near enough to be the same
// street address. Used to reject a stale quote fetched for a different
// dropoff than the one being charged for.
func coordsClose(a, b Coord) bool {
	const epsilonDeg = 0.0005 // roughly 50 meters
	return math.Abs(a.Lat-b.Lat) <= epsilonDeg && math.Abs(a.Lng-b.Lng) <= epsilonDeg
}
