// Package geo computes great-circle distances between coordinates.
package geo

import (
	"fmt"
	"math"
)

const earthRadiusMeters = 6371000.0

// DistanceMeters returns the haversine distance between two points in
// meters. Inputs are not range-checked; call Validate first.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// Validate checks latitude is in [-90, 90] and longitude in [-180, 180].
func Validate(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", lon)
	}
	return nil
}

// Within reports whether distance lies inside the radius. The boundary
// itself counts as inside.
func Within(distance, radius float64) bool {
	return distance <= radius
}
