package utils

import (
	"math"
)

// Location represents a geographical coordinate
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NewLocation returns a location when both coordinates are present and valid
func NewLocation(lat, lng *float64) (Location, bool) {
	if lat == nil || lng == nil || !IsLocationValid(*lat, *lng) {
		return Location{}, false
	}
	return Location{Latitude: *lat, Longitude: *lng}, true
}

// HaversineDistance calculates the distance between two points on Earth using the Haversine formula
// Returns distance in kilometers
func HaversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371 // Earth's radius in kilometers

	lat1Rad := lat1 * math.Pi / 180
	lon1Rad := lon1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	lon2Rad := lon2 * math.Pi / 180

	deltaLat := lat2Rad - lat1Rad
	deltaLon := lon2Rad - lon1Rad

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return R * c
}

// DistanceKm returns the distance between two locations
func (l Location) DistanceKm(other Location) float64 {
	return HaversineDistance(l.Latitude, l.Longitude, other.Latitude, other.Longitude)
}

// IsLocationValid checks if the provided coordinates are valid
func IsLocationValid(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// GetMaxServiceRadius returns the largest service radius a repairer may set, in kilometers
func GetMaxServiceRadius() float64 {
	return 50.0
}

// ValidateServiceRadius checks if the service radius is within acceptable limits
func ValidateServiceRadius(radius float64) bool {
	return radius > 0 && radius <= GetMaxServiceRadius()
}
