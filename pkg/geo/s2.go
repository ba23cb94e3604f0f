package geo

import (
	"fmt"
	"math"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

// Valid reports whether c is a finite coordinate with -90<=lat<=90 and -180<=lon<=180.
func Valid(c Coordinate) bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lon, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// QuantizeKey renders c rounded to 5 decimal places (~1.1 m).
func QuantizeKey(c Coordinate) string {
	return fmt.Sprintf("%.5f,%.5f", c.Lat, c.Lon)
}

// RadiusBound returns the lat/lon rectangle enclosing the spherical cap of radiusMeters around c.
func RadiusBound(c Coordinate, radiusMeters float64) (minLat, minLon, maxLat, maxLon float64) {
	center := s2.PointFromLatLng(s2.LatLngFromDegrees(c.Lat, c.Lon))
	capAngle := s1.Angle(radiusMeters / earthRadiusM)
	rect := s2.CapFromCenterAngle(center, capAngle).RectBound()
	return rect.Lat.Lo * 180 / math.Pi, rect.Lng.Lo * 180 / math.Pi,
		rect.Lat.Hi * 180 / math.Pi, rect.Lng.Hi * 180 / math.Pi
}
