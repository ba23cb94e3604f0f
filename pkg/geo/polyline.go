package geo

import (
	"fmt"

	"github.com/twpayne/go-polyline"
)

// PoylineFromCoords. encode coords as a google encoded polyline (precision 5)
func PoylineFromCoords(path []Coordinate) string {
	coords := make([][]float64, 0, len(path))
	for _, p := range path {
		coords = append(coords, []float64{p.Lat, p.Lon})
	}
	return string(polyline.EncodeCoords(coords))
}

// CoordsFromPolyline. decode a google encoded polyline (precision 5)
func CoordsFromPolyline(encoded string) ([]Coordinate, error) {
	coords, rest, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode polyline: %w", err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("decode polyline: %d trailing bytes", len(rest))
	}

	path := make([]Coordinate, 0, len(coords))
	for _, c := range coords {
		path = append(path, NewCoordinate(c[0], c[1]))
	}
	return path, nil
}
