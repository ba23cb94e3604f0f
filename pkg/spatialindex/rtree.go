package spatialindex

import (
	"math"

	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/geo"
	"github.com/tidwall/rtree"
)

// SegmentIndex is an r-tree over the segments of one polyline. Segment i is (path[i], path[i+1]).
type SegmentIndex struct {
	tr   *rtree.RTreeG[int]
	size int
}

func NewSegmentIndex() *SegmentIndex {
	var tr rtree.RTreeG[int]
	return &SegmentIndex{
		tr: &tr,
	}
}

// Build inserts every segment of path with its bounding box expanded by boundingBoxRadius (in km).
func (si *SegmentIndex) Build(path []geo.Coordinate, boundingBoxRadius float64) {
	for i := 0; i+1 < len(path); i++ {
		from, to := path[i], path[i+1]

		lowerFromLat, lowerFromLon := geo.GetDestinationPoint(from.Lat, from.Lon, 225, boundingBoxRadius)
		upperFromLat, upperFromLon := geo.GetDestinationPoint(from.Lat, from.Lon, 45, boundingBoxRadius)

		lowerToLat, lowerToLon := geo.GetDestinationPoint(to.Lat, to.Lon, 225, boundingBoxRadius)
		upperToLat, upperToLon := geo.GetDestinationPoint(to.Lat, to.Lon, 45, boundingBoxRadius)

		minLat := math.Min(lowerFromLat, lowerToLat)
		minLon := math.Min(lowerFromLon, lowerToLon)
		maxLat := math.Max(upperFromLat, upperToLat)
		maxLon := math.Max(upperFromLon, upperToLon)

		si.tr.Insert([2]float64{minLon, minLat}, [2]float64{maxLon, maxLat}, i)
		si.size++
	}
}

func (si *SegmentIndex) Len() int {
	return si.size
}

// SearchWithinRadius returns the segments whose boxes intersect the cap of radiusMeters around q.
func (si *SegmentIndex) SearchWithinRadius(q geo.Coordinate, radiusMeters float64) []int {
	minLat, minLon, maxLat, maxLon := geo.RadiusBound(q, radiusMeters)

	results := make([]int, 0, 8)
	collect := func(min, max [2]float64, seg int) bool {
		results = append(results, seg)
		return true
	}

	if minLon <= maxLon {
		si.tr.Search([2]float64{minLon, minLat}, [2]float64{maxLon, maxLat}, collect)
	} else {
		// cap crosses the antimeridian
		si.tr.Search([2]float64{minLon, minLat}, [2]float64{180, maxLat}, collect)
		si.tr.Search([2]float64{-180, minLat}, [2]float64{maxLon, maxLat}, collect)
	}
	return results
}
