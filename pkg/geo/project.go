package geo

import (
	"errors"
	"math"

	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/util"
)

var ErrNoProjection = errors.New("polyline needs at least 2 points")

type Projection struct {
	Point          Coordinate
	DistanceMeters float64
	SegmentIndex   int // index i of the segment (polyline[i], polyline[i+1])
}

// equirectangular frame centred on a reference latitude. x grows east, y grows north, both in meters.
type localFrame struct {
	origin Coordinate
	cosLat float64
}

func newLocalFrame(origin Coordinate) localFrame {
	return localFrame{origin: origin, cosLat: math.Cos(util.DegreeToRadians(origin.Lat))}
}

func (f localFrame) toXY(c Coordinate) (float64, float64) {
	x := util.DegreeToRadians(c.Lon-f.origin.Lon) * f.cosLat * earthRadiusM
	y := util.DegreeToRadians(c.Lat-f.origin.Lat) * earthRadiusM
	return x, y
}

func (f localFrame) fromXY(x, y float64) Coordinate {
	lat := f.origin.Lat + util.RadiansToDegree(y/earthRadiusM)
	lon := f.origin.Lon
	if f.cosLat > 1e-12 {
		lon += util.RadiansToDegree(x / (earthRadiusM * f.cosLat))
	}
	return NewCoordinate(lat, lon)
}

/*
ProjectOntoSegment. perpendicular foot of p on segment (a,b) in a local equirectangular projection
centred on p. valid for segments up to a few kilometers. the foot is clamped to the segment endpoints.
*/
func ProjectOntoSegment(p, a, b Coordinate) Projection {
	frame := newLocalFrame(p)
	ax, ay := frame.toXY(a)
	bx, by := frame.toXY(b)

	dx, dy := bx-ax, by-ay
	segLen2 := dx*dx + dy*dy

	t := 0.0
	if segLen2 > 0 {
		// p is the frame origin, so (p - a) = (-ax, -ay)
		t = util.Clamp((-ax*dx-ay*dy)/segLen2, 0.0, 1.0)
	}

	fx, fy := ax+t*dx, ay+t*dy
	return Projection{
		Point:          frame.fromXY(fx, fy),
		DistanceMeters: math.Hypot(fx, fy),
	}
}

// ProjectOntoPolyline returns the closest perpendicular foot of p over all segments of polyline.
func ProjectOntoPolyline(p Coordinate, polyline []Coordinate) (Projection, error) {
	if len(polyline) < 2 {
		return Projection{}, ErrNoProjection
	}

	best := Projection{DistanceMeters: math.Inf(1), SegmentIndex: -1}
	for i := 0; i+1 < len(polyline); i++ {
		proj := ProjectOntoSegment(p, polyline[i], polyline[i+1])
		if proj.DistanceMeters < best.DistanceMeters {
			proj.SegmentIndex = i
			best = proj
		}
	}
	return best, nil
}
