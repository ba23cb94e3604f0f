package mapmatcher

import (
	"math"

	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/datastructure"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/geo"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/spatialindex"
)

const (
	DEFAULT_TOLERANCE_METERS = 35.0
	DEFAULT_INDEX_THRESHOLD  = 64 // segments
	SEGMENT_BOX_RADIUS_KM    = 0.01
	MAX_CACHED_INDEXES       = 16
)

type Config struct {
	ToleranceMeters float64
	// polylines with at least IndexThreshold segments are searched through an r-tree
	IndexThreshold   int
	SnapAlternatives bool
}

func DefaultConfig() Config {
	return Config{
		ToleranceMeters:  DEFAULT_TOLERANCE_METERS,
		IndexThreshold:   DEFAULT_INDEX_THRESHOLD,
		SnapAlternatives: true,
	}
}

// MapMatcher projects smoothed positions onto route polylines. Not safe for concurrent use.
type MapMatcher struct {
	cfg     Config
	indexes map[*geo.Coordinate]*spatialindex.SegmentIndex // keyed by the polyline's backing array
}

func New(cfg Config) *MapMatcher {
	return &MapMatcher{
		cfg:     cfg,
		indexes: make(map[*geo.Coordinate]*spatialindex.SegmentIndex),
	}
}

// Snap returns the nearest point of route to pos, or nil when it is farther than the tolerance.
func (mm *MapMatcher) Snap(pos datastructure.SmoothedPosition, route datastructure.RouteCandidate) *datastructure.SnapResult {
	proj, ok := mm.project(pos.Point, route.Polyline)
	if !ok || proj.DistanceMeters > mm.cfg.ToleranceMeters {
		return nil
	}
	return &datastructure.SnapResult{
		Point:          proj.Point,
		DistanceMeters: proj.DistanceMeters,
		CandidateIndex: route.Index,
	}
}

// SnapRouteSet snaps onto the active candidate. When that fails and SnapAlternatives is set, the
// nearest alternate within tolerance is used instead. ActiveIndex is never changed here.
func (mm *MapMatcher) SnapRouteSet(pos datastructure.SmoothedPosition, rs datastructure.RouteSet) *datastructure.SnapResult {
	active, ok := rs.Active()
	if !ok {
		return nil
	}
	if snap := mm.Snap(pos, active); snap != nil || !mm.cfg.SnapAlternatives {
		return snap
	}

	var best *datastructure.SnapResult
	for i, cand := range rs.Candidates {
		if i == rs.ActiveIndex {
			continue
		}
		snap := mm.Snap(pos, cand)
		if snap != nil && (best == nil || snap.DistanceMeters < best.DistanceMeters) {
			best = snap
		}
	}
	return best
}

func (mm *MapMatcher) project(p geo.Coordinate, path []geo.Coordinate) (geo.Projection, bool) {
	if len(path) < 2 {
		return geo.Projection{}, false
	}
	if len(path)-1 < mm.cfg.IndexThreshold {
		proj, err := geo.ProjectOntoPolyline(p, path)
		return proj, err == nil
	}

	idx := mm.indexFor(path)
	best := geo.Projection{DistanceMeters: math.Inf(1), SegmentIndex: -1}
	for _, seg := range idx.SearchWithinRadius(p, mm.cfg.ToleranceMeters) {
		proj := geo.ProjectOntoSegment(p, path[seg], path[seg+1])
		if proj.DistanceMeters < best.DistanceMeters {
			proj.SegmentIndex = seg
			best = proj
		}
	}
	return best, best.SegmentIndex >= 0
}

func (mm *MapMatcher) indexFor(path []geo.Coordinate) *spatialindex.SegmentIndex {
	key := &path[0]
	if idx, ok := mm.indexes[key]; ok && idx.Len() == len(path)-1 {
		return idx
	}
	if len(mm.indexes) >= MAX_CACHED_INDEXES {
		mm.Reset()
	}
	idx := spatialindex.NewSegmentIndex()
	idx.Build(path, SEGMENT_BOX_RADIUS_KM)
	mm.indexes[key] = idx
	return idx
}

// Reset drops cached segment indexes, e.g. when a new RouteSet replaces the old one.
func (mm *MapMatcher) Reset() {
	mm.indexes = make(map[*geo.Coordinate]*spatialindex.SegmentIndex)
}
