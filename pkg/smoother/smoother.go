package smoother

import (
	"time"

	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/datastructure"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/geo"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/util"
)

// SpeedBand applies Alpha to fixes whose implied speed is below MaxSpeedMps.
type SpeedBand struct {
	MaxSpeedMps float64
	Alpha       float64
}

type Config struct {
	MinDtSec          float64
	MaxDtSec          float64
	DeadbandSpeedMps  float64
	DeadbandDistanceM float64
	Bands             []SpeedBand // ascending MaxSpeedMps
	FastAlpha         float64     // speeds above the last band
}

func DefaultConfig() Config {
	return Config{
		MinDtSec:          0.2,
		MaxDtSec:          5.0,
		DeadbandSpeedMps:  1.0,
		DeadbandDistanceM: 1.5,
		Bands: []SpeedBand{
			{MaxSpeedMps: 1, Alpha: 0.12},
			{MaxSpeedMps: 5, Alpha: 0.22},
			{MaxSpeedMps: 12, Alpha: 0.35},
		},
		FastAlpha: 0.55,
	}
}

/*
Smoother. adaptive exponential filter over raw gps fixes.

slow fixes are smoothed heavily (less jitter), fast fixes are trusted more (less lag). fixes that
imply almost no movement are treated as jitter and never move the published position.
*/
type Smoother struct {
	cfg Config

	seeded       bool
	lastRawPoint geo.Coordinate
	lastFixAt    time.Time
	current      datastructure.SmoothedPosition
}

func New(cfg Config) *Smoother {
	return &Smoother{cfg: cfg}
}

// Ingest feeds one fix. published is false when the fix was dropped (invalid) or absorbed by the
// deadband; pos is then the unchanged previous position.
func (s *Smoother) Ingest(fix datastructure.RawFix) (pos datastructure.SmoothedPosition, published bool) {
	if !geo.Valid(fix.Point) {
		return s.current, false
	}

	if !s.seeded {
		s.seeded = true
		s.lastRawPoint = fix.Point
		s.lastFixAt = fix.ObservedAt
		s.current = datastructure.SmoothedPosition{
			Point:     fix.Point,
			UpdatedAt: fix.ObservedAt,
		}
		return s.current, true
	}

	// out-of-order and duplicate timestamps clamp to MinDtSec
	dtSec := util.Clamp(fix.ObservedAt.Sub(s.lastFixAt).Seconds(), s.cfg.MinDtSec, s.cfg.MaxDtSec)
	distM := geo.DistanceMeters(s.lastRawPoint, fix.Point)
	speed := distM / dtSec

	prevRaw := s.lastRawPoint
	s.lastRawPoint = fix.Point
	s.lastFixAt = fix.ObservedAt

	if speed < s.cfg.DeadbandSpeedMps && distM < s.cfg.DeadbandDistanceM {
		return s.current, false
	}

	alpha := s.alphaFor(speed)
	s.current = datastructure.SmoothedPosition{
		Point:      geo.Lerp(s.current.Point, fix.Point, alpha),
		SpeedMps:   speed,
		BearingDeg: geo.BearingDegrees(prevRaw, fix.Point),
		UpdatedAt:  fix.ObservedAt,
	}
	return s.current, true
}

func (s *Smoother) alphaFor(speed float64) float64 {
	for _, band := range s.cfg.Bands {
		if speed < band.MaxSpeedMps {
			return band.Alpha
		}
	}
	return s.cfg.FastAlpha
}

func (s *Smoother) Current() (datastructure.SmoothedPosition, bool) {
	return s.current, s.seeded
}

func (s *Smoother) Reset() {
	*s = Smoother{cfg: s.cfg}
}
