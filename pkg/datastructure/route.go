package datastructure

import (
	"fmt"
	"time"

	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/geo"
)

type LegType string

const (
	LegPickup      LegType = "pickup"
	LegDestination LegType = "destination"
)

type TripStage string

const (
	StageRequested TripStage = "requested"
	StageAccepted  TripStage = "accepted"
	StagePickup    TripStage = "pickup"
	StagePickedUp  TripStage = "picked_up"
	StageInTransit TripStage = "in_transit"
	StageArrived   TripStage = "arrived"
	StageDropoff   TripStage = "dropoff"
	StageCompleted TripStage = "completed"
	StageCancelled TripStage = "cancelled"
)

type Instruction struct {
	Text           string  `json:"text"`
	DistanceMeters float64 `json:"distance_meters"`
	DurationSec    float64 `json:"duration_sec"`
}

type RouteCandidate struct {
	Index            int              `json:"index"`
	Polyline         []geo.Coordinate `json:"polyline"`
	DistanceMeters   float64          `json:"distance_meters"`
	DurationSec      float64          `json:"duration_sec"`
	FirstInstruction *Instruction     `json:"first_instruction,omitempty"`
}

type RouteOption struct {
	Index          int     `json:"index"`
	DurationSec    float64 `json:"duration_sec"`
	DistanceMeters float64 `json:"distance_meters"`
}

type RouteOptions struct {
	Key        string        `json:"key"`
	LegType    LegType       `json:"leg_type"`
	Candidates []RouteOption `json:"candidates"`
}

type RouteSet struct {
	Key         string           `json:"key"`
	LegType     LegType          `json:"leg_type"`
	Candidates  []RouteCandidate `json:"candidates"`
	ActiveIndex int              `json:"active_index"`
	FetchedAt   time.Time        `json:"fetched_at"`
}

// RouteKey. cache & throttle key: origin/destination quantized to 5 decimals plus the leg type.
func RouteKey(origin, destination geo.Coordinate, leg LegType) string {
	return fmt.Sprintf("%s;%s|%s", geo.QuantizeKey(origin), geo.QuantizeKey(destination), leg)
}

func (rs RouteSet) Active() (RouteCandidate, bool) {
	if rs.ActiveIndex < 0 || rs.ActiveIndex >= len(rs.Candidates) {
		return RouteCandidate{}, false
	}
	return rs.Candidates[rs.ActiveIndex], true
}

func (rs RouteSet) Options() RouteOptions {
	opts := make([]RouteOption, len(rs.Candidates))
	for i, c := range rs.Candidates {
		opts[i] = RouteOption{Index: c.Index, DurationSec: c.DurationSec, DistanceMeters: c.DistanceMeters}
	}
	return RouteOptions{Key: rs.Key, LegType: rs.LegType, Candidates: opts}
}

// WithActiveIndex returns a copy of rs with idx selected; idx outside the candidates falls back to 0.
func (rs RouteSet) WithActiveIndex(idx int) RouteSet {
	if idx < 0 || idx >= len(rs.Candidates) {
		idx = 0
	}
	rs.ActiveIndex = idx
	return rs
}
