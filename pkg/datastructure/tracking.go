package datastructure

import (
	"time"

	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/geo"
)

// RawFix is one GPS observation as delivered by the transport layer.
type RawFix struct {
	Point      geo.Coordinate
	ObservedAt time.Time
}

func NewRawFix(lat, lon float64, observedAt time.Time) RawFix {
	return RawFix{Point: geo.NewCoordinate(lat, lon), ObservedAt: observedAt}
}

type SmoothedPosition struct {
	Point      geo.Coordinate `json:"point"`
	SpeedMps   float64        `json:"speed_mps"`
	BearingDeg float64        `json:"bearing_deg"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

type SnapResult struct {
	Point          geo.Coordinate `json:"point"`
	DistanceMeters float64        `json:"distance_meters"`
	CandidateIndex int            `json:"candidate_index"`
}

type NavigationState struct {
	LegType              LegType `json:"leg_type"`
	ActiveCandidateIndex int     `json:"active_candidate_index"`
	EtaMinutes           int     `json:"eta_minutes"`
	Instruction          *string `json:"instruction,omitempty"`
	Urgent               bool    `json:"urgent"`
}

func (n NavigationState) Equal(o NavigationState) bool {
	if n.LegType != o.LegType || n.ActiveCandidateIndex != o.ActiveCandidateIndex ||
		n.EtaMinutes != o.EtaMinutes || n.Urgent != o.Urgent {
		return false
	}
	if n.Instruction == nil || o.Instruction == nil {
		return n.Instruction == nil && o.Instruction == nil
	}
	return *n.Instruction == *o.Instruction
}
