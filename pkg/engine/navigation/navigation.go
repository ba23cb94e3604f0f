package navigation

import (
	"math"

	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/datastructure"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/util"
)

const (
	URGENT_ETA_MINUTES = 5
)

// LegForStage maps a trip stage to the leg being navigated. Once the passenger is on board the
// driver heads for the destination; every earlier stage (and unknown ones) targets the pickup.
func LegForStage(stage datastructure.TripStage) datastructure.LegType {
	switch stage {
	case datastructure.StagePickedUp, datastructure.StageInTransit, datastructure.StageArrived,
		datastructure.StageDropoff, datastructure.StageCompleted:
		return datastructure.LegDestination
	default:
		return datastructure.LegPickup
	}
}

// EtaMinutes rounds durationSec to whole minutes, half away from zero, never below 1.
func EtaMinutes(durationSec float64) int {
	eta := int(math.Round(util.SecondsToMinutes(durationSec)))
	if eta < 1 {
		return 1
	}
	return eta
}

// Select derives the navigation state from the active candidate of rs.
func Select(rs datastructure.RouteSet) (datastructure.NavigationState, bool) {
	active, ok := rs.Active()
	if !ok {
		return datastructure.NavigationState{}, false
	}

	eta := EtaMinutes(active.DurationSec)
	state := datastructure.NavigationState{
		LegType:              rs.LegType,
		ActiveCandidateIndex: rs.ActiveIndex,
		EtaMinutes:           eta,
		Urgent:               eta <= URGENT_ETA_MINUTES,
	}
	if active.FirstInstruction != nil && active.FirstInstruction.Text != "" {
		text := active.FirstInstruction.Text
		state.Instruction = &text
	}
	return state, true
}

// Selector remembers the last state handed out so callers only publish real changes.
type Selector struct {
	last    datastructure.NavigationState
	hasLast bool
}

func NewSelector() *Selector {
	return &Selector{}
}

// Update recomputes the state for rs. changed is false when rs has no candidates or the state
// equals the previously returned one.
func (s *Selector) Update(rs datastructure.RouteSet) (state datastructure.NavigationState, changed bool) {
	state, ok := Select(rs)
	if !ok {
		return state, false
	}
	if s.hasLast && s.last.Equal(state) {
		return state, false
	}
	s.last, s.hasLast = state, true
	return state, true
}

func (s *Selector) Last() (datastructure.NavigationState, bool) {
	return s.last, s.hasLast
}

func (s *Selector) Reset() {
	s.last, s.hasLast = datastructure.NavigationState{}, false
}
