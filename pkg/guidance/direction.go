package guidance

import (
	"fmt"
	"math"
	"strings"
)

const (
	UNKNOWN            = -9999
	U_TURN_UNKNOWN     = -999
	U_TURN_LEFT        = -8
	KEEP_LEFT          = -7
	TURN_SHARP_LEFT    = -3
	TURN_LEFT          = -2
	TURN_SLIGHT_LEFT   = -1
	CONTINUE_ON_STREET = 0
	TURN_SLIGHT_RIGHT  = 1
	TURN_RIGHT         = 2
	TURN_SHARP_RIGHT   = 3
	FINISH             = 4
	USE_ROUNDABOUT     = 6
	KEEP_RIGHT         = 7
	U_TURN_RIGHT       = 8
	START              = 101
)

// Maneuver is a provider step maneuver (OSRM vocabulary: type + modifier).
type Maneuver struct {
	Type         string
	Modifier     string
	StreetName   string
	BearingAfter float64
	Exit         int
}

// TurnSign maps a provider maneuver to a turn sign.
func TurnSign(m Maneuver) int {
	switch m.Type {
	case "depart":
		return START
	case "arrive":
		return FINISH
	case "roundabout", "rotary", "roundabout turn", "exit roundabout", "exit rotary":
		return USE_ROUNDABOUT
	case "fork", "merge", "on ramp", "off ramp":
		if strings.Contains(m.Modifier, "left") {
			return KEEP_LEFT
		}
		if strings.Contains(m.Modifier, "right") {
			return KEEP_RIGHT
		}
		return CONTINUE_ON_STREET
	}

	switch m.Modifier {
	case "uturn":
		return U_TURN_UNKNOWN
	case "sharp left":
		return TURN_SHARP_LEFT
	case "left":
		return TURN_LEFT
	case "slight left":
		return TURN_SLIGHT_LEFT
	case "straight", "":
		return CONTINUE_ON_STREET
	case "slight right":
		return TURN_SLIGHT_RIGHT
	case "right":
		return TURN_RIGHT
	case "sharp right":
		return TURN_SHARP_RIGHT
	default:
		return UNKNOWN
	}
}

func BearingToCompass(bearing float64) string {
	bearing = math.Mod(bearing+360, 360)
	if bearing < 22.5 {
		return "North"
	} else if bearing < 67.5 {
		return "North East"
	} else if bearing < 112.5 {
		return "East"
	} else if bearing < 157.5 {
		return "South East"
	} else if bearing < 202.5 {
		return "South"
	} else if bearing < 247.5 {
		return "South West"
	} else if bearing < 292.5 {
		return "West"
	} else if bearing < 337.5 {
		return "North West"
	} else {
		return "North"
	}
}

// Describe renders the human readable instruction of m. clockwise is the roundabout direction
// (clockwise in left-hand traffic countries).
func Describe(m Maneuver, clockwise bool) string {
	streetName := m.StreetName
	sign := TurnSign(m)
	var description string

	switch sign {
	case CONTINUE_ON_STREET:
		if isEmpty(streetName) {
			description = "Continue"
		} else {
			description = fmt.Sprintf("Continue onto %s", streetName)
		}
	case START:
		compassDir := BearingToCompass(m.BearingAfter)
		if isEmpty(streetName) {
			description = fmt.Sprintf("Head %s", compassDir)
		} else {
			description = fmt.Sprintf("Head %s toward %s", compassDir, streetName)
		}
	case FINISH:
		description = "you have arrived at your destination"
	default:
		dir := getDirectionDescription(sign, m.Exit, clockwise)
		if dir == "" {
			description = fmt.Sprintf("unknown  %d", sign)
		} else {
			if isEmpty(streetName) || sign == USE_ROUNDABOUT {
				description = dir
			} else {
				switch dir {
				case "Keep left":
					description = fmt.Sprintf("%s to continue on %s", dir, streetName)
				case "Keep right":
					description = fmt.Sprintf("%s to continue on %s", dir, streetName)
				default:
					description = fmt.Sprintf("%s onto %s", dir, streetName)
				}
			}
		}
	}

	return description
}

func isEmpty(str string) bool {
	return strings.TrimSpace(str) == ""
}

func getDirectionDescription(sign int, exit int, clockwise bool) string {
	switch sign {
	case U_TURN_UNKNOWN:
		return "Make U-turn"
	case U_TURN_RIGHT:
		return "Make U-turn right"
	case U_TURN_LEFT:
		return "Make U-turn left"
	case KEEP_LEFT:
		return "Keep left"
	case TURN_SHARP_LEFT:
		return "Turn sharp left"
	case TURN_LEFT:
		return "Turn left"
	case TURN_SLIGHT_LEFT:
		return "Turn slight left"
	case TURN_SLIGHT_RIGHT:
		return "Turn slight right"
	case TURN_RIGHT:
		return "Turn right"
	case TURN_SHARP_RIGHT:
		return "Turn sharp right"
	case KEEP_RIGHT:
		return "Keep right"
	case USE_ROUNDABOUT:
		if exit <= 0 {
			return "Enter the roundabout"
		}
		roundaboutDir := "clockwise"
		if !clockwise {
			roundaboutDir = "counter-clockwise"
		}
		return fmt.Sprintf("At Roundabout, take the exit point %d %s", exit, roundaboutDir)
	default:
		return ""
	}
}
