// Package battery computes a device battery level from a sequence of
// charging and usage events.
//
// Every event moves the level by its own magnitude and the running level is
// clamped to [MinLevel, MaxLevel] after each event, starting at InitialLevel.
// All functions are pure and safe for concurrent use.
package battery

// Battery level constants.
const (
	InitialLevel = 50
	MinLevel     = 0
	MaxLevel     = 100
)

// Percentage points gained or lost per event unit.
const (
	chargeRate = 1
	usageRate  = 1
)

// Kind tags an event by the sign of its value.
type Kind int

// Event kinds.
const (
	Neutral Kind = iota
	Charging
	Usage
)

func (k Kind) String() string {
	switch k {
	case Charging:
		return "charging"
	case Usage:
		return "usage"
	default:
		return "neutral"
	}
}

// Classify returns the kind of an event: positive values charge, negative
// values drain and zero does nothing.
func Classify(event int) Kind {
	switch {
	case event > 0:
		return Charging
	case event < 0:
		return Usage
	default:
		return Neutral
	}
}

// Delta maps an event to the signed change it applies to the level.
// Usage events are already negative, so the rate keeps their sign.
func Delta(event int) int {
	switch Classify(event) {
	case Charging:
		return event * chargeRate
	case Usage:
		return event * usageRate
	default:
		return 0
	}
}
