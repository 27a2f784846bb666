package battery

// Limit reports which bound, if any, a step was clamped against.
type Limit int

// Limits.
const (
	LimitNone Limit = iota
	LimitUpper
	LimitLower
)

func (l Limit) String() string {
	switch l {
	case LimitUpper:
		return "upper"
	case LimitLower:
		return "lower"
	default:
		return "none"
	}
}

// Step captures the intermediate values of a single transition.
type Step struct {
	Index    int  // position of the event in the sequence
	Event    int  // raw event value
	Kind     Kind // charging, usage or neutral
	Previous int  // level before the event
	Delta    int  // signed change derived from the event
	Uncapped int  // Previous + Delta, before clamping
	Level    int  // clamped level after the event
}

// Limit returns the bound the uncapped level was pulled back to.
func (s Step) Limit() Limit {
	switch {
	case s.Uncapped > MaxLevel && s.Level == MaxLevel:
		return LimitUpper
	case s.Uncapped < MinLevel && s.Level == MinLevel:
		return LimitLower
	default:
		return LimitNone
	}
}

// Apply runs one transition from level with event.
func Apply(level, event int) Step {
	delta := Delta(event)
	uncapped := Accumulate(level, delta)
	return Step{
		Event:    event,
		Kind:     Classify(event),
		Previous: level,
		Delta:    delta,
		Uncapped: uncapped,
		Level:    Clamp(uncapped),
	}
}

// Walk folds events from InitialLevel and calls visit after every step.
// visit may be nil. Each step starts from the clamped level of the previous
// one, so saturation is never corrected retroactively.
func Walk(events []int, visit func(Step)) int {
	level := InitialLevel
	for i, event := range events {
		step := Apply(level, event)
		step.Index = i
		level = step.Level
		if visit != nil {
			visit(step)
		}
	}
	return level
}

// Process returns the final level after applying events in order.
// A nil or empty sequence yields InitialLevel.
func Process(events []int) int {
	return Walk(events, nil)
}

// Trace returns every step of the fold over events.
func Trace(events []int) []Step {
	steps := make([]Step, 0, len(events))
	Walk(events, func(s Step) {
		steps = append(steps, s)
	})
	return steps
}
