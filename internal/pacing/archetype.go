// Package pacing computes human-plausible delay schedules from page
// complexity and a behavioral archetype. Plans are pure data; the Executor
// performs the actual waits.
package pacing

// Archetype bundles the timing distributions of one behavioral persona.
// Durations are millisecond means/deviations for normal sampling.
type Archetype struct {
	Name string

	TypingMeanMs   float64
	TypingStdDevMs float64

	// ScrollVelocity is viewport heights per second.
	ScrollVelocity float64

	// MouseCurvature shapes pointer paths; consumed by the navigation layer.
	MouseCurvature float64

	PauseMeanMs   float64
	PauseStdDevMs float64

	// WordsPerMinute drives the reading-pause estimate.
	WordsPerMinute float64
}

// The built-in personas.
var (
	DeliberateReader = Archetype{
		Name:           "deliberate-reader",
		TypingMeanMs:   180,
		TypingStdDevMs: 60,
		ScrollVelocity: 0.6,
		MouseCurvature: 0.8,
		PauseMeanMs:    1400,
		PauseStdDevMs:  500,
		WordsPerMinute: 210,
	}
	FastNavigator = Archetype{
		Name:           "fast-navigator",
		TypingMeanMs:   90,
		TypingStdDevMs: 25,
		ScrollVelocity: 1.8,
		MouseCurvature: 0.3,
		PauseMeanMs:    450,
		PauseStdDevMs:  150,
		WordsPerMinute: 480,
	}
	MobileTouch = Archetype{
		Name:           "mobile-touch",
		TypingMeanMs:   220,
		TypingStdDevMs: 80,
		ScrollVelocity: 1.1,
		MouseCurvature: 0.5,
		PauseMeanMs:    900,
		PauseStdDevMs:  350,
		WordsPerMinute: 260,
	}
)

// ByName resolves an archetype, defaulting to DeliberateReader.
func ByName(name string) Archetype {
	switch name {
	case FastNavigator.Name:
		return FastNavigator
	case MobileTouch.Name:
		return MobileTouch
	default:
		return DeliberateReader
	}
}

// ForDevice picks the persona that matches a device class string.
func ForDevice(deviceClass string) Archetype {
	if deviceClass == "mobile" || deviceClass == "tablet" {
		return MobileTouch
	}
	return DeliberateReader
}
