package pacing

import (
	"math/rand"
	"sync"
	"time"
)

// Reading-pause bounds regardless of page size or persona.
const (
	minReadingPause = 2 * time.Second
	maxReadingPause = 15 * time.Second
)

// Complexity is a rough page-weight estimate fed back from extraction.
type Complexity struct {
	Elements   int
	TextLength int
	Images     int
}

// Words approximates word count from text length.
func (c Complexity) Words() int {
	const avgWordLen = 6
	return c.TextLength / avgWordLen
}

// Plan is the timing schedule for one navigation. All values are sampled,
// so repeated runs against the same target never share a timing signature.
type Plan struct {
	Archetype    string
	PreDelay     time.Duration
	ScrollDelays []time.Duration
	ReadingPause time.Duration
}

// Total sums every wait in the plan.
func (p Plan) Total() time.Duration {
	total := p.PreDelay + p.ReadingPause
	for _, d := range p.ScrollDelays {
		total += d
	}
	return total
}

// Engine samples pacing plans. No failure modes; it only produces data.
type Engine struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewEngine constructs an Engine seeded for reproducible tests.
func NewEngine(seed int64) *Engine {
	return &Engine{rng: rand.New(rand.NewSource(seed))}
}

// Plan computes the schedule for one navigation of a page with the given
// complexity under the given persona.
func (e *Engine) Plan(a Archetype, c Complexity) Plan {
	e.mu.Lock()
	defer e.mu.Unlock()

	pre := e.sample(a.PauseMeanMs, a.PauseStdDevMs)

	scrollSteps := e.scrollSteps(c)
	stepDelay := time.Duration(float64(time.Second) / maxFloat(a.ScrollVelocity, 0.1))
	delays := make([]time.Duration, 0, scrollSteps)
	for range scrollSteps {
		jitter := 0.75 + e.rng.Float64()*0.5
		delays = append(delays, time.Duration(float64(stepDelay)*jitter))
	}

	return Plan{
		Archetype:    a.Name,
		PreDelay:     pre,
		ScrollDelays: delays,
		ReadingPause: e.readingPause(a, c),
	}
}

// sample draws a non-negative duration from a normal distribution.
func (e *Engine) sample(meanMs, stdDevMs float64) time.Duration {
	ms := meanMs + e.rng.NormFloat64()*stdDevMs
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms) * time.Millisecond
}

// scrollSteps estimates how many scroll gestures the page warrants.
func (e *Engine) scrollSteps(c Complexity) int {
	steps := c.Elements/40 + c.Images/4
	if steps < 1 {
		steps = 1
	}
	if steps > 12 {
		steps = 12
	}
	return steps
}

// readingPause converts word count to dwell time at the persona's reading
// speed, jittered, then clamped to [2s, 15s].
func (e *Engine) readingPause(a Archetype, c Complexity) time.Duration {
	wpm := maxFloat(a.WordsPerMinute, 60)
	seconds := float64(c.Words()) / wpm * 60
	seconds *= 0.8 + e.rng.Float64()*0.4
	pause := time.Duration(seconds * float64(time.Second))
	if pause < minReadingPause {
		return minReadingPause
	}
	if pause > maxReadingPause {
		return maxReadingPause
	}
	return pause
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
