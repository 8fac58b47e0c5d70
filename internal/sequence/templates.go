package sequence

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hillheadsc/racelights/internal/lights"
)

// RaceInterval is the gap between consecutive race starts, in seconds.
const RaceInterval = 300

// Policy decides which steps make up a sequence.
type Policy interface {
	// Name is the identifier used in configuration and commands.
	Name() string

	// Build appends the steps for the given number of starts.
	Build(seq *Sequence, starts int) error

	// Lead is the race time from the first step to the last start.
	Lead(starts int) time.Duration
}

// FlagPolicy is the F-flag warning followed by five-minute starts.
type FlagPolicy struct{}

// Name implements Policy.
func (FlagPolicy) Name() string { return "flag" }

// Build implements Policy.
func (FlagPolicy) Build(seq *Sequence, starts int) error {
	if err := AddFFlagStep(seq, starts); err != nil {
		return err
	}
	return AddFiveMinuteStarts(seq, starts)
}

// Lead implements Policy.
func (FlagPolicy) Lead(starts int) time.Duration {
	return time.Duration(RaceInterval*(starts+1)) * time.Second
}

// ClassPolicy is five-minute starts with no warning step.
type ClassPolicy struct{}

// Name implements Policy.
func (ClassPolicy) Name() string { return "class" }

// Build implements Policy.
func (ClassPolicy) Build(seq *Sequence, starts int) error {
	return AddFiveMinuteStarts(seq, starts)
}

// Lead implements Policy.
func (ClassPolicy) Lead(starts int) time.Duration {
	return time.Duration(RaceInterval*starts) * time.Second
}

var (
	policiesMu sync.RWMutex
	policies   = map[string]Policy{
		"flag":  FlagPolicy{},
		"class": ClassPolicy{},
	}
)

// RegisterPolicy adds or replaces a policy under p.Name().
func RegisterPolicy(p Policy) {
	policiesMu.Lock()
	defer policiesMu.Unlock()
	policies[p.Name()] = p
}

// LookupPolicy returns the policy registered under name.
func LookupPolicy(name string) (Policy, error) {
	policiesMu.RLock()
	defer policiesMu.RUnlock()
	p, ok := policies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
	return p, nil
}

// PolicyNames returns the registered policy names, sorted.
func PolicyNames() []string {
	policiesMu.RLock()
	defer policiesMu.RUnlock()
	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddFFlagStep adds the dark warning step that ends where the first
// race's five-minute countdown begins.
func AddFFlagStep(seq *Sequence, starts int) error {
	if starts < 1 {
		return ErrInvalidStarts
	}
	end := starts * RaceInterval
	step, err := NewStep(end+RaceInterval, end, lights.AllOff, "F Flag, 10 minute warning")
	if err != nil {
		return err
	}
	return seq.AddStartStep(step)
}

// countdown is one row of the five-minute start.
type countdown struct {
	from, to int
	lights   lights.State
	label    string
}

var fiveMinuteStart = []countdown{
	{300, 240, lights.Lit(5), "5 minute lights"},
	{240, 180, lights.Lit(4), "4 minute lights"},
	{180, 120, lights.Lit(3), "3 minute lights"},
	{120, 60, lights.Lit(2), "2 minute lights"},
	{60, 30, lights.Lit(1), "1 minute lights"},
	{30, 0, lights.State{lights.Flashing}, "30 seconds lights"},
}

// AddFiveMinuteStarts adds a five-minute countdown for each start. Every
// race is offset by RaceInterval for each race still to start after it.
func AddFiveMinuteStarts(seq *Sequence, starts int) error {
	if starts < 1 {
		return ErrInvalidStarts
	}
	for i := 0; i < starts; i++ {
		delay := (starts - (i + 1)) * RaceInterval
		for _, c := range fiveMinuteStart {
			step, err := NewStep(c.from+delay, c.to+delay, c.lights, fmt.Sprintf("Race %d, %s", i+1, c.label))
			if err != nil {
				return err
			}
			if err := seq.AddStartStep(step); err != nil {
				return err
			}
		}
	}
	return nil
}
