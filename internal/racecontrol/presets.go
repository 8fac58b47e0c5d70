package racecontrol

import (
	"fmt"
	"sort"

	"github.com/hillheadsc/racelights/internal/lights"
)

// presets are the console's one-touch buttons: a count of steady lights
// and a single flashing light.
var presets = map[string]lights.State{
	"off":   lights.AllOff,
	"one":   lights.Lit(1),
	"two":   lights.Lit(2),
	"three": lights.Lit(3),
	"four":  lights.Lit(4),
	"five":  lights.Lit(5),
	"flash": {lights.Flashing},
}

// Preset returns the light state for a named preset.
func Preset(name string) (lights.State, error) {
	s, ok := presets[name]
	if !ok {
		return lights.State{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return s, nil
}

// Presets returns every preset keyed by name.
func Presets() map[string]lights.State {
	out := make(map[string]lights.State, len(presets))
	for k, v := range presets {
		out[k] = v
	}
	return out
}

// PresetNames returns the preset names sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for k := range presets {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
