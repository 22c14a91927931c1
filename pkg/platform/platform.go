// Package platform describes the resource policy of a target board class.
//
// The same protocol code runs on boards with a few tens of kilobytes of
// free heap and on hosts with plenty. Everything that differs between the
// two (live-frame pixel cap, heap pre-checks, how many sockets to keep)
// lives in a Profile so none of it is a hardcoded universal constant.
package platform

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownProfile is returned by Lookup for names not in the table.
var ErrUnknownProfile = errors.New("platform: unknown profile")

// Profile is the per-platform resource policy.
type Profile struct {
	// Name identifies the profile in config and logs.
	Name string `yaml:"name" json:"name"`

	// MaxLiveLEDs caps the number of pixels sampled into one live frame.
	MaxLiveLEDs int `yaml:"max_live_leds" json:"max_live_leds"`

	// HeapCheck enables the free-heap pre-check and the allocation charge
	// check when encoding snapshots.
	HeapCheck bool `yaml:"heap_check" json:"heap_check"`

	// HeapLimit is the byte budget for transport buffers. 0 means
	// unlimited (free heap is then read from the OS).
	HeapLimit int `yaml:"heap_limit" json:"heap_limit"`

	// MaxClients is how many sockets the periodic cleanup keeps open.
	MaxClients int `yaml:"max_clients" json:"max_clients"`
}

const (
	// Constrained matches small boards (ESP8266 class).
	Constrained = "constrained"

	// Standard matches boards and hosts with comfortable headroom.
	Standard = "standard"
)

var profiles = map[string]Profile{
	Constrained: {
		Name:        Constrained,
		MaxLiveLEDs: 256,
		HeapCheck:   true,
		HeapLimit:   40 * 1024,
		MaxClients:  3,
	},
	Standard: {
		Name:        Standard,
		MaxLiveLEDs: 1024,
		HeapCheck:   false,
		HeapLimit:   0,
		MaxClients:  8,
	},
}

// Lookup returns the named profile. The match is case-insensitive.
func Lookup(name string) (Profile, error) {
	p, ok := profiles[strings.ToLower(name)]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q (have %s)", ErrUnknownProfile, name, strings.Join(Names(), ", "))
	}
	return p, nil
}

// Names lists the known profile names in sorted order.
func Names() []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Default is the profile used when nothing is configured.
func Default() Profile {
	return profiles[Standard]
}

// Validate reports obviously unusable settings.
func (p Profile) Validate() error {
	if p.MaxLiveLEDs < 1 {
		return fmt.Errorf("platform: max_live_leds must be >= 1, got %d", p.MaxLiveLEDs)
	}
	if p.HeapLimit < 0 {
		return fmt.Errorf("platform: heap_limit must be >= 0, got %d", p.HeapLimit)
	}
	if p.MaxClients < 1 {
		return fmt.Errorf("platform: max_clients must be >= 1, got %d", p.MaxClients)
	}
	return nil
}
