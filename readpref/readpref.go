package readpref

import (
	"fmt"
	"time"

	"github.com/dkvstore/docdriver/tag"
)

// smallestMaxStaleness is the floor the spec's max-staleness validation
// enforces regardless of heartbeat frequency.
const smallestMaxStaleness = 90 * time.Second

// idleWritePeriod is added to heartbeatFrequencyMS/1000 when deriving the
// effective minimum for maxStalenessSeconds.
const idleWritePeriod = 10 * time.Second

// ReadPref is an immutable read preference: a mode plus the secondary-only
// constraints (max staleness, tag sets) that apply when mode != primary.
type ReadPref struct {
	mode          Mode
	maxStaleness  time.Duration
	hasMaxStale   bool
	tagSets       []tag.Set
}

// Option configures a ReadPref at construction time.
type Option func(*ReadPref) error

// New builds a ReadPref for mode, applying opts in order. Returns an error
// if any option is invalid for the chosen mode (e.g. maxStaleness on a
// primary-mode preference).
func New(mode Mode, opts ...Option) (*ReadPref, error) {
	rp := &ReadPref{mode: mode}
	for _, opt := range opts {
		if err := opt(rp); err != nil {
			return nil, err
		}
	}
	if rp.hasMaxStale && rp.mode == PrimaryMode {
		return nil, fmt.Errorf("readpref: maxStaleness is not allowed with primary mode")
	}
	return rp, nil
}

// WithMaxStaleness sets the max-staleness window for secondary reads,
// validating it against the spec's floor of max(90s, heartbeatFrequency +
// idleWritePeriod).
func WithMaxStaleness(d time.Duration, heartbeatFrequency time.Duration) Option {
	return func(rp *ReadPref) error {
		floor := smallestMaxStaleness
		if alt := heartbeatFrequency + idleWritePeriod; alt > floor {
			floor = alt
		}
		if d <= 0 {
			return fmt.Errorf("readpref: maxStaleness must be positive, got %s", d)
		}
		if d < floor {
			return fmt.Errorf("readpref: maxStaleness %s is below the minimum %s", d, floor)
		}
		rp.maxStaleness = d
		rp.hasMaxStale = true
		return nil
	}
}

// WithTags appends a single tag set to the preference's ordered list.
func WithTags(tags ...tag.Tag) Option {
	return func(rp *ReadPref) error {
		rp.tagSets = append(rp.tagSets, tag.Set(tags))
		return nil
	}
}

// WithTagSets replaces the preference's ordered tag-set list outright.
func WithTagSets(sets ...tag.Set) Option {
	return func(rp *ReadPref) error {
		rp.tagSets = sets
		return nil
	}
}

// Mode returns the preference's mode.
func (rp *ReadPref) Mode() Mode { return rp.mode }

// MaxStaleness returns the configured max-staleness window and whether one
// was set.
func (rp *ReadPref) MaxStaleness() (time.Duration, bool) { return rp.maxStaleness, rp.hasMaxStale }

// TagSets returns the ordered tag-set list, evaluated first-match-wins.
func (rp *ReadPref) TagSets() []tag.Set { return rp.tagSets }

// Primary is the default read preference used when none is specified.
func Primary() *ReadPref { return &ReadPref{mode: PrimaryMode} }
