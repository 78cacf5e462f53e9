package tasks

import (
	"math/rand/v2"
	"time"

	"github.com/PancyStudios/ClashBotGo/pkg/events"
)

// DelayRange is an inclusive jitter range
type DelayRange struct {
	Min time.Duration
	Max time.Duration
}

// KindDelays holds the reschedule ranges of one loop kind
type KindDelays struct {
	// Priority applies to entities that are currently relevant
	Priority DelayRange
	// Idle applies to everything else
	Idle DelayRange
}

// DelayPolicy decides how long a tag's lock stays held after a poll
type DelayPolicy struct {
	Kinds           map[events.Kind]KindDelays
	ErrorBackoff    time.Duration
	InvalidCooldown time.Duration

	// Jitter returns a value in [0, n). Defaults to math/rand/v2.
	Jitter func(n int64) int64
}

// DefaultDelayPolicy returns the stock table. Priority entities poll within
// a minute or two; idle ones spread over several minutes.
func DefaultDelayPolicy() DelayPolicy {
	return DelayPolicy{
		Kinds: map[events.Kind]KindDelays{
			events.KindClan: {
				Priority: DelayRange{30 * time.Second, 60 * time.Second},
				Idle:     DelayRange{5 * time.Minute, 15 * time.Minute},
			},
			events.KindPlayer: {
				Priority: DelayRange{60 * time.Second, 120 * time.Second},
				Idle:     DelayRange{10 * time.Minute, 30 * time.Minute},
			},
			events.KindWar: {
				Priority: DelayRange{30 * time.Second, 60 * time.Second},
				Idle:     DelayRange{5 * time.Minute, 10 * time.Minute},
			},
			events.KindRaid: {
				Priority: DelayRange{60 * time.Second, 120 * time.Second},
				Idle:     DelayRange{15 * time.Minute, 30 * time.Minute},
			},
			events.KindGuild: {
				Priority: DelayRange{5 * time.Minute, 10 * time.Minute},
				Idle:     DelayRange{5 * time.Minute, 10 * time.Minute},
			},
		},
		ErrorBackoff:    10 * time.Second,
		InvalidCooldown: time.Hour,
	}
}

// Next returns the delay before tag may be polled again
func (p DelayPolicy) Next(kind events.Kind, priority bool) time.Duration {
	d, ok := p.Kinds[kind]
	if !ok {
		return p.ErrorBackoff
	}
	r := d.Idle
	if priority {
		r = d.Priority
	}
	return p.pick(r)
}

func (p DelayPolicy) pick(r DelayRange) time.Duration {
	span := int64(r.Max - r.Min)
	if span <= 0 {
		return r.Min
	}
	jitter := p.Jitter
	if jitter == nil {
		jitter = rand.Int64N
	}
	return r.Min + time.Duration(jitter(span+1))
}
