// Package deadline computes phase expiry for dispute instances.
//
// Nothing here holds state: every answer is recomputed from the instance timing and the
// current time, so concurrent readers never observe a stale deadline.
package deadline

import (
	"time"

	"github.com/mantlenetworkio/arbiter/op-arbiter/game/types"
)

// abortTargets maps each abortable phase to the terminal default it falls into once expired.
// WaitingChallenge is absent: only the verification game verdict can move it.
var abortTargets = map[types.Phase]types.Phase{
	types.WaitingProviders:    types.ProviderMissedDeadline,
	types.WaitingClaim:        types.ClaimerMissedDeadline,
	types.WaitingConfirmation: types.ConsensusResult,
}

// Timing is the subset of instance state the deadline depends on.
type Timing struct {
	Phase         types.Phase
	LastMove      time.Time
	RoundDuration time.Duration
	// GameDuration is the maximum verification game duration, known once escalated.
	GameDuration time.Duration
}

// Clock answers deadline questions for a fixed per-phase Policy.
type Clock struct {
	policy Policy
}

func NewClock(policy Policy) *Clock {
	return &Clock{policy: policy}
}

func (c *Clock) Policy() Policy {
	return c.policy
}

// Deadline returns the absolute expiry of the current phase.
// Terminal phases never expire and report ok=false.
func (c *Clock) Deadline(t Timing) (deadline time.Time, ok bool) {
	if t.Phase.IsTerminal() {
		return time.Time{}, false
	}
	pp := c.policy.For(t.Phase)
	window := time.Duration(pp.Rounds)*t.RoundDuration + pp.Extra.Duration()
	if pp.IncludeGameDuration {
		window += t.GameDuration
	}
	return t.LastMove.Add(window), true
}

// IsOver reports whether the deadline for the current phase has elapsed at now.
func (c *Clock) IsOver(t Timing, now time.Time) bool {
	deadline, ok := c.Deadline(t)
	if !ok {
		return false
	}
	return !now.Before(deadline)
}

// AbortTarget returns the terminal phase an expired phase falls into.
func (c *Clock) AbortTarget(phase types.Phase) (types.Phase, bool) {
	target, ok := abortTargets[phase]
	return target, ok
}

// IsAbortable reports whether abortByDeadline may act on phase at now.
func (c *Clock) IsAbortable(t Timing, now time.Time) bool {
	if _, ok := c.AbortTarget(t.Phase); !ok {
		return false
	}
	return c.IsOver(t, now)
}
