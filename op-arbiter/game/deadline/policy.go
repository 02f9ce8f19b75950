package deadline

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"

	"github.com/mantlenetworkio/arbiter/op-arbiter/game/types"
)

// Duration wraps time.Duration so it can be written as "40m" in TOML files.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// PhasePolicy scales the deadline window of one phase.
// Window = Rounds * roundDuration + Extra (+ verification game duration when IncludeGameDuration).
type PhasePolicy struct {
	Rounds              uint64   `toml:"rounds"`
	Extra               Duration `toml:"extra"`
	IncludeGameDuration bool     `toml:"include_game_duration"`
}

// Policy holds the deadline configuration for every non-terminal phase.
type Policy map[types.Phase]PhasePolicy

// DefaultPolicy gives every phase a single round. The challenge phase also waits for the
// verification game's own maximum duration.
func DefaultPolicy() Policy {
	return Policy{
		types.WaitingProviders:    {Rounds: 1},
		types.WaitingClaim:        {Rounds: 1},
		types.WaitingConfirmation: {Rounds: 1},
		types.WaitingChallenge:    {Rounds: 1, IncludeGameDuration: true},
	}
}

// For returns the policy of phase, falling back to the default for unconfigured phases.
func (p Policy) For(phase types.Phase) PhasePolicy {
	if pp, ok := p[phase]; ok {
		return pp
	}
	return DefaultPolicy()[phase]
}

// Check validates that every non-terminal phase has a non-empty window and nothing else is configured.
func (p Policy) Check() error {
	var result *multierror.Error
	for _, phase := range types.Phases {
		pp, ok := p[phase]
		if phase.IsTerminal() {
			if ok {
				result = multierror.Append(result, fmt.Errorf("terminal phase %v cannot have a deadline", phase))
			}
			continue
		}
		if !ok {
			result = multierror.Append(result, fmt.Errorf("missing deadline policy for %v", phase))
			continue
		}
		if pp.Rounds == 0 && pp.Extra <= 0 && !pp.IncludeGameDuration {
			result = multierror.Append(result, fmt.Errorf("deadline window for %v is empty", phase))
		}
		if pp.Extra < 0 {
			result = multierror.Append(result, fmt.Errorf("negative extra time for %v", phase))
		}
	}
	for phase := range p {
		if !phase.Valid() {
			result = multierror.Append(result, fmt.Errorf("unknown phase %d", uint8(phase)))
		}
	}
	return result.ErrorOrNil()
}

// LoadPolicy reads a TOML file keyed by phase name and overlays it on DefaultPolicy.
//
//	[WaitingProviders]
//	rounds = 1
//	extra = "40m"
func LoadPolicy(path string) (Policy, error) {
	var raw map[string]PhasePolicy
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode deadline policy %v: %w", path, err)
	}
	policy := DefaultPolicy()
	for name, pp := range raw {
		phase, err := types.ParsePhase(name)
		if err != nil {
			return nil, fmt.Errorf("invalid deadline policy %v: %w", path, err)
		}
		policy[phase] = pp
	}
	if err := policy.Check(); err != nil {
		return nil, fmt.Errorf("invalid deadline policy %v: %w", path, err)
	}
	return policy, nil
}
