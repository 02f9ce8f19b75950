package types

import (
	"bytes"
	"fmt"
)

// Phase is the lifecycle state of a dispute instance.
type Phase uint8

const (
	WaitingProviders Phase = iota
	ProviderMissedDeadline
	ClaimerMissedDeadline
	WaitingClaim
	WaitingConfirmation
	WaitingChallenge
	ChallengerWon
	ClaimerWon
	ConsensusResult
)

var phaseNames = [...]string{
	WaitingProviders:       "WaitingProviders",
	ProviderMissedDeadline: "ProviderMissedDeadline",
	ClaimerMissedDeadline:  "ClaimerMissedDeadline",
	WaitingClaim:           "WaitingClaim",
	WaitingConfirmation:    "WaitingConfirmation",
	WaitingChallenge:       "WaitingChallenge",
	ChallengerWon:          "ChallengerWon",
	ClaimerWon:             "ClaimerWon",
	ConsensusResult:        "ConsensusResult",
}

// Phases lists every phase in declaration order.
var Phases = []Phase{
	WaitingProviders, ProviderMissedDeadline, ClaimerMissedDeadline,
	WaitingClaim, WaitingConfirmation, WaitingChallenge,
	ChallengerWon, ClaimerWon, ConsensusResult,
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("<invalid: %d>", p)
}

func (p Phase) Valid() bool {
	return int(p) < len(phaseNames)
}

// IsTerminal reports whether no further transition is possible from p.
func (p Phase) IsTerminal() bool {
	switch p {
	case ProviderMissedDeadline, ClaimerMissedDeadline, ChallengerWon, ClaimerWon, ConsensusResult:
		return true
	default:
		return false
	}
}

// Tag returns the phase name as a zero padded 32 byte value.
// Callers compare tags by truncating to the length of the expected name.
func (p Phase) Tag() [32]byte {
	var tag [32]byte
	copy(tag[:], p.String())
	return tag
}

func (p Phase) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid phase: %d", uint8(p))
	}
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	parsed, err := ParsePhase(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePhase parses the textual form of a phase.
func ParsePhase(name string) (Phase, error) {
	for i, n := range phaseNames {
		if n == name {
			return Phase(i), nil
		}
	}
	return 0, fmt.Errorf("unknown phase: %q", name)
}

// PhaseFromTag decodes a 32 byte phase tag.
func PhaseFromTag(tag [32]byte) (Phase, error) {
	return ParsePhase(string(bytes.TrimRight(tag[:], "\x00")))
}
