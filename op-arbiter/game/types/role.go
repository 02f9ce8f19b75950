package types

import "fmt"

type Role uint8

const (
	RoleOther Role = iota
	RoleClaimer
	RoleChallenger
	RoleProvider
	// RoleVerificationGame is held by the escalation bridge delivering verdicts.
	RoleVerificationGame
)

func (r Role) String() string {
	switch r {
	case RoleOther:
		return "other"
	case RoleClaimer:
		return "claimer"
	case RoleChallenger:
		return "challenger"
	case RoleProvider:
		return "provider"
	case RoleVerificationGame:
		return "verification-game"
	default:
		return fmt.Sprintf("<invalid: %d>", r)
	}
}

// Verdict is the outcome reported by the verification game.
type Verdict uint8

const (
	// VerdictUndecided means the verification game has not reached a final state.
	VerdictUndecided Verdict = iota
	VerdictChallengerWins
	VerdictClaimerWins
)

func (v Verdict) String() string {
	switch v {
	case VerdictUndecided:
		return "undecided"
	case VerdictChallengerWins:
		return "challenger-wins"
	case VerdictClaimerWins:
		return "claimer-wins"
	default:
		return fmt.Sprintf("<invalid: %d>", v)
	}
}

func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Verdict) UnmarshalText(text []byte) error {
	switch string(text) {
	case "undecided":
		*v = VerdictUndecided
	case "challenger-wins":
		*v = VerdictChallengerWins
	case "claimer-wins":
		*v = VerdictClaimerWins
	default:
		return fmt.Errorf("unknown verdict: %q", text)
	}
	return nil
}
