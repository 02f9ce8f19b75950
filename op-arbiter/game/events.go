package game

import (
	"fmt"

	"github.com/mantlenetworkio/arbiter/op-arbiter/game/types"
)

type EventKind uint8

const (
	InstanceCreated EventKind = iota
	DriveProvisioned
	ClaimSubmitted
	Confirmed
	ChallengeStarted
	InstanceFinished
)

var eventKindNames = [...]string{
	InstanceCreated:  "InstanceCreated",
	DriveProvisioned: "DriveProvisioned",
	ClaimSubmitted:   "ClaimSubmitted",
	Confirmed:        "Confirmed",
	ChallengeStarted: "ChallengeStarted",
	InstanceFinished: "InstanceFinished",
}

func (k EventKind) String() string {
	if int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return fmt.Sprintf("<invalid: %d>", k)
}

func (k EventKind) MarshalText() ([]byte, error) {
	if int(k) >= len(eventKindNames) {
		return nil, fmt.Errorf("invalid event kind: %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *EventKind) UnmarshalText(text []byte) error {
	for i, name := range eventKindNames {
		if name == string(text) {
			*k = EventKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown event kind: %q", text)
}

// Event is published on the registry feed after every successful mutation.
// Snapshot is the instance state right after the mutation.
type Event struct {
	Kind     EventKind      `json:"kind"`
	Index    uint64         `json:"index"`
	Phase    types.Phase    `json:"phase"`
	Drive    uint64         `json:"drive,omitempty"`
	Snapshot types.Snapshot `json:"snapshot"`
}
