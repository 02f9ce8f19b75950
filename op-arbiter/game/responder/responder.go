// Package responder decides and performs the next move of one party in its disputes.
package responder

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/mantlenetworkio/arbiter/op-arbiter/game/types"
	"github.com/mantlenetworkio/arbiter/op-service/clock"
)

type ActionType uint8

const (
	ActionIdle ActionType = iota
	ActionAbort
	ActionProvide
	ActionClaim
	ActionConfirm
	ActionChallenge
)

func (a ActionType) String() string {
	switch a {
	case ActionIdle:
		return "idle"
	case ActionAbort:
		return "abort"
	case ActionProvide:
		return "provide"
	case ActionClaim:
		return "claim"
	case ActionConfirm:
		return "confirm"
	case ActionChallenge:
		return "challenge"
	default:
		return fmt.Sprintf("<invalid: %d>", a)
	}
}

type Action struct {
	Type    ActionType
	Drive   uint64
	Content []byte
	Claim   types.Claim
}

// Arbiter is the registry surface a party acts through.
type Arbiter interface {
	GetState(index uint64, caller common.Address) (types.Snapshot, error)
	Provision(ctx context.Context, index uint64, caller common.Address, drive uint64, content []byte) error
	SubmitClaim(index uint64, caller common.Address, claim types.Claim) error
	Confirm(index uint64, caller common.Address) error
	Challenge(ctx context.Context, index uint64, caller common.Address) error
	AbortByDeadline(index uint64) error
}

// ContentSource supplies the content a party owes for a drive: the value of a direct drive or
// the root hash of a logger drive.
type ContentSource interface {
	DriveContent(ctx context.Context, index uint64, drive uint64, d types.Drive) ([]byte, error)
}

type Metrics interface {
	RecordAction(action string)
}

type Responder struct {
	log     log.Logger
	metrics Metrics
	clock   clock.Clock
	arbiter Arbiter
	machine types.Machine
	content ContentSource
	party   common.Address
}

func NewResponder(logger log.Logger, m Metrics, cl clock.Clock, arbiter Arbiter, machine types.Machine, content ContentSource, party common.Address) *Responder {
	return &Responder{
		log:     logger.New("party", party),
		metrics: m,
		clock:   cl,
		arbiter: arbiter,
		machine: machine,
		content: content,
		party:   party,
	}
}

// NextAction works out what the party should do given the current state of an instance.
func (r *Responder) NextAction(ctx context.Context, snap types.Snapshot) (Action, error) {
	if snap.Phase.IsTerminal() {
		return Action{Type: ActionIdle}, nil
	}
	if !snap.Deadline.IsZero() && !r.clock.Now().Before(snap.Deadline) {
		if r.benefitsFromAbort(snap) {
			return Action{Type: ActionAbort}, nil
		}
		return Action{Type: ActionIdle}, nil
	}
	switch snap.Phase {
	case types.WaitingProviders:
		for i, d := range snap.Drives {
			if d.Provisioned || d.Provider != r.party {
				continue
			}
			if r.content == nil {
				return Action{}, fmt.Errorf("no content source for drive %d", i)
			}
			content, err := r.content.DriveContent(ctx, snap.Index, uint64(i), d)
			if err != nil {
				return Action{}, fmt.Errorf("failed to load content of drive %d: %w", i, err)
			}
			return Action{Type: ActionProvide, Drive: uint64(i), Content: content}, nil
		}
	case types.WaitingClaim:
		if snap.Claimer == r.party {
			res, err := r.run(ctx, snap)
			if err != nil {
				return Action{}, err
			}
			return Action{Type: ActionClaim, Claim: types.Claim{FinalHash: res.FinalHash, Output: res.Output}}, nil
		}
	case types.WaitingConfirmation:
		if snap.Challenger == r.party {
			res, err := r.run(ctx, snap)
			if err != nil {
				return Action{}, err
			}
			if res.FinalHash == snap.ClaimedFinalHash && bytes.Equal(res.Output, snap.ClaimedOutput) {
				return Action{Type: ActionConfirm}, nil
			}
			return Action{Type: ActionChallenge}, nil
		}
	}
	return Action{Type: ActionIdle}, nil
}

// benefitsFromAbort reports whether the default outcome of the expired phase favours the party.
func (r *Responder) benefitsFromAbort(snap types.Snapshot) bool {
	switch snap.Phase {
	case types.WaitingProviders:
		return snap.Claimer == r.party || snap.Challenger == r.party
	case types.WaitingClaim:
		return snap.Challenger == r.party
	case types.WaitingConfirmation:
		return snap.Claimer == r.party
	default:
		return false
	}
}

func (r *Responder) run(ctx context.Context, snap types.Snapshot) (types.MachineResult, error) {
	res, err := r.machine.Run(ctx, types.MachineRequest{
		Machine:        snap.Machine,
		TemplateHash:   snap.TemplateHash,
		FinalTime:      snap.FinalTime,
		OutputPosition: snap.OutputPosition,
		Drives:         snap.Drives,
	})
	if err != nil {
		return types.MachineResult{}, fmt.Errorf("failed to run machine: %w", err)
	}
	return res, nil
}

// Act loads the instance, decides the next action and performs it.
func (r *Responder) Act(ctx context.Context, index uint64) (Action, error) {
	snap, err := r.arbiter.GetState(index, r.party)
	if err != nil {
		return Action{}, fmt.Errorf("failed to load instance %d: %w", index, err)
	}
	action, err := r.NextAction(ctx, snap)
	if err != nil {
		return Action{}, err
	}
	if action.Type == ActionIdle {
		r.log.Debug("Nothing to do", "index", index, "phase", snap.Phase)
		return action, nil
	}
	actionLog := r.log.New("index", index, "action", action.Type)
	if err := r.perform(ctx, index, action); err != nil {
		actionLog.Error("Action failed", "err", err)
		return action, err
	}
	r.metrics.RecordAction(action.Type.String())
	actionLog.Info("Performed action")
	return action, nil
}

func (r *Responder) perform(ctx context.Context, index uint64, action Action) error {
	switch action.Type {
	case ActionAbort:
		return r.arbiter.AbortByDeadline(index)
	case ActionProvide:
		return r.arbiter.Provision(ctx, index, r.party, action.Drive, action.Content)
	case ActionClaim:
		return r.arbiter.SubmitClaim(index, r.party, action.Claim)
	case ActionConfirm:
		return r.arbiter.Confirm(index, r.party)
	case ActionChallenge:
		return r.arbiter.Challenge(ctx, index, r.party)
	default:
		return fmt.Errorf("unsupported action %v", action.Type)
	}
}
