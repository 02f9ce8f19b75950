// Package escalation bridges disputed claims to a verification game and feeds its verdicts back.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/mantlenetworkio/arbiter/op-arbiter/game/types"
)

type Metrics interface {
	RecordEscalation(outcome string)
	RecordVerdict(verdict types.Verdict)
}

// Registry is the part of the instance registry verdicts are delivered to.
type Registry interface {
	GetState(index uint64, caller common.Address) (types.Snapshot, error)
	Resolve(index uint64, verdict types.Verdict) error
}

// Escalator starts verification games for challenged instances.
type Escalator struct {
	log     log.Logger
	metrics Metrics
	game    types.VerificationGame
	timeout time.Duration
}

func NewEscalator(logger log.Logger, m Metrics, game types.VerificationGame, timeout time.Duration) *Escalator {
	return &Escalator{
		log:     logger,
		metrics: m,
		game:    game,
		timeout: timeout,
	}
}

// Escalate asks the verification game for its maximum duration, then opens a game for the
// request. It returns as soon as the game is opened; the verdict arrives through Bridge.
func (e *Escalator) Escalate(ctx context.Context, req types.EscalationRequest) (types.EscalationRef, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	duration, err := e.game.MaxDuration(ctx, req.Game, req.RoundDuration, req.FinalTime)
	if err != nil {
		e.metrics.RecordEscalation("failed")
		return types.EscalationRef{}, fmt.Errorf("failed to query verification game duration: %w", err)
	}
	handle, err := e.game.Instantiate(ctx, req)
	if err != nil {
		e.metrics.RecordEscalation("failed")
		return types.EscalationRef{}, fmt.Errorf("failed to instantiate verification game: %w", err)
	}
	e.metrics.RecordEscalation("started")
	e.log.Info("Escalated dispute", "index", req.Index, "game", req.Game, "handle", handle, "duration", duration)
	return types.EscalationRef{Game: req.Game, Handle: handle, Duration: duration}, nil
}

// Bridge delivers verification game verdicts to the registry.
type Bridge struct {
	log      log.Logger
	metrics  Metrics
	registry Registry
}

func NewBridge(logger log.Logger, m Metrics, registry Registry) *Bridge {
	return &Bridge{
		log:      logger,
		metrics:  m,
		registry: registry,
	}
}

// Resolve applies a verdict sent by caller, which must be the verification game the instance
// was escalated to. Verdicts for instances that already finished are dropped without error.
func (b *Bridge) Resolve(caller common.Address, index uint64, verdict types.Verdict) error {
	snap, err := b.registry.GetState(index, caller)
	if err != nil {
		return err
	}
	if snap.Escalation == nil || snap.Escalation.Game != caller {
		if snap.Phase.IsTerminal() {
			b.log.Debug("Ignoring verdict for finished instance", "index", index, "phase", snap.Phase)
			return nil
		}
		return types.NewError(types.ErrRoleViolation, types.ReasonCannotBeCalled)
	}
	err = b.registry.Resolve(index, verdict)
	if errors.Is(err, types.ErrInstanceTerminal) {
		b.log.Debug("Ignoring verdict for finished instance", "index", index, "verdict", verdict)
		return nil
	} else if err != nil {
		return err
	}
	b.metrics.RecordVerdict(verdict)
	b.log.Info("Verdict applied", "index", index, "verdict", verdict)
	return nil
}
