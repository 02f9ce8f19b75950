package game

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"

	"github.com/mantlenetworkio/arbiter/op-arbiter/game/deadline"
	"github.com/mantlenetworkio/arbiter/op-arbiter/game/drives"
	"github.com/mantlenetworkio/arbiter/op-arbiter/game/types"
	"github.com/mantlenetworkio/arbiter/op-service/clock"
)

// Escalator hands a disputed claim to a verification game.
type Escalator interface {
	Escalate(ctx context.Context, req types.EscalationRequest) (types.EscalationRef, error)
}

type Metrics interface {
	RecordInstanceCreated(phase types.Phase)
	RecordInstanceRestored(phase types.Phase)
	RecordTransition(from types.Phase, to types.Phase)
	RecordRejection(op string, kind string)
}

// Registry owns every instance. Instances are kept in an append-only arena indexed by the
// order of creation and are never removed.
type Registry struct {
	log     log.Logger
	metrics Metrics
	env     *env

	mu        sync.RWMutex
	instances []*Instance

	feed event.FeedOf[Event]
}

func NewRegistry(logger log.Logger, m Metrics, cl clock.Clock, policy deadline.Policy, loggers types.LoggerService, escalator Escalator) *Registry {
	return &Registry{
		log:     logger,
		metrics: m,
		env: &env{
			clock:     cl,
			deadlines: deadline.NewClock(policy),
			loggers:   loggers,
			escalator: escalator,
		},
	}
}

// SubscribeEvents delivers every event published after the call to ch.
func (r *Registry) SubscribeEvents(ch chan<- Event) event.Subscription {
	return r.feed.Subscribe(ch)
}

// Feed exposes the event feed, e.g. for RPC subscriptions.
func (r *Registry) Feed() *event.FeedOf[Event] {
	return &r.feed
}

// Instantiate opens a new dispute and returns its index.
func (r *Registry) Instantiate(params types.InstantiateParams) (uint64, error) {
	if err := checkParams(params); err != nil {
		r.rejected("instantiate", 0, err)
		return 0, err
	}
	set, err := drives.New(params.Drives)
	if err != nil {
		r.rejected("instantiate", 0, err)
		return 0, err
	}
	phase := types.WaitingClaim
	for _, d := range params.Drives {
		if d.NeedsProvider || d.NeedsLogger {
			phase = types.WaitingProviders
			break
		}
	}

	r.mu.Lock()
	index := uint64(len(r.instances))
	inst := newInstance(r.env, index, params, set, phase, r.env.clock.Now())
	inst.publish.Lock()
	defer inst.publish.Unlock()
	r.instances = append(r.instances, inst)
	r.mu.Unlock()

	snap := inst.Snapshot()
	r.metrics.RecordInstanceCreated(phase)
	r.log.Info("Instance created", "index", index, "phase", phase,
		"claimer", params.Claimer, "challenger", params.Challenger, "drives", len(params.Drives))
	r.feed.Send(Event{Kind: InstanceCreated, Index: index, Phase: phase, Snapshot: snap})
	return index, nil
}

func checkParams(params types.InstantiateParams) error {
	switch {
	case params.FinalTime == 0:
		return types.NewError(types.ErrInvalidInstantiation, "Final time should be greater than zero")
	case params.RoundDuration <= 0:
		return types.NewError(types.ErrInvalidInstantiation, "Round duration should be greater than zero")
	case params.Claimer == params.Challenger:
		return types.NewError(types.ErrInvalidInstantiation, "Claimer and challenger should differ")
	case len(params.Drives) == 0:
		return types.NewError(types.ErrInvalidInstantiation, "Drives should not be empty")
	}
	return nil
}

// Restore appends previously journaled instances. Snapshots must continue the arena in
// index order.
func (r *Registry) Restore(snapshots []types.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, snap := range snapshots {
		if snap.Index != uint64(len(r.instances)) {
			return fmt.Errorf("cannot restore instance %d, expected index %d", snap.Index, len(r.instances))
		}
		if !snap.Phase.Valid() {
			return fmt.Errorf("cannot restore instance %d with invalid phase %d", snap.Index, uint8(snap.Phase))
		}
		r.instances = append(r.instances, restoreInstance(r.env, snap))
		r.metrics.RecordInstanceRestored(snap.Phase)
	}
	if len(snapshots) > 0 {
		r.log.Info("Restored instances", "count", len(snapshots))
	}
	return nil
}

// Count returns the number of instances ever created.
func (r *Registry) Count() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return uint64(len(r.instances))
}

func (r *Registry) instance(index uint64) (*Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if index >= uint64(len(r.instances)) {
		return nil, types.NewError(types.ErrUnknownInstance, types.ReasonUnknownInstance)
	}
	return r.instances[index], nil
}

// GetState returns the full public state of an instance. The caller does not scope the view.
func (r *Registry) GetState(index uint64, _ common.Address) (types.Snapshot, error) {
	inst, err := r.instance(index)
	if err != nil {
		return types.Snapshot{}, err
	}
	return inst.Snapshot(), nil
}

func (r *Registry) GetCurrentState(index uint64) (types.Phase, error) {
	inst, err := r.instance(index)
	if err != nil {
		return 0, err
	}
	return inst.Phase(), nil
}

func (r *Registry) GetResult(index uint64) (types.Result, error) {
	inst, err := r.instance(index)
	if err != nil {
		return types.Result{}, err
	}
	return inst.Result(), nil
}

func (r *Registry) IsConcerned(index uint64, addr common.Address) (bool, error) {
	inst, err := r.instance(index)
	if err != nil {
		return false, err
	}
	return inst.IsConcerned(addr), nil
}

// GetSubInstances returns the verification game of an instance and the handles of the games
// it started there.
func (r *Registry) GetSubInstances(index uint64) (common.Address, []uint64, error) {
	inst, err := r.instance(index)
	if err != nil {
		return common.Address{}, nil, err
	}
	snap := inst.Snapshot()
	handles := []uint64{}
	if snap.Escalation != nil {
		handles = append(handles, snap.Escalation.Handle)
	}
	return snap.VerificationGame, handles, nil
}

func (r *Registry) Provision(ctx context.Context, index uint64, caller common.Address, drive uint64, content []byte) error {
	return r.apply("provision", index, DriveProvisioned, drive, func(inst *Instance) (transition, error) {
		return inst.Provision(ctx, caller, drive, content)
	})
}

func (r *Registry) SubmitClaim(index uint64, caller common.Address, claim types.Claim) error {
	return r.apply("submitClaim", index, ClaimSubmitted, 0, func(inst *Instance) (transition, error) {
		return inst.SubmitClaim(caller, claim)
	})
}

func (r *Registry) Confirm(index uint64, caller common.Address) error {
	return r.apply("confirm", index, Confirmed, 0, func(inst *Instance) (transition, error) {
		return inst.Confirm(caller)
	})
}

func (r *Registry) Challenge(ctx context.Context, index uint64, caller common.Address) error {
	return r.apply("challenge", index, ChallengeStarted, 0, func(inst *Instance) (transition, error) {
		return inst.Challenge(ctx, caller)
	})
}

func (r *Registry) AbortByDeadline(index uint64) error {
	return r.apply("abortByDeadline", index, InstanceFinished, 0, func(inst *Instance) (transition, error) {
		return inst.AbortByDeadline()
	})
}

// Resolve applies a verification game verdict. Verdicts for instances that already finished
// are rejected with ErrInstanceTerminal and otherwise ignored.
func (r *Registry) Resolve(index uint64, verdict types.Verdict) error {
	return r.apply("resolve", index, InstanceFinished, 0, func(inst *Instance) (transition, error) {
		return inst.Resolve(verdict)
	})
}

func (r *Registry) apply(op string, index uint64, kind EventKind, drive uint64, fn func(inst *Instance) (transition, error)) error {
	inst, err := r.instance(index)
	if err != nil {
		r.rejected(op, index, err)
		return err
	}
	inst.publish.Lock()
	defer inst.publish.Unlock()
	tr, err := fn(inst)
	if err != nil {
		r.rejected(op, index, err)
		return err
	}
	to := tr.Snapshot.Phase
	if tr.From != to {
		r.metrics.RecordTransition(tr.From, to)
		r.log.Info("Instance transitioned", "op", op, "index", index, "from", tr.From, "to", to)
	} else {
		r.log.Debug("Instance updated", "op", op, "index", index, "phase", to)
	}
	r.feed.Send(Event{Kind: kind, Index: index, Phase: to, Drive: drive, Snapshot: tr.Snapshot})
	if kind != InstanceFinished && to.IsTerminal() {
		r.feed.Send(Event{Kind: InstanceFinished, Index: index, Phase: to, Snapshot: tr.Snapshot})
	}
	return nil
}

func (r *Registry) rejected(op string, index uint64, err error) {
	kind := RejectionKind(err)
	r.metrics.RecordRejection(op, kind)
	switch {
	case errors.Is(err, types.ErrEscalationFailed):
		r.log.Warn("Escalation failed", "op", op, "index", index, "err", err)
	default:
		r.log.Debug("Rejected operation", "op", op, "index", index, "kind", kind, "reason", types.Reason(err))
	}
}

var rejectionKinds = []struct {
	err   error
	label string
}{
	{types.ErrInstanceTerminal, "terminal"},
	{types.ErrInvalidInstantiation, "invalid_instantiation"},
	{types.ErrUnknownInstance, "unknown_instance"},
	{types.ErrRoleViolation, "role"},
	{types.ErrPhaseViolation, "phase"},
	{types.ErrDeadlineNotElapsed, "deadline_not_elapsed"},
	{types.ErrDeadlineElapsed, "deadline_elapsed"},
	{types.ErrUnknownDrive, "unknown_drive"},
	{types.ErrAlreadyProvisioned, "already_provisioned"},
	{types.ErrInvalidDriveContent, "invalid_drive_content"},
	{types.ErrVerdictNotFinal, "verdict_not_final"},
	{types.ErrEscalationFailed, "escalation_failed"},
}

// RejectionKind maps an operation error to a low cardinality metrics label.
func RejectionKind(err error) string {
	for _, k := range rejectionKinds {
		if errors.Is(err, k.err) {
			return k.label
		}
	}
	return "other"
}
