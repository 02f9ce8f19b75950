package game

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mantlenetworkio/arbiter/op-arbiter/game/deadline"
	"github.com/mantlenetworkio/arbiter/op-arbiter/game/drives"
	"github.com/mantlenetworkio/arbiter/op-arbiter/game/types"
	"github.com/mantlenetworkio/arbiter/op-service/clock"
)

// env holds the collaborators shared by every instance of a registry.
type env struct {
	clock     clock.Clock
	deadlines *deadline.Clock
	loggers   types.LoggerService
	escalator Escalator
}

// transition describes the effect of a successful mutating operation.
type transition struct {
	From     types.Phase
	Snapshot types.Snapshot
}

// Instance is the state machine of a single dispute. Every method holds mu for its whole
// duration, so a guard and the write that follows it are atomic.
type Instance struct {
	mu  sync.Mutex
	env *env

	// publish is held by the registry from before a mutation until its events are sent,
	// so the feed carries the events of one instance in the order they happened.
	publish sync.Mutex

	index            uint64
	seq              uint64
	finalTime        uint64
	templateHash     common.Hash
	outputPosition   uint64
	roundDuration    time.Duration
	claimer          common.Address
	challenger       common.Address
	logger           common.Address
	verificationGame common.Address
	machine          common.Address
	drives           *drives.DriveSet

	phase            types.Phase
	lastMove         time.Time
	claimedFinalHash common.Hash
	claimedOutput    []byte
	challengerVoted  bool
	escalation       *types.EscalationRef
}

func newInstance(e *env, index uint64, params types.InstantiateParams, set *drives.DriveSet, phase types.Phase, now time.Time) *Instance {
	return &Instance{
		env:              e,
		index:            index,
		finalTime:        params.FinalTime,
		templateHash:     params.TemplateHash,
		outputPosition:   params.OutputPosition,
		roundDuration:    params.RoundDuration,
		claimer:          params.Claimer,
		challenger:       params.Challenger,
		logger:           params.Logger,
		verificationGame: params.VerificationGame,
		machine:          params.Machine,
		drives:           set,
		phase:            phase,
		lastMove:         now,
	}
}

func restoreInstance(e *env, snap types.Snapshot) *Instance {
	var escalation *types.EscalationRef
	if snap.Escalation != nil {
		ref := *snap.Escalation
		escalation = &ref
	}
	return &Instance{
		env:              e,
		index:            snap.Index,
		seq:              snap.Seq,
		finalTime:        snap.FinalTime,
		templateHash:     snap.TemplateHash,
		outputPosition:   snap.OutputPosition,
		roundDuration:    snap.RoundDuration,
		claimer:          snap.Claimer,
		challenger:       snap.Challenger,
		logger:           snap.Logger,
		verificationGame: snap.VerificationGame,
		machine:          snap.Machine,
		drives:           drives.Restore(snap.Drives),
		phase:            snap.Phase,
		lastMove:         snap.LastMove,
		claimedFinalHash: snap.ClaimedFinalHash,
		claimedOutput:    common.CopyBytes(snap.ClaimedOutput),
		challengerVoted:  snap.ChallengerVoted,
		escalation:       escalation,
	}
}

func (i *Instance) Index() uint64 {
	return i.index
}

func (i *Instance) Phase() types.Phase {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.phase
}

func (i *Instance) Snapshot() types.Snapshot {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.snapshot()
}

func (i *Instance) snapshot() types.Snapshot {
	deadlineAt, _ := i.env.deadlines.Deadline(i.timing())
	var escalation *types.EscalationRef
	if i.escalation != nil {
		ref := *i.escalation
		escalation = &ref
	}
	return types.Snapshot{
		Index:            i.index,
		Seq:              i.seq,
		FinalTime:        i.finalTime,
		OutputPosition:   i.outputPosition,
		RoundDuration:    i.roundDuration,
		LastMove:         i.lastMove,
		Deadline:         deadlineAt,
		Claimer:          i.claimer,
		Challenger:       i.challenger,
		Logger:           i.logger,
		VerificationGame: i.verificationGame,
		Machine:          i.machine,
		TemplateHash:     i.templateHash,
		ClaimedFinalHash: i.claimedFinalHash,
		ClaimedOutput:    common.CopyBytes(i.claimedOutput),
		Phase:            i.phase,
		PhaseTag:         i.phase.Tag(),
		ChallengerVoted:  i.challengerVoted,
		Escalation:       escalation,
		Drives:           i.drives.List(),
	}
}

// Result reports the outcome of the instance and who is to blame for it.
func (i *Instance) Result() types.Result {
	i.mu.Lock()
	defer i.mu.Unlock()
	switch i.phase {
	case types.ConsensusResult:
		return types.Result{Ready: true, Output: common.CopyBytes(i.claimedOutput)}
	case types.ClaimerMissedDeadline, types.ChallengerWon:
		return types.Result{Ready: true, Blame: i.claimer}
	case types.ClaimerWon:
		return types.Result{Ready: true, Blame: i.challenger, Output: common.CopyBytes(i.claimedOutput)}
	case types.ProviderMissedDeadline:
		var blame common.Address
		if idx, ok := i.drives.FirstPending(); ok {
			d, _ := i.drives.Get(idx)
			blame = d.Provider
		}
		return types.Result{Ready: true, Blame: blame}
	default:
		return types.Result{Running: true}
	}
}

// IsConcerned reports whether addr is one of the two parties of the dispute.
func (i *Instance) IsConcerned(addr common.Address) bool {
	return addr == i.claimer || addr == i.challenger
}

// Provision furnishes the content of a drive. Once no drive is pending the instance moves on
// to WaitingClaim.
func (i *Instance) Provision(ctx context.Context, caller common.Address, drive uint64, content []byte) (transition, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	now := i.env.clock.Now()
	if err := i.drives.Authorize(drive, caller); err != nil {
		return transition{}, i.reject(err)
	}
	if err := i.requirePhase(types.WaitingProviders); err != nil {
		return transition{}, err
	}
	if err := i.requireOpen(now); err != nil {
		return transition{}, err
	}
	if err := i.drives.Provision(ctx, i.env.loggers, i.logger, drive, content); err != nil {
		return transition{}, i.reject(err)
	}
	from := i.phase
	if i.drives.Complete() {
		i.moveTo(types.WaitingClaim, now)
	} else {
		i.seq++
	}
	return transition{From: from, Snapshot: i.snapshot()}, nil
}

// SubmitClaim records the claimer's final hash and output.
func (i *Instance) SubmitClaim(caller common.Address, claim types.Claim) (transition, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	now := i.env.clock.Now()
	if err := i.requireCaller(caller, i.claimer); err != nil {
		return transition{}, err
	}
	if err := i.requirePhase(types.WaitingClaim); err != nil {
		return transition{}, err
	}
	if err := i.requireOpen(now); err != nil {
		return transition{}, err
	}
	from := i.phase
	i.claimedFinalHash = claim.FinalHash
	i.claimedOutput = common.CopyBytes(claim.Output)
	i.moveTo(types.WaitingConfirmation, now)
	return transition{From: from, Snapshot: i.snapshot()}, nil
}

// Confirm accepts the claim, ending the dispute in consensus.
func (i *Instance) Confirm(caller common.Address) (transition, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	now := i.env.clock.Now()
	if err := i.checkChallengerMove(caller, now); err != nil {
		return transition{}, err
	}
	from := i.phase
	i.challengerVoted = true
	i.moveTo(types.ConsensusResult, now)
	return transition{From: from, Snapshot: i.snapshot()}, nil
}

// Challenge disputes the claim and escalates it to the verification game.
// If the escalation fails the instance is left untouched.
func (i *Instance) Challenge(ctx context.Context, caller common.Address) (transition, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	now := i.env.clock.Now()
	if err := i.checkChallengerMove(caller, now); err != nil {
		return transition{}, err
	}
	if i.env.escalator == nil {
		return transition{}, types.NewError(types.ErrEscalationFailed, "No verification game available")
	}
	ref, err := i.env.escalator.Escalate(ctx, i.escalationRequest())
	if err != nil {
		return transition{}, types.WrapError(types.ErrEscalationFailed, "Failed to escalate", err)
	}
	from := i.phase
	i.escalation = &ref
	i.challengerVoted = true
	i.moveTo(types.WaitingChallenge, now)
	return transition{From: from, Snapshot: i.snapshot()}, nil
}

// AbortByDeadline moves an expired phase to its default outcome. Anyone may call it.
func (i *Instance) AbortByDeadline() (transition, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	now := i.env.clock.Now()
	target, ok := i.env.deadlines.AbortTarget(i.phase)
	if !ok {
		return transition{}, i.reject(types.NewError(types.ErrPhaseViolation, types.ReasonCannotAbort))
	}
	if !i.env.deadlines.IsOver(i.timing(), now) {
		return transition{}, types.NewError(types.ErrDeadlineNotElapsed, types.ReasonDeadlineNotOver)
	}
	from := i.phase
	i.moveTo(target, now)
	return transition{From: from, Snapshot: i.snapshot()}, nil
}

// Resolve applies the verification game verdict.
func (i *Instance) Resolve(verdict types.Verdict) (transition, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	now := i.env.clock.Now()
	if i.phase.IsTerminal() {
		return transition{}, i.reject(types.NewError(types.ErrInstanceTerminal, types.StateShouldBe(types.WaitingChallenge)))
	}
	if err := i.requirePhase(types.WaitingChallenge); err != nil {
		return transition{}, err
	}
	var target types.Phase
	switch verdict {
	case types.VerdictChallengerWins:
		target = types.ChallengerWon
	case types.VerdictClaimerWins:
		target = types.ClaimerWon
	default:
		return transition{}, types.NewError(types.ErrVerdictNotFinal, types.ReasonVerdictNotFinal)
	}
	from := i.phase
	i.moveTo(target, now)
	return transition{From: from, Snapshot: i.snapshot()}, nil
}

func (i *Instance) checkChallengerMove(caller common.Address, now time.Time) error {
	if err := i.requireCaller(caller, i.challenger); err != nil {
		return err
	}
	if err := i.requirePhase(types.WaitingConfirmation); err != nil {
		return err
	}
	return i.requireOpen(now)
}

func (i *Instance) escalationRequest() types.EscalationRequest {
	return types.EscalationRequest{
		Index:            i.index,
		Game:             i.verificationGame,
		Machine:          i.machine,
		Claimer:          i.claimer,
		Challenger:       i.challenger,
		TemplateHash:     i.templateHash,
		OutputPosition:   i.outputPosition,
		FinalTime:        i.finalTime,
		RoundDuration:    i.roundDuration,
		ClaimedFinalHash: i.claimedFinalHash,
		DriveHashes:      i.drives.ContentHashes(),
	}
}

func (i *Instance) timing() deadline.Timing {
	t := deadline.Timing{Phase: i.phase, LastMove: i.lastMove, RoundDuration: i.roundDuration}
	if i.escalation != nil {
		t.GameDuration = i.escalation.Duration
	}
	return t
}

func (i *Instance) moveTo(phase types.Phase, now time.Time) {
	i.phase = phase
	i.lastMove = now
	i.seq++
}

func (i *Instance) requireCaller(caller common.Address, want common.Address) error {
	if caller != want {
		return i.reject(types.NewError(types.ErrRoleViolation, types.ReasonCannotBeCalled))
	}
	return nil
}

func (i *Instance) requirePhase(phase types.Phase) error {
	if i.phase != phase {
		return i.reject(types.NewError(types.ErrPhaseViolation, types.StateShouldBe(phase)))
	}
	return nil
}

func (i *Instance) requireOpen(now time.Time) error {
	if i.env.deadlines.IsOver(i.timing(), now) {
		return types.NewError(types.ErrDeadlineElapsed, types.ReasonDeadlineOver)
	}
	return nil
}

// reject flags errors raised against a frozen instance so they also match ErrInstanceTerminal.
func (i *Instance) reject(err error) error {
	var aerr *types.ArbitrationError
	if errors.As(err, &aerr) && i.phase.IsTerminal() {
		aerr.Terminal = true
	}
	return err
}
