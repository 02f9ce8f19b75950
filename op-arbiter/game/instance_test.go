package game

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/mantlenetworkio/arbiter/op-arbiter/game/types"
	"github.com/mantlenetworkio/arbiter/op-service/testlog"
)

func TestScenarioA_ClaimerMissesDeadline(t *testing.T) {
	rig := setupRig(t)
	index := rig.instantiate(t)
	rig.requirePhase(t, index, types.WaitingClaim)

	rig.clock.AdvanceTime(341 * time.Second)
	require.NoError(t, rig.registry.AbortByDeadline(index))
	rig.requirePhase(t, index, types.ClaimerMissedDeadline)

	result, err := rig.registry.GetResult(index)
	require.NoError(t, err)
	require.Equal(t, types.Result{Ready: true, Blame: claimer}, result)
}

func TestScenarioB_ExactRejections(t *testing.T) {
	rig := setupRig(t)
	index := rig.instantiate(t)

	err := rig.registry.AbortByDeadline(index)
	require.EqualError(t, err, "Deadline is not over for this specific state")
	require.ErrorIs(t, err, types.ErrDeadlineNotElapsed)

	err = rig.registry.Challenge(context.Background(), index, claimer)
	require.EqualError(t, err, "Cannot be called by user")
	require.ErrorIs(t, err, types.ErrRoleViolation)

	err = rig.registry.Challenge(context.Background(), index, challenger)
	require.EqualError(t, err, "State should be WaitingConfirmation")
	require.ErrorIs(t, err, types.ErrPhaseViolation)

	rig.requirePhase(t, index, types.WaitingClaim)
}

func TestAbortExactlyOnce(t *testing.T) {
	rig := setupRig(t)
	index := rig.instantiate(t)
	rig.clock.AdvanceTime(roundDuration)

	require.NoError(t, rig.registry.AbortByDeadline(index))
	err := rig.registry.AbortByDeadline(index)
	require.EqualError(t, err, "Cannot abort current state")
	require.ErrorIs(t, err, types.ErrInstanceTerminal)
	rig.requirePhase(t, index, types.ClaimerMissedDeadline)
	require.Equal(t, 1, rig.metrics.transitions[[2]types.Phase{types.WaitingClaim, types.ClaimerMissedDeadline}])
}

func TestAbortJustBeforeDeadline(t *testing.T) {
	rig := setupRig(t)
	index := rig.instantiate(t)
	rig.clock.AdvanceTime(roundDuration - time.Second)
	require.ErrorIs(t, rig.registry.AbortByDeadline(index), types.ErrDeadlineNotElapsed)
	rig.clock.AdvanceTime(time.Second)
	require.NoError(t, rig.registry.AbortByDeadline(index))
}

func TestChallengerMovesRequireChallenger(t *testing.T) {
	ctx := context.Background()
	rig := setupRig(t)
	index := rig.toConfirmation(t)

	for _, caller := range []common.Address{claimer, stranger, provider} {
		err := rig.registry.Confirm(index, caller)
		require.EqualError(t, err, types.ReasonCannotBeCalled)
		err = rig.registry.Challenge(ctx, index, caller)
		require.EqualError(t, err, types.ReasonCannotBeCalled)
	}
	rig.requirePhase(t, index, types.WaitingConfirmation)
}

func TestClaimerAlwaysRejectedRegardlessOfPhase(t *testing.T) {
	ctx := context.Background()
	rig := setupRig(t)

	providers := rig.instantiate(t, providedDrive())
	claim := rig.instantiate(t)
	confirmation := rig.toConfirmation(t)
	terminal := rig.toConfirmation(t)
	require.NoError(t, rig.registry.Confirm(terminal, challenger))

	for _, index := range []uint64{providers, claim, confirmation, terminal} {
		require.EqualError(t, rig.registry.Confirm(index, claimer), types.ReasonCannotBeCalled)
		require.EqualError(t, rig.registry.Challenge(ctx, index, claimer), types.ReasonCannotBeCalled)
	}
}

func TestChallengerRejectedOutsideConfirmation(t *testing.T) {
	ctx := context.Background()
	rig := setupRig(t)

	providers := rig.instantiate(t, providedDrive())
	claim := rig.instantiate(t)
	challenged := rig.toConfirmation(t)
	require.NoError(t, rig.registry.Challenge(ctx, challenged, challenger))
	confirmed := rig.toConfirmation(t)
	require.NoError(t, rig.registry.Confirm(confirmed, challenger))

	for _, index := range []uint64{providers, claim, challenged, confirmed} {
		before, err := rig.registry.GetState(index, challenger)
		require.NoError(t, err)

		require.EqualError(t, rig.registry.Confirm(index, challenger), "State should be WaitingConfirmation")
		require.EqualError(t, rig.registry.Challenge(ctx, index, challenger), "State should be WaitingConfirmation")

		after, err := rig.registry.GetState(index, challenger)
		require.NoError(t, err)
		require.Equal(t, before, after)
	}
	require.ErrorIs(t, rig.registry.Confirm(confirmed, challenger), types.ErrInstanceTerminal)
	require.NotErrorIs(t, rig.registry.Confirm(claim, challenger), types.ErrInstanceTerminal)
}

func TestConfirm(t *testing.T) {
	rig := setupRig(t)
	index := rig.toConfirmation(t)
	rig.clock.AdvanceTime(10 * time.Second)

	require.NoError(t, rig.registry.Confirm(index, challenger))
	snap, err := rig.registry.GetState(index, stranger)
	require.NoError(t, err)
	require.Equal(t, types.ConsensusResult, snap.Phase)
	require.True(t, snap.ChallengerVoted)
	require.Equal(t, startTime.Add(10*time.Second), snap.LastMove)
	require.True(t, snap.Deadline.IsZero())

	result, err := rig.registry.GetResult(index)
	require.NoError(t, err)
	require.Equal(t, types.Result{Ready: true, Output: []byte{0x01}}, result)
}

func TestConfirmationAbortsToConsensus(t *testing.T) {
	rig := setupRig(t)
	index := rig.toConfirmation(t)
	rig.clock.AdvanceTime(roundDuration)

	err := rig.registry.Confirm(index, challenger)
	require.EqualError(t, err, types.ReasonDeadlineOver)
	require.ErrorIs(t, err, types.ErrDeadlineElapsed)

	require.NoError(t, rig.registry.AbortByDeadline(index))
	rig.requirePhase(t, index, types.ConsensusResult)
}

func TestSubmitClaim(t *testing.T) {
	rig := setupRig(t)
	index := rig.instantiate(t)

	err := rig.registry.SubmitClaim(index, challenger, types.Claim{})
	require.EqualError(t, err, types.ReasonCannotBeCalled)

	rig.clock.AdvanceTime(30 * time.Second)
	claim := types.Claim{FinalHash: common.Hash{0xab}, Output: []byte{0xde, 0xad}}
	require.NoError(t, rig.registry.SubmitClaim(index, claimer, claim))

	snap, err := rig.registry.GetState(index, claimer)
	require.NoError(t, err)
	require.Equal(t, types.WaitingConfirmation, snap.Phase)
	require.Equal(t, claim.FinalHash, snap.ClaimedFinalHash)
	require.Equal(t, claim.Output, snap.ClaimedOutput)
	require.Equal(t, startTime.Add(30*time.Second), snap.LastMove)
	require.Equal(t, startTime.Add(30*time.Second+roundDuration), snap.Deadline)

	err = rig.registry.SubmitClaim(index, claimer, claim)
	require.EqualError(t, err, "State should be WaitingClaim")
}

func TestSubmitClaimAfterDeadline(t *testing.T) {
	rig := setupRig(t)
	index := rig.instantiate(t)
	rig.clock.AdvanceTime(roundDuration)
	err := rig.registry.SubmitClaim(index, claimer, types.Claim{FinalHash: common.Hash{0x01}})
	require.ErrorIs(t, err, types.ErrDeadlineElapsed)
	rig.requirePhase(t, index, types.WaitingClaim)
}

func TestChallengeEscalates(t *testing.T) {
	rig := setupRig(t)
	index := rig.toConfirmation(t)

	require.NoError(t, rig.registry.Challenge(context.Background(), index, challenger))
	rig.requirePhase(t, index, types.WaitingChallenge)

	require.Len(t, rig.escalator.requests, 1)
	req := rig.escalator.requests[0]
	require.Equal(t, index, req.Index)
	require.Equal(t, gameAddr, req.Game)
	require.Equal(t, machine, req.Machine)
	require.Equal(t, templateHash, req.TemplateHash)
	require.Equal(t, common.Hash{0xf1}, req.ClaimedFinalHash)
	require.Equal(t, []common.Hash{crypto.Keccak256Hash(make([]byte, 32))}, req.DriveHashes)

	snap, err := rig.registry.GetState(index, challenger)
	require.NoError(t, err)
	require.Equal(t, &types.EscalationRef{Game: gameAddr, Handle: 0, Duration: time.Hour}, snap.Escalation)
	require.Equal(t, startTime.Add(roundDuration+time.Hour), snap.Deadline)

	game, handles, err := rig.registry.GetSubInstances(index)
	require.NoError(t, err)
	require.Equal(t, gameAddr, game)
	require.Equal(t, []uint64{0}, handles)

	err = rig.registry.AbortByDeadline(index)
	require.EqualError(t, err, types.ReasonCannotAbort)
	require.NotErrorIs(t, err, types.ErrInstanceTerminal)
}

func TestChallengeEscalationFailureLeavesState(t *testing.T) {
	rig := setupRig(t)
	index := rig.toConfirmation(t)
	before, err := rig.registry.GetState(index, challenger)
	require.NoError(t, err)

	rig.escalator.err = errors.New("game unreachable")
	err = rig.registry.Challenge(context.Background(), index, challenger)
	require.ErrorIs(t, err, types.ErrEscalationFailed)
	require.ErrorContains(t, err, "game unreachable")

	after, err := rig.registry.GetState(index, challenger)
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.Equal(t, 1, rig.metrics.rejections["challenge/escalation_failed"])
}

func TestResolve(t *testing.T) {
	tests := []struct {
		verdict types.Verdict
		phase   types.Phase
		blame   common.Address
	}{
		{types.VerdictChallengerWins, types.ChallengerWon, claimer},
		{types.VerdictClaimerWins, types.ClaimerWon, challenger},
	}
	for _, test := range tests {
		test := test
		t.Run(test.verdict.String(), func(t *testing.T) {
			rig := setupRig(t)
			index := rig.toConfirmation(t)
			require.NoError(t, rig.registry.Challenge(context.Background(), index, challenger))

			err := rig.registry.Resolve(index, types.VerdictUndecided)
			require.EqualError(t, err, types.ReasonVerdictNotFinal)
			rig.requirePhase(t, index, types.WaitingChallenge)

			require.NoError(t, rig.registry.Resolve(index, test.verdict))
			rig.requirePhase(t, index, test.phase)

			result, err := rig.registry.GetResult(index)
			require.NoError(t, err)
			require.True(t, result.Ready)
			require.Equal(t, test.blame, result.Blame)

			// Duplicate verdicts are rejected and change nothing.
			err = rig.registry.Resolve(index, types.VerdictClaimerWins)
			require.ErrorIs(t, err, types.ErrInstanceTerminal)
			rig.requirePhase(t, index, test.phase)
			require.NotNil(t, rig.logs.FindLog(
				testlog.NewLevelFilter(slog.LevelDebug),
				testlog.NewMessageFilter("Rejected operation"),
				testlog.NewAttributesFilter("op", "resolve"),
			))
		})
	}
}

func TestResolveOutsideChallenge(t *testing.T) {
	rig := setupRig(t)
	index := rig.instantiate(t)
	err := rig.registry.Resolve(index, types.VerdictClaimerWins)
	require.EqualError(t, err, "State should be WaitingChallenge")
	require.ErrorIs(t, err, types.ErrPhaseViolation)
}

func TestProvisionFlow(t *testing.T) {
	ctx := context.Background()
	rig := setupRig(t)
	index := rig.instantiate(t, literalDrive(), providedDrive(), providedDrive())
	rig.requirePhase(t, index, types.WaitingProviders)

	value := make([]byte, 32)
	value[0] = 0x55

	err := rig.registry.Provision(ctx, index, stranger, 1, value)
	require.EqualError(t, err, types.ReasonCannotBeCalled)

	err = rig.registry.Provision(ctx, index, provider, 7, value)
	require.ErrorIs(t, err, types.ErrUnknownDrive)

	err = rig.registry.Provision(ctx, index, provider, 1, value[:31])
	require.ErrorIs(t, err, types.ErrInvalidDriveContent)

	require.NoError(t, rig.registry.Provision(ctx, index, provider, 1, value))
	rig.requirePhase(t, index, types.WaitingProviders)

	err = rig.registry.Provision(ctx, index, provider, 1, value)
	require.ErrorIs(t, err, types.ErrAlreadyProvisioned)

	rig.clock.AdvanceTime(time.Minute)
	require.NoError(t, rig.registry.Provision(ctx, index, provider, 2, value))
	snap, err := rig.registry.GetState(index, provider)
	require.NoError(t, err)
	require.Equal(t, types.WaitingClaim, snap.Phase)
	require.Equal(t, startTime.Add(time.Minute), snap.LastMove)
	require.Equal(t, crypto.Keccak256Hash(value), snap.Drives[1].ContentHash)
	require.Equal(t, crypto.Keccak256Hash(value), snap.Drives[2].ContentHash)

	err = rig.registry.Provision(ctx, index, provider, 2, value)
	require.EqualError(t, err, "State should be WaitingProviders")
}

func TestProvisionLoggerDrive(t *testing.T) {
	ctx := context.Background()
	rig := setupRig(t)
	root := common.Hash{0x10, 0x66}
	index := rig.instantiate(t, types.Drive{Log2Size: 20, NeedsLogger: true, Provider: provider, ContentHash: root})
	rig.requirePhase(t, index, types.WaitingProviders)

	err := rig.registry.Provision(ctx, index, provider, 0, root.Bytes())
	require.EqualError(t, err, types.ReasonLogNotAvailable)

	rig.loggers.available[root] = true
	require.NoError(t, rig.registry.Provision(ctx, index, provider, 0, root.Bytes()))
	rig.requirePhase(t, index, types.WaitingClaim)
}

func TestProviderMissedDeadline(t *testing.T) {
	ctx := context.Background()
	rig := setupRig(t)
	index := rig.instantiate(t, providedDrive())

	rig.clock.AdvanceTime(roundDuration)
	err := rig.registry.Provision(ctx, index, provider, 0, make([]byte, 32))
	require.EqualError(t, err, types.ReasonDeadlineOver)

	require.NoError(t, rig.registry.AbortByDeadline(index))
	rig.requirePhase(t, index, types.ProviderMissedDeadline)

	result, err := rig.registry.GetResult(index)
	require.NoError(t, err)
	require.Equal(t, types.Result{Ready: true, Blame: provider}, result)

	err = rig.registry.Provision(ctx, index, provider, 0, make([]byte, 32))
	require.ErrorIs(t, err, types.ErrInstanceTerminal)
}

func TestTerminalPhasesAbsorb(t *testing.T) {
	ctx := context.Background()
	rig := setupRig(t)

	missedProvider := rig.instantiate(t, providedDrive())
	missedClaimer := rig.instantiate(t)
	rig.clock.AdvanceTime(roundDuration)
	require.NoError(t, rig.registry.AbortByDeadline(missedProvider))
	require.NoError(t, rig.registry.AbortByDeadline(missedClaimer))

	consensus := rig.toConfirmation(t)
	require.NoError(t, rig.registry.Confirm(consensus, challenger))

	challengerWon := rig.toConfirmation(t)
	require.NoError(t, rig.registry.Challenge(ctx, challengerWon, challenger))
	require.NoError(t, rig.registry.Resolve(challengerWon, types.VerdictChallengerWins))

	claimerWon := rig.toConfirmation(t)
	require.NoError(t, rig.registry.Challenge(ctx, claimerWon, challenger))
	require.NoError(t, rig.registry.Resolve(claimerWon, types.VerdictClaimerWins))

	rig.clock.AdvanceTime(100 * roundDuration)
	for _, index := range []uint64{missedProvider, missedClaimer, consensus, challengerWon, claimerWon} {
		before, err := rig.registry.GetState(index, stranger)
		require.NoError(t, err)
		require.True(t, before.Phase.IsTerminal())

		callers := []common.Address{claimer, challenger, provider, stranger}
		for _, caller := range callers {
			require.ErrorIs(t, rig.registry.Provision(ctx, index, caller, 0, make([]byte, 32)), types.ErrInstanceTerminal)
			require.Error(t, rig.registry.SubmitClaim(index, caller, types.Claim{}))
			require.Error(t, rig.registry.Confirm(index, caller))
			require.Error(t, rig.registry.Challenge(ctx, index, caller))
		}
		require.ErrorIs(t, rig.registry.AbortByDeadline(index), types.ErrInstanceTerminal)
		require.ErrorIs(t, rig.registry.Resolve(index, types.VerdictChallengerWins), types.ErrInstanceTerminal)
		require.ErrorIs(t, rig.registry.Resolve(index, types.VerdictClaimerWins), types.ErrInstanceTerminal)

		after, err := rig.registry.GetState(index, stranger)
		require.NoError(t, err)
		require.Equal(t, before, after)
	}
}

func TestConcurrentConfirmAndChallenge(t *testing.T) {
	ctx := context.Background()
	rig := setupRig(t)
	index := rig.toConfirmation(t)

	results := make(chan error, 2)
	go func() { results <- rig.registry.Confirm(index, challenger) }()
	go func() { results <- rig.registry.Challenge(ctx, index, challenger) }()

	var succeeded int
	for i := 0; i < 2; i++ {
		if err := <-results; err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, types.ErrPhaseViolation)
		}
	}
	require.Equal(t, 1, succeeded)
	phase, err := rig.registry.GetCurrentState(index)
	require.NoError(t, err)
	require.Contains(t, []types.Phase{types.ConsensusResult, types.WaitingChallenge}, phase)
}
