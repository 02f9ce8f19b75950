package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/mantlenetworkio/arbiter/op-arbiter/game/types"
)

func TestInstantiateValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(p *types.InstantiateParams)
		reason string
	}{
		{"ZeroFinalTime", func(p *types.InstantiateParams) { p.FinalTime = 0 }, "Final time should be greater than zero"},
		{"ZeroRound", func(p *types.InstantiateParams) { p.RoundDuration = 0 }, "Round duration should be greater than zero"},
		{"SameParties", func(p *types.InstantiateParams) { p.Challenger = p.Claimer }, "Claimer and challenger should differ"},
		{"NoDrives", func(p *types.InstantiateParams) { p.Drives = nil }, "Drives should not be empty"},
		{"BadDrive", func(p *types.InstantiateParams) { p.Drives = []types.Drive{{Log2Size: 5}} }, "Drive 0 value should have 32 bytes"},
	}
	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			rig := setupRig(t)
			p := params()
			test.modify(&p)
			_, err := rig.registry.Instantiate(p)
			require.ErrorIs(t, err, types.ErrInvalidInstantiation)
			require.EqualError(t, err, test.reason)
			require.Zero(t, rig.registry.Count())
			require.Equal(t, 1, rig.metrics.rejections["instantiate/invalid_instantiation"])
		})
	}
}

func TestInitialPhase(t *testing.T) {
	tests := []struct {
		name   string
		drives []types.Drive
		phase  types.Phase
	}{
		{"Literal", []types.Drive{literalDrive()}, types.WaitingClaim},
		{"ManyLiterals", []types.Drive{literalDrive(), literalDrive()}, types.WaitingClaim},
		{"Provider", []types.Drive{literalDrive(), providedDrive()}, types.WaitingProviders},
		{"Logger", []types.Drive{{Log2Size: 12, NeedsLogger: true, Provider: provider, ContentHash: common.Hash{0x01}}}, types.WaitingProviders},
		{"ProviderAndLogger", []types.Drive{{Log2Size: 12, NeedsLogger: true, NeedsProvider: true, Provider: provider}}, types.WaitingProviders},
	}
	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			rig := setupRig(t)
			index := rig.instantiate(t, test.drives...)
			rig.requirePhase(t, index, test.phase)
			require.Equal(t, 1, rig.metrics.created[test.phase])
		})
	}
}

func TestGetStateAfterCreation(t *testing.T) {
	rig := setupRig(t)
	index := rig.instantiate(t, literalDrive(), providedDrive(), literalDrive())

	snap, err := rig.registry.GetState(index, stranger)
	require.NoError(t, err)
	require.Equal(t, index, snap.Index)
	require.Equal(t, templateHash, snap.TemplateHash)
	require.Equal(t, uint64(3000), snap.FinalTime)
	require.Len(t, snap.Drives, 3)
	require.Equal(t, claimer, snap.Claimer)
	require.Equal(t, challenger, snap.Challenger)
	require.Equal(t, startTime, snap.LastMove)
	require.Equal(t, startTime.Add(roundDuration), snap.Deadline)

	phase, err := types.PhaseFromTag(snap.PhaseTag)
	require.NoError(t, err)
	require.Equal(t, types.WaitingProviders, phase)
	require.Equal(t, "WaitingProviders", string(snap.PhaseTag[:len("WaitingProviders")]))

	// The caller does not scope the view.
	other, err := rig.registry.GetState(index, claimer)
	require.NoError(t, err)
	require.Equal(t, snap, other)
}

func TestUnknownInstance(t *testing.T) {
	ctx := context.Background()
	rig := setupRig(t)
	rig.instantiate(t)

	_, err := rig.registry.GetState(1, claimer)
	require.ErrorIs(t, err, types.ErrUnknownInstance)
	require.EqualError(t, err, types.ReasonUnknownInstance)
	_, err = rig.registry.GetCurrentState(1)
	require.ErrorIs(t, err, types.ErrUnknownInstance)
	_, err = rig.registry.GetResult(5)
	require.ErrorIs(t, err, types.ErrUnknownInstance)
	_, err = rig.registry.IsConcerned(5, claimer)
	require.ErrorIs(t, err, types.ErrUnknownInstance)
	_, _, err = rig.registry.GetSubInstances(5)
	require.ErrorIs(t, err, types.ErrUnknownInstance)
	require.ErrorIs(t, rig.registry.Provision(ctx, 1, provider, 0, nil), types.ErrUnknownInstance)
	require.ErrorIs(t, rig.registry.SubmitClaim(1, claimer, types.Claim{}), types.ErrUnknownInstance)
	require.ErrorIs(t, rig.registry.Confirm(1, challenger), types.ErrUnknownInstance)
	require.ErrorIs(t, rig.registry.Challenge(ctx, 1, challenger), types.ErrUnknownInstance)
	require.ErrorIs(t, rig.registry.AbortByDeadline(1), types.ErrUnknownInstance)
	require.ErrorIs(t, rig.registry.Resolve(1, types.VerdictClaimerWins), types.ErrUnknownInstance)
}

func TestIndicesAreSequential(t *testing.T) {
	rig := setupRig(t)
	for i := uint64(0); i < 5; i++ {
		require.Equal(t, i, rig.instantiate(t))
	}
	require.Equal(t, uint64(5), rig.registry.Count())
}

func TestConcurrentInstantiate(t *testing.T) {
	rig := setupRig(t)
	const n = 20
	indices := make(chan uint64, n)
	for i := 0; i < n; i++ {
		go func() {
			index, err := rig.registry.Instantiate(params())
			if err == nil {
				indices <- index
			}
		}()
	}
	seen := make(map[uint64]bool)
	for i := 0; i < n; i++ {
		select {
		case index := <-indices:
			require.False(t, seen[index], "duplicate index %d", index)
			seen[index] = true
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for instantiation")
		}
	}
	require.Equal(t, uint64(n), rig.registry.Count())
	for i := uint64(0); i < n; i++ {
		require.True(t, seen[i])
	}
}

func TestIsConcerned(t *testing.T) {
	rig := setupRig(t)
	index := rig.instantiate(t)
	for addr, expected := range map[common.Address]bool{
		claimer:    true,
		challenger: true,
		provider:   false,
		stranger:   false,
	} {
		concerned, err := rig.registry.IsConcerned(index, addr)
		require.NoError(t, err)
		require.Equal(t, expected, concerned, addr)
	}
}

func TestRunningResult(t *testing.T) {
	rig := setupRig(t)
	index := rig.instantiate(t)
	result, err := rig.registry.GetResult(index)
	require.NoError(t, err)
	require.Equal(t, types.Result{Running: true}, result)

	game, handles, err := rig.registry.GetSubInstances(index)
	require.NoError(t, err)
	require.Equal(t, gameAddr, game)
	require.Empty(t, handles)
}

func TestEvents(t *testing.T) {
	ctx := context.Background()
	rig := setupRig(t)
	events := make(chan Event, 16)
	sub := rig.registry.SubscribeEvents(events)
	defer sub.Unsubscribe()

	index := rig.instantiate(t, providedDrive())
	require.NoError(t, rig.registry.Provision(ctx, index, provider, 0, make([]byte, 32)))
	require.NoError(t, rig.registry.SubmitClaim(index, claimer, types.Claim{FinalHash: common.Hash{0x01}}))
	require.NoError(t, rig.registry.Challenge(ctx, index, challenger))
	require.NoError(t, rig.registry.Resolve(index, types.VerdictClaimerWins))
	// Rejected operations publish nothing.
	require.Error(t, rig.registry.Resolve(index, types.VerdictClaimerWins))

	expected := []struct {
		kind  EventKind
		phase types.Phase
	}{
		{InstanceCreated, types.WaitingProviders},
		{DriveProvisioned, types.WaitingClaim},
		{ClaimSubmitted, types.WaitingConfirmation},
		{ChallengeStarted, types.WaitingChallenge},
		{InstanceFinished, types.ClaimerWon},
	}
	var lastSeq uint64
	for i, exp := range expected {
		ev := <-events
		require.Equal(t, exp.kind, ev.Kind, "event %d", i)
		require.Equal(t, exp.phase, ev.Phase, "event %d", i)
		require.Equal(t, index, ev.Index)
		require.Equal(t, exp.phase, ev.Snapshot.Phase)
		if i > 0 {
			require.Greater(t, ev.Snapshot.Seq, lastSeq)
		}
		lastSeq = ev.Snapshot.Seq
	}
	require.Empty(t, events)
}

func TestEventsOrderedPerInstanceUnderContention(t *testing.T) {
	rig := setupRig(t)
	const count = 50
	events := make(chan Event, count*4)
	sub := rig.registry.SubscribeEvents(events)
	defer sub.Unsubscribe()

	for i := 0; i < count; i++ {
		rig.instantiate(t)
	}
	var wg sync.WaitGroup
	for index := uint64(0); index < count; index++ {
		wg.Add(2)
		go func(index uint64) {
			defer wg.Done()
			if err := rig.registry.SubmitClaim(index, claimer, types.Claim{FinalHash: common.Hash{0x01}}); err != nil {
				t.Errorf("submit claim %d: %v", index, err)
			}
		}(index)
		go func(index uint64) {
			defer wg.Done()
			for rig.registry.Confirm(index, challenger) != nil {
				time.Sleep(10 * time.Microsecond)
			}
		}(index)
	}
	wg.Wait()

	expected := []EventKind{InstanceCreated, ClaimSubmitted, Confirmed, InstanceFinished}
	seen := make(map[uint64][]EventKind)
	lastSeq := make(map[uint64]uint64)
	for i := 0; i < count*len(expected); i++ {
		ev := <-events
		require.GreaterOrEqual(t, ev.Snapshot.Seq, lastSeq[ev.Index], "instance %d", ev.Index)
		lastSeq[ev.Index] = ev.Snapshot.Seq
		seen[ev.Index] = append(seen[ev.Index], ev.Kind)
	}
	for index := uint64(0); index < count; index++ {
		require.Equal(t, expected, seen[index], "instance %d", index)
	}
}

func TestConfirmPublishesFinished(t *testing.T) {
	rig := setupRig(t)
	index := rig.toConfirmation(t)
	events := make(chan Event, 4)
	sub := rig.registry.SubscribeEvents(events)
	defer sub.Unsubscribe()

	require.NoError(t, rig.registry.Confirm(index, challenger))
	require.Equal(t, Confirmed, (<-events).Kind)
	finished := <-events
	require.Equal(t, InstanceFinished, finished.Kind)
	require.Equal(t, types.ConsensusResult, finished.Phase)
}

func TestRestore(t *testing.T) {
	rig := setupRig(t)
	first := rig.toConfirmation(t)
	second := rig.instantiate(t, providedDrive())
	require.NoError(t, rig.registry.Challenge(context.Background(), first, challenger))

	var snaps []types.Snapshot
	for _, index := range []uint64{first, second} {
		snap, err := rig.registry.GetState(index, stranger)
		require.NoError(t, err)
		snaps = append(snaps, snap)
	}

	restored := setupRig(t)
	require.NoError(t, restored.registry.Restore(snaps))
	require.Equal(t, uint64(2), restored.registry.Count())
	require.Equal(t, 2, restored.metrics.restored)
	for _, snap := range snaps {
		got, err := restored.registry.GetState(snap.Index, stranger)
		require.NoError(t, err)
		require.Equal(t, snap, got)
	}

	// New instances continue after the restored ones.
	require.Equal(t, uint64(2), restored.instantiate(t))
	require.NoError(t, restored.registry.Resolve(first, types.VerdictChallengerWins))

	t.Run("Gap", func(t *testing.T) {
		rig := setupRig(t)
		require.ErrorContains(t, rig.registry.Restore(snaps[1:]), "expected index 0")
	})
}
