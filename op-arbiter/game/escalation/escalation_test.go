package escalation

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"

	"github.com/mantlenetworkio/arbiter/op-arbiter/game/types"
	"github.com/mantlenetworkio/arbiter/op-service/client"
	"github.com/mantlenetworkio/arbiter/op-service/testlog"
)

var (
	gameAddr = common.Address{0x9a}
	stranger = common.Address{0xee}
)

type stubMetrics struct {
	escalations map[string]int
	verdicts    map[types.Verdict]int
}

func (s *stubMetrics) RecordEscalation(outcome string) {
	s.escalations[outcome]++
}

func (s *stubMetrics) RecordVerdict(verdict types.Verdict) {
	s.verdicts[verdict]++
}

func newStubMetrics() *stubMetrics {
	return &stubMetrics{escalations: make(map[string]int), verdicts: make(map[types.Verdict]int)}
}

type stubGame struct {
	durationErr    error
	instantiateErr error
	requests       []types.EscalationRequest
}

func (s *stubGame) Instantiate(ctx context.Context, req types.EscalationRequest) (uint64, error) {
	if s.instantiateErr != nil {
		return 0, s.instantiateErr
	}
	s.requests = append(s.requests, req)
	return 41 + uint64(len(s.requests)), nil
}

func (s *stubGame) MaxDuration(ctx context.Context, game common.Address, roundDuration time.Duration, finalTime uint64) (time.Duration, error) {
	if s.durationErr != nil {
		return 0, s.durationErr
	}
	return 10 * roundDuration, nil
}

func TestEscalate(t *testing.T) {
	req := types.EscalationRequest{Index: 3, Game: gameAddr, RoundDuration: time.Minute, FinalTime: 3000}

	t.Run("Success", func(t *testing.T) {
		m := newStubMetrics()
		game := &stubGame{}
		esc := NewEscalator(testlog.Logger(t, slog.LevelInfo), m, game, time.Second)
		ref, err := esc.Escalate(context.Background(), req)
		require.NoError(t, err)
		require.Equal(t, types.EscalationRef{Game: gameAddr, Handle: 42, Duration: 10 * time.Minute}, ref)
		require.Equal(t, []types.EscalationRequest{req}, game.requests)
		require.Equal(t, 1, m.escalations["started"])
	})

	t.Run("DurationUnavailable", func(t *testing.T) {
		m := newStubMetrics()
		game := &stubGame{durationErr: errors.New("no game")}
		esc := NewEscalator(testlog.Logger(t, slog.LevelInfo), m, game, 0)
		_, err := esc.Escalate(context.Background(), req)
		require.ErrorContains(t, err, "no game")
		require.Empty(t, game.requests)
		require.Equal(t, 1, m.escalations["failed"])
	})

	t.Run("InstantiateFails", func(t *testing.T) {
		m := newStubMetrics()
		game := &stubGame{instantiateErr: errors.New("reverted")}
		esc := NewEscalator(testlog.Logger(t, slog.LevelInfo), m, game, 0)
		_, err := esc.Escalate(context.Background(), req)
		require.ErrorContains(t, err, "reverted")
		require.Equal(t, 1, m.escalations["failed"])
	})
}

type stubRegistry struct {
	snap     types.Snapshot
	err      error
	resolved []types.Verdict
}

func (s *stubRegistry) GetState(index uint64, _ common.Address) (types.Snapshot, error) {
	if index != s.snap.Index {
		return types.Snapshot{}, types.NewError(types.ErrUnknownInstance, types.ReasonUnknownInstance)
	}
	return s.snap, nil
}

func (s *stubRegistry) Resolve(_ uint64, verdict types.Verdict) error {
	if s.err != nil {
		return s.err
	}
	if s.snap.Phase.IsTerminal() {
		return &types.ArbitrationError{Kind: types.ErrInstanceTerminal, Reason: "finished", Terminal: true}
	}
	s.resolved = append(s.resolved, verdict)
	return nil
}

func TestBridgeResolve(t *testing.T) {
	escalated := types.Snapshot{
		Index:      2,
		Phase:      types.WaitingChallenge,
		Escalation: &types.EscalationRef{Game: gameAddr, Handle: 7},
	}

	t.Run("AppliesVerdictFromGame", func(t *testing.T) {
		m := newStubMetrics()
		reg := &stubRegistry{snap: escalated}
		bridge := NewBridge(testlog.Logger(t, slog.LevelInfo), m, reg)
		require.NoError(t, bridge.Resolve(gameAddr, 2, types.VerdictClaimerWins))
		require.Equal(t, []types.Verdict{types.VerdictClaimerWins}, reg.resolved)
		require.Equal(t, 1, m.verdicts[types.VerdictClaimerWins])
	})

	t.Run("RejectsOtherCallers", func(t *testing.T) {
		reg := &stubRegistry{snap: escalated}
		bridge := NewBridge(testlog.Logger(t, slog.LevelInfo), newStubMetrics(), reg)
		err := bridge.Resolve(stranger, 2, types.VerdictClaimerWins)
		require.ErrorIs(t, err, types.ErrRoleViolation)
		require.Empty(t, reg.resolved)
	})

	t.Run("NotEscalated", func(t *testing.T) {
		reg := &stubRegistry{snap: types.Snapshot{Index: 2, Phase: types.WaitingClaim}}
		bridge := NewBridge(testlog.Logger(t, slog.LevelInfo), newStubMetrics(), reg)
		require.ErrorIs(t, bridge.Resolve(gameAddr, 2, types.VerdictClaimerWins), types.ErrRoleViolation)
	})

	t.Run("UnknownInstance", func(t *testing.T) {
		reg := &stubRegistry{snap: escalated}
		bridge := NewBridge(testlog.Logger(t, slog.LevelInfo), newStubMetrics(), reg)
		require.ErrorIs(t, bridge.Resolve(gameAddr, 9, types.VerdictClaimerWins), types.ErrUnknownInstance)
	})

	t.Run("NotFinal", func(t *testing.T) {
		reg := &stubRegistry{snap: escalated, err: types.NewError(types.ErrVerdictNotFinal, types.ReasonVerdictNotFinal)}
		bridge := NewBridge(testlog.Logger(t, slog.LevelInfo), newStubMetrics(), reg)
		require.EqualError(t, bridge.Resolve(gameAddr, 2, types.VerdictUndecided), types.ReasonVerdictNotFinal)
	})

	t.Run("LateVerdictIgnored", func(t *testing.T) {
		finished := escalated
		finished.Phase = types.ClaimerWon
		logger, logs := testlog.CaptureLogger(t, slog.LevelDebug)
		m := newStubMetrics()
		reg := &stubRegistry{snap: finished}
		bridge := NewBridge(logger, m, reg)
		require.NoError(t, bridge.Resolve(gameAddr, 2, types.VerdictChallengerWins))
		require.Empty(t, reg.resolved)
		require.Empty(t, m.verdicts)
		require.NotNil(t, logs.FindLog(testlog.NewMessageFilter("Ignoring verdict for finished instance")))
	})
}

type vgAPI struct {
	lastReq types.EscalationRequest
}

func (a *vgAPI) Instantiate(req types.EscalationRequest) hexutil.Uint64 {
	a.lastReq = req
	return 5
}

func (a *vgAPI) MaxDuration(game common.Address, roundSeconds hexutil.Uint64, finalTime hexutil.Uint64) (hexutil.Uint64, error) {
	if game != gameAddr {
		return 0, errors.New("unknown game")
	}
	return roundSeconds * 4, nil
}

func TestRemoteGame(t *testing.T) {
	api := &vgAPI{}
	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName("vg", api))
	defer srv.Stop()
	rpcClient := client.NewBaseRPCClient(rpc.DialInProc(srv))
	defer rpcClient.Close()
	game := NewRemoteGame(rpcClient)
	ctx := context.Background()

	req := types.EscalationRequest{
		Index:            1,
		Game:             gameAddr,
		TemplateHash:     common.Hash{0x01},
		ClaimedFinalHash: common.Hash{0x02},
		RoundDuration:    time.Minute,
		DriveHashes:      []common.Hash{{0x03}},
	}
	handle, err := game.Instantiate(ctx, req)
	require.NoError(t, err)
	require.Equal(t, uint64(5), handle)
	require.Equal(t, req, api.lastReq)

	duration, err := game.MaxDuration(ctx, gameAddr, time.Minute, 3000)
	require.NoError(t, err)
	require.Equal(t, 4*time.Minute, duration)

	_, err = game.MaxDuration(ctx, stranger, time.Minute, 3000)
	require.ErrorContains(t, err, "unknown game")
}
