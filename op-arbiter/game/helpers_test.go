package game

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/mantlenetworkio/arbiter/op-arbiter/game/deadline"
	"github.com/mantlenetworkio/arbiter/op-arbiter/game/types"
	"github.com/mantlenetworkio/arbiter/op-service/clock"
	"github.com/mantlenetworkio/arbiter/op-service/testlog"
)

var (
	claimer    = common.Address{0xc1}
	challenger = common.Address{0xc2}
	provider   = common.Address{0xd1}
	stranger   = common.Address{0xee}
	loggerAddr = common.Address{0x1a}
	gameAddr   = common.Address{0x9a}
	machine    = common.Address{0x3a}

	templateHash = common.Hash{0x7e}
	startTime    = time.Unix(1_600_000_000, 0)
)

const roundDuration = 300 * time.Second

type stubMetrics struct {
	mu          sync.Mutex
	created     map[types.Phase]int
	restored    int
	transitions map[[2]types.Phase]int
	rejections  map[string]int
}

func newStubMetrics() *stubMetrics {
	return &stubMetrics{
		created:     make(map[types.Phase]int),
		transitions: make(map[[2]types.Phase]int),
		rejections:  make(map[string]int),
	}
}

func (s *stubMetrics) RecordInstanceCreated(phase types.Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created[phase]++
}

func (s *stubMetrics) RecordInstanceRestored(types.Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restored++
}

func (s *stubMetrics) RecordTransition(from types.Phase, to types.Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions[[2]types.Phase{from, to}]++
}

func (s *stubMetrics) RecordRejection(op string, kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejections[op+"/"+kind]++
}

type stubEscalator struct {
	mu       sync.Mutex
	err      error
	duration time.Duration
	requests []types.EscalationRequest
}

func (s *stubEscalator) Escalate(_ context.Context, req types.EscalationRequest) (types.EscalationRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return types.EscalationRef{}, s.err
	}
	s.requests = append(s.requests, req)
	return types.EscalationRef{Game: req.Game, Handle: uint64(len(s.requests) - 1), Duration: s.duration}, nil
}

type stubLoggerService struct {
	available map[common.Hash]bool
}

func (s *stubLoggerService) IsLogAvailable(_ context.Context, _ common.Address, root common.Hash, _ uint8) (bool, error) {
	if s.available == nil {
		return false, errors.New("logger offline")
	}
	return s.available[root], nil
}

type testRig struct {
	registry  *Registry
	clock     *clock.DeterministicClock
	metrics   *stubMetrics
	escalator *stubEscalator
	loggers   *stubLoggerService
	logs      *testlog.CapturingHandler
}

func setupRig(t *testing.T) *testRig {
	logger, logs := testlog.CaptureLogger(t, slog.LevelDebug)
	cl := clock.NewDeterministicClock(startTime)
	m := newStubMetrics()
	esc := &stubEscalator{duration: time.Hour}
	loggers := &stubLoggerService{available: make(map[common.Hash]bool)}
	return &testRig{
		registry:  NewRegistry(logger, m, cl, deadline.DefaultPolicy(), loggers, esc),
		clock:     cl,
		metrics:   m,
		escalator: esc,
		loggers:   loggers,
		logs:      logs,
	}
}

func literalDrive() types.Drive {
	return types.Drive{Position: 0x9000000000000000, Log2Size: 5, Value: make([]byte, 32)}
}

func providedDrive() types.Drive {
	return types.Drive{Position: 0xa000000000000000, Log2Size: 5, Provider: provider, NeedsProvider: true}
}

func params(drives ...types.Drive) types.InstantiateParams {
	if len(drives) == 0 {
		drives = []types.Drive{literalDrive()}
	}
	return types.InstantiateParams{
		FinalTime:        3000,
		TemplateHash:     templateHash,
		OutputPosition:   0xb000000000000000,
		RoundDuration:    roundDuration,
		Claimer:          claimer,
		Challenger:       challenger,
		Logger:           loggerAddr,
		VerificationGame: gameAddr,
		Machine:          machine,
		Drives:           drives,
	}
}

func (r *testRig) instantiate(t *testing.T, drives ...types.Drive) uint64 {
	index, err := r.registry.Instantiate(params(drives...))
	require.NoError(t, err)
	return index
}

func (r *testRig) requirePhase(t *testing.T, index uint64, expected types.Phase) {
	phase, err := r.registry.GetCurrentState(index)
	require.NoError(t, err)
	require.Equal(t, expected, phase)
}

// toConfirmation drives a fresh literal-drive instance to WaitingConfirmation.
func (r *testRig) toConfirmation(t *testing.T) uint64 {
	index := r.instantiate(t)
	require.NoError(t, r.registry.SubmitClaim(index, claimer, types.Claim{FinalHash: common.Hash{0xf1}, Output: []byte{0x01}}))
	r.requirePhase(t, index, types.WaitingConfirmation)
	return index
}
