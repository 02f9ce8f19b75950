// Package api serves the instance registry in the "arbiter" JSON-RPC namespace.
package api

import (
	"context"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/mantlenetworkio/arbiter/op-arbiter/game"
	"github.com/mantlenetworkio/arbiter/op-arbiter/game/types"
	"github.com/mantlenetworkio/arbiter/op-service/rpc"
)

const Namespace = "arbiter"

type Registry interface {
	Instantiate(params types.InstantiateParams) (uint64, error)
	Count() uint64
	GetState(index uint64, caller common.Address) (types.Snapshot, error)
	GetCurrentState(index uint64) (types.Phase, error)
	GetResult(index uint64) (types.Result, error)
	IsConcerned(index uint64, addr common.Address) (bool, error)
	GetSubInstances(index uint64) (common.Address, []uint64, error)
	Provision(ctx context.Context, index uint64, caller common.Address, drive uint64, content []byte) error
	SubmitClaim(index uint64, caller common.Address, claim types.Claim) error
	Confirm(index uint64, caller common.Address) error
	Challenge(ctx context.Context, index uint64, caller common.Address) error
	AbortByDeadline(index uint64) error
	Feed() *event.FeedOf[game.Event]
}

// Resolver applies verdicts sent by verification games.
type Resolver interface {
	Resolve(caller common.Address, index uint64, verdict types.Verdict) error
}

type ArbiterAPI struct {
	log      log.Logger
	registry Registry
	resolver Resolver
}

func NewArbiterAPI(logger log.Logger, registry Registry, resolver Resolver) *ArbiterAPI {
	return &ArbiterAPI{
		log:      logger,
		registry: registry,
		resolver: resolver,
	}
}

func GetAPI(api *ArbiterAPI) gethrpc.API {
	return gethrpc.API{
		Namespace: Namespace,
		Service:   api,
	}
}

// InstantiateArgs is the RPC form of types.InstantiateParams. The round duration is in seconds.
type InstantiateArgs struct {
	FinalTime        hexutil.Uint64 `json:"finalTime"`
	TemplateHash     common.Hash    `json:"templateHash"`
	OutputPosition   hexutil.Uint64 `json:"outputPosition"`
	RoundDuration    hexutil.Uint64 `json:"roundDuration"`
	Claimer          common.Address `json:"claimer"`
	Challenger       common.Address `json:"challenger"`
	Logger           common.Address `json:"logger"`
	VerificationGame common.Address `json:"verificationGame"`
	Machine          common.Address `json:"machine"`
	Drives           []types.Drive  `json:"drives"`
}

// maxRoundSeconds is the longest round duration that still fits a time.Duration.
const maxRoundSeconds = math.MaxInt64 / uint64(time.Second)

// Params converts the arguments, rejecting round durations a time.Duration cannot hold.
func (a InstantiateArgs) Params() (types.InstantiateParams, error) {
	if uint64(a.RoundDuration) > maxRoundSeconds {
		return types.InstantiateParams{}, types.NewError(types.ErrInvalidInstantiation, "Round duration is too large")
	}
	return types.InstantiateParams{
		FinalTime:        uint64(a.FinalTime),
		TemplateHash:     a.TemplateHash,
		OutputPosition:   uint64(a.OutputPosition),
		RoundDuration:    time.Duration(a.RoundDuration) * time.Second,
		Claimer:          a.Claimer,
		Challenger:       a.Challenger,
		Logger:           a.Logger,
		VerificationGame: a.VerificationGame,
		Machine:          a.Machine,
		Drives:           a.Drives,
	}, nil
}

type SubInstances struct {
	Game    common.Address   `json:"game"`
	Handles []hexutil.Uint64 `json:"handles"`
}

func (api *ArbiterAPI) Instantiate(args InstantiateArgs) (hexutil.Uint64, error) {
	params, err := args.Params()
	if err != nil {
		return 0, toRPCError(err)
	}
	index, err := api.registry.Instantiate(params)
	return hexutil.Uint64(index), toRPCError(err)
}

func (api *ArbiterAPI) Count() hexutil.Uint64 {
	return hexutil.Uint64(api.registry.Count())
}

func (api *ArbiterAPI) GetState(index hexutil.Uint64, from common.Address) (types.Snapshot, error) {
	snap, err := api.registry.GetState(uint64(index), from)
	return snap, toRPCError(err)
}

func (api *ArbiterAPI) GetCurrentState(index hexutil.Uint64) (types.Phase, error) {
	phase, err := api.registry.GetCurrentState(uint64(index))
	return phase, toRPCError(err)
}

func (api *ArbiterAPI) GetResult(index hexutil.Uint64) (types.Result, error) {
	res, err := api.registry.GetResult(uint64(index))
	return res, toRPCError(err)
}

func (api *ArbiterAPI) IsConcerned(index hexutil.Uint64, addr common.Address) (bool, error) {
	concerned, err := api.registry.IsConcerned(uint64(index), addr)
	return concerned, toRPCError(err)
}

func (api *ArbiterAPI) GetSubInstances(index hexutil.Uint64) (SubInstances, error) {
	vg, handles, err := api.registry.GetSubInstances(uint64(index))
	if err != nil {
		return SubInstances{}, toRPCError(err)
	}
	out := SubInstances{Game: vg, Handles: make([]hexutil.Uint64, len(handles))}
	for i, h := range handles {
		out.Handles[i] = hexutil.Uint64(h)
	}
	return out, nil
}

func (api *ArbiterAPI) Provision(ctx context.Context, index hexutil.Uint64, from common.Address, drive hexutil.Uint64, content hexutil.Bytes) error {
	return toRPCError(api.registry.Provision(ctx, uint64(index), from, uint64(drive), content))
}

func (api *ArbiterAPI) SubmitClaim(index hexutil.Uint64, from common.Address, claim types.Claim) error {
	return toRPCError(api.registry.SubmitClaim(uint64(index), from, claim))
}

func (api *ArbiterAPI) Confirm(index hexutil.Uint64, from common.Address) error {
	return toRPCError(api.registry.Confirm(uint64(index), from))
}

func (api *ArbiterAPI) Challenge(ctx context.Context, index hexutil.Uint64, from common.Address) error {
	return toRPCError(api.registry.Challenge(ctx, uint64(index), from))
}

// AbortByDeadline may be called by anyone once the deadline of the current phase has passed.
func (api *ArbiterAPI) AbortByDeadline(index hexutil.Uint64) error {
	return toRPCError(api.registry.AbortByDeadline(uint64(index)))
}

// Resolve delivers a verdict. from must be the verification game the instance escalated to.
func (api *ArbiterAPI) Resolve(index hexutil.Uint64, from common.Address, verdict types.Verdict) error {
	return toRPCError(api.resolver.Resolve(from, uint64(index), verdict))
}

// Events streams registry events, optionally only those of one instance.
func (api *ArbiterAPI) Events(ctx context.Context, index *hexutil.Uint64) (*gethrpc.Subscription, error) {
	var filter func(game.Event) bool
	if index != nil {
		want := uint64(*index)
		filter = func(ev game.Event) bool { return ev.Index == want }
	}
	return rpc.SubscribeRPC(ctx, api.log, api.registry.Feed(), filter)
}
