package escalation

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/mantlenetworkio/arbiter/op-arbiter/game/types"
	"github.com/mantlenetworkio/arbiter/op-service/client"
)

// RemoteGame is a verification game reached over JSON-RPC in the vg namespace.
type RemoteGame struct {
	client client.RPC
}

var _ types.VerificationGame = (*RemoteGame)(nil)

func NewRemoteGame(client client.RPC) *RemoteGame {
	return &RemoteGame{client: client}
}

func (g *RemoteGame) Instantiate(ctx context.Context, req types.EscalationRequest) (uint64, error) {
	var handle hexutil.Uint64
	if err := g.client.CallContext(ctx, &handle, "vg_instantiate", req); err != nil {
		return 0, err
	}
	return uint64(handle), nil
}

// MaxDuration exchanges durations as whole seconds.
func (g *RemoteGame) MaxDuration(ctx context.Context, game common.Address, roundDuration time.Duration, finalTime uint64) (time.Duration, error) {
	var seconds hexutil.Uint64
	err := g.client.CallContext(ctx, &seconds, "vg_maxDuration", game,
		hexutil.Uint64(roundDuration/time.Second), hexutil.Uint64(finalTime))
	if err != nil {
		return 0, err
	}
	return time.Duration(seconds) * time.Second, nil
}
