package drives

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/mantlenetworkio/arbiter/op-arbiter/game/types"
	"github.com/mantlenetworkio/arbiter/op-service/client"
)

// RemoteLogger queries a logger service over JSON-RPC in the logger namespace.
type RemoteLogger struct {
	client client.RPC
}

var _ types.LoggerService = (*RemoteLogger)(nil)

func NewRemoteLogger(client client.RPC) *RemoteLogger {
	return &RemoteLogger{client: client}
}

func (l *RemoteLogger) IsLogAvailable(ctx context.Context, logger common.Address, root common.Hash, log2Size uint8) (bool, error) {
	var available bool
	err := l.client.CallContext(ctx, &available, "logger_isLogAvailable", logger, root, hexutil.Uint64(log2Size))
	return available, err
}

// TrustedLogger reports every log as available. It suits deployments where the logger is
// verified out of band.
type TrustedLogger struct{}

var _ types.LoggerService = TrustedLogger{}

func (TrustedLogger) IsLogAvailable(context.Context, common.Address, common.Hash, uint8) (bool, error) {
	return true, nil
}
