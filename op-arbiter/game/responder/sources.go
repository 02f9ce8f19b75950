package responder

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/mantlenetworkio/arbiter/op-arbiter/game/types"
	"github.com/mantlenetworkio/arbiter/op-service/client"
)

// RemoteMachine runs computations on a machine server over JSON-RPC in the machine namespace.
type RemoteMachine struct {
	client client.RPC
}

var _ types.Machine = (*RemoteMachine)(nil)

func NewRemoteMachine(client client.RPC) *RemoteMachine {
	return &RemoteMachine{client: client}
}

type machineRunArgs struct {
	Machine        common.Address `json:"machine"`
	TemplateHash   common.Hash    `json:"templateHash"`
	FinalTime      hexutil.Uint64 `json:"finalTime"`
	OutputPosition hexutil.Uint64 `json:"outputPosition"`
	Drives         []types.Drive  `json:"drives"`
}

type machineRunResult struct {
	FinalHash common.Hash   `json:"finalHash"`
	Output    hexutil.Bytes `json:"output"`
}

func (m *RemoteMachine) Run(ctx context.Context, req types.MachineRequest) (types.MachineResult, error) {
	var res machineRunResult
	err := m.client.CallContext(ctx, &res, "machine_run", machineRunArgs{
		Machine:        req.Machine,
		TemplateHash:   req.TemplateHash,
		FinalTime:      hexutil.Uint64(req.FinalTime),
		OutputPosition: hexutil.Uint64(req.OutputPosition),
		Drives:         req.Drives,
	})
	if err != nil {
		return types.MachineResult{}, err
	}
	return types.MachineResult{FinalHash: res.FinalHash, Output: res.Output}, nil
}

// StaticContent serves drive content from memory, keyed by instance and drive index.
type StaticContent map[[2]uint64][]byte

var _ ContentSource = StaticContent(nil)

func (s StaticContent) DriveContent(_ context.Context, index uint64, drive uint64, _ types.Drive) ([]byte, error) {
	content, ok := s[[2]uint64{index, drive}]
	if !ok {
		return nil, fmt.Errorf("no content for drive %d of instance %d", drive, index)
	}
	return content, nil
}

// RemoteContent fetches drive content from a content server over JSON-RPC in the content namespace.
type RemoteContent struct {
	client client.RPC
}

var _ ContentSource = (*RemoteContent)(nil)

func NewRemoteContent(client client.RPC) *RemoteContent {
	return &RemoteContent{client: client}
}

func (c *RemoteContent) DriveContent(ctx context.Context, index uint64, drive uint64, d types.Drive) ([]byte, error) {
	var content hexutil.Bytes
	err := c.client.CallContext(ctx, &content, "content_driveContent", hexutil.Uint64(index), hexutil.Uint64(drive), d)
	if err != nil {
		return nil, err
	}
	return content, nil
}
