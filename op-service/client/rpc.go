package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
)

// RPC is the subset of the go-ethereum rpc client that service clients depend on.
type RPC interface {
	Close()
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

// BaseRPCClient wraps a go-ethereum rpc client, surfacing JSON-RPC error data in error messages.
type BaseRPCClient struct {
	c *rpc.Client
}

var _ RPC = (*BaseRPCClient)(nil)

func NewBaseRPCClient(c *rpc.Client) *BaseRPCClient {
	return &BaseRPCClient{c: c}
}

// DialRPC connects to addr, giving up after timeout.
func DialRPC(ctx context.Context, addr string, timeout time.Duration) (*BaseRPCClient, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	c, err := rpc.DialContext(dialCtx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial address (%s): %w", addr, err)
	}
	return NewBaseRPCClient(c), nil
}

func (b *BaseRPCClient) Close() {
	b.c.Close()
}

func (b *BaseRPCClient) CallContext(ctx context.Context, result any, method string, args ...any) error {
	return wrapErrorData(b.c.CallContext(ctx, result, method, args...))
}

func wrapErrorData(err error) error {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
		return fmt.Errorf("%w: %v", err, dataErr.ErrorData())
	}
	return err
}
