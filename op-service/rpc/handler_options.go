package rpc

import (
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

type Option func(b *Handler)

type Middleware func(next http.Handler) http.Handler

func WithHealthzHandler(hdlr http.Handler) Option {
	return func(b *Handler) {
		b.healthzHandler = hdlr
	}
}

func WithCORSHosts(hosts []string) Option {
	return func(b *Handler) {
		b.corsHosts = hosts
	}
}

func WithVHosts(hosts []string) Option {
	return func(b *Handler) {
		b.vHosts = hosts
	}
}

// WithWebsocketEnabled allows `ws://host:port/`, `ws://host:port/ws` and `ws://host:port/ws/`
// to be upgraded to a websocket JSON RPC connection. Subscriptions need it.
func WithWebsocketEnabled() Option {
	return func(b *Handler) {
		b.wsEnabled = true
	}
}

func WithLogger(lgr log.Logger) Option {
	return func(b *Handler) {
		b.log = lgr
	}
}

// WithMiddleware adds an http.Handler to the rpc server handler stack.
// The added middleware is invoked directly before the RPC callback.
func WithMiddleware(middleware Middleware) Option {
	return func(b *Handler) {
		b.middlewares = append(b.middlewares, middleware)
	}
}

// WithRPCRecorder adds an RPC recorder to the RPC server, see metrics.RPCMetricer.
func WithRPCRecorder(recorder gethrpc.Recorder) Option {
	return func(b *Handler) {
		b.recorder = recorder
	}
}
