package rpc

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/mantlenetworkio/arbiter/op-service/httputil"
)

// Server is a convenience util, that wraps an httputil.HTTPServer and provides an RPC Handler
type Server struct {
	httpServer *httputil.HTTPServer

	// embedded, for easy access as caller
	*Handler
}

// Endpoint returns the HTTP endpoint without http / ws protocol prefix.
func (b *Server) Endpoint() string {
	return b.httpServer.Addr().String()
}

func (b *Server) Port() (int, error) {
	return b.httpServer.Port()
}

func (b *Server) Start() error {
	if err := b.httpServer.Start(); err != nil {
		return err
	}
	b.log.Info("Started RPC server", "endpoint", b.httpServer.HTTPEndpoint())
	return nil
}

// Stop shuts the HTTP server down gracefully, bounded by the given context, then closes the RPC server.
func (b *Server) Stop(ctx context.Context) error {
	err := b.httpServer.Stop(ctx)
	b.Handler.Stop()
	b.log.Info("Stopped RPC server")
	return err
}

// DialInProc attaches a client to the server without going through the network.
func (b *Server) DialInProc() *rpc.Client {
	return rpc.DialInProc(b.Handler.Server())
}

type ServerConfig struct {
	HttpOptions []httputil.Option
	RpcOptions  []Option
	Host        string
	Port        int
	AppVersion  string
}

func NewServer(host string, port int, appVersion string, opts ...Option) *Server {
	return ServerFromConfig(&ServerConfig{
		RpcOptions: opts,
		Host:       host,
		Port:       port,
		AppVersion: appVersion,
	})
}

func ServerFromConfig(cfg *ServerConfig) *Server {
	endpoint := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	h := NewHandler(cfg.AppVersion, cfg.RpcOptions...)
	s := httputil.NewHTTPServer(endpoint, h, append([]httputil.Option{httputil.WithTimeouts(rpcTimeouts)}, cfg.HttpOptions...)...)
	return &Server{httpServer: s, Handler: h}
}

// rpcTimeouts leaves websocket connections open while idle.
var rpcTimeouts = httputil.Timeouts{
	ReadTimeout:       httputil.DefaultTimeouts.ReadTimeout,
	ReadHeaderTimeout: httputil.DefaultTimeouts.ReadHeaderTimeout,
	WriteTimeout:      httputil.DefaultTimeouts.WriteTimeout,
	IdleTimeout:       5 * time.Minute,
}
