package rpc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/node"
	"github.com/ethereum/go-ethereum/rpc"

	oplog "github.com/mantlenetworkio/arbiter/op-service/log"
)

var wildcardHosts = []string{"*"}

// Handler is an http Handler serving a single JSON-RPC server on the root path,
// with a health endpoint and optional websocket upgrades.
//
// Custom routes can be added with AddHandler, these are registered to the underlying http.ServeMux.
type Handler struct {
	appVersion     string
	healthzHandler http.Handler
	corsHosts      []string
	vHosts         []string
	wsEnabled      bool

	log         log.Logger
	middlewares []Middleware
	recorder    rpc.Recorder

	server *rpc.Server
	mux    *http.ServeMux

	// What we serve to users of this Handler, see ServeHTTP
	outer http.Handler
}

func NewHandler(appVersion string, opts ...Option) *Handler {
	bs := &Handler{
		appVersion:     appVersion,
		healthzHandler: defaultHealthzHandler(appVersion),
		corsHosts:      wildcardHosts,
		vHosts:         wildcardHosts,
		log:            log.Root(),
		server:         rpc.NewServer(),
		mux:            &http.ServeMux{},
	}
	for _, opt := range opts {
		opt(bs)
	}
	bs.log.Debug("Creating RPC handler")

	bs.server.SetRecorder(bs.recorder)
	if err := bs.server.RegisterName("health", &healthzAPI{appVersion: appVersion}); err != nil {
		panic(fmt.Errorf("failed to setup default health RPC namespace: %w", err))
	}

	// default to 404 not-found
	var handler http.Handler = http.HandlerFunc(http.NotFound)
	handler = bs.newHttpRPCMiddleware(handler)
	if bs.wsEnabled { // prioritize WS RPC, if it's an upgrade request
		handler = bs.newWsMiddleWare(handler)
	}
	for _, middleware := range bs.middlewares {
		handler = middleware(handler)
	}
	// Health endpoint applies before user middleware
	handler = bs.newHealthMiddleware(handler)
	bs.mux.Handle("/", http.StripPrefix("/", handler))

	bs.outer = oplog.NewLoggingMiddleware(bs.log, bs.mux)
	return bs
}

var _ http.Handler = (*Handler)(nil)

// ServeHTTP implements http.Handler
func (b *Handler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	b.outer.ServeHTTP(writer, request)
}

// AddAPI registers a backend under the given RPC namespace.
func (b *Handler) AddAPI(api rpc.API) error {
	if err := b.server.RegisterName(api.Namespace, api.Service); err != nil {
		return fmt.Errorf("failed to register API namespace %s: %w", api.Namespace, err)
	}
	b.log.Info("registered API", "namespace", api.Namespace)
	return nil
}

// AddHandler adds a custom http.Handler, mapped to an absolute path
func (b *Handler) AddHandler(path string, handler http.Handler) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	b.mux.Handle(path, handler)
}

// Server exposes the underlying RPC server, e.g. for in-process clients.
func (b *Handler) Server() *rpc.Server {
	return b.server
}

func (b *Handler) newHealthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// URL is already stripped with http.StripPrefix
		if r.URL.Path == "healthz" || r.URL.Path == "healthz/" {
			b.healthzHandler.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Handler) newHttpRPCMiddleware(next http.Handler) http.Handler {
	httpHandler := node.NewHTTPHandlerStack(b.server, b.corsHosts, b.vHosts, nil)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" {
			httpHandler.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Handler) newWsMiddleWare(next http.Handler) http.Handler {
	wsHandler := node.NewWSHandlerStack(b.server.WebsocketHandler(b.corsHosts), nil)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isWebsocket(r) && (r.URL.Path == "" || r.URL.Path == "ws" || r.URL.Path == "ws/") {
			wsHandler.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Handler) Stop() {
	b.log.Debug("Stopping RPC")
	b.server.Stop()
}

type HealthzResponse struct {
	Version string `json:"version"`
}

func defaultHealthzHandler(appVersion string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(&HealthzResponse{Version: appVersion})
	}
}

type healthzAPI struct {
	appVersion string
}

func (h *healthzAPI) Status() string {
	return h.appVersion
}

func isWebsocket(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}
