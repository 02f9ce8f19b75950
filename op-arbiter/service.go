package op_arbiter

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/mantlenetworkio/arbiter/op-arbiter/api"
	"github.com/mantlenetworkio/arbiter/op-arbiter/config"
	"github.com/mantlenetworkio/arbiter/op-arbiter/game"
	"github.com/mantlenetworkio/arbiter/op-arbiter/game/drives"
	"github.com/mantlenetworkio/arbiter/op-arbiter/game/escalation"
	"github.com/mantlenetworkio/arbiter/op-arbiter/game/responder"
	"github.com/mantlenetworkio/arbiter/op-arbiter/game/types"
	"github.com/mantlenetworkio/arbiter/op-arbiter/metrics"
	"github.com/mantlenetworkio/arbiter/op-arbiter/store"
	"github.com/mantlenetworkio/arbiter/op-service/client"
	"github.com/mantlenetworkio/arbiter/op-service/clock"
	"github.com/mantlenetworkio/arbiter/op-service/httputil"
	opmetrics "github.com/mantlenetworkio/arbiter/op-service/metrics"
	oprpc "github.com/mantlenetworkio/arbiter/op-service/rpc"
)

type Service struct {
	logger  log.Logger
	metrics *metrics.Metrics
	cl      clock.Clock

	gameClient    *client.BaseRPCClient
	loggerClient  *client.BaseRPCClient
	machineClient *client.BaseRPCClient
	contentClient *client.BaseRPCClient

	loggers  types.LoggerService
	journal  *store.Journal
	registry *game.Registry
	bridge   *escalation.Bridge
	loop     *responder.Loop

	rpcServer  *oprpc.Server
	metricsSrv *httputil.HTTPServer

	cancel context.CancelFunc
	group  *errgroup.Group

	stopped atomic.Bool
}

// NewService wires the arbiter from cfg. The journal, if configured, is replayed into the
// registry before anything can reach it.
func NewService(ctx context.Context, logger log.Logger, cfg *config.Config) (*Service, error) {
	s := &Service{
		logger:  logger,
		metrics: metrics.NewMetrics(),
		cl:      clock.SystemClock,
	}
	if err := s.initFromConfig(ctx, cfg); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to init service: %w", err), s.Stop(ctx))
	}
	return s, nil
}

func (s *Service) initFromConfig(ctx context.Context, cfg *config.Config) error {
	if err := s.initMetricsServer(cfg); err != nil {
		return fmt.Errorf("failed to init metrics server: %w", err)
	}
	if err := s.initLoggerService(ctx, cfg); err != nil {
		return fmt.Errorf("failed to init logger service: %w", err)
	}
	if err := s.initRegistry(ctx, cfg); err != nil {
		return fmt.Errorf("failed to init registry: %w", err)
	}
	if err := s.initJournal(cfg); err != nil {
		return fmt.Errorf("failed to init journal: %w", err)
	}
	if err := s.initResponder(ctx, cfg); err != nil {
		return fmt.Errorf("failed to init responder: %w", err)
	}
	if err := s.initRPCServer(cfg); err != nil {
		return fmt.Errorf("failed to init rpc server: %w", err)
	}
	s.metrics.RecordInfo(cfg.Version)
	s.metrics.RecordUp()
	return nil
}

func (s *Service) initMetricsServer(cfg *config.Config) error {
	if !cfg.MetricsEnabled {
		return nil
	}
	s.logger.Debug("Starting metrics server", "addr", cfg.MetricsAddr, "port", cfg.MetricsPort)
	metricsSrv, err := opmetrics.StartServer(s.metrics.Registry(), cfg.MetricsAddr, cfg.MetricsPort)
	if err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	s.logger.Info("Started metrics server", "addr", metricsSrv.Addr())
	s.metricsSrv = metricsSrv
	return nil
}

func (s *Service) initLoggerService(ctx context.Context, cfg *config.Config) error {
	if cfg.TrustLogger {
		s.logger.Warn("Logger drive roots are trusted without checking availability")
		s.loggers = drives.TrustedLogger{}
		return nil
	}
	rpc, err := client.DialRPC(ctx, cfg.LoggerRPC, cfg.DialTimeout)
	if err != nil {
		return fmt.Errorf("failed to dial logger service: %w", err)
	}
	s.loggerClient = rpc
	s.loggers = drives.NewRemoteLogger(rpc)
	return nil
}

func (s *Service) initRegistry(ctx context.Context, cfg *config.Config) error {
	rpc, err := client.DialRPC(ctx, cfg.GameRPC, cfg.DialTimeout)
	if err != nil {
		return fmt.Errorf("failed to dial verification game: %w", err)
	}
	s.gameClient = rpc
	escalator := escalation.NewEscalator(s.logger, s.metrics, escalation.NewRemoteGame(rpc), cfg.EscalationTimeout)
	s.registry = game.NewRegistry(s.logger, s.metrics, s.cl, cfg.Policy, s.loggers, escalator)
	s.bridge = escalation.NewBridge(s.logger, s.metrics, s.registry)
	return nil
}

func (s *Service) initJournal(cfg *config.Config) error {
	if cfg.Datadir == "" {
		s.logger.Warn("No datadir configured, instances will not survive a restart")
		return nil
	}
	journal, err := store.Open(s.logger, s.metrics, cfg.Datadir)
	if err != nil {
		return err
	}
	s.journal = journal
	snapshots, err := journal.Load()
	if err != nil {
		return err
	}
	if err := s.registry.Restore(snapshots); err != nil {
		return err
	}
	journal.Follow(s.registry)
	return nil
}

func (s *Service) initResponder(ctx context.Context, cfg *config.Config) error {
	if !cfg.ResponderEnabled() {
		return nil
	}
	machineRPC, err := client.DialRPC(ctx, cfg.MachineRPC, cfg.DialTimeout)
	if err != nil {
		return fmt.Errorf("failed to dial machine server: %w", err)
	}
	s.machineClient = machineRPC
	contentRPC, err := client.DialRPC(ctx, cfg.ContentRPC, cfg.DialTimeout)
	if err != nil {
		return fmt.Errorf("failed to dial content server: %w", err)
	}
	s.contentClient = contentRPC
	resp := responder.NewResponder(s.logger, s.metrics, s.cl, s.registry,
		responder.NewRemoteMachine(machineRPC), responder.NewRemoteContent(contentRPC), cfg.ResponderParty)
	s.loop = responder.NewLoop(s.logger, resp, s.registry, cfg.ResponderParty, cfg.ResponderInterval)
	return nil
}

func (s *Service) initRPCServer(cfg *config.Config) error {
	opts := []oprpc.Option{
		oprpc.WithLogger(s.logger),
		oprpc.WithRPCRecorder(s.metrics.NewRecorder("main")),
	}
	if cfg.RPCEnableWS {
		opts = append(opts, oprpc.WithWebsocketEnabled())
	}
	server := oprpc.NewServer(cfg.RPCAddr, cfg.RPCPort, cfg.Version, opts...)
	if err := server.AddAPI(api.GetAPI(api.NewArbiterAPI(s.logger, s.registry, s.bridge))); err != nil {
		return fmt.Errorf("failed to register arbiter api: %w", err)
	}
	s.rpcServer = server
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	if err := s.rpcServer.Start(); err != nil {
		return fmt.Errorf("failed to start rpc server: %w", err)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.group, runCtx = errgroup.WithContext(runCtx)
	if s.loop != nil {
		s.group.Go(func() error {
			return s.loop.Run(runCtx)
		})
	}
	s.logger.Info("Arbiter service start completed", "instances", s.registry.Count())
	return nil
}

// RPCEndpoint is the host:port the JSON-RPC server listens on.
func (s *Service) RPCEndpoint() string {
	return s.rpcServer.Endpoint()
}

func (s *Service) Registry() *game.Registry {
	return s.registry
}

func (s *Service) Stopped() bool {
	return s.stopped.Load()
}

func (s *Service) Stop(ctx context.Context) error {
	s.logger.Info("Stopping arbiter service")
	var result error
	if s.cancel != nil {
		s.cancel()
		if err := s.group.Wait(); err != nil {
			result = errors.Join(result, fmt.Errorf("responder failed: %w", err))
		}
	}
	if s.rpcServer != nil {
		if err := s.rpcServer.Stop(ctx); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to close rpc server: %w", err))
		}
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to close journal: %w", err))
		}
	}
	if s.metricsSrv != nil {
		if err := s.metricsSrv.Stop(ctx); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to close metrics server: %w", err))
		}
	}
	for _, c := range []*client.BaseRPCClient{s.gameClient, s.loggerClient, s.machineClient, s.contentClient} {
		if c != nil {
			c.Close()
		}
	}
	s.stopped.Store(true)
	s.logger.Info("Stopped arbiter service")
	return result
}
