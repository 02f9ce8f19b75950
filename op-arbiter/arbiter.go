package op_arbiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/mantlenetworkio/arbiter/op-arbiter/config"
	"github.com/mantlenetworkio/arbiter/op-arbiter/flags"
	oplog "github.com/mantlenetworkio/arbiter/op-service/log"
)

const stopTimeout = 30 * time.Second

// Lifecycle is a service that runs between Start and Stop.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Stopped() bool
}

// MainFn builds the service from a validated config.
type MainFn func(ctx context.Context, cfg *config.Config, logger log.Logger) (Lifecycle, error)

// FromConfig is the MainFn of the real arbiter service.
func FromConfig(ctx context.Context, cfg *config.Config, logger log.Logger) (Lifecycle, error) {
	return NewService(ctx, logger, cfg)
}

// Main returns the cli action that runs the service built by fn until the cli context is done.
func Main(version string, fn MainFn) cli.ActionFunc {
	return func(cliCtx *cli.Context) error {
		cfg, err := flags.ConfigFromCLI(cliCtx, version)
		if err != nil {
			return err
		}
		if err := cfg.Check(); err != nil {
			return fmt.Errorf("invalid CLI flags: %w", err)
		}
		logger := oplog.NewLogger(cliCtx.App.Writer, cfg.LogConfig)
		log.SetDefault(logger)
		logger.Info("Initializing arbiter", "version", version)

		ctx := cliCtx.Context
		svc, err := fn(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to create arbiter: %w", err)
		}
		if err := svc.Start(ctx); err != nil {
			return errors.Join(fmt.Errorf("failed to start arbiter: %w", err), svc.Stop(context.Background()))
		}
		<-ctx.Done()
		logger.Info("Received shutdown signal")

		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		return svc.Stop(stopCtx)
	}
}
