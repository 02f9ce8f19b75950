package main

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	op_arbiter "github.com/mantlenetworkio/arbiter/op-arbiter"
	"github.com/mantlenetworkio/arbiter/op-arbiter/flags"
	opservice "github.com/mantlenetworkio/arbiter/op-service"
	oplog "github.com/mantlenetworkio/arbiter/op-service/log"
)

var (
	Version   = "v0.0.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	// .env is optional, flags and the real environment still apply without it
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Crit("Failed to load .env file", "err", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Stdout, os.Stderr, os.Args, op_arbiter.FromConfig); err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func run(ctx context.Context, w io.Writer, ew io.Writer, args []string, fn op_arbiter.MainFn) error {
	oplog.SetupDefaults()

	app := cli.NewApp()
	app.Writer = w
	app.ErrWriter = ew
	app.Flags = flags.Flags
	app.Version = opservice.FormatVersion(Version, GitCommit, GitDate, "")
	app.Name = "op-arbiter"
	app.Usage = "Arbitrate disputed off-chain computations"
	app.Description = "Runs dispute instances between a claimer and a challenger, escalating disagreements " +
		"to a verification game, and serves them over JSON-RPC."
	app.Action = op_arbiter.Main(app.Version, fn)
	return app.RunContext(ctx, args)
}
