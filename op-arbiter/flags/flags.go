package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/mantlenetworkio/arbiter/op-arbiter/config"
	"github.com/mantlenetworkio/arbiter/op-arbiter/game/deadline"
	opservice "github.com/mantlenetworkio/arbiter/op-service"
	"github.com/mantlenetworkio/arbiter/op-service/cliutil"
	oplog "github.com/mantlenetworkio/arbiter/op-service/log"
)

const EnvVarPrefix = "OP_ARBITER"

func prefixEnvVars(name string) []string {
	return opservice.PrefixEnvVar(EnvVarPrefix, name)
}

var (
	// Required Flags
	GameRPCFlag = &cli.StringFlag{
		Name:    "game-rpc",
		Usage:   "HTTP or websocket endpoint of the verification game disputes are escalated to",
		EnvVars: prefixEnvVars("GAME_RPC"),
	}
	// Optional Flags
	RPCAddrFlag = &cli.StringFlag{
		Name:    "rpc.addr",
		Usage:   "Address the arbiter JSON-RPC server listens on",
		EnvVars: prefixEnvVars("RPC_ADDR"),
		Value:   config.DefaultRPCAddr,
	}
	RPCPortFlag = &cli.IntFlag{
		Name:    "rpc.port",
		Usage:   "Port the arbiter JSON-RPC server listens on",
		EnvVars: prefixEnvVars("RPC_PORT"),
		Value:   config.DefaultRPCPort,
	}
	RPCEnableWSFlag = &cli.BoolFlag{
		Name:    "rpc.enable-ws",
		Usage:   "Serve websocket connections on the RPC port, required for event subscriptions",
		EnvVars: prefixEnvVars("RPC_ENABLE_WS"),
	}
	MetricsEnabledFlag = &cli.BoolFlag{
		Name:    "metrics.enabled",
		Usage:   "Enable the metrics server",
		EnvVars: prefixEnvVars("METRICS_ENABLED"),
	}
	MetricsAddrFlag = &cli.StringFlag{
		Name:    "metrics.addr",
		Usage:   "Metrics listening address",
		EnvVars: prefixEnvVars("METRICS_ADDR"),
		Value:   config.DefaultMetricsAddr,
	}
	MetricsPortFlag = &cli.IntFlag{
		Name:    "metrics.port",
		Usage:   "Metrics listening port",
		EnvVars: prefixEnvVars("METRICS_PORT"),
		Value:   config.DefaultMetricsPort,
	}
	LoggerRPCFlag = &cli.StringFlag{
		Name:    "logger-rpc",
		Usage:   "Endpoint of the logger service consulted before accepting logger drive roots",
		EnvVars: prefixEnvVars("LOGGER_RPC"),
	}
	TrustLoggerFlag = &cli.BoolFlag{
		Name:    "trust-logger",
		Usage:   "Treat every logger drive root as available without asking a logger service",
		EnvVars: prefixEnvVars("TRUST_LOGGER"),
	}
	DialTimeoutFlag = &cli.DurationFlag{
		Name:    "rpc-dial-timeout",
		Usage:   "Timeout for connecting to the verification game and other remote services",
		EnvVars: prefixEnvVars("RPC_DIAL_TIMEOUT"),
		Value:   config.DefaultDialTimeout,
	}
	DatadirFlag = &cli.StringFlag{
		Name:    "datadir",
		Usage:   "Directory of the instance journal. Instances are not persisted when unset",
		EnvVars: prefixEnvVars("DATADIR"),
	}
	EscalationTimeoutFlag = &cli.DurationFlag{
		Name:    "escalation-timeout",
		Usage:   "Time allowed for opening a verification game. 0 disables the timeout",
		EnvVars: prefixEnvVars("ESCALATION_TIMEOUT"),
		Value:   config.DefaultEscalationTimeout,
	}
	DeadlinePolicyFlag = &cli.StringFlag{
		Name:    "deadline-policy",
		Usage:   "TOML file scaling the deadline window of each phase",
		EnvVars: prefixEnvVars("DEADLINE_POLICY"),
	}
	ResponderPartyFlag = &cli.StringFlag{
		Name:    "responder.party",
		Usage:   "Run the built-in responder acting for this party address",
		EnvVars: prefixEnvVars("RESPONDER_PARTY"),
	}
	MachineRPCFlag = &cli.StringFlag{
		Name:    "responder.machine-rpc",
		Usage:   "Machine server the responder runs computations on",
		EnvVars: prefixEnvVars("RESPONDER_MACHINE_RPC"),
	}
	ContentRPCFlag = &cli.StringFlag{
		Name:    "responder.content-rpc",
		Usage:   "Content server the responder loads owed drive content from",
		EnvVars: prefixEnvVars("RESPONDER_CONTENT_RPC"),
	}
	ResponderIntervalFlag = &cli.DurationFlag{
		Name:    "responder.poll-interval",
		Usage:   "How often the responder re-examines open instances for expired deadlines",
		EnvVars: prefixEnvVars("RESPONDER_POLL_INTERVAL"),
		Value:   config.DefaultPollInterval,
	}
)

var requiredFlags = []cli.Flag{
	GameRPCFlag,
}

var optionalFlags = []cli.Flag{
	RPCAddrFlag,
	RPCPortFlag,
	RPCEnableWSFlag,
	MetricsEnabledFlag,
	MetricsAddrFlag,
	MetricsPortFlag,
	LoggerRPCFlag,
	TrustLoggerFlag,
	DialTimeoutFlag,
	DatadirFlag,
	EscalationTimeoutFlag,
	DeadlinePolicyFlag,
	ResponderPartyFlag,
	MachineRPCFlag,
	ContentRPCFlag,
	ResponderIntervalFlag,
}

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)

	Flags = append(Flags, requiredFlags...)
	Flags = append(Flags, optionalFlags...)
}

// Flags contains the list of configuration options available to the binary.
var Flags []cli.Flag

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}

// ConfigFromCLI builds the config from the flags, loading the deadline policy file if one is named.
func ConfigFromCLI(ctx *cli.Context, version string) (*config.Config, error) {
	if err := CheckRequired(ctx); err != nil {
		return nil, err
	}
	cfg := config.NewConfig(ctx.String(GameRPCFlag.Name))
	if err := cliutil.PopulateStruct(&cfg, ctx); err != nil {
		return nil, err
	}
	if cfg.PolicyFile != "" {
		policy, err := deadline.LoadPolicy(cfg.PolicyFile)
		if err != nil {
			return nil, err
		}
		cfg.Policy = policy
	}
	cfg.LogConfig = oplog.ReadCLIConfig(ctx)
	cfg.Version = version
	return &cfg, nil
}
