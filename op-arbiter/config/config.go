package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mantlenetworkio/arbiter/op-arbiter/game/deadline"
	oplog "github.com/mantlenetworkio/arbiter/op-service/log"
)

var (
	ErrMissingGameRPC          = errors.New("missing verification game rpc url")
	ErrMissingLoggerRPC        = errors.New("missing logger rpc url, set trust-logger to skip log availability checks")
	ErrInvalidRPCPort          = errors.New("invalid rpc port")
	ErrInvalidMetricsPort      = errors.New("invalid metrics port")
	ErrInvalidDialTimeout      = errors.New("rpc dial timeout must be positive")
	ErrNegativeEscalation      = errors.New("escalation timeout must not be negative")
	ErrMissingMachineRPC       = errors.New("responder requires a machine rpc url")
	ErrMissingContentRPC       = errors.New("responder requires a content rpc url")
	ErrInvalidResponderPolling = errors.New("responder poll interval must be positive")
)

const (
	DefaultRPCAddr           = "127.0.0.1"
	DefaultRPCPort           = 8560
	DefaultMetricsAddr       = "0.0.0.0"
	DefaultMetricsPort       = 7300
	DefaultDialTimeout       = 10 * time.Second
	DefaultEscalationTimeout = 30 * time.Second
	DefaultPollInterval      = 12 * time.Second
)

// Config is the arbiter service configuration. Fields tagged with `cli` are read from the flag of
// that name.
type Config struct {
	RPCAddr     string `cli:"rpc.addr"`
	RPCPort     int    `cli:"rpc.port"`
	RPCEnableWS bool   `cli:"rpc.enable-ws"`

	MetricsEnabled bool   `cli:"metrics.enabled"`
	MetricsAddr    string `cli:"metrics.addr"`
	MetricsPort    int    `cli:"metrics.port"`

	GameRPC     string        `cli:"game-rpc"`
	LoggerRPC   string        `cli:"logger-rpc"`
	TrustLogger bool          `cli:"trust-logger"`
	DialTimeout time.Duration `cli:"rpc-dial-timeout"`

	// Datadir holds the instance journal. Instances are kept in memory only when empty.
	Datadir           string        `cli:"datadir"`
	EscalationTimeout time.Duration `cli:"escalation-timeout"`
	PolicyFile        string        `cli:"deadline-policy"`
	Policy            deadline.Policy

	// ResponderParty enables the built-in responder acting for that address.
	ResponderParty    common.Address `cli:"responder.party"`
	MachineRPC        string         `cli:"responder.machine-rpc"`
	ContentRPC        string         `cli:"responder.content-rpc"`
	ResponderInterval time.Duration  `cli:"responder.poll-interval"`

	LogConfig oplog.CLIConfig
	Version   string
}

func NewConfig(gameRPC string) Config {
	return Config{
		RPCAddr:           DefaultRPCAddr,
		RPCPort:           DefaultRPCPort,
		MetricsAddr:       DefaultMetricsAddr,
		MetricsPort:       DefaultMetricsPort,
		GameRPC:           gameRPC,
		DialTimeout:       DefaultDialTimeout,
		EscalationTimeout: DefaultEscalationTimeout,
		Policy:            deadline.DefaultPolicy(),
		ResponderInterval: DefaultPollInterval,
		LogConfig:         oplog.DefaultCLIConfig(),
	}
}

func (c Config) ResponderEnabled() bool {
	return c.ResponderParty != (common.Address{})
}

func (c Config) Check() error {
	if c.GameRPC == "" {
		return ErrMissingGameRPC
	}
	if c.LoggerRPC == "" && !c.TrustLogger {
		return ErrMissingLoggerRPC
	}
	if c.RPCPort < 0 || c.RPCPort > 65535 {
		return ErrInvalidRPCPort
	}
	if c.MetricsEnabled && (c.MetricsPort < 0 || c.MetricsPort > 65535) {
		return ErrInvalidMetricsPort
	}
	if c.DialTimeout <= 0 {
		return ErrInvalidDialTimeout
	}
	if c.EscalationTimeout < 0 {
		return ErrNegativeEscalation
	}
	if err := c.Policy.Check(); err != nil {
		return fmt.Errorf("invalid deadline policy: %w", err)
	}
	if c.ResponderEnabled() {
		if c.MachineRPC == "" {
			return ErrMissingMachineRPC
		}
		if c.ContentRPC == "" {
			return ErrMissingContentRPC
		}
		if c.ResponderInterval <= 0 {
			return ErrInvalidResponderPolling
		}
	}
	return nil
}
