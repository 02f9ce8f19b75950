package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	opservice "github.com/mantlenetworkio/arbiter/op-service"
)

const (
	LevelFlagName  = "log.level"
	FormatFlagName = "log.format"
	ColorFlagName  = "log.color"
)

// FormatType defines a type of log format.
// Supported formats: 'text', 'terminal', 'logfmt', 'json'
type FormatType string

const (
	FormatText     FormatType = "text"
	FormatTerminal FormatType = "terminal"
	FormatLogFmt   FormatType = "logfmt"
	FormatJSON     FormatType = "json"
)

var formatTypes = []FormatType{FormatText, FormatTerminal, FormatLogFmt, FormatJSON}

func (ft FormatType) String() string {
	return string(ft)
}

// Set implements the Set method required by the [cli.Generic] interface.
func (ft *FormatType) Set(value string) error {
	for _, f := range formatTypes {
		if string(f) == value {
			*ft = f
			return nil
		}
	}
	return fmt.Errorf("unrecognized log-format: %q", value)
}

func (ft *FormatType) Clone() any {
	cpy := *ft
	return &cpy
}

// LevelFlagValue is a value type for cli.GenericFlag to parse and validate log-level values.
type LevelFlagValue slog.Level

func (fv *LevelFlagValue) Set(value string) error {
	value = strings.ToLower(value)
	lvl, err := LevelFromString(value)
	if err != nil {
		return err
	}
	*fv = LevelFlagValue(lvl)
	return nil
}

func (fv LevelFlagValue) String() string {
	return log.LevelString(slog.Level(fv))
}

func (fv LevelFlagValue) Level() slog.Level {
	return slog.Level(fv)
}

func (fv *LevelFlagValue) Clone() any {
	cpy := *fv
	return &cpy
}

// LevelFromString returns the appropriate level from a string name.
func LevelFromString(lvlString string) (slog.Level, error) {
	switch strings.ToLower(lvlString) {
	case "trace", "trce":
		return log.LevelTrace, nil
	case "debug", "dbug":
		return log.LevelDebug, nil
	case "info":
		return log.LevelInfo, nil
	case "warn":
		return log.LevelWarn, nil
	case "error", "eror":
		return log.LevelError, nil
	case "crit":
		return log.LevelCrit, nil
	default:
		return log.LevelDebug, fmt.Errorf("unknown level: %v", lvlString)
	}
}

// CLIFlags returns the log flags, each with an env var derived from envPrefix.
func CLIFlags(envPrefix string) []cli.Flag {
	return []cli.Flag{
		&cli.GenericFlag{
			Name:    LevelFlagName,
			Usage:   "The lowest log level that will be output",
			Value:   func() *LevelFlagValue { v := LevelFlagValue(log.LevelInfo); return &v }(),
			EnvVars: opservice.PrefixEnvVar(envPrefix, "LOG_LEVEL"),
		},
		&cli.GenericFlag{
			Name:    FormatFlagName,
			Usage:   "Format the log output. Supported formats: 'text', 'terminal', 'logfmt', 'json'",
			Value:   func() *FormatType { v := FormatText; return &v }(),
			EnvVars: opservice.PrefixEnvVar(envPrefix, "LOG_FORMAT"),
		},
		&cli.BoolFlag{
			Name:    ColorFlagName,
			Usage:   "Color the log output if in terminal mode",
			EnvVars: opservice.PrefixEnvVar(envPrefix, "LOG_COLOR"),
		},
	}
}

type CLIConfig struct {
	Level  slog.Level
	Color  bool
	Format FormatType
}

// DefaultCLIConfig creates a default log configuration.
func DefaultCLIConfig() CLIConfig {
	return CLIConfig{
		Level:  log.LevelInfo,
		Format: FormatText,
		Color:  term.IsTerminal(int(os.Stdout.Fd())),
	}
}

// ReadCLIConfig reads the logger config from the CLI context.
func ReadCLIConfig(ctx *cli.Context) CLIConfig {
	cfg := DefaultCLIConfig()
	if v, ok := ctx.Generic(LevelFlagName).(*LevelFlagValue); ok {
		cfg.Level = v.Level()
	}
	if v, ok := ctx.Generic(FormatFlagName).(*FormatType); ok {
		cfg.Format = *v
	}
	if ctx.IsSet(ColorFlagName) {
		cfg.Color = ctx.Bool(ColorFlagName)
	}
	return cfg
}

// NewLogHandler creates a slog handler for the configured format and level.
func NewLogHandler(wr io.Writer, cfg CLIConfig) slog.Handler {
	switch cfg.Format {
	case FormatJSON:
		return JSONMsHandlerWithLevel(wr, cfg.Level)
	case FormatLogFmt:
		return LogfmtMsHandlerWithLevel(wr, cfg.Level)
	default:
		return log.NewTerminalHandlerWithLevel(wr, cfg.Level, cfg.Color)
	}
}

// NewLogger creates a new configured logger.
func NewLogger(wr io.Writer, cfg CLIConfig) log.Logger {
	return log.NewLogger(NewLogHandler(wr, cfg))
}

// SetupDefaults sets a default logger for log.Root() so early startup failures are visible.
func SetupDefaults() {
	log.SetDefault(NewLogger(os.Stdout, DefaultCLIConfig()))
}
