// Package testlog provides a log handler for unit tests.
package testlog

import (
	"bytes"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

var useColorInTestLog = os.Getenv("OP_TESTLOG_DISABLE_COLOR") != "true"

// Testing interface to log to. Some functions are marked as Helper function to log the call site accurately.
// Standard Go testing.TB implements this.
type Testing interface {
	Logf(format string, args ...any)
	Helper()
	Name() string
	Cleanup(func())
}

// HandlerMod wraps a handler, e.g. to capture records.
type HandlerMod func(slog.Handler) slog.Handler

// testWriter forwards complete lines to t.Logf. Records are written whole by the terminal handler.
type testWriter struct {
	t  Testing
	mu sync.Mutex
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.t.Logf("%s", strings.TrimSuffix(string(bytes.Clone(p)), "\n"))
	return len(p), nil
}

// Logger returns a logger which logs to the unit test log of t.
func Logger(t Testing, level slog.Level) log.Logger {
	return LoggerWithHandlerMod(t, level)
}

func LoggerWithHandlerMod(t Testing, level slog.Level, handlerMods ...HandlerMod) log.Logger {
	var handler slog.Handler = log.NewTerminalHandlerWithLevel(&testWriter{t: t}, level, useColorInTestLog)
	for _, mod := range handlerMods {
		handler = mod(handler)
	}
	return log.NewLogger(handler)
}
