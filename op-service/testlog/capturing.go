package testlog

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// CapturedRecord is a log record together with the attributes inherited from the logger it was written to.
type CapturedRecord struct {
	inherited []slog.Attr
	*slog.Record
}

// Attrs calls f on each Attr in the record, then on the inherited attributes.
// Iteration stops if f returns false.
func (r *CapturedRecord) Attrs(f func(slog.Attr) bool) {
	searching := true
	r.Record.Attrs(func(a slog.Attr) bool {
		searching = f(a)
		return searching
	})
	if !searching {
		return
	}
	for _, a := range r.inherited {
		if !f(a) {
			return
		}
	}
}

func (r *CapturedRecord) AttrValue(name string) (v any) {
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == name {
			v = a.Value.Any()
			return false
		}
		return true
	})
	return
}

type capturedLogs struct {
	mu      sync.Mutex
	records []*CapturedRecord
}

// CapturingHandler captures all log records and forwards them to a delegate.
type CapturingHandler struct {
	handler slog.Handler
	logs    *capturedLogs
	attrs   []slog.Attr
}

var _ slog.Handler = (*CapturingHandler)(nil)

func CaptureLogger(t Testing, level slog.Level) (log.Logger, *CapturingHandler) {
	var capturer *CapturingHandler
	logger := LoggerWithHandlerMod(t, level, func(h slog.Handler) slog.Handler {
		capturer = &CapturingHandler{handler: h, logs: new(capturedLogs)}
		return capturer
	})
	return logger, capturer
}

func (c *CapturingHandler) Handle(ctx context.Context, r slog.Record) error {
	c.logs.mu.Lock()
	c.logs.records = append(c.logs.records, &CapturedRecord{inherited: c.attrs, Record: &r})
	c.logs.mu.Unlock()
	return c.handler.Handle(ctx, r)
}

func (c *CapturingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	inherited := append(append([]slog.Attr{}, attrs...), c.attrs...)
	return &CapturingHandler{handler: c.handler.WithAttrs(attrs), logs: c.logs, attrs: inherited}
}

func (c *CapturingHandler) WithGroup(name string) slog.Handler {
	return &CapturingHandler{handler: c.handler.WithGroup(name), logs: c.logs, attrs: c.attrs}
}

func (c *CapturingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return c.handler.Enabled(ctx, level)
}

func (c *CapturingHandler) Clear() {
	c.logs.mu.Lock()
	defer c.logs.mu.Unlock()
	c.logs.records = c.logs.records[:0]
}

type LogFilter func(record *CapturedRecord) bool

func NewLevelFilter(level slog.Level) LogFilter {
	return func(r *CapturedRecord) bool {
		return r.Record.Level == level
	}
}

func NewMessageFilter(message string) LogFilter {
	return func(r *CapturedRecord) bool {
		return r.Record.Message == message
	}
}

func NewMessageContainsFilter(message string) LogFilter {
	return func(r *CapturedRecord) bool {
		return strings.Contains(r.Record.Message, message)
	}
}

func NewAttributesFilter(key, value string) LogFilter {
	return func(r *CapturedRecord) bool {
		found := false
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == key && a.Value.String() == value {
				found = true
				return false
			}
			return true
		})
		return found
	}
}

func (c *CapturingHandler) FindLog(filters ...LogFilter) *CapturedRecord {
	logs := c.FindLogs(filters...)
	if len(logs) == 0 {
		return nil
	}
	return logs[0]
}

func (c *CapturingHandler) FindLogs(filters ...LogFilter) []*CapturedRecord {
	c.logs.mu.Lock()
	defer c.logs.mu.Unlock()
	var logs []*CapturedRecord
	for _, record := range c.logs.records {
		match := true
		for _, filter := range filters {
			if !filter(record) {
				match = false
				break
			}
		}
		if match {
			logs = append(logs, record)
		}
	}
	return logs
}
