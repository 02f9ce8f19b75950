package log

import (
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	elog "github.com/ethereum/go-ethereum/log"
)

const timeFormatMs = "2006-01-02T15:04:05.000-0700"

// JSONMsHandlerWithLevel writes JSON records keyed "t", "lvl" and "msg".
func JSONMsHandlerWithLevel(wr io.Writer, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(wr, &slog.HandlerOptions{
		ReplaceAttr: replacer(false),
		Level:       level,
	})
}

// LogfmtMsHandlerWithLevel writes logfmt records with millisecond timestamps.
func LogfmtMsHandlerWithLevel(wr io.Writer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(wr, &slog.HandlerOptions{
		ReplaceAttr: replacer(true),
		Level:       level,
	})
}

func replacer(logfmt bool) func([]string, slog.Attr) slog.Attr {
	return func(_ []string, attr slog.Attr) slog.Attr {
		switch attr.Key {
		case slog.TimeKey:
			if attr.Value.Kind() != slog.KindTime {
				return attr
			}
			if logfmt {
				return slog.String("t", attr.Value.Time().Format(timeFormatMs))
			}
			return slog.Attr{Key: "t", Value: attr.Value}
		case slog.LevelKey:
			if l, ok := attr.Value.Any().(slog.Level); ok {
				return slog.String("lvl", elog.LevelString(l))
			}
			return attr
		}
		attr.Value = formatValue(attr.Value, logfmt)
		return attr
	}
}

// formatValue renders chain types as hex and durations and stringers as text.
func formatValue(v slog.Value, logfmt bool) slog.Value {
	switch x := v.Any().(type) {
	case time.Time:
		if logfmt {
			return slog.StringValue(x.Format(timeFormatMs))
		}
	case time.Duration:
		return slog.StringValue(x.String())
	case common.Address:
		return slog.StringValue(x.Hex())
	case common.Hash:
		return slog.StringValue(x.Hex())
	case []byte:
		return slog.StringValue(hexutil.Encode(x))
	case hexutil.Bytes:
		return slog.StringValue(x.String())
	case fmt.Stringer:
		if x == nil || (reflect.ValueOf(x).Kind() == reflect.Pointer && reflect.ValueOf(x).IsNil()) {
			return slog.StringValue("<nil>")
		}
		return slog.StringValue(x.String())
	}
	return v
}
