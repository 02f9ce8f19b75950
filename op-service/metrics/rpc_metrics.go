package metrics

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"
)

const RPCServerSubsystem = "rpc_server"

type RPCMetricer interface {
	NewRecorder(name string) rpc.Recorder
}

// RPCMetrics tracks requests served by an RPC server.
type RPCMetrics struct {
	serverRequestsTotal          *prometheus.CounterVec
	serverRequestDurationSeconds *prometheus.HistogramVec
	serverResponsesTotal         *prometheus.CounterVec
}

var _ RPCMetricer = (*RPCMetrics)(nil)

// MakeRPCMetrics creates RPC server metrics in the given namespace.
// It is intended to be embedded into a service metrics struct.
func MakeRPCMetrics(ns string, factory Factory) RPCMetrics {
	return RPCMetrics{
		serverRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: RPCServerSubsystem,
			Name:      "requests_total",
			Help:      "Total requests to the RPC server",
		}, []string{
			"rpc",
			"method",
		}),
		serverRequestDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: RPCServerSubsystem,
			Name:      "request_duration_seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			Help:      "Histogram of RPC server request durations",
		}, []string{
			"rpc",
			"method",
		}),
		serverResponsesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: RPCServerSubsystem,
			Name:      "responses_total",
			Help:      "Total RPC request responses served",
		}, []string{
			"rpc",
			"method",
			"error",
		}),
	}
}

func (m *RPCMetrics) NewRecorder(name string) rpc.Recorder {
	return &rpcRecorder{m: m, name: name}
}

type rpcRecorder struct {
	m    *RPCMetrics
	name string
}

// RecordOutgoing is a no-op: only served requests are tracked.
func (rec *rpcRecorder) RecordOutgoing(ctx context.Context, msg rpc.RecordedMsg) rpc.RecordDone {
	return nil
}

func (rec *rpcRecorder) RecordIncoming(ctx context.Context, msg rpc.RecordedMsg) rpc.RecordDone {
	if msg.MsgIsNotification() {
		return nil
	}
	rec.m.serverRequestsTotal.WithLabelValues(rec.name, msg.MsgMethod()).Inc()
	timer := prometheus.NewTimer(rec.m.serverRequestDurationSeconds.WithLabelValues(rec.name, msg.MsgMethod()))
	return func(ctx context.Context, input, output rpc.RecordedMsg) {
		timer.ObserveDuration()
		if output == nil {
			return
		}
		errStr := "<nil>"
		if msgErr := output.MsgError(); msgErr != nil {
			errStr = fmt.Sprintf("rpc_%d", msgErr.ErrorCode())
		}
		rec.m.serverResponsesTotal.WithLabelValues(rec.name, input.MsgMethod(), errStr).Inc()
	}
}

type NoopRPCMetrics struct{}

var _ RPCMetricer = (*NoopRPCMetrics)(nil)

func (n *NoopRPCMetrics) NewRecorder(name string) rpc.Recorder {
	return nil
}
