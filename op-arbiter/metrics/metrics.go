package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mantlenetworkio/arbiter/op-arbiter/game/types"
	opmetrics "github.com/mantlenetworkio/arbiter/op-service/metrics"
)

const Namespace = "op_arbiter"

type Metricer interface {
	RecordInfo(version string)
	RecordUp()

	// Registry
	RecordInstanceCreated(phase types.Phase)
	RecordInstanceRestored(phase types.Phase)
	RecordTransition(from types.Phase, to types.Phase)
	RecordRejection(op string, kind string)

	// Escalation
	RecordEscalation(outcome string)
	RecordVerdict(verdict types.Verdict)

	// Responder
	RecordAction(action string)

	// Journal
	RecordJournalWrite(success bool)

	opmetrics.RPCMetricer
}

type Metrics struct {
	ns       string
	registry *prometheus.Registry
	factory  opmetrics.Factory

	opmetrics.RPCMetrics

	info prometheus.GaugeVec
	up   prometheus.Gauge

	instances   *prometheus.GaugeVec
	created     prometheus.Counter
	restored    prometheus.Counter
	transitions *prometheus.CounterVec
	rejections  *prometheus.CounterVec

	escalations *prometheus.CounterVec
	verdicts    *prometheus.CounterVec

	actions *prometheus.CounterVec

	journalWrites *prometheus.CounterVec
}

var _ Metricer = (*Metrics)(nil)

func NewMetrics() *Metrics {
	return newMetrics(opmetrics.NewRegistry())
}

func newMetrics(registry *prometheus.Registry) *Metrics {
	factory := opmetrics.With(registry)
	ns := Namespace
	return &Metrics{
		ns:       ns,
		registry: registry,
		factory:  factory,

		RPCMetrics: opmetrics.MakeRPCMetrics(ns, factory),

		info: *factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "info",
			Help:      "Pseudo-metric tracking version and config info",
		}, []string{
			"version",
		}),
		up: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "up",
			Help:      "1 if the op-arbiter has finished starting up",
		}),

		instances: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "instances",
			Help:      "Number of dispute instances currently in each phase",
		}, []string{"phase"}),
		created: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "instances_created_total",
			Help:      "Number of dispute instances created",
		}),
		restored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "instances_restored_total",
			Help:      "Number of dispute instances restored from the journal",
		}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "transitions_total",
			Help:      "Number of phase transitions",
		}, []string{"from", "to"}),
		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "rejections_total",
			Help:      "Number of rejected operations",
		}, []string{"op", "kind"}),

		escalations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "escalations_total",
			Help:      "Number of attempts to escalate a dispute to the verification game",
		}, []string{"outcome"}),
		verdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "verdicts_total",
			Help:      "Number of verdicts delivered by the verification game",
		}, []string{"verdict"}),

		actions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "responder_actions_total",
			Help:      "Number of actions taken by the responder",
		}, []string{"action"}),

		journalWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "journal_writes_total",
			Help:      "Number of snapshot writes to the journal",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordInfo sets a pseudo-metric that contains versioning and config info.
func (m *Metrics) RecordInfo(version string) {
	m.info.WithLabelValues(version).Set(1)
}

// RecordUp sets the up metric to 1.
func (m *Metrics) RecordUp() {
	m.up.Set(1)
}

func (m *Metrics) RecordInstanceCreated(phase types.Phase) {
	m.created.Inc()
	m.instances.WithLabelValues(phase.String()).Inc()
}

func (m *Metrics) RecordInstanceRestored(phase types.Phase) {
	m.restored.Inc()
	m.instances.WithLabelValues(phase.String()).Inc()
}

func (m *Metrics) RecordTransition(from types.Phase, to types.Phase) {
	m.transitions.WithLabelValues(from.String(), to.String()).Inc()
	m.instances.WithLabelValues(from.String()).Dec()
	m.instances.WithLabelValues(to.String()).Inc()
}

func (m *Metrics) RecordRejection(op string, kind string) {
	m.rejections.WithLabelValues(op, kind).Inc()
}

func (m *Metrics) RecordEscalation(outcome string) {
	m.escalations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordVerdict(verdict types.Verdict) {
	m.verdicts.WithLabelValues(verdict.String()).Inc()
}

func (m *Metrics) RecordAction(action string) {
	m.actions.WithLabelValues(action).Inc()
}

func (m *Metrics) RecordJournalWrite(success bool) {
	outcome := "success"
	if !success {
		outcome = "failed"
	}
	m.journalWrites.WithLabelValues(outcome).Inc()
}
