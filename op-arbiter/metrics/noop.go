package metrics

import (
	"github.com/mantlenetworkio/arbiter/op-arbiter/game/types"
	opmetrics "github.com/mantlenetworkio/arbiter/op-service/metrics"
)

type NoopMetricsImpl struct {
	opmetrics.NoopRPCMetrics
}

var _ Metricer = (*NoopMetricsImpl)(nil)

var NoopMetrics Metricer = new(NoopMetricsImpl)

func (*NoopMetricsImpl) RecordInfo(version string) {}
func (*NoopMetricsImpl) RecordUp()                 {}

func (*NoopMetricsImpl) RecordInstanceCreated(_ types.Phase)           {}
func (*NoopMetricsImpl) RecordInstanceRestored(_ types.Phase)          {}
func (*NoopMetricsImpl) RecordTransition(_ types.Phase, _ types.Phase) {}
func (*NoopMetricsImpl) RecordRejection(_ string, _ string)            {}

func (*NoopMetricsImpl) RecordEscalation(_ string)     {}
func (*NoopMetricsImpl) RecordVerdict(_ types.Verdict) {}

func (*NoopMetricsImpl) RecordAction(_ string) {}

func (*NoopMetricsImpl) RecordJournalWrite(_ bool) {}
