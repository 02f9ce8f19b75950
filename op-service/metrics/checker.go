package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	gocl "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

// MetricChecker gathers a registry once and looks metrics up by name and labels in tests.
type MetricChecker struct {
	families []*gocl.MetricFamily
	t        require.TestingT
}

func NewMetricChecker(t require.TestingT, reg *prometheus.Registry) *MetricChecker {
	families, err := reg.Gather()
	require.NoError(t, err, "must gather metrics")
	return &MetricChecker{families: families, t: t}
}

// Find returns the single metric of family name carrying all the given labels.
// It fails the test when there is no match or more than one.
func (c *MetricChecker) Find(name string, labels map[string]string) *gocl.Metric {
	var fam *gocl.MetricFamily
	for _, f := range c.families {
		if f.GetName() == name {
			fam = f
			break
		}
	}
	require.NotNil(c.t, fam, "cannot find metric family %v", name)
	var found *gocl.Metric
	for _, m := range fam.Metric {
		if hasLabels(m, labels) {
			require.Nil(c.t, found, "more than one %v metric with labels %v", name, labels)
			found = m
		}
	}
	require.NotNil(c.t, found, "cannot find %v metric with labels %v", name, labels)
	return found
}

// Value returns the counter or gauge value of the metric matched by Find.
func (c *MetricChecker) Value(name string, labels map[string]string) float64 {
	m := c.Find(name, labels)
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	require.NotNil(c.t, m.Gauge, "%v is neither a counter nor a gauge", name)
	return m.Gauge.GetValue()
}

func hasLabels(m *gocl.Metric, labels map[string]string) bool {
	for k, v := range labels {
		matched := false
		for _, lab := range m.Label {
			if lab.GetName() == k && lab.GetValue() == v {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
