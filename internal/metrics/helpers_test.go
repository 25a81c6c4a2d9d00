package metrics

import (
	"slices"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// gather returns the family called name from reg, failing t if it is absent.
func gather(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	i := slices.IndexFunc(mfs, func(mf *dto.MetricFamily) bool { return mf.GetName() == name })
	if i < 0 {
		t.Fatalf("metric %s not found", name)
	}
	return mfs[i]
}

// series returns the metric of mf whose labels are exactly labels, or nil.
func series(mf *dto.MetricFamily, labels map[string]string) *dto.Metric {
	for _, m := range mf.GetMetric() {
		if len(m.GetLabel()) != len(labels) {
			continue
		}
		if !slices.ContainsFunc(m.GetLabel(), func(lp *dto.LabelPair) bool {
			return labels[lp.GetName()] != lp.GetValue()
		}) {
			return m
		}
	}
	return nil
}

func getCounterValue(mf *dto.MetricFamily, labels map[string]string) float64 {
	return series(mf, labels).GetCounter().GetValue()
}

func getGaugeValue(mf *dto.MetricFamily, labels map[string]string) float64 {
	return series(mf, labels).GetGauge().GetValue()
}

func getHistogramCount(mf *dto.MetricFamily, labels map[string]string) uint64 {
	return series(mf, labels).GetHistogram().GetSampleCount()
}
