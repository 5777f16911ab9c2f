package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestCronJobMetricsSplitsRunsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	finished := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	m.ObserveRun("purchase_expiry", finished, 250*time.Millisecond, nil)
	m.ObserveRun("purchase_expiry", finished.Add(time.Hour), time.Second, errors.New("db down"))

	mfs, err := reg.Gather()
	require.NoError(t, err)

	ok, err := counterValue(mfs, "cron_job_runs_total", map[string]string{"job": "purchase_expiry", "result": "success"})
	require.NoError(t, err)
	require.Equal(t, 1.0, ok)
	failed, err := counterValue(mfs, "cron_job_runs_total", map[string]string{"job": "purchase_expiry", "result": "failure"})
	require.NoError(t, err)
	require.Equal(t, 1.0, failed)

	last := findMetricFamily(mfs, "cron_job_last_success_timestamp_seconds")
	require.NotNil(t, last)
	require.Len(t, last.GetMetric(), 1)
	require.Equal(t, float64(finished.Unix()), last.GetMetric()[0].GetGauge().GetValue(), "failed run must not move the timestamp")

	hist := findMetricFamily(mfs, "cron_job_duration_seconds")
	require.NotNil(t, hist)
	require.EqualValues(t, 2, hist.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestNilCronJobMetricsIsSafe(t *testing.T) {
	var m *CronJobMetrics
	m.ObserveRun("x", time.Now(), time.Second, nil)
	NewCronJobMetrics(nil).ObserveRun("x", time.Now(), time.Second, errors.New("boom"))
}

func counterValue(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if hasLabels(metric.GetLabel(), labels) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing labels %v", name, labels)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func hasLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	found := 0
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; ok && v == p.GetValue() {
			found++
		}
	}
	return found == len(want)
}
