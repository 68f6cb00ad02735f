package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func findMetricFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordLoad_CountsPerOutcome は結果ラベルごとにカウンタが増加することを検証する。
func TestRecordLoad_CountsPerOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLoad(OutcomeAuthenticated)
	c.RecordLoad(OutcomeAuthenticated)
	c.RecordLoad(OutcomeAnonymous)

	mf := findMetricFamily(t, reg, "mcwhitelist_session_load_total")
	got := map[string]float64{}
	for _, m := range mf.GetMetric() {
		got[labelValue(m, "outcome")] = m.GetCounter().GetValue()
	}

	if got[OutcomeAuthenticated] != 2 {
		t.Errorf("authenticated = %v, want 2", got[OutcomeAuthenticated])
	}
	if got[OutcomeAnonymous] != 1 {
		t.Errorf("anonymous = %v, want 1", got[OutcomeAnonymous])
	}
	if _, ok := got[OutcomeNetworkError]; ok {
		t.Error("network_error should not be present before it is recorded")
	}
}

// TestRecordBackendStatus_RecordsStatusCodes はステータスコード別にカウンタが記録されることを検証する。
func TestRecordBackendStatus_RecordsStatusCodes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordBackendStatus(200)
	c.RecordBackendStatus(401)
	c.RecordBackendStatus(401)

	mf := findMetricFamily(t, reg, "mcwhitelist_backend_status_total")
	got := map[string]float64{}
	for _, m := range mf.GetMetric() {
		got[labelValue(m, "status_code")] = m.GetCounter().GetValue()
	}

	if got["200"] != 1 {
		t.Errorf("status 200 = %v, want 1", got["200"])
	}
	if got["401"] != 2 {
		t.Errorf("status 401 = %v, want 2", got["401"])
	}
}

// TestRecordLoadLatency_ObservesHistogram はレイテンシがヒストグラムに記録されることを検証する。
func TestRecordLoadLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLoadLatency(150 * time.Millisecond)

	mf := findMetricFamily(t, reg, "mcwhitelist_session_load_latency_seconds")
	h := mf.GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 1 {
		t.Errorf("sample count = %d, want 1", h.GetSampleCount())
	}
	if h.GetSampleSum() < 0.14 || h.GetSampleSum() > 0.16 {
		t.Errorf("sample sum = %v, want ~0.15", h.GetSampleSum())
	}
}

// TestRecordRateLimited_IncrementsCounter はレート制限カウンタが増加することを検証する。
func TestRecordRateLimited_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRateLimited()

	mf := findMetricFamily(t, reg, "mcwhitelist_rate_limited_total")
	if v := mf.GetMetric()[0].GetCounter().GetValue(); v != 1 {
		t.Errorf("rate_limited_total = %v, want 1", v)
	}
}

// TestNop_SatisfiesRecorder はNopがSessionRecorderを満たすことを検証する。
func TestNop_SatisfiesRecorder(t *testing.T) {
	var r SessionRecorder = Nop{}
	r.RecordLoad(OutcomeAnonymous)
	r.RecordBackendStatus(204)
	r.RecordLoadLatency(time.Second)
}
