package anomaly

import (
	"testing"
	"time"
)

func TestZScoreDetectionFlagsSpike(t *testing.T) {
	values := []float64{10, 11, 9, 10, 10, 11, 9, 10, 100}
	isAnomaly, score := zScoreDetection(values, 3.0)
	if !isAnomaly {
		t.Fatalf("expected spike to be flagged, score=%.2f", score)
	}
}

func TestZScoreDetectionIgnoresStableSeries(t *testing.T) {
	values := []float64{10, 11, 9, 10, 10, 11, 9, 10, 10.5}
	isAnomaly, _ := zScoreDetection(values, 3.0)
	if isAnomaly {
		t.Fatal("expected stable series not to be flagged")
	}
}

func TestIQRDetectionRequiresMinimumSamples(t *testing.T) {
	isAnomaly, _ := iqrDetection([]float64{1, 2, 3}, 1.5)
	if isAnomaly {
		t.Fatal("expected too-few samples to never flag")
	}
}

func TestSuddenChangeDetectionFlagsRatioSwing(t *testing.T) {
	values := []float64{100, 100, 100, 100, 10, 10, 10}
	isAnomaly, confidence := suddenChangeDetection(values, 2.0)
	if !isAnomaly {
		t.Fatalf("expected sudden drop to be flagged, confidence=%.2f", confidence)
	}
}

func TestEngineEmitsAlertOnRepeatedSpikes(t *testing.T) {
	var alerts []Alert
	e := NewEngine(func(a Alert) { alerts = append(alerts, a) })

	for i := 0; i < 12; i++ {
		e.Record("checkout_latency_ms", 12, "corr_1", "trace_1")
	}
	e.Record("checkout_latency_ms", 900, "corr_1", "trace_1")

	if len(alerts) == 0 {
		t.Fatal("expected at least one alert after a clear spike")
	}
	if alerts[0].MetricName != "checkout_latency_ms" {
		t.Fatalf("unexpected metric name %q", alerts[0].MetricName)
	}
	if alerts[0].Category != CategoryLatency {
		t.Fatalf("expected latency category, got %q", alerts[0].Category)
	}
}

func TestEngineRespectsCooldown(t *testing.T) {
	var alertCount int
	e := NewEngine(func(a Alert) { alertCount++ })

	for i := 0; i < 12; i++ {
		e.Record("api_error_rate", 0.01, "", "")
	}
	e.Record("api_error_rate", 0.9, "", "")
	e.Record("api_error_rate", 0.9, "", "")

	if alertCount != 1 {
		t.Fatalf("expected exactly one alert within the cooldown window, got %d", alertCount)
	}
}

func TestCategorize(t *testing.T) {
	cases := map[string]Category{
		"request_latency_ms": CategoryLatency,
		"error_rate_5xx":     CategoryErrorRate,
		"traffic_requests":   CategoryTraffic,
		"unknown_metric":     CategoryLatency,
	}
	for name, want := range cases {
		if got := categorize(name); got != want {
			t.Errorf("categorize(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestBufferEvictsOldEntries(t *testing.T) {
	buf := NewBuffer(1000, 20*time.Millisecond)
	buf.Add(Point{Timestamp: time.Now(), Value: 1})
	time.Sleep(40 * time.Millisecond)
	buf.Add(Point{Timestamp: time.Now(), Value: 2})

	values := buf.Values(0)
	if len(values) != 1 || values[0] != 2 {
		t.Fatalf("expected only the fresh value to remain, got %v", values)
	}
}

func TestHistoryRecentRespectsLimitAndSeverity(t *testing.T) {
	h := NewHistory(10)
	h.Record(Alert{MetricName: "a", Severity: SeverityLow})
	h.Record(Alert{MetricName: "b", Severity: SeverityHigh})
	h.Record(Alert{MetricName: "c", Severity: SeverityHigh})

	high := h.Recent(10, SeverityHigh)
	if len(high) != 2 {
		t.Fatalf("expected 2 high-severity alerts, got %d", len(high))
	}

	limited := h.Recent(1, "")
	if len(limited) != 1 || limited[0].MetricName != "c" {
		t.Fatalf("expected the single most recent alert, got %+v", limited)
	}
}
