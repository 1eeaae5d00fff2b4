package anomaly

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Category is a coarse metric family; each carries its own method set and
// minimum sample count, mirroring how latency, error-rate, and traffic
// metrics behave very differently under the same statistical tests.
type Category string

const (
	CategoryLatency  Category = "latency"
	CategoryErrorRate Category = "error_rate"
	CategoryTraffic  Category = "traffic"
)

// Type classifies an emitted alert for the observability endpoint.
type Type string

const (
	TypeLatencySpike   Type = "latency_spike"
	TypeErrorRateSpike Type = "error_rate_spike"
	TypeTrafficAnomaly Type = "traffic_anomaly"
	TypeUnusualPattern Type = "unusual_pattern"
)

// Severity ranks how urgently an alert should be surfaced.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert is an emitted anomaly finding.
type Alert struct {
	ID             string
	Type           Type
	Severity       Severity
	Title          string
	Description    string
	MetricName     string
	CurrentValue   float64
	ExpectedValue  float64
	Confidence     float64
	CorrelationID  string
	TraceID        string
	DetectedAt     time.Time
	Methods        []Method
	Confidences    map[Method]float64
	Category       Category
}

type categoryConfig struct {
	minSamples int
	methods    []Method
}

var categoryConfigs = map[Category]categoryConfig{
	CategoryLatency: {
		minSamples: 10,
		methods:    []Method{MethodZScore, MethodIQR, MethodExponentialSmoothing, MethodTrend},
	},
	CategoryErrorRate: {
		minSamples: 5,
		methods:    []Method{MethodZScore, MethodModifiedZScore, MethodIQR, MethodSuddenChange},
	},
	CategoryTraffic: {
		minSamples: 10,
		methods:    []Method{MethodIQR, MethodExponentialSmoothing, MethodSuddenChange},
	},
}

const alertCooldown = 5 * time.Minute

// Engine owns one Buffer per metric and runs the category's method set on
// every recorded observation, emitting an Alert at most once per
// cooldown window per metric+category.
type Engine struct {
	mu       sync.Mutex
	buffers  map[string]*Buffer
	lastAlert map[string]time.Time
	onAlert  func(Alert)

	bufferSize int
	bufferTTL  time.Duration
}

// NewEngine constructs an Engine. onAlert is invoked synchronously for
// every emitted alert; callers that need async delivery should make it
// non-blocking (e.g. send on a buffered channel).
func NewEngine(onAlert func(Alert)) *Engine {
	return &Engine{
		buffers:    make(map[string]*Buffer),
		lastAlert:  make(map[string]time.Time),
		onAlert:    onAlert,
		bufferSize: 1000,
		bufferTTL:  time.Hour,
	}
}

// Record adds an observation for metricName and runs the category's
// detection methods against the updated window.
func (e *Engine) Record(metricName string, value float64, correlationID, traceID string) {
	buf := e.bufferFor(metricName)
	buf.Add(Point{Timestamp: time.Now(), Value: value})

	category := categorize(metricName)
	cfg := categoryConfigs[category]

	values := buf.Values(0)
	if len(values) < 3 || len(values) < cfg.minSamples {
		return
	}

	var found []detection
	for _, m := range cfg.methods {
		d := e.run(m, values, buf)
		if d.isAnomaly {
			found = append(found, d)
		}
	}

	maxConfidence := 0.0
	for _, d := range found {
		if d.confidence > maxConfidence {
			maxConfidence = d.confidence
		}
	}
	if len(found) >= 2 || (len(found) == 1 && maxConfidence > 5.0) {
		e.emit(metricName, values, found, category, correlationID, traceID)
	}
}

func (e *Engine) bufferFor(metricName string) *Buffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	buf, ok := e.buffers[metricName]
	if !ok {
		buf = NewBuffer(e.bufferSize, e.bufferTTL)
		e.buffers[metricName] = buf
	}
	return buf
}

func (e *Engine) run(m Method, values []float64, buf *Buffer) detection {
	var isAnomaly bool
	var confidence float64
	switch m {
	case MethodZScore:
		isAnomaly, confidence = zScoreDetection(values, 3.0)
	case MethodModifiedZScore:
		isAnomaly, confidence = modifiedZScoreDetection(values, 3.5)
	case MethodIQR:
		isAnomaly, confidence = iqrDetection(values, 1.5)
	case MethodExponentialSmoothing:
		isAnomaly, confidence = exponentialSmoothingDetection(values, 0.3, 2.0)
	case MethodSuddenChange:
		isAnomaly, confidence = suddenChangeDetection(values, 2.0)
	case MethodTrend:
		isAnomaly, confidence = trendDetection(values, buf.Timestamps(0))
	}
	return detection{method: m, isAnomaly: isAnomaly, confidence: confidence}
}

func (e *Engine) emit(metricName string, values []float64, found []detection, category Category, correlationID, traceID string) {
	key := metricName + "_" + string(category)

	e.mu.Lock()
	if last, ok := e.lastAlert[key]; ok && time.Since(last) < alertCooldown {
		e.mu.Unlock()
		return
	}
	e.lastAlert[key] = time.Now()
	e.mu.Unlock()

	maxConfidence := 0.0
	methods := make([]Method, 0, len(found))
	confidences := make(map[Method]float64, len(found))
	for _, d := range found {
		methods = append(methods, d.method)
		confidences[d.method] = d.confidence
		if d.confidence > maxConfidence {
			maxConfidence = d.confidence
		}
	}

	current := values[len(values)-1]
	expected := mean(values[:len(values)-1])

	names := make([]string, len(methods))
	for i, m := range methods {
		names[i] = string(m)
	}

	alert := Alert{
		ID:            fmt.Sprintf("anomaly_%d_%s", time.Now().Unix(), uuid.New().String()[:8]),
		Type:          anomalyType(category),
		Severity:      severityFor(maxConfidence, category),
		Title:         fmt.Sprintf("Anomaly detected in %s", metricName),
		Description:   fmt.Sprintf("current value %.2f deviates from expected %.2f, detected by %s", current, expected, strings.Join(names, ", ")),
		MetricName:    metricName,
		CurrentValue:  current,
		ExpectedValue: expected,
		Confidence:    maxConfidence,
		CorrelationID: correlationID,
		TraceID:       traceID,
		DetectedAt:    time.Now(),
		Methods:       methods,
		Confidences:   confidences,
		Category:      category,
	}

	if e.onAlert != nil {
		e.onAlert(alert)
	}
}

func categorize(metricName string) Category {
	lower := strings.ToLower(metricName)
	switch {
	case strings.Contains(lower, "latency") || strings.Contains(lower, "response_time"):
		return CategoryLatency
	case strings.Contains(lower, "error") || strings.Contains(lower, "failure"):
		return CategoryErrorRate
	case strings.Contains(lower, "traffic") || strings.Contains(lower, "requests"):
		return CategoryTraffic
	default:
		return CategoryLatency
	}
}

func anomalyType(category Category) Type {
	switch category {
	case CategoryLatency:
		return TypeLatencySpike
	case CategoryErrorRate:
		return TypeErrorRateSpike
	case CategoryTraffic:
		return TypeTrafficAnomaly
	default:
		return TypeUnusualPattern
	}
}

func severityFor(confidence float64, category Category) Severity {
	if category == CategoryErrorRate {
		switch {
		case confidence > 10:
			return SeverityCritical
		case confidence > 5:
			return SeverityHigh
		case confidence > 3:
			return SeverityMedium
		default:
			return SeverityLow
		}
	}
	switch {
	case confidence > 8:
		return SeverityCritical
	case confidence > 5:
		return SeverityHigh
	case confidence > 3:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Summary reports basic statistics for a metric, for the observability
// profile endpoint.
type Summary struct {
	Count  int
	Mean   float64
	Median float64
	Min    float64
	Max    float64
	StdDev float64
	Latest float64
}

// Summarize returns a Summary for metricName over the last `since` (0 means
// all retained data).
func (e *Engine) Summarize(metricName string, since time.Duration) (Summary, bool) {
	e.mu.Lock()
	buf, ok := e.buffers[metricName]
	e.mu.Unlock()
	if !ok {
		return Summary{}, false
	}

	values := buf.Values(since)
	if len(values) == 0 {
		return Summary{}, false
	}

	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	m := mean(values)
	return Summary{
		Count:  len(values),
		Mean:   m,
		Median: median(values),
		Min:    min,
		Max:    max,
		StdDev: stdev(values, m),
		Latest: values[len(values)-1],
	}, true
}
