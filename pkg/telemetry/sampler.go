// Package telemetry wires distributed tracing (adaptive sampling, OTLP
// export) and per-operation latency profiling for every component's
// instrumented calls.
package telemetry

import (
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// SamplerConfig tunes AdaptiveSampler's rates.
type SamplerConfig struct {
	BaseRate              float64
	ErrorRate             float64
	HighLatencyThresholdMS float64
	HighLatencyRate       float64
}

// DefaultSamplerConfig matches spec.md's defaults: a low base rate, but
// always-sample on error and a boosted rate for high-latency spans.
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		BaseRate:               0.01,
		ErrorRate:              1.0,
		HighLatencyThresholdMS: 500,
		HighLatencyRate:        0.5,
	}
}

// AdaptiveSampler implements trace.Sampler, boosting the sample rate for
// spans carrying an error attribute or a latency over threshold, and always
// sampling when the parent span was already sampled.
type AdaptiveSampler struct {
	cfg SamplerConfig
}

// NewAdaptiveSampler constructs a sampler from cfg.
func NewAdaptiveSampler(cfg SamplerConfig) *AdaptiveSampler {
	if cfg.BaseRate <= 0 {
		cfg.BaseRate = 0.01
	}
	if cfg.ErrorRate <= 0 {
		cfg.ErrorRate = 1.0
	}
	if cfg.HighLatencyRate <= 0 {
		cfg.HighLatencyRate = 0.5
	}
	return &AdaptiveSampler{cfg: cfg}
}

// ShouldSample implements trace.Sampler.
func (s *AdaptiveSampler) ShouldSample(params trace.SamplingParameters) trace.SamplingResult {
	psc := oteltrace.SpanContextFromContext(params.ParentContext)
	if psc.IsValid() && psc.IsSampled() {
		return sampleResult(trace.RecordAndSample, psc)
	}

	traceIDRatio := traceIDAsFraction(params.TraceID)

	for _, attr := range params.Attributes {
		if attr.Key == "error" && attr.Value.AsBool() {
			if traceIDRatio < s.cfg.ErrorRate {
				return sampleResult(trace.RecordAndSample, psc)
			}
		}
		if attr.Key == "latency_ms" && attr.Value.AsFloat64() > s.cfg.HighLatencyThresholdMS {
			if traceIDRatio < s.cfg.HighLatencyRate {
				return sampleResult(trace.RecordAndSample, psc)
			}
		}
	}

	if traceIDRatio < s.cfg.BaseRate {
		return sampleResult(trace.RecordAndSample, psc)
	}
	return sampleResult(trace.Drop, psc)
}

// Description implements trace.Sampler.
func (s *AdaptiveSampler) Description() string {
	return "AdaptiveSampler"
}

func sampleResult(decision trace.SamplingDecision, psc oteltrace.SpanContext) trace.SamplingResult {
	return trace.SamplingResult{
		Decision:   decision,
		Tracestate: psc.TraceState(),
	}
}

// traceIDAsFraction maps a trace ID deterministically onto [0, 1), the same
// technique trace.TraceIDRatioBased uses, so repeated calls for the same
// trace ID always agree.
func traceIDAsFraction(id oteltrace.TraceID) float64 {
	var x uint64
	for _, b := range id[:8] {
		x = x<<8 | uint64(b)
	}
	const maxUint64AsFloat = 1 << 63
	return float64(x>>1) / maxUint64AsFloat
}
