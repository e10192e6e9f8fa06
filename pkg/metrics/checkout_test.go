package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCheckoutMetricsExportsCountersAndHistograms(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewCheckoutMetrics(reg)

	metrics.ObserveRequest("/api/v1/checkout/create-order", "POST", "200", 120*time.Millisecond)
	metrics.ObserveUpstream("capture_order", 340*time.Millisecond)
	metrics.IncCapture("paypal")
	metrics.IncSoftDecline("card")
	metrics.IncFailure("UPSTREAM")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "checkout_captures_total", "funding_source", "paypal"); err != nil {
		t.Fatalf("fetch captures: %v", err)
	} else if got != 1 {
		t.Fatalf("expected captures=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "checkout_soft_declines_total", "funding_source", "card"); err != nil {
		t.Fatalf("fetch soft declines: %v", err)
	} else if got != 1 {
		t.Fatalf("expected soft declines=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "checkout_failures_total", "code", "UPSTREAM"); err != nil {
		t.Fatalf("fetch failures: %v", err)
	} else if got != 1 {
		t.Fatalf("expected failures=1, got %f", got)
	}

	if got, err := fetchHistogramSum(mfs, "paypal_request_duration_seconds", "operation", "capture_order"); err != nil {
		t.Fatalf("fetch upstream duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected upstream duration sum > 0, got %f", got)
	}

	if got, err := fetchHistogramSum(mfs, "http_request_duration_seconds", "route", "/api/v1/checkout/create-order"); err != nil {
		t.Fatalf("fetch request duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected request duration sum > 0, got %f", got)
	}
}

func TestCheckoutMetricsNilRegistererIsNoop(t *testing.T) {
	metrics := NewCheckoutMetrics(nil)
	metrics.ObserveRequest("/", "GET", "200", time.Millisecond)
	metrics.IncCapture("paypal")
	metrics.IncSoftDecline("")
	metrics.IncFailure("")
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
