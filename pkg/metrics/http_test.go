package metrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestHTTPMetricsLabelsRouteAndStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)
	m.ObserveRequest(http.MethodPost, "/api/v1/orders/{orderId}/payments", http.StatusCreated, 40*time.Millisecond)
	m.ObserveRequest(http.MethodPost, "", http.StatusNotFound, time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	mf := findMetricFamily(mfs, "http_request_duration_seconds")
	if mf == nil {
		t.Fatalf("http histogram missing")
	}
	var matched, unknown bool
	for _, metric := range mf.GetMetric() {
		labels := metric.GetLabel()
		if matchesLabel(labels, "route", "/api/v1/orders/{orderId}/payments") && matchesLabel(labels, "status", "201") {
			matched = metric.GetHistogram().GetSampleCount() == 1
		}
		if matchesLabel(labels, "route", "unknown") && matchesLabel(labels, "status", "404") {
			unknown = true
		}
	}
	if !matched || !unknown {
		t.Fatalf("expected route-labelled samples, matched=%v unknown=%v", matched, unknown)
	}

	var nilMetrics *HTTPMetrics
	nilMetrics.ObserveRequest(http.MethodGet, "/", http.StatusOK, time.Second)
}
