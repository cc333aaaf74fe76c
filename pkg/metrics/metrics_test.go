package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewManager(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewManager(
		WithNamespace("test"),
		WithSubsystem("unit"),
		WithHistogramBuckets([]float64{1, 5, 25}),
		WithPrometheusRegistry(registry),
	)
	if m == nil {
		t.Fatal("manager is nil")
	}
	if m.namespace != "test" || m.subsystem != "unit" {
		t.Fatalf("unexpected namespace/subsystem: %s/%s", m.namespace, m.subsystem)
	}
	if len(m.histogramBuckets) != 3 {
		t.Fatalf("unexpected buckets: %v", m.histogramBuckets)
	}
}

func TestGlobalHelpers(t *testing.T) {
	// Exercise the helpers; a panic or double registration would fail the test.
	RecordScoreComputed(0.42)
	RecordFlagsEvaluated(3)
	RecordFlagsMatched(2)
	RecordFlagSkipped()
	RecordTriggerFired("high")
	RecordValidation()
	RecordGasAnomaly()
	RecordNFTMetadata()
	RecordDefinitionRejected()
	RecordScoringError()
	RecordAuditEvent()
	RecordAuditDropped()
	UpdateStoreRecordsTotal(10)
	RecordStoreWriteLatency(1.5)
	RecordStoreReadLatency(0.5)
	UpdateQueueSize(1)
	UpdateQueueCapacity(100)
	UpdateQueueUtilization(0.01)
	RecordQueueEnqueue()
	RecordQueueDequeue()
	RecordQueueEnqueueError()
	RecordQueueProcessingLatency(0.2)
	UpdateWorkerCount(4)
	UpdateWorkerActiveCount(4)
	RecordWorkerProcessingLatency(0.3)
	RecordWorkerError()
	RecordHTTPRequest("scores", "POST", "200")
	RecordHTTPRequestDuration("scores", "POST", "200", 12)
	RecordErrorByComponent("store", "write_error")
	RecordErrorByType("client_error", "medium")
	RecordErrorByEndpoint("scores", "POST", "client_error")
	RecordErrorLatency("http", "client_error", 3)
	UpdateSystemMemoryUsage(1024)
	UpdateSystemGoroutineCount(8)
	RecordSystemGCPauseTime(0.1)
}

func TestGetRegistry(t *testing.T) {
	if GetRegistry() == nil {
		t.Fatal("registry is nil")
	}
	if _, err := GetRegistry().Gather(); err != nil {
		t.Fatalf("gather failed: %v", err)
	}
}
