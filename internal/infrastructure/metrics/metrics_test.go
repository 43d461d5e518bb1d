package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := m.registry.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metric:
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if want, ok := labels[pair.GetName()]; ok && want != pair.GetValue() {
					continue metric
				}
			}
			return metric.GetCounter().GetValue()
		}
	}

	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

func TestRecordRunLifecycle(t *testing.T) {
	m := New(Config{Enabled: true, Namespace: "test"})

	m.RecordRunStarted("triage")
	m.RecordRunStarted("triage")
	m.RecordRunFinished("triage", "GOAL_REACHED", 2*time.Second, 3)
	m.RecordRunFinished("triage", "FAULTED", time.Second, 100)
	m.RecordRunFault("triage", "ITERATION_CAP_EXCEEDED")

	if got := counterValue(t, m, "test_runs_started_total", map[string]string{"scenario": "triage"}); got != 2 {
		t.Errorf("expected 2 started runs, got %v", got)
	}
	if got := counterValue(t, m, "test_runs_finished_total", map[string]string{"status": "GOAL_REACHED"}); got != 1 {
		t.Errorf("expected 1 goal-reached run, got %v", got)
	}
	if got := counterValue(t, m, "test_run_faults_total", map[string]string{"reason": "ITERATION_CAP_EXCEEDED"}); got != 1 {
		t.Errorf("expected 1 fault, got %v", got)
	}
}

func TestRecordTransitionCounters(t *testing.T) {
	m := New(Config{Enabled: true, Namespace: "test"})

	m.RecordTransition("oracle", "oracle")
	m.RecordTransition("oracle", "fallback")
	m.RecordTransition("oracle", "fallback")
	m.RecordFallback("oracle")
	m.RecordInstructionFailure("triage")

	if got := counterValue(t, m, "test_transitions_total", map[string]string{"source": "fallback"}); got != 2 {
		t.Errorf("expected 2 fallback transitions, got %v", got)
	}
	if got := counterValue(t, m, "test_fallbacks_total", map[string]string{"policy": "oracle"}); got != 1 {
		t.Errorf("expected 1 fallback, got %v", got)
	}
	if got := counterValue(t, m, "test_instruction_failures_total", map[string]string{"scenario": "triage"}); got != 1 {
		t.Errorf("expected 1 instruction failure, got %v", got)
	}
}

func TestDisabledMetricsAreNoOps(t *testing.T) {
	m := New(Config{Enabled: false})

	// None of these should panic on the zero collectors.
	m.RecordRunStarted("triage")
	m.RecordRunFinished("triage", "GOAL_REACHED", time.Second, 1)
	m.RecordRunFault("triage", "CANCELLED")
	m.RecordTransition("table", "table")
	m.RecordFallback("table")
	m.RecordInstructionFailure("triage")
	m.SetQueuedRuns(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("expected disabled handler to return 404, got %d", rec.Code)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	m := New(Config{Enabled: true, Namespace: "test"})
	m.RecordRunStarted("pipeline")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "test_runs_started_total") {
		t.Errorf("expected exposition to contain runs counter, got:\n%s", body)
	}
}
