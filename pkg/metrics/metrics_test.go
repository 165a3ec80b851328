package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestOutcome(t *testing.T) {
	if Outcome(nil) != "success" {
		t.Fatal("nil error should be success")
	}
	if Outcome(errors.New("x")) != "failure" {
		t.Fatal("error should be failure")
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	before := testutil.ToFloat64(WorkflowStates.WithLabelValues("Done"))
	WorkflowStates.WithLabelValues("Done").Inc()
	if got := testutil.ToFloat64(WorkflowStates.WithLabelValues("Done")); got != before+1 {
		t.Fatalf("expected counter to advance by one, got %v -> %v", before, got)
	}

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "paper_survey_workflow_states_total") {
		t.Fatalf("metrics output missing workflow counter")
	}
}
