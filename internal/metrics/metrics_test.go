package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"newsreel/internal/queue"
)

func TestObserveQueueSetsGauges(t *testing.T) {
	m := New()
	m.ObserveQueue(queue.HealthSummary{
		Queued:       3,
		InProgress:   2,
		Failed:       1,
		QuotaBlocked: 4,
	})

	if got := testutil.ToFloat64(m.ItemsByStatus.WithLabelValues("queued")); got != 3 {
		t.Fatalf("queued gauge = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.ItemsByStatus.WithLabelValues("in_progress")); got != 2 {
		t.Fatalf("in_progress gauge = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ItemsByStatus.WithLabelValues("quota_blocked")); got != 4 {
		t.Fatalf("quota_blocked gauge = %v, want 4", got)
	}
}

func TestHandlerServesScrape(t *testing.T) {
	m := New()
	m.DeadLetters.WithLabelValues("upload-trigger").Inc()

	recorder := httptest.NewRecorder()
	m.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))

	body := recorder.Body.String()
	if !strings.Contains(body, "newsreel_dead_letters_total") {
		t.Fatalf("scrape missing dead letter counter:\n%s", body)
	}
}
