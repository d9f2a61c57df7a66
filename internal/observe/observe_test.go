package observe

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew(t *testing.T) {
	buf := &bytes.Buffer{}
	obs := New(buf, true)

	if obs == nil {
		t.Fatal("expected non-nil Observer")
	}
	if obs.log == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	obs := NewJSON(buf, true)

	obs.Log().Info().Str("persona", "friendly").Msg("hello json")
	if !strings.Contains(buf.String(), "hello json") {
		t.Errorf("expected JSON output to contain message, got %q", buf.String())
	}
}

func TestNop(t *testing.T) {
	obs := Nop()
	obs.Log().Error().Msg("dropped")
	if err := obs.Close(); err != nil {
		t.Errorf("expected nil error from Close, got %v", err)
	}
}

func TestObserver_QuietByDefault(t *testing.T) {
	buf := &bytes.Buffer{}
	obs := New(buf, false)

	obs.Log().Info().Msg("chatty")
	obs.Log().Warn().Msg("important")

	output := buf.String()
	if strings.Contains(output, "chatty") {
		t.Errorf("info should be suppressed when not verbose, got %q", output)
	}
	if !strings.Contains(output, "important") {
		t.Errorf("warn should be shown, got %q", output)
	}
}

func TestObserver_StartSpan(t *testing.T) {
	obs := New(io.Discard, true)

	spanCtx, span := obs.StartSpan(context.Background(), "memory.Extract")
	if spanCtx == nil {
		t.Fatal("expected non-nil context from StartSpan")
	}
	if span == nil {
		t.Fatal("expected non-nil span from StartSpan")
	}
	span.End()
}

func TestObserver_LogWithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	obs := New(buf, true)

	obs.Log().Warn().
		Str("persona", "friendly").
		Int("turns", 10).
		Msg("extraction failed")

	if !strings.Contains(buf.String(), "extraction failed") {
		t.Errorf("expected output to contain 'extraction failed', got %q", buf.String())
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveEviction(10)
	m.ObserveEviction(3)
	m.ObserveExtraction(OutcomeOK, 200*time.Millisecond, 4)
	m.ObserveExtraction(OutcomeParseError, time.Second, 0)
	m.ObserveStoreError("add")
	m.ObserveReply(false, time.Second)

	if got := testutil.ToFloat64(m.Evictions); got != 2 {
		t.Errorf("expected 2 evictions, got %v", got)
	}
	if got := testutil.ToFloat64(m.EvictedTurns); got != 13 {
		t.Errorf("expected 13 evicted turns, got %v", got)
	}
	if got := testutil.ToFloat64(m.Extractions.WithLabelValues(OutcomeParseError)); got != 1 {
		t.Errorf("expected 1 parse error, got %v", got)
	}
	if got := testutil.ToFloat64(m.RecordsStored); got != 4 {
		t.Errorf("expected 4 records stored, got %v", got)
	}
	if got := testutil.ToFloat64(m.Replies.WithLabelValues("error")); got != 1 {
		t.Errorf("expected 1 failed reply, got %v", got)
	}

	rec := httptest.NewRecorder()
	MetricsHandler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "sentimemory_evictions_total 2") {
		t.Errorf("expected evictions in exposition, got:\n%s", rec.Body.String())
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveEviction(1)
	m.ObserveExtraction(OutcomeOK, time.Second, 1)
	m.ObserveStoreError("list")
	m.ObserveReply(true, time.Second)
}
