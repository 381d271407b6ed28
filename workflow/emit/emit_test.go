package emit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func testEvent(eventType string) Event {
	return Event{
		ID:         "ev-1",
		EventType:  eventType,
		EntityType: "step_run",
		EntityID:   "sr-1",
		OrgID:      "acme",
		ActorID:    "u-7",
		Metadata:   map[string]interface{}{"run_id": "run-1", "version": 3},
		Timestamp:  time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
	}
}

func TestEventRunID(t *testing.T) {
	if got := testEvent("step.started").RunID(); got != "run-1" {
		t.Errorf("step event RunID = %q", got)
	}
	run := Event{EntityType: "workflow_run", EntityID: "run-9"}
	if got := run.RunID(); got != "run-9" {
		t.Errorf("run event RunID = %q", got)
	}
	if got := (Event{EntityType: "org_workflow"}).RunID(); got != "" {
		t.Errorf("workflow event RunID = %q", got)
	}
}

func TestLogEmitter(t *testing.T) {
	t.Run("text mode", func(t *testing.T) {
		var buf bytes.Buffer
		NewLogEmitter(&buf, false).Emit(testEvent("step.completed"))

		want := `[step.completed] org=acme entity=step_run/sr-1 actor=u-7 at=2026-01-02T15:04:05Z meta={"run_id":"run-1","version":3}` + "\n"
		if buf.String() != want {
			t.Errorf("output = %q\nwant %q", buf.String(), want)
		}
	})

	t.Run("json mode", func(t *testing.T) {
		var buf bytes.Buffer
		emitter := NewLogEmitter(&buf, true)
		emitter.Emit(testEvent("step.started"))
		emitter.Emit(testEvent("step.completed"))

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 2 {
			t.Fatalf("got %d lines, want 2", len(lines))
		}
		var decoded Event
		if err := json.Unmarshal([]byte(lines[1]), &decoded); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if decoded.EventType != "step.completed" || decoded.EntityID != "sr-1" || decoded.Metadata["run_id"] != "run-1" {
			t.Errorf("decoded = %+v", decoded)
		}
	})

	t.Run("concurrent writes stay line aligned", func(t *testing.T) {
		var buf bytes.Buffer
		emitter := NewLogEmitter(&buf, true)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				emitter.Emit(testEvent("step.started"))
			}()
		}
		wg.Wait()
		for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
			if !json.Valid([]byte(line)) {
				t.Fatalf("interleaved line: %q", line)
			}
		}
	})
}

func TestBufferedEmitter(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(testEvent("step.started"))
	b.Emit(testEvent("step.completed"))
	other := testEvent("run.started")
	other.OrgID = "globex"
	other.EntityType = "workflow_run"
	other.EntityID = "run-2"
	b.Emit(other)

	if got := len(b.GetHistory("acme")); got != 2 {
		t.Errorf("acme history = %d events, want 2", got)
	}
	if got := b.GetHistory("nobody"); got == nil || len(got) != 0 {
		t.Errorf("unknown org history = %v", got)
	}

	history := b.GetHistory("acme")
	history[0].EventType = "mutated"
	if b.GetHistory("acme")[0].EventType != "step.started" {
		t.Error("GetHistory returned the internal slice")
	}

	filtered := b.EventTypes("acme", HistoryFilter{EventType: "step.completed"})
	if len(filtered) != 1 {
		t.Errorf("EventType filter = %v", filtered)
	}
	if got := b.EventTypes("acme", HistoryFilter{RunID: "run-1"}); len(got) != 2 {
		t.Errorf("RunID filter = %v", got)
	}
	if got := b.EventTypes("globex", HistoryFilter{RunID: "run-2", EntityType: "workflow_run"}); len(got) != 1 {
		t.Errorf("run event RunID filter = %v", got)
	}
	if got := b.EventTypes("acme", HistoryFilter{EntityID: "other"}); len(got) != 0 {
		t.Errorf("EntityID filter = %v", got)
	}

	b.Clear("acme")
	if len(b.GetHistory("acme")) != 0 || len(b.GetHistory("globex")) != 1 {
		t.Error("Clear(org) removed the wrong events")
	}
	b.Clear("")
	if len(b.GetHistory("globex")) != 0 {
		t.Error("Clear(\"\") kept events")
	}
}

func TestNullEmitter(t *testing.T) {
	var e Emitter = NewNullEmitter()
	e.Emit(testEvent("step.started"))
}

func TestMultiEmitter(t *testing.T) {
	a, b := NewBufferedEmitter(), NewBufferedEmitter()
	m := NewMultiEmitter(a, nil, b)
	if len(m) != 2 {
		t.Fatalf("nil emitter kept: %d", len(m))
	}
	m.Emit(testEvent("step.started"))
	if len(a.GetHistory("acme")) != 1 || len(b.GetHistory("acme")) != 1 {
		t.Error("event not fanned out")
	}
}

func newRecorder(t *testing.T) (*OTelEmitter, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewOTelEmitter(tp.Tracer("test")), exporter
}

func attributeMap(attrs []attribute.KeyValue) map[string]interface{} {
	m := make(map[string]interface{}, len(attrs))
	for _, kv := range attrs {
		m[string(kv.Key)] = kv.Value.AsInterface()
	}
	return m
}

func TestOTelEmitter(t *testing.T) {
	emitter, exporter := newRecorder(t)
	emitter.Emit(testEvent("step.completed"))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != "step.completed" {
		t.Errorf("span name = %q", span.Name)
	}
	if !span.StartTime.Equal(testEvent("").Timestamp) {
		t.Errorf("span start = %v", span.StartTime)
	}
	attrs := attributeMap(span.Attributes)
	if attrs["opsflow.entity_id"] != "sr-1" || attrs["opsflow.org_id"] != "acme" {
		t.Errorf("attributes = %v", attrs)
	}
	if attrs["opsflow.meta.run_id"] != "run-1" || attrs["opsflow.meta.version"] != int64(3) {
		t.Errorf("metadata attributes = %v", attrs)
	}
	if span.Status.Code == codes.Error {
		t.Error("completed step marked as error")
	}
}

func TestOTelEmitterFailure(t *testing.T) {
	emitter, exporter := newRecorder(t)
	ev := testEvent("run.failed")
	ev.Metadata["reason"] = "insufficient detail"
	if err := emitter.EmitBatch(context.Background(), []Event{testEvent("step.rejected"), ev}); err != nil {
		t.Fatalf("EmitBatch: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	failed := spans[1]
	if failed.Status.Code != codes.Error || failed.Status.Description != "insufficient detail" {
		t.Errorf("status = %+v", failed.Status)
	}
	if len(failed.Events) == 0 {
		t.Error("error was not recorded on the span")
	}
}
