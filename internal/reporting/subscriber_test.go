package reporting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/geoffsee/agent-mst/internal/domain/event"
	"github.com/geoffsee/agent-mst/internal/domain/run"
	"github.com/geoffsee/agent-mst/internal/infrastructure/persistence/memory"
	"github.com/geoffsee/agent-mst/internal/infrastructure/storage"
)

type capturingDispatcher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (d *capturingDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, evt)
}

func (d *capturingDispatcher) byType(typ event.Type) []*event.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*event.Event
	for _, evt := range d.events {
		if evt.Type == typ {
			out = append(out, evt)
		}
	}
	return out
}

func seedArchivedRun(t *testing.T, archive *memory.RunArchive) *run.Run {
	t.Helper()
	ctx := context.Background()

	rec := faultedRun()
	if err := archive.SaveRun(ctx, rec); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	for _, step := range traceSteps() {
		if err := archive.AppendStep(ctx, step); err != nil {
			t.Fatalf("AppendStep() error = %v", err)
		}
	}
	return rec
}

func TestExportOnFinishWritesReport(t *testing.T) {
	archive := memory.NewRunArchive()
	rec := seedArchivedRun(t, archive)

	store := storage.NewReportStore(t.TempDir(), nil)
	dispatcher := &capturingDispatcher{}
	handler := ExportOnFinish(archive, NewExporter(nil), store, dispatcher)

	evt := event.NewEvent(event.TypeRunFinished, rec.ID, nil)
	if err := handler(context.Background(), evt); err != nil {
		t.Fatalf("handler error = %v", err)
	}

	if !store.Exists(rec.ID) {
		t.Fatal("report file was not written")
	}
	data, err := store.Load(rec.ID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	f := openWorkbook(t, data)
	if got := summaryValue(t, f, "Run ID"); got != rec.ID {
		t.Errorf("report Run ID = %q, want %q", got, rec.ID)
	}

	generated := dispatcher.byType(event.TypeReportGenerated)
	if len(generated) != 1 {
		t.Fatalf("report.generated events = %d, want 1", len(generated))
	}
	if generated[0].RunID != rec.ID {
		t.Errorf("event run ID = %q, want %q", generated[0].RunID, rec.ID)
	}
	if generated[0].GetPayloadString("path") == "" {
		t.Error("event payload missing report path")
	}
}

func TestExportOnFinishUnknownRun(t *testing.T) {
	archive := memory.NewRunArchive()
	store := storage.NewReportStore(t.TempDir(), nil)
	handler := ExportOnFinish(archive, NewExporter(nil), store, nil)

	evt := event.NewEvent(event.TypeRunFinished, "run-unknown", nil)
	err := handler(context.Background(), evt)
	if !errors.Is(err, run.ErrNotFound) {
		t.Errorf("handler error = %v, want run.ErrNotFound", err)
	}
}

func TestExportOnFinishWithoutDispatcher(t *testing.T) {
	archive := memory.NewRunArchive()
	rec := seedArchivedRun(t, archive)
	store := storage.NewReportStore(t.TempDir(), nil)

	handler := ExportOnFinish(archive, NewExporter(nil), store, nil)
	evt := event.NewEvent(event.TypeRunFinished, rec.ID, nil)
	if err := handler(context.Background(), evt); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if !store.Exists(rec.ID) {
		t.Fatal("report file was not written")
	}
}

func TestExportOnFinishReExportOverwrites(t *testing.T) {
	archive := memory.NewRunArchive()
	rec := seedArchivedRun(t, archive)
	store := storage.NewReportStore(t.TempDir(), nil)
	handler := ExportOnFinish(archive, NewExporter(nil), store, nil)

	evt := event.NewEvent(event.TypeRunFinished, rec.ID, nil)
	if err := handler(context.Background(), evt); err != nil {
		t.Fatalf("first export error = %v", err)
	}

	// Seal the record differently and export again
	finished := rec.StartedAt.Add(5 * time.Second)
	rec.Status = run.StatusGoalReached
	rec.FaultReason = run.FaultNone
	rec.FaultDetail = ""
	rec.Failures = nil
	rec.FinishedAt = &finished
	if err := archive.SaveRun(context.Background(), rec); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	if err := handler(context.Background(), evt); err != nil {
		t.Fatalf("second export error = %v", err)
	}

	data, err := store.Load(rec.ID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	f := openWorkbook(t, data)
	if got := summaryValue(t, f, "Status"); got != "GOAL_REACHED" {
		t.Errorf("re-exported Status = %q, want GOAL_REACHED", got)
	}
}
