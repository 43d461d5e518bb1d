package reporting

import (
	"context"
	"fmt"

	"github.com/geoffsee/agent-mst/internal/application/port"
	"github.com/geoffsee/agent-mst/internal/domain/event"
)

// Dispatcher is the slice of the event dispatcher the subscriber needs
type Dispatcher interface {
	DispatchAsync(ctx context.Context, evt *event.Event)
}

// ExportOnFinish returns a dispatcher handler for run.finished events that
// renders the run's workbook into the store and announces the file with a
// report.generated event. Faulted runs are exported like successful ones;
// their report carries the fault rows.
func ExportOnFinish(archive port.RunArchive, exporter *Exporter, store port.ReportStore, d Dispatcher) func(ctx context.Context, evt *event.Event) error {
	return func(ctx context.Context, evt *event.Event) error {
		rec, err := archive.GetRun(ctx, evt.RunID)
		if err != nil {
			return fmt.Errorf("failed to load run %s: %w", evt.RunID, err)
		}

		steps, err := archive.StepsByRunID(ctx, evt.RunID)
		if err != nil {
			return fmt.Errorf("failed to load trace of run %s: %w", evt.RunID, err)
		}

		data, err := exporter.Export(rec, steps)
		if err != nil {
			return fmt.Errorf("failed to render report of run %s: %w", evt.RunID, err)
		}

		path, err := store.Save(rec.ID, data)
		if err != nil {
			return fmt.Errorf("failed to store report of run %s: %w", evt.RunID, err)
		}

		if d != nil {
			d.DispatchAsync(ctx, event.NewEvent(event.TypeReportGenerated, rec.ID, map[string]interface{}{
				"path":  path,
				"bytes": len(data),
			}))
		}
		return nil
	}
}
