// Package reporting renders archived runs into downloadable spreadsheets.
package reporting

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/geoffsee/agent-mst/internal/domain/run"
)

// controlChars matches characters that are illegal in spreadsheet XML.
// Oracle replies and action errors are free text, so their cells get cleaned.
var controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)

// Sheet names of the generated workbook
const (
	sheetSummary  = "Summary"
	sheetTrace    = "Trace"
	sheetFailures = "Failures"
)

// Exporter builds an Excel workbook for a run: a summary sheet, the step
// trace, and a failures sheet when any instruction action faulted.
type Exporter struct {
	logger *zap.Logger
}

// NewExporter creates a new report exporter
func NewExporter(logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{logger: logger}
}

// Export renders the run and its trace into workbook bytes
func (e *Exporter) Export(rec *run.Run, steps []*run.Step) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("cannot export nil run")
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheetSummary); err != nil {
		return nil, fmt.Errorf("failed to create summary sheet: %w", err)
	}
	e.writeSummary(f, rec)

	if _, err := f.NewSheet(sheetTrace); err != nil {
		return nil, fmt.Errorf("failed to create trace sheet: %w", err)
	}
	e.writeTrace(f, steps)

	if len(rec.Failures) > 0 {
		if _, err := f.NewSheet(sheetFailures); err != nil {
			return nil, fmt.Errorf("failed to create failures sheet: %w", err)
		}
		e.writeFailures(f, rec.Failures)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Info("Run report generated",
		zap.String("run_id", rec.ID),
		zap.Int("steps", len(steps)),
		zap.Int("failures", len(rec.Failures)))

	return buf.Bytes(), nil
}

// writeSummary fills the summary sheet with label/value rows. Rows for fault
// and finish details appear only when the run carries them.
func (e *Exporter) writeSummary(f *excelize.File, rec *run.Run) {
	row := 1
	put := func(label string, value interface{}) {
		labelCell, _ := excelize.CoordinatesToCellName(1, row)
		valueCell, _ := excelize.CoordinatesToCellName(2, row)
		e.setCell(f, sheetSummary, labelCell, label)
		e.setCell(f, sheetSummary, valueCell, value)
		row++
	}

	put("Run ID", rec.ID)
	put("Scenario", rec.Scenario)
	put("Policy", rec.Policy)
	put("Status", rec.Status.String())
	if rec.FaultReason != run.FaultNone {
		put("Fault Reason", rec.FaultReason.String())
		if rec.FaultDetail != "" {
			put("Fault Detail", cleanText(rec.FaultDetail))
		}
	}
	put("Initial State", rec.InitialState)
	if rec.FinalState != "" {
		put("Final State", rec.FinalState)
	}
	put("Visited States", strings.Join(rec.Visited, " -> "))
	put("Iterations", rec.Iterations)
	put("Transitions", rec.Transitions)
	put("Fallbacks", rec.Fallbacks)
	put("Instruction Failures", len(rec.Failures))
	put("Started At", rec.StartedAt.Format(time.RFC3339))
	if rec.FinishedAt != nil {
		put("Finished At", rec.FinishedAt.Format(time.RFC3339))
		put("Duration", rec.FinishedAt.Sub(rec.StartedAt).Round(time.Millisecond).String())
	}

	e.setColWidth(f, sheetSummary, "A", "A", 22)
	e.setColWidth(f, sheetSummary, "B", "B", 48)
}

// writeTrace fills the trace sheet with one row per archived step
func (e *Exporter) writeTrace(f *excelize.File, steps []*run.Step) {
	headers := []string{"Iteration", "From", "To", "Source", "Raw Choice", "Fallback", "Stagnant", "Timestamp"}
	for col, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		e.setCell(f, sheetTrace, cell, header)
	}

	for i, step := range steps {
		values := []interface{}{
			step.Iteration,
			step.FromState,
			step.ToState,
			step.Source,
			cleanText(step.RawChoice),
			yesNo(step.Fallback),
			yesNo(step.Stagnant),
			step.Timestamp.Format(time.RFC3339),
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			e.setCell(f, sheetTrace, cell, value)
		}
	}

	e.setColWidth(f, sheetTrace, "B", "E", 18)
	e.setColWidth(f, sheetTrace, "H", "H", 24)
}

// writeFailures fills the failures sheet with the isolated instruction errors
func (e *Exporter) writeFailures(f *excelize.File, failures []run.InstructionFailure) {
	headers := []string{"Iteration", "Index", "Instruction", "State", "Error"}
	for col, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		e.setCell(f, sheetFailures, cell, header)
	}

	for i, failure := range failures {
		values := []interface{}{
			failure.Iteration,
			failure.Index,
			failure.Description,
			failure.State,
			cleanText(failure.Error),
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			e.setCell(f, sheetFailures, cell, value)
		}
	}

	e.setColWidth(f, sheetFailures, "C", "C", 32)
	e.setColWidth(f, sheetFailures, "E", "E", 48)
}

// setCell sets a cell value in the workbook
func (e *Exporter) setCell(f *excelize.File, sheet, cell string, value interface{}) {
	if err := f.SetCellValue(sheet, cell, value); err != nil {
		e.logger.Warn("Failed to set cell value",
			zap.String("sheet", sheet),
			zap.String("cell", cell),
			zap.Error(err))
	}
}

// setColWidth widens a column range
func (e *Exporter) setColWidth(f *excelize.File, sheet, start, end string, width float64) {
	if err := f.SetColWidth(sheet, start, end, width); err != nil {
		e.logger.Warn("Failed to set column width",
			zap.String("sheet", sheet),
			zap.Error(err))
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func cleanText(s string) string {
	return controlChars.ReplaceAllString(s, "")
}
