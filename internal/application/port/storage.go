package port

// ReportStore persists generated run report workbooks, one file per run.
// Save returns the path the workbook was written to.
type ReportStore interface {
	Save(runID string, content []byte) (string, error)
	Load(runID string) ([]byte, error)
	Exists(runID string) bool
	Remove(runID string) error
}
