// Package storage keeps generated run artifacts on the local filesystem.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// unsafeChars matches everything a run ID is not allowed to put in a filename
var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\-_]`)

// ReportStore writes run report workbooks under a single directory, one file
// per run. File names are derived from the run ID, so a re-export overwrites
// the previous report.
type ReportStore struct {
	dir    string
	logger *zap.Logger
}

// NewReportStore creates a report store rooted at dir
func NewReportStore(dir string, logger *zap.Logger) *ReportStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportStore{
		dir:    dir,
		logger: logger,
	}
}

// Save writes the workbook bytes for the run and returns the file path
func (s *ReportStore) Save(runID string, content []byte) (string, error) {
	path, err := s.Path(runID)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		s.logger.Error("Failed to create report directory",
			zap.String("dir", s.dir),
			zap.Error(err))
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	if err := os.WriteFile(path, content, 0644); err != nil {
		s.logger.Error("Failed to write report",
			zap.String("path", path),
			zap.Error(err))
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	s.logger.Debug("Report saved",
		zap.String("path", path),
		zap.Int("size", len(content)))

	return path, nil
}

// Load reads the stored workbook bytes for the run
func (s *ReportStore) Load(runID string) ([]byte, error) {
	path, err := s.Path(runID)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	return content, nil
}

// Exists reports whether a stored workbook exists for the run
func (s *ReportStore) Exists(runID string) bool {
	path, err := s.Path(runID)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Remove deletes the stored workbook for the run. Removing a report that was
// never written is not an error.
func (s *ReportStore) Remove(runID string) error {
	path, err := s.Path(runID)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		s.logger.Error("Failed to delete report",
			zap.String("path", path),
			zap.Error(err))
		return fmt.Errorf("failed to delete report: %w", err)
	}
	return nil
}

// Path returns the file path a run's report lives at. The run ID is reduced
// to filesystem-safe characters so a crafted ID cannot escape the store
// directory.
func (s *ReportStore) Path(runID string) (string, error) {
	safe := sanitizeID(runID)
	if safe == "" {
		return "", fmt.Errorf("invalid run ID %q", runID)
	}
	return filepath.Join(s.dir, safe+".xlsx"), nil
}

// sanitizeID strips path separators, parent references and anything else a
// filename should not contain
func sanitizeID(id string) string {
	id = strings.ReplaceAll(id, "..", "")
	return unsafeChars.ReplaceAllString(id, "")
}
