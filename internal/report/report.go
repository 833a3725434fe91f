// Package report records authorization check outcomes and renders them
// as JSON and HTML run reports.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Status is the verdict for one recorded check.
type Status string

const (
	// StatusPass means the observed outcome matched the expectation.
	StatusPass Status = "pass"
	// StatusFail means the call completed but the outcome did not match.
	StatusFail Status = "fail"
	// StatusError means the check could not be evaluated, for example
	// because authentication or the tool call itself broke down.
	StatusError Status = "error"
	// StatusSkip means the check was excluded from this run.
	StatusSkip Status = "skip"
)

// CheckRecord is the outcome of one identity/tool expectation.
type CheckRecord struct {
	Identity   string    `json:"identity"`
	Tool       string    `json:"tool"`
	Expected   string    `json:"expected"`
	Observed   string    `json:"observed,omitempty"`
	Status     Status    `json:"status"`
	DurationMS int64     `json:"durationMs"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Summary is the complete result document for one run. It is what
// WriteJSON persists and what the report subcommand re-renders.
type Summary struct {
	RunID      string        `json:"runId"`
	Matrix     string        `json:"matrix,omitempty"`
	Started    time.Time     `json:"started"`
	Finished   time.Time     `json:"finished"`
	DurationMS int64         `json:"durationMs"`
	Total      int           `json:"total"`
	Passed     int           `json:"passed"`
	Failed     int           `json:"failed"`
	Errored    int           `json:"errored"`
	Skipped    int           `json:"skipped"`
	PassRate   float64       `json:"passRate"`
	Records    []CheckRecord `json:"records"`
}

// Clean reports whether the run had no failed or errored checks.
func (s *Summary) Clean() bool {
	return s.Failed == 0 && s.Errored == 0
}

// Failures returns the failed and errored records, in run order.
func (s *Summary) Failures() []CheckRecord {
	var out []CheckRecord
	for _, r := range s.Records {
		if r.Status == StatusFail || r.Status == StatusError {
			out = append(out, r)
		}
	}
	return out
}

// Slowest returns up to n executed records ordered by descending
// duration. Skipped checks never ran, so they are excluded.
func (s *Summary) Slowest(n int) []CheckRecord {
	executed := make([]CheckRecord, 0, len(s.Records))
	for _, r := range s.Records {
		if r.Status != StatusSkip {
			executed = append(executed, r)
		}
	}
	sort.SliceStable(executed, func(i, j int) bool {
		return executed[i].DurationMS > executed[j].DurationMS
	})
	if len(executed) > n {
		executed = executed[:n]
	}
	return executed
}

// WriteJSON persists the summary as an indented JSON document, creating
// parent directories as needed.
func WriteJSON(path string, s *Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// LoadJSON reads a summary previously written by WriteJSON.
func LoadJSON(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse report %s: %w", path, err)
	}
	return &s, nil
}
