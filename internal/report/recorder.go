package report

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Recorder collects check records during a run. It is safe for
// concurrent use.
type Recorder struct {
	mu      sync.Mutex
	runID   string
	matrix  string
	started time.Time
	records []CheckRecord
}

// NewRecorder starts a new run with a fresh run ID.
func NewRecorder(matrixName string) *Recorder {
	return &Recorder{
		runID:   uuid.New().String(),
		matrix:  matrixName,
		started: time.Now(),
	}
}

// RunID returns the unique identifier of this run.
func (r *Recorder) RunID() string {
	return r.runID
}

// Record appends one check outcome. A zero Timestamp is filled with the
// current time.
func (r *Recorder) Record(rec CheckRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

// Count returns the number of records collected so far.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Summary finalizes the run and returns the complete result document.
// The pass rate is computed over executed checks only.
func (r *Recorder) Summary() *Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	finished := time.Now()
	s := &Summary{
		RunID:      r.runID,
		Matrix:     r.matrix,
		Started:    r.started,
		Finished:   finished,
		DurationMS: finished.Sub(r.started).Milliseconds(),
		Records:    append([]CheckRecord(nil), r.records...),
	}

	for _, rec := range r.records {
		s.Total++
		switch rec.Status {
		case StatusPass:
			s.Passed++
		case StatusFail:
			s.Failed++
		case StatusError:
			s.Errored++
		case StatusSkip:
			s.Skipped++
		}
	}

	if executed := s.Total - s.Skipped; executed > 0 {
		s.PassRate = float64(s.Passed) / float64(executed) * 100
	}

	return s
}
