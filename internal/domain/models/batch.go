package models

import "time"

// BatchSummary reports the outcome of one pass of a source through the processor.
type BatchSummary struct {
	BatchID      string                  `json:"batch_id"`
	Source       string                  `json:"source"`
	Inserted     int                     `json:"inserted"`
	Updated      int                     `json:"updated"`
	Rejected     int                     `json:"rejected"`
	Rejections   []*MalformedRecordError `json:"rejections,omitempty"`
	DatesTouched []string                `json:"dates_touched,omitempty"`
	StartedAt    time.Time               `json:"started_at"`
	FinishedAt   time.Time               `json:"finished_at"`
	Committed    bool                    `json:"committed"`
	Error        string                  `json:"error,omitempty"`
	Err          error                   `json:"-"`
}

// Reject records a row level rejection.
func (s *BatchSummary) Reject(err *MalformedRecordError) {
	s.Rejected++
	s.Rejections = append(s.Rejections, err)
}

// Fail marks the batch as aborted. Counts of writes are reset because the
// transaction was rolled back.
func (s *BatchSummary) Fail(err error) {
	s.Err = err
	s.Error = err.Error()
	s.Committed = false
	s.Inserted = 0
	s.Updated = 0
}
