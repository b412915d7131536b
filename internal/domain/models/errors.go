package models

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable indicates the configured source location is missing or unreadable.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrMalformedRecord indicates a single source row could not be parsed or validated.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrStorageWriteFailure indicates a batch could not be written and was rolled back.
	ErrStorageWriteFailure = errors.New("storage write failure")
	// ErrStorageTimeout indicates a storage call exceeded its deadline. Callers may retry.
	ErrStorageTimeout = errors.New("storage timeout")
	// ErrIngestTimeout indicates a batch ran out of time while reading its source. Callers may retry.
	ErrIngestTimeout = errors.New("ingestion timeout")
	// ErrNotificationDelivery indicates an alert could not be delivered to a channel.
	ErrNotificationDelivery = errors.New("notification delivery failure")
)

// MalformedRecordError describes a rejected source row.
type MalformedRecordError struct {
	Row    int    `json:"row"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

func (e *MalformedRecordError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed record at row %d: %s", e.Row, e.Reason)
	}
	return fmt.Sprintf("malformed record at row %d: %s: %s", e.Row, e.Field, e.Reason)
}

// Is lets errors.Is match the ErrMalformedRecord sentinel.
func (e *MalformedRecordError) Is(target error) bool {
	return target == ErrMalformedRecord
}

// IsRetryable reports whether err is worth retrying on the next scheduled run.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageTimeout) || errors.Is(err, ErrIngestTimeout)
}
