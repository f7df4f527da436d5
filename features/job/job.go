// Package job keeps ingestion events that were given up on, so they can be
// inspected and pushed back onto the queue.
package job

import (
	"encoding/json"
	"errors"
	"time"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

var (
	ErrNotFound = errors.New("job not found")
	// ErrNotRetryable marks jobs whose payload never named a document.
	ErrNotRetryable = errors.New("job is not retryable")
)

type Job struct {
	ID        string          `json:"id"`
	DocID     string          `json:"doc_id"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	Retries   int             `json:"retries"`
	CreatedAt time.Time       `json:"created_at"`
}

// Filter narrows a listing. A zero Limit means DefaultListLimit.
type Filter struct {
	DocID string
	Limit int
}

func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	}
	return f.Limit
}
