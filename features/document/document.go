// Package document stores structured CVs under their content identity and
// announces new ones to the ingestion queue.
package document

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrInvalidID     = errors.New("invalid document id")
	ErrEmptySections = errors.New("document has no sections")
)

// Document content is immutable once stored; an edited CV is a new
// Document. UpdatedAt moves each time the same content is uploaded again.
type Document struct {
	ID        string         `json:"doc_id"`
	Sections  map[string]any `json:"sections"`
	Text      string         `json:"text,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type Repository interface {
	Exists(ctx context.Context, id string) (bool, error)
	// Put stores doc unless its id is already present, in which case it
	// reports created=false and leaves the stored copy untouched.
	Put(ctx context.Context, doc *Document) (created bool, err error)
	// Touch records a new upload of a stored document at the given time.
	Touch(ctx context.Context, id string, at time.Time) error
	Get(ctx context.Context, id string) (*Document, error)
	// Latest returns the most recently uploaded document.
	Latest(ctx context.Context) (*Document, error)
	Count(ctx context.Context) (int, error)
}

// Structurer turns raw CV text into sections. It is implemented outside
// this service.
type Structurer interface {
	Structure(ctx context.Context, text string) (map[string]any, error)
}
