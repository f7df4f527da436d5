// Package queue carries ingestion events between the document store and
// the embedding workers. Every delivery settles exactly once.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Outcome int

const (
	Ack Outcome = iota
	Requeue
	Discard
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	case Discard:
		return "discard"
	}
	return "unknown"
}

// Result is what a processor decides for one delivery.
type Result struct {
	Outcome Outcome
	Delay   time.Duration
	Err     error
}

// Delivery is one in-flight message. Exactly one of Ack, Requeue, or
// Discard must be called.
type Delivery interface {
	Body() []byte
	// Attempts counts deliveries of this message, starting at 1.
	Attempts() int
	Ack()
	Requeue(delay time.Duration)
	Discard()
}

// Source hands out deliveries until stopped.
type Source interface {
	Deliveries() <-chan Delivery
	Stop()
}

type Publisher interface {
	Publish(topic string, body []byte) error
}

// DeadLetter records messages that will never be processed.
type DeadLetter interface {
	Record(ctx context.Context, topic string, body []byte, reason string) error
}

// Settle applies res to d.
func Settle(d Delivery, res Result) {
	switch res.Outcome {
	case Requeue:
		d.Requeue(res.Delay)
	case Discard:
		d.Discard()
	default:
		d.Ack()
	}
}

var ErrMalformedEvent = errors.New("malformed ingestion event")

// Event announces a newly stored document.
type Event struct {
	DocID         string `json:"doc_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func EncodeEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

func DecodeEvent(body []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	e.DocID = strings.TrimSpace(e.DocID)
	if e.DocID == "" {
		return Event{}, fmt.Errorf("%w: missing doc_id", ErrMalformedEvent)
	}
	return e, nil
}
