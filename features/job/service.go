package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tailorcv/backend/internal/config"
	"tailorcv/backend/internal/queue"
)

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo           Repository
	pub            EventPublisher
	logger         *slog.Logger
	publishTimeout time.Duration
}

var _ queue.DeadLetter = (*Service)(nil)

func NewService(repo Repository, pub EventPublisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, pub: pub, logger: logger, publishTimeout: 5 * time.Second}
}

// Record stores a discarded message. Bodies that are not valid events are
// kept too, with an empty doc id.
func (s *Service) Record(ctx context.Context, topic string, body []byte, reason string) error {
	j := &Job{Topic: topic, Payload: body, Error: reason}
	if ev, err := queue.DecodeEvent(body); err == nil {
		j.DocID = ev.DocID
	}
	if !json.Valid(body) {
		j.Payload, _ = json.Marshal(string(body))
	}
	if err := s.repo.Save(ctx, j); err != nil {
		return fmt.Errorf("save failed job: %w", err)
	}
	s.logger.WarnContext(ctx, "event dead-lettered", "job_id", j.ID, "doc_id", j.DocID, "topic", topic, "reason", reason)
	return nil
}

func (s *Service) List(ctx context.Context, f Filter) ([]Job, error) {
	return s.repo.List(ctx, f)
}

func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	return s.repo.Get(ctx, id)
}

// Retry announces the job's document again and removes the job. The event
// is rebuilt from the doc id, so a job recorded from a malformed body cannot
// be retried.
func (s *Service) Retry(ctx context.Context, id string) (*Job, error) {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.DocID == "" {
		return nil, fmt.Errorf("%w: job %s has no document", ErrNotRetryable, id)
	}

	topic := job.Topic
	if topic == "" {
		topic = config.TopicCVCreated
	}

	body, err := queue.EncodeEvent(queue.Event{DocID: job.DocID})
	if err != nil {
		return nil, err
	}

	done := make(chan error, 1)
	go func() { done <- s.pub.Publish(topic, body) }()

	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("republish: %w", err)
		}
	case <-time.After(s.publishTimeout):
		return nil, errors.New("timeout waiting for publish")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.logger.InfoContext(ctx, "job retried", "job_id", id, "doc_id", job.DocID)
	if err := s.repo.Delete(ctx, id); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
