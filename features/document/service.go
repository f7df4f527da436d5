package document

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tailorcv/backend/internal/config"
	"tailorcv/backend/internal/identity"
	"tailorcv/backend/internal/middleware"
	"tailorcv/backend/internal/queue"
)

// LatestKey is the cache key of the most recently stored document.
const LatestKey = "latest_cv"

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type VectorPurger interface {
	DeleteByDoc(ctx context.Context, docID string) error
}

type Cache interface {
	Set(key string, doc *Document) bool
	Get(key string) (*Document, bool)
}

type Service struct {
	repo  Repository
	pub   EventPublisher
	index VectorPurger
	cache Cache
	now   func() time.Time
}

func NewService(repo Repository, pub EventPublisher, index VectorPurger, cache Cache) *Service {
	return &Service{repo: repo, pub: pub, index: index, cache: cache, now: time.Now}
}

// Store saves a structured CV under its content identity. Only a newly
// created document is announced for ingestion; storing identical content
// again returns the stored document with created=false and makes it the
// latest one.
func (s *Service) Store(ctx context.Context, sections map[string]any, text string) (*Document, bool, error) {
	sections = identity.NormalizeSections(sections)
	if len(sections) == 0 {
		return nil, false, ErrEmptySections
	}

	id, err := identity.Identify(sections)
	if err != nil {
		return nil, false, fmt.Errorf("identify document: %w", err)
	}

	exists, err := s.repo.Exists(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if exists {
		slog.InfoContext(ctx, "duplicate document, skipping ingestion", "doc_id", id)
		stored, err := s.markLatest(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return stored, false, nil
	}

	now := s.now().UTC()
	doc := &Document{ID: id, Sections: sections, Text: text, CreatedAt: now, UpdatedAt: now}
	created, err := s.repo.Put(ctx, doc)
	if err != nil {
		return nil, false, err
	}
	if !created {
		// Lost a race with a concurrent store of the same content.
		stored, err := s.markLatest(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return stored, false, nil
	}

	if s.cache != nil {
		s.cache.Set(LatestKey, doc)
	}

	if err := s.publish(ctx, id); err != nil {
		// The document stays stored; POST /documents/{id}/ingest re-announces it.
		slog.ErrorContext(ctx, "failed to publish ingestion event", "doc_id", id, "error", err)
	}

	slog.InfoContext(ctx, "document stored", "doc_id", id, "sections", len(sections))
	return doc, true, nil
}

// markLatest bumps a stored document's upload time and caches it as latest.
func (s *Service) markLatest(ctx context.Context, id string) (*Document, error) {
	if err := s.repo.Touch(ctx, id, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("touch document %s: %w", id, err)
	}
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(LatestKey, doc)
	}
	return doc, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Document, error) {
	if !identity.Valid(id) {
		return nil, ErrInvalidID
	}
	return s.repo.Get(ctx, id)
}

// Latest serves the most recently stored document from the cache when it
// can, falling back to the repository.
func (s *Service) Latest(ctx context.Context) (*Document, error) {
	if s.cache != nil {
		if doc, ok := s.cache.Get(LatestKey); ok {
			return doc, nil
		}
	}
	doc, err := s.repo.Latest(ctx)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(LatestKey, doc)
	}
	return doc, nil
}

// Ingest announces an already stored document to the embedding workers.
func (s *Service) Ingest(ctx context.Context, id string) error {
	if !identity.Valid(id) {
		return ErrInvalidID
	}
	exists, err := s.repo.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return s.publish(ctx, id)
}

// PurgeVectors removes every indexed chunk of a document. The document
// itself is kept.
func (s *Service) PurgeVectors(ctx context.Context, id string) error {
	if !identity.Valid(id) {
		return ErrInvalidID
	}
	if err := s.index.DeleteByDoc(ctx, id); err != nil {
		return fmt.Errorf("delete vectors of %s: %w", id, err)
	}
	slog.InfoContext(ctx, "document vectors purged", "doc_id", id)
	return nil
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

func (s *Service) publish(ctx context.Context, id string) error {
	body, err := queue.EncodeEvent(queue.Event{DocID: id, CorrelationID: middleware.GetCorrelationID(ctx)})
	if err != nil {
		return err
	}
	return s.pub.Publish(config.TopicCVCreated, body)
}
