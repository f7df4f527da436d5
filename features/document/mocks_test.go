package document_test

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"tailorcv/backend/features/document"
)

type MockRepo struct{ mock.Mock }

func (m *MockRepo) Exists(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepo) Put(ctx context.Context, doc *document.Document) (bool, error) {
	args := m.Called(ctx, doc)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepo) Touch(ctx context.Context, id string, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *MockRepo) Get(ctx context.Context, id string) (*document.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*document.Document), args.Error(1)
}

func (m *MockRepo) Latest(ctx context.Context) (*document.Document, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*document.Document), args.Error(1)
}

func (m *MockRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) Publish(topic string, body []byte) error {
	args := m.Called(topic, body)
	return args.Error(0)
}

type MockPurger struct{ mock.Mock }

func (m *MockPurger) DeleteByDoc(ctx context.Context, docID string) error {
	args := m.Called(ctx, docID)
	return args.Error(0)
}

type mapCache struct {
	mu    sync.Mutex
	items map[string]*document.Document
}

func newMapCache() *mapCache { return &mapCache{items: map[string]*document.Document{}} }

func (c *mapCache) Set(key string, doc *document.Document) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = doc
	return true
}

func (c *mapCache) Get(key string) (*document.Document, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.items[key]
	return d, ok
}
