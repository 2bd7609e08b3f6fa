package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/landhub-tz/backend/internal/cache"
	"github.com/landhub-tz/backend/internal/models"
	"github.com/landhub-tz/backend/internal/realtime"
	"github.com/landhub-tz/backend/internal/repository"
)

// MockPlotRepository is a mock implementation of repository.PlotRepository for testing
type MockPlotRepository struct {
	mock.Mock
}

func (m *MockPlotRepository) Create(ctx context.Context, plot *models.Plot) error {
	args := m.Called(ctx, plot)
	return args.Error(0)
}

func (m *MockPlotRepository) CreateBatch(ctx context.Context, plots []*models.Plot) error {
	args := m.Called(ctx, plots)
	return args.Error(0)
}

func (m *MockPlotRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Plot, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Plot), args.Error(1)
}

func (m *MockPlotRepository) GetByIDs(ctx context.Context, ids []uuid.UUID, limit int) ([]models.Plot, error) {
	args := m.Called(ctx, ids, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Plot), args.Error(1)
}

func (m *MockPlotRepository) Search(ctx context.Context, params repository.SearchParams) ([]models.Plot, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Plot), args.Error(1)
}

func (m *MockPlotRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.PlotStatus) (*models.Plot, error) {
	args := m.Called(ctx, id, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Plot), args.Error(1)
}

func (m *MockPlotRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockPlotRepository) WithinPolygon(ctx context.Context, ring [][2]float64) ([]models.Plot, error) {
	args := m.Called(ctx, ring)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Plot), args.Error(1)
}

func (m *MockPlotRepository) WithinRadius(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]repository.PlotWithDistance, error) {
	args := m.Called(ctx, lat, lng, radiusKm, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.PlotWithDistance), args.Error(1)
}

func (m *MockPlotRepository) IDsWithinRadius(ctx context.Context, lat, lng, radiusKm float64) ([]uuid.UUID, error) {
	args := m.Called(ctx, lat, lng, radiusKm)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockPlotRepository) Stats(ctx context.Context, locationID *uuid.UUID) (*models.PlotStatistics, error) {
	args := m.Called(ctx, locationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PlotStatistics), args.Error(1)
}

// memStore is an in-memory cache.Store for service-level tests.
type memStore struct {
	mu      sync.Mutex
	entries map[string]string
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]string)}
}

func (s *memStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.entries[key]
	if !ok {
		return "", cache.ErrMiss
	}
	return val, nil
}

func (s *memStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = value
	return nil
}

func (s *memStore) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *memStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// capturingBroadcaster records every envelope published through it.
type capturingBroadcaster struct {
	mu        sync.Mutex
	envelopes []realtime.Envelope
}

func (b *capturingBroadcaster) Publish(_ context.Context, env realtime.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.envelopes = append(b.envelopes, env)
}

func (b *capturingBroadcaster) published() []realtime.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]realtime.Envelope(nil), b.envelopes...)
}
