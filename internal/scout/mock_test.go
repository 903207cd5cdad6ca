package scout

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/safeplate/scout-cli/internal/model"
	"github.com/safeplate/scout-cli/internal/normalize"
	"github.com/safeplate/scout-cli/internal/store"
)

// analyzerFunc adapts a function to the Analyzer interface.
type analyzerFunc func(ctx context.Context, prompt string, webSearch bool) (string, error)

func (f analyzerFunc) Analyze(ctx context.Context, prompt string, webSearch bool) (string, error) {
	return f(ctx, prompt, webSearch)
}

// memStore is an in-memory Store for orchestrator tests.
type memStore struct {
	mu        sync.Mutex
	nextID    int64
	rows      map[string]*model.Restaurant
	requests  []model.PendingRequest
	nextReqID int64
	getErr    error
	putErr    error
	getCalls  int
	putCalls  int
}

func newMemStore() *memStore {
	return &memStore{rows: map[string]*model.Restaurant{}}
}

func memKey(name, location string) string {
	return normalize.Name(name) + "\x00" + normalize.Location(location)
}

func (m *memStore) GetCached(ctx context.Context, name, location string) (*model.Restaurant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	r, ok := m.rows[memKey(name, location)]
	if !ok || time.Now().UTC().Sub(r.SearchedAt) > store.CacheTTL {
		return nil, nil
	}
	return r, nil
}

func (m *memStore) PutCached(ctx context.Context, name, location string, score *float64, analysis json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++
	if m.putErr != nil {
		return m.putErr
	}
	key := memKey(name, location)
	now := time.Now().UTC()
	if existing, ok := m.rows[key]; ok {
		existing.SafetyScore = score
		existing.Analysis = analysis
		existing.SearchedAt = now
		existing.ExpiresAt = now.Add(store.CacheTTL)
		return nil
	}
	m.nextID++
	m.rows[key] = &model.Restaurant{
		ID:          m.nextID,
		Name:        normalize.Name(name),
		Location:    normalize.Location(location),
		SafetyScore: score,
		Analysis:    analysis,
		SearchedAt:  now,
		ExpiresAt:   now.Add(store.CacheTTL),
	}
	return nil
}

func (m *memStore) BulkScores(ctx context.Context, names []string, location string) (map[string]float64, error) {
	return map[string]float64{}, nil
}

func (m *memStore) RestaurantID(ctx context.Context, name, location string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[memKey(name, location)]; ok {
		return r.ID, nil
	}
	return 0, store.ErrNotFound
}

func (m *memStore) RestaurantExists(ctx context.Context, id int64) (bool, error) { return false, nil }

func (m *memStore) GetRestaurant(ctx context.Context, id int64) (*model.Restaurant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) SaveRestaurant(ctx context.Context, userID, restaurantID int64) (bool, error) {
	return false, nil
}

func (m *memStore) UnsaveRestaurant(ctx context.Context, userID, restaurantID int64) error {
	return nil
}

func (m *memStore) IsSaved(ctx context.Context, userID, restaurantID int64) (bool, error) {
	return false, nil
}

func (m *memStore) ListSaved(ctx context.Context, userID int64) ([]model.SavedRestaurant, error) {
	return nil, nil
}

func (m *memStore) EnsureUser(ctx context.Context, email string) (int64, error) {
	return 1, nil
}

func (m *memStore) IncrementSearchCount(ctx context.Context, email string) (int64, error) {
	return 1, nil
}

func (m *memStore) EnqueueRequest(ctx context.Context, name, location, email, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextReqID++
	m.requests = append(m.requests, model.PendingRequest{
		ID:             m.nextReqID,
		RestaurantName: name,
		Location:       location,
		UserEmail:      email,
		IPAddress:      ip,
		RequestedAt:    time.Now().UTC(),
	})
	return nil
}

func (m *memStore) EnqueueRequestsBulk(ctx context.Context, reqs []model.PendingRequest) (int64, error) {
	for _, r := range reqs {
		if err := m.EnqueueRequest(ctx, r.RestaurantName, r.Location, r.UserEmail, r.IPAddress); err != nil {
			return 0, err
		}
	}
	return int64(len(reqs)), nil
}

func (m *memStore) PendingRequests(ctx context.Context) ([]model.PendingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []model.PendingRequest
	for _, r := range m.requests {
		if !r.Fulfilled() {
			pending = append(pending, r)
		}
	}
	return pending, nil
}

func (m *memStore) MarkRequestFulfilled(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.requests {
		if m.requests[i].ID == id && !m.requests[i].Fulfilled() {
			now := time.Now().UTC()
			m.requests[i].FulfilledAt = &now
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memStore) Ping(ctx context.Context) error    { return nil }
func (m *memStore) Migrate(ctx context.Context) error { return nil }
func (m *memStore) Close() error                      { return nil }

var errBoom = eris.New("boom")
