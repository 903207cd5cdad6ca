package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safeplate/scout-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func restaurantColumns() []string {
	return []string{"id", "name", "location", "search_query", "safety_score", "analysis_json", "searched_at", "expires_at"}
}

func TestPostgresStore_GetCached_Miss(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, name, location, search_query, safety_score, analysis_json, searched_at, expires_at`).
		WithArgs("unknown diner", "philadelphia").
		WillReturnError(pgx.ErrNoRows)

	r, err := s.GetCached(context.Background(), "Unknown Diner", "Philadelphia")
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCached_NormalizesKey(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	score := 8.5
	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT id, name, location, search_query, safety_score, analysis_json, searched_at, expires_at`).
		WithArgs("joes and sons", "philly").
		WillReturnRows(pgxmock.NewRows(restaurantColumns()).
			AddRow(int64(42), "joes and sons", "philly", "Joe's & Sons Philly", &score,
				[]byte(`{"safety_score":8.5}`), now.Add(-time.Hour), now.Add(CacheTTL)))

	r, err := s.GetCached(context.Background(), "Joe's & Sons", "Philly")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, int64(42), r.ID)
	assert.Equal(t, "Joe's & Sons Philly", r.SearchQuery)
	require.NotNil(t, r.SafetyScore)
	assert.Equal(t, 8.5, *r.SafetyScore)
	assert.JSONEq(t, `{"safety_score":8.5}`, string(r.Analysis))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCached_TTL(t *testing.T) {
	tests := []struct {
		name       string
		age        time.Duration
		wantCached bool
	}{
		{"fresh at 29 days", 29 * 24 * time.Hour, true},
		{"stale one second past 30 days", 30*24*time.Hour + time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockPostgresStore(t)

			searchedAt := time.Now().UTC().Add(-tt.age)
			mock.ExpectQuery(`SELECT id, name, location, search_query, safety_score, analysis_json, searched_at, expires_at`).
				WithArgs("vedge", "philadelphia").
				WillReturnRows(pgxmock.NewRows(restaurantColumns()).
					AddRow(int64(7), "vedge", "philadelphia", "Vedge Philadelphia", nil,
						[]byte(`{}`), searchedAt, searchedAt.Add(CacheTTL)))

			r, err := s.GetCached(context.Background(), "Vedge", "Philadelphia")
			require.NoError(t, err)
			if tt.wantCached {
				assert.NotNil(t, r)
			} else {
				assert.Nil(t, r)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_PutCached_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	score := 9.0
	mock.ExpectExec(`INSERT INTO restaurants .+ ON CONFLICT \(name, location\) DO UPDATE SET`).
		WithArgs("fox and son", "philadelphia", "Fox & Son Philadelphia", &score,
			[]byte(`{"safety_score":9}`), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.PutCached(context.Background(), "Fox & Son", "Philadelphia", &score, json.RawMessage(`{"safety_score":9}`))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BulkScores_OmitsMissing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT name, safety_score FROM restaurants`).
		WithArgs([]string{"vedge", "kalaya"}, "philadelphia").
		WillReturnRows(pgxmock.NewRows([]string{"name", "safety_score"}).
			AddRow("vedge", 8.0))

	scores, err := s.BulkScores(context.Background(), []string{"Vedge", "Kalaya"}, "Philadelphia")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"vedge": 8.0}, scores)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BulkScores_EmptyInput(t *testing.T) {
	s, _ := newMockPostgresStore(t)

	scores, err := s.BulkScores(context.Background(), nil, "Philadelphia")
	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestPostgresStore_RestaurantID_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id FROM restaurants`).
		WithArgs("nowhere cafe", "").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.RestaurantID(context.Background(), "Nowhere Cafe", "")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRestaurant_ByID(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT id, name, location, search_query, safety_score, analysis_json, searched_at, expires_at\s+FROM restaurants WHERE id`).
		WithArgs(int64(42)).
		WillReturnRows(pgxmock.NewRows(restaurantColumns()).
			AddRow(int64(42), "vedge", "philadelphia", "Vedge Philadelphia", nil,
				[]byte(`{"verdict":"CELIAC_FRIENDLY"}`), now.Add(-40*24*time.Hour), now.Add(-10*24*time.Hour)))

	r, err := s.GetRestaurant(context.Background(), 42)
	require.NoError(t, err)
	// Stale rows are still returned when addressed by id.
	assert.Equal(t, int64(42), r.ID)
	assert.JSONEq(t, `{"verdict":"CELIAC_FRIENDLY"}`, string(r.Analysis))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRestaurant_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, name, location, search_query, safety_score, analysis_json, searched_at, expires_at\s+FROM restaurants WHERE id`).
		WithArgs(int64(99)).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRestaurant(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRestaurant_Idempotent(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// First save inserts a row.
	mock.ExpectExec(`INSERT INTO saved_restaurants .+ ON CONFLICT \(user_id, restaurant_id\) DO NOTHING`).
		WithArgs(int64(1), int64(42), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	already, err := s.SaveRestaurant(context.Background(), 1, 42)
	require.NoError(t, err)
	assert.False(t, already)

	// Second save conflicts and reports already-saved.
	mock.ExpectExec(`INSERT INTO saved_restaurants .+ ON CONFLICT \(user_id, restaurant_id\) DO NOTHING`).
		WithArgs(int64(1), int64(42), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	already, err = s.SaveRestaurant(context.Background(), 1, 42)
	require.NoError(t, err)
	assert.True(t, already)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UnsaveRestaurant_AbsentIsNoop(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM saved_restaurants`).
		WithArgs(int64(1), int64(99)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := s.UnsaveRestaurant(context.Background(), 1, 99)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListSaved_DisplayNames(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	score := 8.0
	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT r.id, r.name, r.location, r.search_query, r.safety_score, s.saved_at`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "location", "search_query", "safety_score", "saved_at"}).
			AddRow(int64(1), "joes pizza", "philly", "Joe's Pizza Philly", &score, now).
			AddRow(int64(2), "vedge", "philadelphia", "standalone", nil, now.Add(-time.Hour)).
			AddRow(int64(3), "kalaya", "philadelphia", "", nil, now.Add(-2*time.Hour)))

	saved, err := s.ListSaved(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, saved, 3)

	// Location suffix stripped from the stored query.
	assert.Equal(t, "Joe's Pizza", saved[0].DisplayName)
	assert.Equal(t, "Philly", saved[0].Location)
	// Query does not end with the location: first token wins.
	assert.Equal(t, "standalone", saved[1].DisplayName)
	// Empty query: title-cased normalized name.
	assert.Equal(t, "Kalaya", saved[2].DisplayName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnsureUser(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO users \(email, search_count\) VALUES \(\$1, 0\)`).
		WithArgs("a@b.com").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(5)))

	id, err := s.EnsureUser(context.Background(), "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, int64(5), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IncrementSearchCount(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO users \(email, search_count\)`).
		WithArgs("a@b.com").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(5)))

	id, err := s.IncrementSearchCount(context.Background(), "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, int64(5), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkRequestFulfilled_Once(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE restaurant_requests SET fulfilled_at`).
		WithArgs(pgxmock.AnyArg(), int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.MarkRequestFulfilled(context.Background(), 3))

	// Already fulfilled: zero rows matched.
	mock.ExpectExec(`UPDATE restaurant_requests SET fulfilled_at`).
		WithArgs(pgxmock.AnyArg(), int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.MarkRequestFulfilled(context.Background(), 3)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PendingRequests(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	email := "a@b.com"
	mock.ExpectQuery(`SELECT id, restaurant_name, location, user_email, ip_address, requested_at, fulfilled_at`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "restaurant_name", "location", "user_email", "ip_address", "requested_at", "fulfilled_at"}).
			AddRow(int64(1), "Kampar", "Philadelphia", &email, nil, now.Add(-time.Hour), nil).
			AddRow(int64(2), "Wilder", "", nil, nil, now, nil))

	pending, err := s.PendingRequests(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "Kampar", pending[0].RestaurantName)
	assert.Equal(t, "a@b.com", pending[0].UserEmail)
	assert.False(t, pending[0].Fulfilled())
	assert.Empty(t, pending[1].UserEmail)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnqueueRequestsBulk(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"restaurant_requests"},
		[]string{"restaurant_name", "location", "user_email", "ip_address", "requested_at"}).
		WillReturnResult(2)

	n, err := s.EnqueueRequestsBulk(context.Background(), []model.PendingRequest{
		{RestaurantName: "Kampar", Location: "Philadelphia"},
		{RestaurantName: "Wilder"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StoreErrorPropagates(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, name, location`).
		WithArgs("vedge", "philadelphia").
		WillReturnError(errors.New("connection refused"))

	_, err := s.GetCached(context.Background(), "Vedge", "Philadelphia")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get cached restaurant")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPostgres_NotConfigured(t *testing.T) {
	_, err := NewPostgres(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
