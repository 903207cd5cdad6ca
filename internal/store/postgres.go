package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/safeplate/scout-cli/internal/db"
	"github.com/safeplate/scout-cli/internal/model"
	"github.com/safeplate/scout-cli/internal/normalize"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for the
// hot path: every web request does at least one cache read.
var preparedStatements = map[string]string{
	"get_cached": `SELECT id, name, location, search_query, safety_score, analysis_json, searched_at, expires_at
	               FROM restaurants WHERE LOWER(name) = $1 AND LOWER(location) = $2`,
	"put_cached": `INSERT INTO restaurants (name, location, search_query, safety_score, analysis_json, searched_at, expires_at)
	               VALUES ($1, $2, $3, $4, $5, $6, $7)
	               ON CONFLICT (name, location) DO UPDATE SET
	                 search_query = EXCLUDED.search_query,
	                 safety_score = EXCLUDED.safety_score,
	                 analysis_json = EXCLUDED.analysis_json,
	                 searched_at = EXCLUDED.searched_at,
	                 expires_at = EXCLUDED.expires_at`,
	"restaurant_id": `SELECT id FROM restaurants WHERE LOWER(name) = $1 AND LOWER(location) = $2`,
}

// NewPostgres creates a PostgresStore with a connection pool. An empty
// connString returns ErrNotConfigured so the caller can run cache-less.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	if connString == "" {
		return nil, ErrNotConfigured
	}

	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS users (
	id           BIGSERIAL PRIMARY KEY,
	email        TEXT NOT NULL UNIQUE,
	search_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS restaurants (
	id            BIGSERIAL PRIMARY KEY,
	name          TEXT NOT NULL,
	location      TEXT NOT NULL DEFAULT '',
	search_query  TEXT NOT NULL DEFAULT '',
	safety_score  DOUBLE PRECISION,
	analysis_json JSONB NOT NULL,
	searched_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at    TIMESTAMPTZ NOT NULL,
	UNIQUE (name, location)
);

CREATE INDEX IF NOT EXISTS idx_restaurants_location ON restaurants(location);

CREATE TABLE IF NOT EXISTS saved_restaurants (
	user_id       BIGINT NOT NULL REFERENCES users(id),
	restaurant_id BIGINT NOT NULL REFERENCES restaurants(id),
	saved_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, restaurant_id)
);

CREATE INDEX IF NOT EXISTS idx_saved_restaurants_user ON saved_restaurants(user_id, saved_at DESC);

CREATE TABLE IF NOT EXISTS restaurant_requests (
	id              BIGSERIAL PRIMARY KEY,
	restaurant_name TEXT NOT NULL,
	location        TEXT NOT NULL DEFAULT '',
	user_email      TEXT,
	ip_address      TEXT,
	requested_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	fulfilled_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_requests_pending ON restaurant_requests(requested_at) WHERE fulfilled_at IS NULL;
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// GetCached looks up a cached analysis by normalized key. A missing row or a
// row older than CacheTTL both return (nil, nil); expired rows stay in place
// until the next PutCached overwrites them.
func (s *PostgresStore) GetCached(ctx context.Context, name, location string) (*model.Restaurant, error) {
	var r model.Restaurant
	var analysisJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, name, location, search_query, safety_score, analysis_json, searched_at, expires_at
		 FROM restaurants WHERE LOWER(name) = $1 AND LOWER(location) = $2`,
		normalize.Name(name), normalize.Location(location),
	).Scan(&r.ID, &r.Name, &r.Location, &r.SearchQuery, &r.SafetyScore, &analysisJSON, &r.SearchedAt, &r.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get cached restaurant")
	}

	if !fresh(r.SearchedAt, time.Now().UTC()) {
		return nil, nil
	}

	r.Analysis = json.RawMessage(analysisJSON)
	return &r, nil
}

// PutCached upserts an analysis under the normalized key, refreshing both
// timestamps. The surrogate id of an existing row is preserved.
func (s *PostgresStore) PutCached(ctx context.Context, name, location string, score *float64, analysis json.RawMessage) error {
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO restaurants (name, location, search_query, safety_score, analysis_json, searched_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (name, location) DO UPDATE SET
		   search_query = EXCLUDED.search_query,
		   safety_score = EXCLUDED.safety_score,
		   analysis_json = EXCLUDED.analysis_json,
		   searched_at = EXCLUDED.searched_at,
		   expires_at = EXCLUDED.expires_at`,
		normalize.Name(name), normalize.Location(location), searchQuery(name, location),
		score, []byte(analysis), now, now.Add(CacheTTL),
	)
	return eris.Wrap(err, "postgres: put cached restaurant")
}

// BulkScores returns safety scores for the given names under one location.
// Names with no cached score are omitted; keys are normalized names.
func (s *PostgresStore) BulkScores(ctx context.Context, names []string, location string) (map[string]float64, error) {
	if len(names) == 0 {
		return map[string]float64{}, nil
	}

	normNames := make([]string, len(names))
	for i, n := range names {
		normNames[i] = normalize.Name(n)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT name, safety_score FROM restaurants
		 WHERE LOWER(name) = ANY($1) AND LOWER(location) = $2 AND safety_score IS NOT NULL`,
		normNames, normalize.Location(location),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: bulk scores")
	}
	defer rows.Close()

	scores := make(map[string]float64)
	for rows.Next() {
		var name string
		var score float64
		if err := rows.Scan(&name, &score); err != nil {
			return nil, eris.Wrap(err, "postgres: scan score")
		}
		scores[name] = score
	}
	return scores, eris.Wrap(rows.Err(), "postgres: bulk scores iterate")
}

// RestaurantID resolves the surrogate id for a normalized key.
func (s *PostgresStore) RestaurantID(ctx context.Context, name, location string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM restaurants WHERE LOWER(name) = $1 AND LOWER(location) = $2`,
		normalize.Name(name), normalize.Location(location),
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, eris.Wrap(err, "postgres: restaurant id")
	}
	return id, nil
}

func (s *PostgresStore) RestaurantExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM restaurants WHERE id = $1)`, id,
	).Scan(&exists)
	return exists, eris.Wrap(err, "postgres: restaurant exists")
}

// GetRestaurant fetches a cached restaurant by surrogate id. Unlike GetCached
// it ignores the TTL: saved-list detail views show stale analyses too.
func (s *PostgresStore) GetRestaurant(ctx context.Context, id int64) (*model.Restaurant, error) {
	var r model.Restaurant
	var analysisJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, location, search_query, safety_score, analysis_json, searched_at, expires_at
		 FROM restaurants WHERE id = $1`, id,
	).Scan(&r.ID, &r.Name, &r.Location, &r.SearchQuery, &r.SafetyScore, &analysisJSON, &r.SearchedAt, &r.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "postgres: get restaurant")
	}
	r.Analysis = json.RawMessage(analysisJSON)
	return &r, nil
}

// SaveRestaurant records a (user, restaurant) relation. Saving an existing
// relation is a no-op reported via alreadySaved.
func (s *PostgresStore) SaveRestaurant(ctx context.Context, userID, restaurantID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO saved_restaurants (user_id, restaurant_id, saved_at) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, restaurant_id) DO NOTHING`,
		userID, restaurantID, time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: save restaurant")
	}
	return tag.RowsAffected() == 0, nil
}

// UnsaveRestaurant removes a relation; removing an absent one is not an error.
func (s *PostgresStore) UnsaveRestaurant(ctx context.Context, userID, restaurantID int64) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM saved_restaurants WHERE user_id = $1 AND restaurant_id = $2`,
		userID, restaurantID,
	)
	return eris.Wrap(err, "postgres: unsave restaurant")
}

func (s *PostgresStore) IsSaved(ctx context.Context, userID, restaurantID int64) (bool, error) {
	var saved bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM saved_restaurants WHERE user_id = $1 AND restaurant_id = $2)`,
		userID, restaurantID,
	).Scan(&saved)
	return saved, eris.Wrap(err, "postgres: is saved")
}

// ListSaved returns the user's saved restaurants, most recently saved first.
func (s *PostgresStore) ListSaved(ctx context.Context, userID int64) ([]model.SavedRestaurant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT r.id, r.name, r.location, r.search_query, r.safety_score, s.saved_at
		 FROM saved_restaurants s
		 JOIN restaurants r ON r.id = s.restaurant_id
		 WHERE s.user_id = $1
		 ORDER BY s.saved_at DESC`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list saved")
	}
	defer rows.Close()

	var saved []model.SavedRestaurant
	for rows.Next() {
		var normName, normLocation, query string
		var sr model.SavedRestaurant
		if err := rows.Scan(&sr.RestaurantID, &normName, &normLocation, &query, &sr.SafetyScore, &sr.SavedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan saved")
		}
		sr.DisplayName = displayName(query, normName, normLocation)
		sr.Location = normalize.Title(normLocation)
		saved = append(saved, sr)
	}
	return saved, eris.Wrap(rows.Err(), "postgres: list saved iterate")
}

// EnsureUser upserts the user by email without touching their search count
// and returns the user id.
func (s *PostgresStore) EnsureUser(ctx context.Context, email string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (email, search_count) VALUES ($1, 0)
		 ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		 RETURNING id`,
		email,
	).Scan(&id)
	return id, eris.Wrap(err, "postgres: ensure user")
}

// IncrementSearchCount upserts the user by email, bumps their counter, and
// returns the user id.
func (s *PostgresStore) IncrementSearchCount(ctx context.Context, email string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (email, search_count) VALUES ($1, 1)
		 ON CONFLICT (email) DO UPDATE SET search_count = users.search_count + 1
		 RETURNING id`,
		email,
	).Scan(&id)
	return id, eris.Wrap(err, "postgres: increment search count")
}

// EnqueueRequest appends a research request. Duplicates against existing
// pending entries are allowed; the drainer skips keys already cached.
func (s *PostgresStore) EnqueueRequest(ctx context.Context, name, location, email, ip string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO restaurant_requests (restaurant_name, location, user_email, ip_address, requested_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		name, location, nullable(email), nullable(ip), time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: enqueue request")
}

// EnqueueRequestsBulk loads many requests at once via COPY.
func (s *PostgresStore) EnqueueRequestsBulk(ctx context.Context, reqs []model.PendingRequest) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, len(reqs))
	for i, r := range reqs {
		rows[i] = []any{r.RestaurantName, r.Location, nullable(r.UserEmail), nullable(r.IPAddress), now}
	}
	return db.CopyFrom(ctx, s.pool, "restaurant_requests",
		[]string{"restaurant_name", "location", "user_email", "ip_address", "requested_at"}, rows)
}

// PendingRequests returns unfulfilled requests, oldest first.
func (s *PostgresStore) PendingRequests(ctx context.Context) ([]model.PendingRequest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, restaurant_name, location, user_email, ip_address, requested_at, fulfilled_at
		 FROM restaurant_requests
		 WHERE fulfilled_at IS NULL
		 ORDER BY requested_at ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: pending requests")
	}
	defer rows.Close()

	var pending []model.PendingRequest
	for rows.Next() {
		var r model.PendingRequest
		var email, ip *string
		if err := rows.Scan(&r.ID, &r.RestaurantName, &r.Location, &email, &ip, &r.RequestedAt, &r.FulfilledAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan request")
		}
		if email != nil {
			r.UserEmail = *email
		}
		if ip != nil {
			r.IPAddress = *ip
		}
		pending = append(pending, r)
	}
	return pending, eris.Wrap(rows.Err(), "postgres: pending requests iterate")
}

// MarkRequestFulfilled stamps a request exactly once; an already-fulfilled or
// unknown id returns ErrNotFound.
func (s *PostgresStore) MarkRequestFulfilled(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE restaurant_requests SET fulfilled_at = $1 WHERE id = $2 AND fulfilled_at IS NULL`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark request fulfilled %d", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// nullable maps "" to a SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
