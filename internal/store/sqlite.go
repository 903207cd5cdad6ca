package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/safeplate/scout-cli/internal/model"
	"github.com/safeplate/scout-cli/internal/normalize"
)

// SQLiteStore implements Store using modernc.org/sqlite. It exists for local
// development and single-machine deployments; semantics match PostgresStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, ErrNotConfigured
	}

	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sqldb.Exec(pragma); err != nil {
			sqldb.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqldb}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS users (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	email        TEXT NOT NULL UNIQUE,
	search_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS restaurants (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	name          TEXT NOT NULL,
	location      TEXT NOT NULL DEFAULT '',
	search_query  TEXT NOT NULL DEFAULT '',
	safety_score  REAL,
	analysis_json TEXT NOT NULL,
	searched_at   DATETIME NOT NULL,
	expires_at    DATETIME NOT NULL,
	UNIQUE (name, location)
);

CREATE TABLE IF NOT EXISTS saved_restaurants (
	user_id       INTEGER NOT NULL REFERENCES users(id),
	restaurant_id INTEGER NOT NULL REFERENCES restaurants(id),
	saved_at      DATETIME NOT NULL,
	UNIQUE (user_id, restaurant_id)
);

CREATE TABLE IF NOT EXISTS restaurant_requests (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	restaurant_name TEXT NOT NULL,
	location        TEXT NOT NULL DEFAULT '',
	user_email      TEXT,
	ip_address      TEXT,
	requested_at    DATETIME NOT NULL,
	fulfilled_at    DATETIME
);

CREATE INDEX IF NOT EXISTS idx_requests_pending ON restaurant_requests(requested_at);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetCached(ctx context.Context, name, location string) (*model.Restaurant, error) {
	var r model.Restaurant
	var score sql.NullFloat64
	var analysisJSON string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, location, search_query, safety_score, analysis_json, searched_at, expires_at
		 FROM restaurants WHERE LOWER(name) = ? AND LOWER(location) = ?`,
		normalize.Name(name), normalize.Location(location),
	).Scan(&r.ID, &r.Name, &r.Location, &r.SearchQuery, &score, &analysisJSON, &r.SearchedAt, &r.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cached restaurant")
	}

	if !fresh(r.SearchedAt, time.Now().UTC()) {
		return nil, nil
	}

	if score.Valid {
		r.SafetyScore = &score.Float64
	}
	r.Analysis = json.RawMessage(analysisJSON)
	return &r, nil
}

func (s *SQLiteStore) PutCached(ctx context.Context, name, location string, score *float64, analysis json.RawMessage) error {
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO restaurants (name, location, search_query, safety_score, analysis_json, searched_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (name, location) DO UPDATE SET
		   search_query = excluded.search_query,
		   safety_score = excluded.safety_score,
		   analysis_json = excluded.analysis_json,
		   searched_at = excluded.searched_at,
		   expires_at = excluded.expires_at`,
		normalize.Name(name), normalize.Location(location), searchQuery(name, location),
		score, string(analysis), now, now.Add(CacheTTL),
	)
	return eris.Wrap(err, "sqlite: put cached restaurant")
}

func (s *SQLiteStore) BulkScores(ctx context.Context, names []string, location string) (map[string]float64, error) {
	if len(names) == 0 {
		return map[string]float64{}, nil
	}

	placeholders := make([]string, len(names))
	args := make([]any, 0, len(names)+1)
	for i, n := range names {
		placeholders[i] = "?"
		args = append(args, normalize.Name(n))
	}
	args = append(args, normalize.Location(location))

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, safety_score FROM restaurants
		 WHERE LOWER(name) IN (`+strings.Join(placeholders, ", ")+`)
		   AND LOWER(location) = ? AND safety_score IS NOT NULL`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: bulk scores")
	}
	defer rows.Close()

	scores := make(map[string]float64)
	for rows.Next() {
		var name string
		var score float64
		if err := rows.Scan(&name, &score); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan score")
		}
		scores[name] = score
	}
	return scores, eris.Wrap(rows.Err(), "sqlite: bulk scores iterate")
}

func (s *SQLiteStore) RestaurantID(ctx context.Context, name, location string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM restaurants WHERE LOWER(name) = ? AND LOWER(location) = ?`,
		normalize.Name(name), normalize.Location(location),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: restaurant id")
	}
	return id, nil
}

func (s *SQLiteStore) RestaurantExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM restaurants WHERE id = ?)`, id,
	).Scan(&exists)
	return exists, eris.Wrap(err, "sqlite: restaurant exists")
}

func (s *SQLiteStore) GetRestaurant(ctx context.Context, id int64) (*model.Restaurant, error) {
	var r model.Restaurant
	var score sql.NullFloat64
	var analysisJSON string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, location, search_query, safety_score, analysis_json, searched_at, expires_at
		 FROM restaurants WHERE id = ?`, id,
	).Scan(&r.ID, &r.Name, &r.Location, &r.SearchQuery, &score, &analysisJSON, &r.SearchedAt, &r.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get restaurant")
	}

	if score.Valid {
		r.SafetyScore = &score.Float64
	}
	r.Analysis = json.RawMessage(analysisJSON)
	return &r, nil
}

func (s *SQLiteStore) SaveRestaurant(ctx context.Context, userID, restaurantID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO saved_restaurants (user_id, restaurant_id, saved_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id, restaurant_id) DO NOTHING`,
		userID, restaurantID, time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: save restaurant")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 0, nil
}

func (s *SQLiteStore) UnsaveRestaurant(ctx context.Context, userID, restaurantID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM saved_restaurants WHERE user_id = ? AND restaurant_id = ?`,
		userID, restaurantID,
	)
	return eris.Wrap(err, "sqlite: unsave restaurant")
}

func (s *SQLiteStore) IsSaved(ctx context.Context, userID, restaurantID int64) (bool, error) {
	var saved bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM saved_restaurants WHERE user_id = ? AND restaurant_id = ?)`,
		userID, restaurantID,
	).Scan(&saved)
	return saved, eris.Wrap(err, "sqlite: is saved")
}

func (s *SQLiteStore) ListSaved(ctx context.Context, userID int64) ([]model.SavedRestaurant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.name, r.location, r.search_query, r.safety_score, s.saved_at
		 FROM saved_restaurants s
		 JOIN restaurants r ON r.id = s.restaurant_id
		 WHERE s.user_id = ?
		 ORDER BY s.saved_at DESC`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list saved")
	}
	defer rows.Close()

	var saved []model.SavedRestaurant
	for rows.Next() {
		var normName, normLocation, query string
		var score sql.NullFloat64
		var sr model.SavedRestaurant
		if err := rows.Scan(&sr.RestaurantID, &normName, &normLocation, &query, &score, &sr.SavedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan saved")
		}
		if score.Valid {
			sr.SafetyScore = &score.Float64
		}
		sr.DisplayName = displayName(query, normName, normLocation)
		sr.Location = normalize.Title(normLocation)
		saved = append(saved, sr)
	}
	return saved, eris.Wrap(rows.Err(), "sqlite: list saved iterate")
}

func (s *SQLiteStore) EnsureUser(ctx context.Context, email string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (email, search_count) VALUES (?, 0)
		 ON CONFLICT (email) DO UPDATE SET email = excluded.email
		 RETURNING id`,
		email,
	).Scan(&id)
	return id, eris.Wrap(err, "sqlite: ensure user")
}

func (s *SQLiteStore) IncrementSearchCount(ctx context.Context, email string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (email, search_count) VALUES (?, 1)
		 ON CONFLICT (email) DO UPDATE SET search_count = search_count + 1
		 RETURNING id`,
		email,
	).Scan(&id)
	return id, eris.Wrap(err, "sqlite: increment search count")
}

func (s *SQLiteStore) EnqueueRequest(ctx context.Context, name, location, email, ip string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO restaurant_requests (restaurant_name, location, user_email, ip_address, requested_at)
		 VALUES (?, ?, ?, ?, ?)`,
		name, location, nullable(email), nullable(ip), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: enqueue request")
}

// EnqueueRequestsBulk inserts rows one at a time inside a transaction; SQLite
// has no COPY protocol.
func (s *SQLiteStore) EnqueueRequestsBulk(ctx context.Context, reqs []model.PendingRequest) (int64, error) {
	if len(reqs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin bulk enqueue")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var n int64
	for _, r := range reqs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO restaurant_requests (restaurant_name, location, user_email, ip_address, requested_at)
			 VALUES (?, ?, ?, ?, ?)`,
			r.RestaurantName, r.Location, nullable(r.UserEmail), nullable(r.IPAddress), now,
		); err != nil {
			return 0, eris.Wrap(err, "sqlite: bulk enqueue request")
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit bulk enqueue")
	}
	return n, nil
}

func (s *SQLiteStore) PendingRequests(ctx context.Context) ([]model.PendingRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, restaurant_name, location, user_email, ip_address, requested_at, fulfilled_at
		 FROM restaurant_requests
		 WHERE fulfilled_at IS NULL
		 ORDER BY requested_at ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: pending requests")
	}
	defer rows.Close()

	var pending []model.PendingRequest
	for rows.Next() {
		var r model.PendingRequest
		var email, ip sql.NullString
		var fulfilled sql.NullTime
		if err := rows.Scan(&r.ID, &r.RestaurantName, &r.Location, &email, &ip, &r.RequestedAt, &fulfilled); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan request")
		}
		r.UserEmail = email.String
		r.IPAddress = ip.String
		if fulfilled.Valid {
			r.FulfilledAt = &fulfilled.Time
		}
		pending = append(pending, r)
	}
	return pending, eris.Wrap(rows.Err(), "sqlite: pending requests iterate")
}

func (s *SQLiteStore) MarkRequestFulfilled(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE restaurant_requests SET fulfilled_at = ? WHERE id = ? AND fulfilled_at IS NULL`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark request fulfilled %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
