// Package store persists cached restaurant analyses, per-user saved lists,
// and the offline research queue. Postgres is the primary backend; SQLite is
// available for local runs.
package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/safeplate/scout-cli/internal/model"
	"github.com/safeplate/scout-cli/internal/normalize"
)

// CacheTTL is how long a cached analysis is served before a lookup triggers a
// refresh. Stale rows are not deleted; the next write overwrites them.
const CacheTTL = 30 * 24 * time.Hour

var (
	// ErrNotFound indicates an id or key with no matching record.
	ErrNotFound = eris.New("store: not found")

	// ErrNotConfigured indicates no database DSN is set. Callers degrade to
	// always-miss behavior instead of failing.
	ErrNotConfigured = eris.New("store: database not configured")
)

// Store is the persistence interface for the scout pipeline.
type Store interface {
	// Result cache
	GetCached(ctx context.Context, name, location string) (*model.Restaurant, error)
	PutCached(ctx context.Context, name, location string, score *float64, analysis json.RawMessage) error
	BulkScores(ctx context.Context, names []string, location string) (map[string]float64, error)
	RestaurantID(ctx context.Context, name, location string) (int64, error)
	RestaurantExists(ctx context.Context, id int64) (bool, error)
	GetRestaurant(ctx context.Context, id int64) (*model.Restaurant, error)

	// Saved lists
	SaveRestaurant(ctx context.Context, userID, restaurantID int64) (alreadySaved bool, err error)
	UnsaveRestaurant(ctx context.Context, userID, restaurantID int64) error
	IsSaved(ctx context.Context, userID, restaurantID int64) (bool, error)
	ListSaved(ctx context.Context, userID int64) ([]model.SavedRestaurant, error)

	// Users
	EnsureUser(ctx context.Context, email string) (int64, error)
	IncrementSearchCount(ctx context.Context, email string) (int64, error)

	// Research queue
	EnqueueRequest(ctx context.Context, name, location, email, ip string) error
	EnqueueRequestsBulk(ctx context.Context, reqs []model.PendingRequest) (int64, error)
	PendingRequests(ctx context.Context) ([]model.PendingRequest, error)
	MarkRequestFulfilled(ctx context.Context, id int64) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// searchQuery builds the human-readable query string stored alongside a
// cached result. It is display-only and never used for key matching.
func searchQuery(name, location string) string {
	return strings.TrimSpace(name + " " + location)
}

// fresh reports whether a cached row is still within the TTL.
func fresh(searchedAt, now time.Time) bool {
	return now.Sub(searchedAt) <= CacheTTL
}

// displayName reconstructs a presentable restaurant name from the stored
// search query. The query usually ends with the location, so that suffix is
// stripped; failing that the first token of the query is used, and as a last
// resort the normalized name is title-cased.
func displayName(query, normName, normLocation string) string {
	query = strings.TrimSpace(query)
	if normLocation != "" {
		lower := strings.ToLower(query)
		if strings.HasSuffix(lower, normLocation) {
			if stripped := strings.TrimSpace(query[:len(query)-len(normLocation)]); stripped != "" {
				return stripped
			}
		}
	}
	if fields := strings.Fields(query); len(fields) > 0 {
		return fields[0]
	}
	return normalize.Title(normName)
}
