package model

import (
	"encoding/json"
	"time"
)

// Restaurant is a cached celiac-safety analysis keyed by the normalized
// (name, location) pair. Name and Location hold the normalized forms; the
// human-facing strings live in SearchQuery and inside AnalysisJSON.
type Restaurant struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Location    string          `json:"location"`
	SearchQuery string          `json:"search_query"`
	SafetyScore *float64        `json:"safety_score,omitempty"`
	Analysis    json.RawMessage `json:"analysis_json"`
	SearchedAt  time.Time       `json:"searched_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// ScoutResult is the caller-visible shape of a lookup, cached or fresh.
type ScoutResult struct {
	ID             string          `json:"id"`
	RestaurantID   *int64          `json:"restaurant_id,omitempty"`
	RestaurantName string          `json:"restaurant_name"`
	MenuURL        string          `json:"menu_url"`
	Timestamp      string          `json:"timestamp"`
	Analysis       json.RawMessage `json:"analysis"`
}

// SafetyScore extracts the analysis safety_score if present. The field is
// optional in the model output, so a missing or non-numeric value is nil.
func (r *ScoutResult) SafetyScore() *float64 {
	if len(r.Analysis) == 0 {
		return nil
	}
	var partial struct {
		SafetyScore *float64 `json:"safety_score"`
	}
	if err := json.Unmarshal(r.Analysis, &partial); err != nil {
		return nil
	}
	return partial.SafetyScore
}

// SavedRestaurant is a row from a user's saved list, joined with the cached
// restaurant it points at.
type SavedRestaurant struct {
	RestaurantID int64     `json:"restaurant_id"`
	DisplayName  string    `json:"display_name"`
	Location     string    `json:"location"`
	SafetyScore  *float64  `json:"safety_score,omitempty"`
	SavedAt      time.Time `json:"saved_at"`
}
