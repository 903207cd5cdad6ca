package model

import "time"

// PendingRequest is a lookup that could not be served from the cache and was
// queued for offline research.
type PendingRequest struct {
	ID             int64      `json:"id"`
	RestaurantName string     `json:"restaurant_name"`
	Location       string     `json:"location"`
	UserEmail      string     `json:"user_email,omitempty"`
	IPAddress      string     `json:"ip_address,omitempty"`
	RequestedAt    time.Time  `json:"requested_at"`
	FulfilledAt    *time.Time `json:"fulfilled_at,omitempty"`
}

// Fulfilled reports whether the request has already been processed by the
// batch drainer.
func (r *PendingRequest) Fulfilled() bool {
	return r.FulfilledAt != nil
}
