package scout

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/safeplate/scout-cli/internal/store"
)

// Drainer processes the offline research queue: each pending request runs
// through the full lookup pipeline, paced to respect provider rate limits.
type Drainer struct {
	scout   *Scout
	store   store.Store
	limiter *rate.Limiter
}

// NewDrainer builds a Drainer that waits delay between consecutive external
// calls. The first call is not delayed, and no delay trails the final one.
func NewDrainer(s *Scout, st store.Store, delay time.Duration) *Drainer {
	return &Drainer{
		scout:   s,
		store:   st,
		limiter: rate.NewLimiter(rate.Every(delay), 1),
	}
}

// DrainStats summarizes one drain pass.
type DrainStats struct {
	Total     int
	Fulfilled int
	Failed    int
}

// Drain processes all unfulfilled requests, oldest first. A failed request is
// logged and skipped; the batch continues. Requests whose key turns out to be
// cached already are fulfilled without an external call.
func (d *Drainer) Drain(ctx context.Context) (DrainStats, error) {
	pending, err := d.store.PendingRequests(ctx)
	if err != nil {
		return DrainStats{}, eris.Wrap(err, "drain: list pending requests")
	}

	stats := DrainStats{Total: len(pending)}
	if len(pending) == 0 {
		zap.L().Info("request queue is empty")
		return stats, nil
	}

	zap.L().Info("draining request queue", zap.Int("pending", len(pending)))

	for i, req := range pending {
		if err := d.limiter.Wait(ctx); err != nil {
			return stats, eris.Wrap(err, "drain: canceled")
		}

		log := zap.L().With(
			zap.Int64("request_id", req.ID),
			zap.String("name", req.RestaurantName),
			zap.String("location", req.Location),
			zap.Int("position", i+1),
			zap.Int("total", len(pending)),
		)

		result, err := d.scout.Lookup(ctx, LookupRequest{
			Name:     req.RestaurantName,
			Location: req.Location,
		})
		if err != nil {
			log.Warn("request lookup failed, continuing", zap.Error(err))
			stats.Failed++
			continue
		}

		if err := d.store.MarkRequestFulfilled(ctx, req.ID); err != nil {
			log.Warn("mark request fulfilled", zap.Error(err))
			stats.Failed++
			continue
		}

		stats.Fulfilled++
		if score := result.SafetyScore(); score != nil {
			log.Info("request fulfilled", zap.Float64("safety_score", *score))
		} else {
			log.Info("request fulfilled")
		}
	}

	zap.L().Info("drain complete",
		zap.Int("total", stats.Total),
		zap.Int("fulfilled", stats.Fulfilled),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}
