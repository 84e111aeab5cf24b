// Package quota guards third-party usage: a free-tier counter for runs on
// the system crawler credential, and a request-rate limiter keyed by
// (user, operation).
package quota

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/seedcheck/validator-cli/internal/model"
	"github.com/seedcheck/validator-cli/internal/store"
)

// Gate meters free third-party crawl usage per user. Consumption is a
// conditional increment in the store so two concurrent runs for the same
// user cannot both pass a check only one should pass.
type Gate struct {
	store store.Store
	limit int
}

// NewGate creates a Gate with the given free-tier limit.
func NewGate(st store.Store, limit int) *Gate {
	return &Gate{store: st, limit: limit}
}

// Authorize consumes one unit of free-tier quota. Denial is a
// FreeQuotaExceeded error: the user must supply their own credential.
func (g *Gate) Authorize(ctx context.Context, userID string) error {
	ok, err := g.store.CheckAndConsume(ctx, userID, g.limit)
	if err != nil {
		return eris.Wrap(err, "quota: check and consume")
	}
	if !ok {
		zap.L().Info("quota: free tier exhausted", zap.String("user_id", userID), zap.Int("limit", g.limit))
		return model.Ef(model.KindFreeQuotaExceeded, "free crawl quota of %d exhausted; add a crawler token", g.limit)
	}
	return nil
}

// Remaining reports how many free calls the user has left.
func (g *Gate) Remaining(ctx context.Context, userID string) (int, error) {
	used, err := g.store.QuotaUsed(ctx, userID)
	if err != nil {
		return 0, eris.Wrap(err, "quota: used")
	}
	left := g.limit - used
	if left < 0 {
		left = 0
	}
	return left, nil
}

// RateGate limits request rates per (user, operation) key. Limiters are
// created lazily and kept for the process lifetime; per-user state is tiny.
type RateGate struct {
	limiters sync.Map // key string -> *rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateGate creates a RateGate allowing requestsPerMinute sustained with
// the given burst.
func NewRateGate(requestsPerMinute, burst int) *RateGate {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 10
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateGate{
		limit: rate.Limit(float64(requestsPerMinute) / 60.0),
		burst: burst,
	}
}

// Allow reports whether one more request is permitted now. Denial carries
// KindRateLimited and a retry hint.
func (r *RateGate) Allow(userID, op string) error {
	key := userID + "|" + op
	v, _ := r.limiters.LoadOrStore(key, rate.NewLimiter(r.limit, r.burst))
	lim := v.(*rate.Limiter)

	if lim.Allow() {
		return nil
	}

	// Reservation tells us how long until a slot frees up; cancel it so it
	// does not consume the slot it reserved.
	res := lim.Reserve()
	delay := res.Delay()
	res.Cancel()

	return model.Ef(model.KindRateLimited, "rate limit exceeded for %s; retry in %s", op, delay.Round(time.Second))
}
