package fetcher

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/MimeLyc/profile-letterbox/internal/media"
)

// RateLimited throttles upstream fetches shared by all workers.
type RateLimited struct {
	next    Fetcher
	limiter *rate.Limiter
}

// NewRateLimited allows perMinute fetches per minute with a burst of one.
// A non-positive perMinute disables throttling.
func NewRateLimited(next Fetcher, perMinute int) Fetcher {
	if perMinute <= 0 {
		return next
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

func (r *RateLimited) Fetch(ctx context.Context, profile, destDir string) ([]media.Item, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{Profile: profile, Err: err}
	}
	return r.next.Fetch(ctx, profile, destDir)
}
