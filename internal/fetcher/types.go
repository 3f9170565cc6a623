package fetcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/MimeLyc/profile-letterbox/internal/media"
)

// PageSize is the number of most recent media items retrieved per profile.
const PageSize = 10

// ErrProfileNotFound is returned when the profile does not exist upstream.
var ErrProfileNotFound = errors.New("profile not found")

// Fetcher downloads the most recent media of a profile into destDir.
//
// On failure the items retrieved before the failure are returned alongside the error.
type Fetcher interface {
	Fetch(ctx context.Context, profile, destDir string) ([]media.Item, error)
}

// FetchError wraps any upstream failure other than a missing profile.
type FetchError struct {
	Profile string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Profile, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
