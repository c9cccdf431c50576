package engine

import (
	"context"
	"errors"

	"github.com/izumilab/adskip/internal/interval"
)

var (
	// ErrNoPlayer means no playable video element could be found.
	ErrNoPlayer = errors.New("no player available")
	// ErrContextInvalidated means the page the session was attached
	// to has gone away.
	ErrContextInvalidated = errors.New("page context invalidated")

	// Manual skip refusals.
	ErrSkipNotAllowed = errors.New("manual skip not allowed while auto-skip is active")
	ErrOutsideWindow  = errors.New("playback is not inside the interval")
	ErrBackwardSkip   = errors.New("click position is not ahead of the cached playback time")
)

// Player is a playing video element.
type Player interface {
	CurrentTime(ctx context.Context) (float64, error)
	Duration(ctx context.Context) (float64, error)
	Playing(ctx context.Context) (bool, error)
	Seek(ctx context.Context, seconds float64) error
}

// PlayerSource locates the player on the watched page.
type PlayerSource interface {
	Player(ctx context.Context) (Player, error)
	Valid(ctx context.Context) bool
	CurrentURL(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
}

// Markers draws interval markers onto the progress bar. skipPercent
// sizes the trigger-window sub-marker inside each interval marker.
type Markers interface {
	Render(ctx context.Context, ivs []interval.AdInterval, duration float64, skipPercent int) error
	Clear(ctx context.Context) error
}

// NavigationEvent signals that the watched page navigated in place.
type NavigationEvent struct {
	URL string
}

// NavigationSource surfaces soft navigations that a URL poll alone
// would catch late.
type NavigationSource interface {
	Events() <-chan NavigationEvent
}
