package engine

import (
	"log/slog"

	"github.com/izumilab/adskip/internal/interval"
	"github.com/izumilab/adskip/internal/videoid"
)

// VideoStatus is a video's detection state. The numeric values are
// persisted, so they must stay stable across versions.
type VideoStatus int

const (
	StatusNoSubtitle VideoStatus = 0
	StatusNoAds      VideoStatus = 1
	StatusHasAds     VideoStatus = 2
	StatusUndetected VideoStatus = 3
	StatusDetecting  VideoStatus = 4
	StatusPrepare    VideoStatus = 5
)

func (s VideoStatus) String() string {
	switch s {
	case StatusNoSubtitle:
		return "no_subtitle"
	case StatusNoAds:
		return "no_ads"
	case StatusHasAds:
		return "has_ads"
	case StatusUndetected:
		return "undetected"
	case StatusDetecting:
		return "detecting"
	case StatusPrepare:
		return "prepare"
	default:
		return "unknown"
	}
}

// Resolution sources, recorded so logs show where a verdict came from.
const (
	SourceURL                  = "url"
	SourceStorage              = "storage"
	SourceWhitelist            = "whitelist"
	SourcePrepareScheduled     = "prepare_scheduled"
	SourcePrepareShortDuration = "prepare_short_duration"
	SourceNoPermission         = "no_permission"
	SourceNoSubtitle           = "no_subtitle"
	SourceError                = "error"
)

// Resolution is the outcome of resolving a video's ad status.
type Resolution struct {
	Status    VideoStatus
	Source    string
	Intervals []interval.AdInterval
}

// StatusIndicator receives status transitions for display.
type StatusIndicator interface {
	Update(identity videoid.Identity, status VideoStatus)
}

// LogIndicator reports status transitions to the log only.
type LogIndicator struct{}

func (LogIndicator) Update(identity videoid.Identity, status VideoStatus) {
	slog.Info("status changed", "video", identity.ID, "status", status.String())
}
