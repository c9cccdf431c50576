package engine

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/izumilab/adskip/internal/config"
	"github.com/izumilab/adskip/internal/detection"
	"github.com/izumilab/adskip/internal/interval"
	"github.com/izumilab/adskip/internal/metadata"
	"github.com/izumilab/adskip/internal/storage"
	"github.com/izumilab/adskip/internal/videoid"
)

// Detector submits a detection request. *detection.Client is the
// production implementation.
type Detector interface {
	Send(ctx context.Context, snap *metadata.VideoSnapshot, user *metadata.UserInfo, autoDetect bool) (*detection.Result, error)
}

// Engine owns the per-video session: resolving ad status, polling
// playback, and skipping intervals. At most one session is live.
type Engine struct {
	cfg       *config.Config
	repo      *storage.Repo
	provider  metadata.Provider
	detector  Detector
	players   PlayerSource
	markers   Markers
	indicator StatusIndicator
	nav       NavigationSource

	reinit singleflight.Group

	mu           sync.Mutex
	sess         *session
	status       VideoStatus
	enabled      bool
	skipPercent  int
	resolvedOnce bool
}

type session struct {
	id       string
	identity videoid.Identity
	uploader string
	duration float64

	intervals []interval.AdInterval

	lastPlayTime float64
	lastPlayAt   time.Time

	detectTimer   *time.Timer
	pollCancel    context.CancelFunc
	pollDone      chan struct{}
	markerRefresh chan struct{}
}

func New(cfg *config.Config, repo *storage.Repo, provider metadata.Provider, detector Detector,
	players PlayerSource, markers Markers, indicator StatusIndicator, nav NavigationSource) *Engine {
	e := &Engine{
		cfg:       cfg,
		repo:      repo,
		provider:  provider,
		detector:  detector,
		players:   players,
		markers:   markers,
		indicator: indicator,
		nav:       nav,
		status:    StatusUndetected,
	}
	e.enabled = repo.Enabled()
	if pct, ok := repo.SkipPercent(); ok {
		e.skipPercent = pct
	} else {
		e.skipPercent = cfg.SkipPercent
	}
	repo.Store().Watch(e.onStoreChange)
	return e
}

// Run attaches to the watched page and blocks until ctx is done,
// reacting to navigations and settings changes.
func (e *Engine) Run(ctx context.Context) error {
	if u, err := e.players.CurrentURL(ctx); err == nil {
		if err := e.Reinitialize(ctx, u, false); err != nil {
			slog.Warn("initial attach failed", "error", err)
		}
	}

	e.runTracker(ctx)

	e.mu.Lock()
	e.stopSessionLocked()
	e.mu.Unlock()
	return nil
}

// Status returns the current session's detection status.
func (e *Engine) Status() VideoStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// CurrentVideo returns the identity of the video being watched, ok
// false when no session is live.
func (e *Engine) CurrentVideo() (videoid.Identity, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return videoid.Identity{}, false
	}
	return e.sess.identity, true
}

// CurrentIntervals returns a copy of the active interval list.
func (e *Engine) CurrentIntervals() []interval.AdInterval {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return nil
	}
	out := make([]interval.AdInterval, len(e.sess.intervals))
	copy(out, e.sess.intervals)
	return out
}

// Configure replaces the active session's intervals, persists them,
// and starts skip monitoring. It is what the control API calls when
// the user edits intervals by hand.
func (e *Engine) Configure(ivs []interval.AdInterval) error {
	if err := interval.Validate(ivs); err != nil {
		return err
	}
	e.mu.Lock()
	sess := e.sess
	if sess == nil {
		e.mu.Unlock()
		return ErrNoPlayer
	}
	id := sess.identity.ID
	info := storage.VideoInfo{Uploader: sess.uploader, Duration: sess.duration}
	e.mu.Unlock()

	if len(ivs) == 0 {
		if err := e.repo.RemoveIntervals(id); err != nil {
			return err
		}
		e.mu.Lock()
		if e.sess == sess {
			sess.intervals = nil
			e.setStatusLocked(sess.identity, StatusUndetected, true)
		}
		e.mu.Unlock()
		return nil
	}

	if err := e.repo.SaveIntervals(id, info, ivs); err != nil {
		return err
	}
	e.mu.Lock()
	if e.sess == sess {
		sess.intervals = ivs
		e.setStatusLocked(sess.identity, StatusHasAds, true)
		e.configureLocked(sess)
	}
	e.mu.Unlock()
	return nil
}

// setStatusLocked records a status transition, notifies the
// indicator, and optionally persists it.
func (e *Engine) setStatusLocked(identity videoid.Identity, status VideoStatus, persist bool) {
	e.status = status
	if e.indicator != nil {
		e.indicator.Update(identity, status)
	}
	if persist {
		if err := e.repo.SaveStatus(identity.ID, int(status)); err != nil {
			slog.Warn("persist status failed", "video", identity.ID, "error", err)
		}
	}
}

// configureLocked starts the poll loop for sess if it is not already
// running. The session keeps at most one poll goroutine.
func (e *Engine) configureLocked(sess *session) {
	if sess.pollCancel != nil {
		return
	}
	pollCtx, cancel := context.WithCancel(context.Background())
	sess.pollCancel = cancel
	sess.pollDone = make(chan struct{})
	sess.markerRefresh = make(chan struct{}, 1)
	go e.runPoll(pollCtx, sess)
	go e.renderMarkers(pollCtx, sess)
}

// stopSessionLocked tears down the live session: stops its pending
// detection timer, cancels the poll loop, and waits for it to exit
// without holding the lock.
func (e *Engine) stopSessionLocked() {
	if e.sess == nil {
		return
	}
	sess := e.sess
	e.sess = nil

	if sess.detectTimer != nil {
		sess.detectTimer.Stop()
		sess.detectTimer = nil
	}

	if sess.pollCancel != nil {
		sess.pollCancel()
		done := sess.pollDone
		e.mu.Unlock()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
		e.mu.Lock()
	}
}

func (e *Engine) onStoreChange(ch storage.Change) {
	switch ch.Key {
	case storage.KeyEnabled:
		enabled := true
		if !ch.Removed {
			if v, err := strconv.ParseBool(ch.Value); err == nil {
				enabled = v
			}
		}
		e.mu.Lock()
		e.enabled = enabled
		e.mu.Unlock()
		slog.Info("auto-skip toggled", "enabled", enabled)
	case storage.KeyPercentage:
		pct, err := strconv.Atoi(ch.Value)
		if ch.Removed || err != nil || pct < 0 || pct > 100 {
			pct = e.cfg.SkipPercent
		}
		e.mu.Lock()
		e.skipPercent = pct
		var refresh chan struct{}
		if e.sess != nil {
			refresh = e.sess.markerRefresh
		}
		e.mu.Unlock()
		// Trigger windows just changed width, so the markers on the
		// progress bar need a repaint.
		if refresh != nil {
			select {
			case refresh <- struct{}{}:
			default:
			}
		}
	case storage.KeyUploaderWhitelist, storage.KeyVideoWhitelist:
		// Whitelist edits can change the current video's verdict.
		go func() {
			ctx := context.Background()
			if u, err := e.players.CurrentURL(ctx); err == nil {
				if err := e.Reinitialize(ctx, u, true); err != nil {
					slog.Warn("whitelist reinit failed", "error", err)
				}
			}
		}()
	}
}

func newSessionID() string {
	return uuid.NewString()
}
