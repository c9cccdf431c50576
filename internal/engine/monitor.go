package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/izumilab/adskip/internal/interval"
	"github.com/izumilab/adskip/internal/videoid"
)

// runPoll is the session's only polling goroutine. One ticker drives
// the skip check, a faster one keeps the playback-time cache warm for
// manual skips.
func (e *Engine) runPoll(ctx context.Context, sess *session) {
	defer close(sess.pollDone)

	poll := time.NewTicker(e.cfg.PollInterval)
	defer poll.Stop()
	timeCache := time.NewTicker(e.cfg.TimeCacheInterval)
	defer timeCache.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timeCache.C:
			e.cachePlaybackTime(ctx, sess)
		case <-poll.C:
			e.tick(ctx, sess)
		}
	}
}

// cachePlaybackTime records the current playback position, but only
// while the video is actually playing. A paused player would let the
// cache go stale in a way that validates clicks it should not.
func (e *Engine) cachePlaybackTime(ctx context.Context, sess *session) {
	p, err := e.players.Player(ctx)
	if err != nil {
		return
	}
	playing, err := p.Playing(ctx)
	if err != nil || !playing {
		return
	}
	t, err := p.CurrentTime(ctx)
	if err != nil {
		return
	}
	e.mu.Lock()
	if e.sess == sess {
		sess.lastPlayTime = t
		sess.lastPlayAt = time.Now()
	}
	e.mu.Unlock()
}

// tick runs one skip check.
func (e *Engine) tick(ctx context.Context, sess *session) {
	if !e.players.Valid(ctx) {
		go e.recoverSession(context.Background())
		return
	}

	e.mu.Lock()
	if e.sess != sess {
		e.mu.Unlock()
		return
	}
	enabled := e.enabled
	pct := e.skipPercent
	id := sess.identity.ID
	uploader := sess.uploader
	ivs := sess.intervals
	e.mu.Unlock()

	// Fallback for navigations that produced neither an event nor a URL
	// poll hit: the live URL naming a different video means this session
	// is stale.
	if u, err := e.players.CurrentURL(ctx); err == nil {
		if liveID, ok := videoid.FromURL(u); !ok || liveID != sess.identity {
			go func() {
				if err := e.Reinitialize(context.Background(), u, false); err != nil {
					slog.Warn("reinitialize failed", "url", u, "error", err)
				}
			}()
			return
		}
	}

	if !enabled || len(ivs) == 0 || e.repo.IsUploaderWhitelisted(uploader) {
		return
	}

	p, err := e.players.Player(ctx)
	if err != nil {
		return
	}
	playing, err := p.Playing(ctx)
	if err != nil || !playing {
		return
	}
	t, err := p.CurrentTime(ctx)
	if err != nil {
		return
	}

	for _, iv := range ivs {
		if !inSkipWindow(iv, t, pct) {
			continue
		}
		if err := p.Seek(ctx, iv.End); err != nil {
			slog.Warn("skip seek failed", "video", id, "error", err)
			return
		}
		slog.Info("skipped ad", "video", id, "from", t, "to", iv.End)
		return
	}
}

// inSkipWindow reports whether t falls inside the trigger window of
// iv. t exactly at the window end does not trigger.
func inSkipWindow(iv interval.AdInterval, t float64, pct int) bool {
	start, end := interval.TriggerWindow(iv, pct)
	return t >= start && t < end
}

// recoverSession reattaches after the page context went away, e.g. a
// full page reload. Coalesced through the same singleflight group as
// navigation-driven reinitialization.
func (e *Engine) recoverSession(ctx context.Context) {
	if err := e.players.Refresh(ctx); err != nil {
		slog.Warn("player refresh failed", "error", err)
		return
	}
	u, err := e.players.CurrentURL(ctx)
	if err != nil {
		return
	}
	if err := e.Reinitialize(ctx, u, true); err != nil {
		slog.Warn("session recover failed", "error", err)
	}
}

// renderMarkers keeps retrying until the progress bar accepts the
// markers; right after navigation the bar often is not in the DOM
// yet. Markers are cleared when the session ends.
func (e *Engine) renderMarkers(ctx context.Context, sess *session) {
	if e.markers == nil {
		return
	}
	defer func() {
		if err := e.markers.Clear(context.Background()); err != nil {
			slog.Debug("marker clear failed", "error", err)
		}
	}()

	for {
		e.mu.Lock()
		ivs := sess.intervals
		duration := sess.duration
		pct := e.skipPercent
		e.mu.Unlock()

		if duration == 0 {
			if p, err := e.players.Player(ctx); err == nil {
				if d, err := p.Duration(ctx); err == nil {
					duration = d
				}
			}
		}

		if duration > 0 {
			if err := e.markers.Render(ctx, ivs, duration, pct); err == nil {
				select {
				case <-ctx.Done():
					return
				case <-sess.markerRefresh:
					// Repaint with the new trigger-window width.
					continue
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(e.cfg.MarkerRetryInterval):
		}
	}
}

// ManualSkip seeks past iv on the user's request. clickTime is the
// playback position in seconds the click was derived from. ManualSkip
// refuses while automatic skipping would handle the interval anyway,
// when the cached playback position is outside the interval, and when
// the click position is not strictly ahead of the cached position,
// which would turn the skip into a backward seek.
func (e *Engine) ManualSkip(ctx context.Context, iv interval.AdInterval, clickTime float64) error {
	e.mu.Lock()
	sess := e.sess
	if sess == nil {
		e.mu.Unlock()
		return ErrNoPlayer
	}
	id := sess.identity.ID
	uploader := sess.uploader
	enabled := e.enabled
	cachedTime := sess.lastPlayTime
	cachedAt := sess.lastPlayAt
	e.mu.Unlock()

	if enabled && !e.repo.IsUploaderWhitelisted(uploader) {
		return ErrSkipNotAllowed
	}
	if cachedAt.IsZero() || !iv.Contains(cachedTime) {
		return ErrOutsideWindow
	}
	if clickTime <= cachedTime {
		return ErrBackwardSkip
	}

	p, err := e.players.Player(ctx)
	if err != nil {
		return err
	}
	if err := p.Seek(ctx, iv.End); err != nil {
		return err
	}
	slog.Info("manual skip", "video", id, "to", iv.End)
	return nil
}
