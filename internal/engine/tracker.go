package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/izumilab/adskip/internal/interval"
	"github.com/izumilab/adskip/internal/videoid"
)

// runTracker watches for video changes: in-page navigation events
// when the page surfaces them, plus a URL poll that catches anything
// the events miss.
func (e *Engine) runTracker(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.URLPollInterval)
	defer ticker.Stop()

	var navCh <-chan NavigationEvent
	if e.nav != nil {
		navCh = e.nav.Events()
	}

	var lastURL string
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-navCh:
			if !ok {
				navCh = nil
				continue
			}
			lastURL = ev.URL
			if err := e.Reinitialize(ctx, ev.URL, false); err != nil {
				slog.Warn("reinitialize failed", "url", ev.URL, "error", err)
			}
		case <-ticker.C:
			u, err := e.players.CurrentURL(ctx)
			if err != nil || u == lastURL {
				continue
			}
			lastURL = u
			if err := e.Reinitialize(ctx, u, false); err != nil {
				slog.Warn("reinitialize failed", "url", u, "error", err)
			}
		}
	}
}

// Reinitialize re-evaluates the session against rawURL. Concurrent
// callers collapse into one pass; with force false a URL resolving to
// the current video is a no-op.
func (e *Engine) Reinitialize(ctx context.Context, rawURL string, force bool) error {
	_, err, _ := e.reinit.Do("reinitialize", func() (any, error) {
		return nil, e.reinitialize(ctx, rawURL, force)
	})
	return err
}

func (e *Engine) reinitialize(ctx context.Context, rawURL string, force bool) error {
	identity, ok := videoid.FromURL(rawURL)
	if !ok {
		// Not a video page; drop whatever session was live.
		e.mu.Lock()
		e.stopSessionLocked()
		e.mu.Unlock()
		return nil
	}

	e.mu.Lock()
	if e.sess != nil && e.sess.identity == identity && !force {
		e.mu.Unlock()
		return nil
	}
	e.stopSessionLocked()
	sess := &session{id: newSessionID(), identity: identity}
	e.sess = sess
	e.setStatusLocked(identity, StatusUndetected, false)
	// Anything after the very first attach follows a navigation, so the
	// platform is asked again instead of trusting the snapshot cache.
	forceRefresh := e.resolvedOnce
	e.resolvedOnce = true
	e.mu.Unlock()

	slog.Info("video changed", "video", identity.ID, "kind", identity.Kind.String(), "session", sess.id)

	if err := e.players.Refresh(ctx); err != nil {
		slog.Warn("player refresh failed", "error", err)
	}

	urlIvs := e.intervalParam(rawURL, identity.ID)

	res := e.resolve(ctx, sess, urlIvs, forceRefresh)
	e.apply(sess, res)
	return nil
}

// intervalParam extracts intervals from the share-link parameter and
// drops them when they are a verbatim copy of another video's stored
// list, which means the parameter survived a navigation it should not
// have.
func (e *Engine) intervalParam(rawURL, videoID string) []interval.AdInterval {
	ivs, err := videoid.SkipParam(rawURL)
	if err != nil {
		slog.Warn("bad interval parameter", "url", rawURL, "error", err)
		return nil
	}
	if len(ivs) == 0 {
		return nil
	}
	owner, err := e.repo.FindIntervalOwner(interval.Serialize(ivs), videoID)
	if err != nil {
		slog.Warn("interval owner lookup failed", "error", err)
		return ivs
	}
	if owner != "" {
		slog.Warn("dropping carried-over interval parameter", "video", videoID, "owner", owner)
		return nil
	}
	return ivs
}

// apply installs a resolution on sess unless the session has been
// superseded meanwhile.
func (e *Engine) apply(sess *session, res Resolution) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess != sess {
		return
	}

	persist := false
	switch res.Status {
	case StatusNoSubtitle, StatusNoAds, StatusHasAds:
		persist = true
	case StatusUndetected:
		persist = res.Source == SourcePrepareShortDuration
	}
	e.setStatusLocked(sess.identity, res.Status, persist)

	slog.Info("status resolved",
		"video", sess.identity.ID,
		"status", res.Status.String(),
		"source", res.Source,
		"intervals", len(res.Intervals))

	if len(res.Intervals) > 0 {
		sess.intervals = res.Intervals
		e.configureLocked(sess)
	}
}
