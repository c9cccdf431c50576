package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/izumilab/adskip/internal/interval"
)

// resolve decides a freshly attached video's ad status. The metadata
// fetch comes first: a video without subtitles is terminal no matter
// what the URL or storage claim, and a failed fetch degrades to an
// undetected verdict without consulting them either. After that the
// sources run in priority order: the share-link parameter, stored
// intervals, a stored verdict adopted verbatim, the whitelists, then
// detection scheduling. resolve never fails.
func (e *Engine) resolve(ctx context.Context, sess *session, urlIvs []interval.AdInterval, forceRefresh bool) Resolution {
	id := sess.identity.ID

	snap, err := e.provider.Snapshot(ctx, id, forceRefresh)
	if err != nil {
		slog.Warn("metadata lookup failed", "video", id, "error", err)
		return Resolution{Status: StatusUndetected, Source: SourceError}
	}
	if snap.Bvid != "" && snap.Bvid != id {
		slog.Warn("metadata identity mismatch", "video", id, "got", snap.Bvid)
		return Resolution{Status: StatusUndetected, Source: SourceError}
	}

	e.mu.Lock()
	if e.sess == sess {
		sess.uploader = snap.Owner.Name
		sess.duration = snap.Duration
	}
	e.mu.Unlock()

	if !snap.HasSubtitle {
		return Resolution{Status: StatusNoSubtitle, Source: SourceNoSubtitle}
	}

	if len(urlIvs) > 0 {
		return Resolution{Status: StatusHasAds, Source: SourceURL, Intervals: urlIvs}
	}

	if ivs, err := e.repo.LoadIntervals(id); err == nil && len(ivs) > 0 {
		return Resolution{Status: StatusHasAds, Source: SourceStorage, Intervals: ivs}
	} else if err != nil {
		slog.Warn("stored intervals unreadable", "video", id, "error", err)
	}

	// A stored verdict is adopted as-is, even a has-ads verdict whose
	// interval list did not survive.
	if st, ok := e.repo.Status(id); ok {
		return Resolution{Status: VideoStatus(st), Source: SourceStorage}
	}

	if e.repo.IsNoAds(id) {
		return Resolution{Status: StatusNoAds, Source: SourceWhitelist}
	}

	if e.repo.IsUploaderWhitelisted(snap.Owner.Name) {
		return Resolution{Status: StatusUndetected, Source: SourceWhitelist}
	}

	if user, err := e.provider.LoginStatus(ctx); err == nil && !user.IsLogin {
		return Resolution{Status: StatusUndetected, Source: SourceNoPermission}
	}

	e.mu.Lock()
	enabled := e.enabled
	e.mu.Unlock()
	if !e.cfg.AutoDetect || !enabled {
		return Resolution{Status: StatusUndetected, Source: SourceNoPermission}
	}

	e.scheduleAutoDetect(sess)
	return Resolution{Status: StatusPrepare, Source: SourcePrepareScheduled}
}

// scheduleAutoDetect arms the delayed detection timer. The delay
// gives quick channel-surfing a chance to navigate away before any
// network work happens; short videos are written off without a
// request at all.
func (e *Engine) scheduleAutoDetect(sess *session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess != sess || sess.detectTimer != nil {
		return
	}
	sess.detectTimer = time.AfterFunc(e.cfg.AutoDetectDelay, func() {
		e.mu.Lock()
		if e.sess != sess {
			e.mu.Unlock()
			return
		}
		sess.detectTimer = nil
		duration := sess.duration
		short := duration > 0 && duration < float64(e.cfg.MinAutoDetectSeconds)
		if short {
			e.setStatusLocked(sess.identity, StatusUndetected, true)
		}
		e.mu.Unlock()

		if short {
			slog.Info("skipping detection for short video",
				"video", sess.identity.ID, "duration", duration, "source", SourcePrepareShortDuration)
			return
		}
		if err := e.sendDetection(context.Background(), sess, true); err != nil {
			slog.Warn("auto detection failed", "video", sess.identity.ID, "error", err)
		}
	})
}
