package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/izumilab/adskip/internal/storage"
)

// ManualDetect runs detection for the current video immediately,
// canceling any pending delayed detection.
func (e *Engine) ManualDetect(ctx context.Context) error {
	e.mu.Lock()
	sess := e.sess
	if sess == nil {
		e.mu.Unlock()
		return ErrNoPlayer
	}
	if sess.detectTimer != nil {
		sess.detectTimer.Stop()
		sess.detectTimer = nil
	}
	e.mu.Unlock()

	return e.sendDetection(ctx, sess, false)
}

// sendDetection drives one detection round for sess. On transport
// failure the status reverts to undetected, but only if sess is still
// the live session; a navigation during the request wins.
func (e *Engine) sendDetection(ctx context.Context, sess *session, autoDetect bool) error {
	e.mu.Lock()
	if e.sess != sess {
		e.mu.Unlock()
		return nil
	}
	e.setStatusLocked(sess.identity, StatusDetecting, false)
	e.mu.Unlock()

	id := sess.identity.ID

	snap, err := e.provider.Snapshot(ctx, id, true)
	if err != nil {
		e.revertDetecting(sess)
		return fmt.Errorf("detect snapshot: %w", err)
	}
	if !snap.HasSubtitle {
		// Subtitles can disappear between resolution and the delayed
		// detection; the service cannot judge a video without them.
		e.mu.Lock()
		if e.sess == sess {
			e.setStatusLocked(sess.identity, StatusNoSubtitle, true)
		}
		e.mu.Unlock()
		return nil
	}
	user, err := e.provider.LoginStatus(ctx)
	if err != nil {
		slog.Warn("login status unavailable", "error", err)
		user = nil
	}

	res, err := e.detector.Send(ctx, snap, user, autoDetect)
	if err != nil {
		e.revertDetecting(sess)
		return fmt.Errorf("detect request: %w", err)
	}
	if !res.Success {
		e.revertDetecting(sess)
		return fmt.Errorf("detect refused: %s", res.Message)
	}

	if !res.HasAds {
		if err := e.repo.MarkNoAds(id); err != nil {
			slog.Warn("whitelist update failed", "video", id, "error", err)
		}
		e.mu.Lock()
		if e.sess == sess {
			e.setStatusLocked(sess.identity, StatusNoAds, true)
		}
		e.mu.Unlock()
		slog.Info("detection verdict", "video", id, "has_ads", false)
		return nil
	}

	ivs, err := res.Intervals()
	if err != nil {
		e.revertDetecting(sess)
		return fmt.Errorf("detect intervals: %w", err)
	}

	info := storage.VideoInfo{
		Title:    snap.Title,
		Uploader: snap.Owner.Name,
		Duration: snap.Duration,
	}
	if err := e.repo.SaveIntervals(id, info, ivs); err != nil {
		slog.Warn("persist intervals failed", "video", id, "error", err)
	}

	e.mu.Lock()
	if e.sess == sess {
		sess.intervals = ivs
		e.setStatusLocked(sess.identity, StatusHasAds, true)
		e.configureLocked(sess)
	}
	e.mu.Unlock()
	slog.Info("detection verdict", "video", id, "has_ads", true, "intervals", len(ivs))
	return nil
}

func (e *Engine) revertDetecting(sess *session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess != sess || e.status != StatusDetecting {
		return
	}
	e.setStatusLocked(sess.identity, StatusUndetected, false)
}
