package browser

import (
	"context"
	"log/slog"
	"time"

	"github.com/izumilab/adskip/internal/engine"
	"github.com/izumilab/adskip/internal/videoid"
)

func badgeLabel(status engine.VideoStatus) (label, color string) {
	switch status {
	case engine.StatusNoSubtitle:
		return "No subtitles", "#909090"
	case engine.StatusNoAds:
		return "No ads", "#4caf50"
	case engine.StatusHasAds:
		return "Ads marked", "#ff7800"
	case engine.StatusDetecting:
		return "Detecting...", "#2196f3"
	case engine.StatusPrepare:
		return "Waiting", "#9e9e9e"
	default:
		return "Not checked", "#bdbdbd"
	}
}

// Update paints the status badge into the player toolbar. Badge
// failures never matter enough to propagate.
func (c *Client) Update(identity videoid.Identity, status engine.VideoStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	page, err := c.findPage(ctx)
	if err != nil {
		return
	}

	label, color := badgeLabel(status)
	_, err = page.Context(ctx).Eval(`(label, color) => {
		let b = document.getElementById('adskip-button');
		if (!b) {
			const host = document.querySelector('.bpx-player-control-bottom-right');
			if (!host) return;
			b = document.createElement('div');
			b.id = 'adskip-button';
			b.style.cssText = 'padding:0 8px;font-size:12px;line-height:2;cursor:default;color:#fff;border-radius:3px;margin:auto 4px;';
			host.prepend(b);
		}
		b.textContent = label;
		b.style.background = color;
	}`, label, color)
	if err != nil {
		slog.Debug("badge update failed", "video", identity.ID, "error", err)
	}
}
