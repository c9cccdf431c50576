package browser

import (
	"context"
	"fmt"

	"github.com/izumilab/adskip/internal/interval"
)

type markerRect struct {
	Left        float64 `json:"left"`
	Width       float64 `json:"width"`
	WindowWidth float64 `json:"windowWidth"`
}

// Render draws one highlight per interval onto the player's progress
// bar, with a narrower sub-marker over the stretch where automatic
// skipping actually fires. It fails when the bar is not in the DOM
// yet, which happens right after navigation; the caller retries.
func (c *Client) Render(ctx context.Context, ivs []interval.AdInterval, duration float64, skipPercent int) error {
	page, err := c.findPage(ctx)
	if err != nil {
		return err
	}
	if duration <= 0 {
		return fmt.Errorf("browser: markers need a positive duration")
	}

	rects := make([]markerRect, 0, len(ivs))
	for _, iv := range ivs {
		left := iv.Start / duration * 100
		width := iv.Duration() / duration * 100
		if left >= 100 {
			continue
		}
		if left+width > 100 {
			width = 100 - left
		}
		wStart, wEnd := interval.TriggerWindow(iv, skipPercent)
		windowWidth := (wEnd - wStart) / duration * 100
		if windowWidth > width {
			windowWidth = width
		}
		rects = append(rects, markerRect{Left: left, Width: width, WindowWidth: windowWidth})
	}

	res, err := page.Context(ctx).Eval(`(rects) => {
		const bar = document.querySelector('.bpx-player-progress-wrap');
		if (!bar) return false;
		let container = document.getElementById('adskip-marker-container');
		if (container) container.remove();
		container = document.createElement('div');
		container.id = 'adskip-marker-container';
		container.style.cssText = 'position:absolute;left:0;top:0;width:100%;height:100%;pointer-events:none;';
		for (const r of rects) {
			const m = document.createElement('div');
			m.className = 'adskip-marker';
			m.style.cssText = 'position:absolute;top:0;height:100%;background:rgba(255,120,0,0.6);' +
				'left:' + r.left + '%;width:' + r.width + '%;';
			const w = document.createElement('div');
			w.className = 'adskip-marker-window';
			w.style.cssText = 'position:absolute;top:0;height:100%;background:rgba(255,60,0,0.9);' +
				'left:0;width:' + (r.windowWidth / r.width * 100) + '%;';
			m.appendChild(w);
			container.appendChild(m);
		}
		bar.appendChild(container);
		return true;
	}`, rects)
	if err != nil {
		return fmt.Errorf("browser: render markers: %w", err)
	}
	if !res.Value.Bool() {
		return fmt.Errorf("browser: progress bar not found")
	}
	return nil
}

// Clear removes the marker overlay, if present.
func (c *Client) Clear(ctx context.Context) error {
	page, err := c.findPage(ctx)
	if err != nil {
		return err
	}
	_, err = page.Context(ctx).Eval(`() => {
		const container = document.getElementById('adskip-marker-container');
		if (container) container.remove();
	}`)
	if err != nil {
		return fmt.Errorf("browser: clear markers: %w", err)
	}
	return nil
}
