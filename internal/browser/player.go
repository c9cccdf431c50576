package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"

	"github.com/izumilab/adskip/internal/engine"
)

// pagePlayer reads and drives the page's <video> element.
type pagePlayer struct {
	page *rod.Page
}

func (p *pagePlayer) CurrentTime(ctx context.Context) (float64, error) {
	res, err := p.page.Context(ctx).Eval(`() => {
		const v = document.querySelector('video');
		return v ? v.currentTime : -1;
	}`)
	if err != nil {
		return 0, fmt.Errorf("browser: current time: %w", err)
	}
	t := res.Value.Num()
	if t < 0 {
		return 0, engine.ErrNoPlayer
	}
	return t, nil
}

func (p *pagePlayer) Duration(ctx context.Context) (float64, error) {
	res, err := p.page.Context(ctx).Eval(`() => {
		const v = document.querySelector('video');
		return v && isFinite(v.duration) ? v.duration : -1;
	}`)
	if err != nil {
		return 0, fmt.Errorf("browser: duration: %w", err)
	}
	d := res.Value.Num()
	if d < 0 {
		return 0, engine.ErrNoPlayer
	}
	return d, nil
}

func (p *pagePlayer) Playing(ctx context.Context) (bool, error) {
	res, err := p.page.Context(ctx).Eval(`() => {
		const v = document.querySelector('video');
		return !!v && !v.paused && !v.ended;
	}`)
	if err != nil {
		return false, fmt.Errorf("browser: playing: %w", err)
	}
	return res.Value.Bool(), nil
}

// Seek jumps the video and leaves a timestamp on the page so page
// scripts can tell this seek apart from one the user made.
func (p *pagePlayer) Seek(ctx context.Context, seconds float64) error {
	res, err := p.page.Context(ctx).Eval(`(t) => {
		const v = document.querySelector('video');
		if (!v) return false;
		window.__adskipScriptSeek = Date.now();
		v.currentTime = t;
		return true;
	}`, seconds)
	if err != nil {
		return fmt.Errorf("browser: seek: %w", err)
	}
	if !res.Value.Bool() {
		return engine.ErrNoPlayer
	}
	return nil
}
