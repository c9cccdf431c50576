package browser

import (
	"context"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/izumilab/adskip/internal/engine"
)

// Events surfaces frame navigations from the watched tab. The URL
// poll still runs as a fallback, so dropped events only add latency.
func (c *Client) Events() <-chan engine.NavigationEvent {
	return c.navCh
}

// watchNavigationLocked subscribes to the adopted page's navigation
// events, replacing any previous subscription.
func (c *Client) watchNavigationLocked(page *rod.Page) {
	if c.navReady {
		return
	}
	if c.navStop != nil {
		c.navStop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.navStop = cancel

	go page.Context(ctx).EachEvent(func(e *proto.PageFrameNavigated) {
		select {
		case c.navCh <- engine.NavigationEvent{URL: e.Frame.URL}:
		default:
			slog.Debug("navigation event dropped", "url", e.Frame.URL)
		}
	})()
	c.navReady = true
}
