package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"

	"github.com/izumilab/adskip/internal/config"
	"github.com/izumilab/adskip/internal/engine"
)

// Client drives the browser tab that has the video page open. It
// implements engine.PlayerSource, engine.Markers, engine.StatusIndicator
// and engine.NavigationSource over the DevTools protocol.
type Client struct {
	cfg *config.Config

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	page    *rod.Page

	navCh    chan engine.NavigationEvent
	navStop  func()
	navReady bool
}

// Connect attaches to an existing browser when cfg.BrowserURL is set,
// otherwise launches a local one.
func Connect(cfg *config.Config) (*Client, error) {
	c := &Client{
		cfg:   cfg,
		navCh: make(chan engine.NavigationEvent, 8),
	}

	wsURL := cfg.BrowserURL
	if wsURL == "" {
		l := launcher.New().Headless(cfg.Headless)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		c.lnch = l
		slog.Info("launched local browser", "url", wsURL)
	} else {
		slog.Info("connecting to remote browser", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	c.browser = b
	return c, nil
}

// Close disconnects and, when the browser was launched locally, kills
// it.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.navStop != nil {
		c.navStop()
		c.navStop = nil
	}
	var err error
	if c.browser != nil {
		err = c.browser.Close()
		c.browser = nil
	}
	if c.lnch != nil {
		c.lnch.Cleanup()
		c.lnch = nil
	}
	return err
}

// findPage locates the tab showing the video site.
func (c *Client) findPage(ctx context.Context) (*rod.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.findPageLocked(ctx)
}

func (c *Client) findPageLocked(ctx context.Context) (*rod.Page, error) {
	if c.page != nil {
		if _, err := c.page.Context(ctx).Eval(`() => true`); err == nil {
			return c.page, nil
		}
		c.page = nil
		c.navReady = false
	}

	pages, err := c.browser.Pages()
	if err != nil {
		return nil, fmt.Errorf("browser: list pages: %w", err)
	}
	for _, p := range pages {
		info, err := p.Context(ctx).Info()
		if err != nil {
			continue
		}
		if strings.Contains(info.URL, c.cfg.VideoPageHost) {
			c.page = p
			c.watchNavigationLocked(p)
			return p, nil
		}
	}
	return nil, engine.ErrNoPlayer
}

// Valid reports whether the cached page still answers.
func (c *Client) Valid(ctx context.Context) bool {
	c.mu.Lock()
	page := c.page
	c.mu.Unlock()
	if page == nil {
		return false
	}
	_, err := page.Context(ctx).Eval(`() => true`)
	return err == nil
}

// CurrentURL returns the address of the watched tab.
func (c *Client) CurrentURL(ctx context.Context) (string, error) {
	page, err := c.findPage(ctx)
	if err != nil {
		return "", err
	}
	info, err := page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("browser: page info: %w", err)
	}
	return info.URL, nil
}

// Refresh drops the cached tab and rediscovers it.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	c.page = nil
	c.navReady = false
	_, err := c.findPageLocked(ctx)
	c.mu.Unlock()
	return err
}

// Player returns the page's video element.
func (c *Client) Player(ctx context.Context) (engine.Player, error) {
	page, err := c.findPage(ctx)
	if err != nil {
		return nil, err
	}
	return &pagePlayer{page: page}, nil
}
