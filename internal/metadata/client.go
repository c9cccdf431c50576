package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// snapshotTTL bounds how long a cached platform response may be served
// without a refetch. Forced snapshots bypass it entirely.
const snapshotTTL = 30 * time.Second

// Client talks to the platform's public REST API. It implements
// Provider.
type Client struct {
	base      string
	http      *http.Client
	userAgent string

	snapshots *Cache[*VideoSnapshot]
	users     *Cache[*UserInfo]
}

func NewClient(base string) *Client {
	return &Client{
		base:      strings.TrimRight(base, "/"),
		http:      &http.Client{Timeout: 8 * time.Second},
		userAgent: RandomUserAgent(),
		snapshots: NewCache[*VideoSnapshot](snapshotTTL),
		users:     NewCache[*UserInfo](snapshotTTL),
	}
}

type apiEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api_http_%d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) getData(ctx context.Context, rawURL string, out any) error {
	var env apiEnvelope
	if err := c.getJSON(ctx, rawURL, &env); err != nil {
		return err
	}
	if env.Code != 0 {
		return fmt.Errorf("api_code_%d: %s", env.Code, env.Message)
	}
	return json.Unmarshal(env.Data, out)
}

// GetVideoData fetches a video's metadata by its BV identifier.
func (c *Client) GetVideoData(ctx context.Context, bvid string) (*VideoMetadata, error) {
	u := c.base + "/x/web-interface/view?bvid=" + url.QueryEscape(bvid)
	var meta VideoMetadata
	if err := c.getData(ctx, u, &meta); err != nil {
		return nil, fmt.Errorf("view %s: %w", bvid, err)
	}
	return &meta, nil
}

// GetSubtitles lists the subtitle tracks for one video part.
func (c *Client) GetSubtitles(ctx context.Context, aid, cid int64) ([]SubtitleTrack, error) {
	u := c.base + "/x/player/wbi/v2?aid=" + strconv.FormatInt(aid, 10) +
		"&cid=" + strconv.FormatInt(cid, 10)
	var data struct {
		Subtitle struct {
			Subtitles []SubtitleTrack `json:"subtitles"`
		} `json:"subtitle"`
	}
	if err := c.getData(ctx, u, &data); err != nil {
		return nil, fmt.Errorf("player info aid=%d cid=%d: %w", aid, cid, err)
	}
	return data.Subtitle.Subtitles, nil
}

// FetchSubtitleBody downloads one track's cue list. Track URLs come
// back scheme-relative from the API.
func (c *Client) FetchSubtitleBody(ctx context.Context, trackURL string) ([]SubtitleLine, error) {
	if strings.HasPrefix(trackURL, "//") {
		trackURL = "https:" + trackURL
	}
	var body struct {
		Body []SubtitleLine `json:"body"`
	}
	if err := c.getJSON(ctx, trackURL, &body); err != nil {
		return nil, fmt.Errorf("subtitle body: %w", err)
	}
	return body.Body, nil
}

// Snapshot resolves the full detection view of one video. Subtitle
// bodies that fail to download are skipped rather than failing the
// whole snapshot.
func (c *Client) Snapshot(ctx context.Context, videoID string, force bool) (*VideoSnapshot, error) {
	if force {
		// Drop the stale entry up front so a failed refetch cannot be
		// papered over by the cache on the next call.
		c.snapshots.Delete(videoID)
	} else if snap, ok := c.snapshots.Get(videoID); ok {
		return snap, nil
	}

	meta, err := c.GetVideoData(ctx, videoID)
	if err != nil {
		return nil, err
	}

	tracks, err := c.GetSubtitles(ctx, meta.Aid, meta.Cid)
	if err != nil {
		return nil, err
	}

	snap := &VideoSnapshot{
		VideoMetadata: meta,
		HasSubtitle:   len(tracks) > 0,
		Tracks:        tracks,
	}
	for _, tr := range tracks {
		lines, err := c.FetchSubtitleBody(ctx, tr.URL)
		if err != nil {
			slog.Warn("subtitle fetch failed", "video", videoID, "lang", tr.Lang, "error", err)
			continue
		}
		snap.Subtitles = append(snap.Subtitles, lines)
	}

	c.snapshots.Set(videoID, snap)
	return snap, nil
}

// LoginStatus reports the account currently logged in on the platform,
// cached briefly since it changes rarely.
func (c *Client) LoginStatus(ctx context.Context) (*UserInfo, error) {
	if u, ok := c.users.Get("nav"); ok {
		return u, nil
	}
	// The nav endpoint reports "not logged in" as a non-zero code with
	// a usable payload, so the envelope is unwrapped by hand here.
	var env apiEnvelope
	if err := c.getJSON(ctx, c.base+"/x/web-interface/nav", &env); err != nil {
		return nil, fmt.Errorf("nav: %w", err)
	}
	var info UserInfo
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &info); err != nil {
			return nil, fmt.Errorf("nav: %w", err)
		}
	}
	c.users.Set("nav", &info)
	return &info, nil
}
