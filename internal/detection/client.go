package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/izumilab/adskip/internal/interval"
	"github.com/izumilab/adskip/internal/metadata"
)

// Request is the detection payload. Field order matches what the
// service expects on the wire.
type Request struct {
	VideoID       string                  `json:"videoId"`
	Title         string                  `json:"title"`
	Uploader      string                  `json:"uploader"`
	Mid           int64                   `json:"mid"`
	Duration      float64                 `json:"duration"`
	AutoDetect    bool                    `json:"autoDetect"`
	ClientVersion string                  `json:"clientVersion"`
	VideoData     *metadata.VideoSnapshot `json:"videoData,omitempty"`
	User          *metadata.UserInfo      `json:"user,omitempty"`
	Timestamp     int64                   `json:"timestamp"`
	Signature     string                  `json:"signature"`
}

type wireInterval struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Result is the detection service's verdict for one video.
type Result struct {
	Success      bool           `json:"success"`
	HasAds       bool           `json:"hasAds"`
	AdTimestamps []wireInterval `json:"adTimestamps"`
	Message      string         `json:"message"`
}

// ResultFromIntervals builds a positive or negative verdict from an
// already validated interval list.
func ResultFromIntervals(hasAds bool, ivs []interval.AdInterval, message string) *Result {
	res := &Result{Success: true, HasAds: hasAds, Message: message}
	for _, iv := range ivs {
		res.AdTimestamps = append(res.AdTimestamps, wireInterval{Start: iv.Start, End: iv.End})
	}
	return res
}

// Intervals converts the wire timestamps into validated ad intervals.
func (r *Result) Intervals() ([]interval.AdInterval, error) {
	ivs := make([]interval.AdInterval, 0, len(r.AdTimestamps))
	for _, w := range r.AdTimestamps {
		iv, err := interval.New(w.Start, w.End)
		if err != nil {
			return nil, err
		}
		ivs = append(ivs, iv)
	}
	return ivs, nil
}

// Client submits subtitle-based detection requests.
type Client struct {
	endpoint      string
	secret        string
	clientVersion string
	http          *http.Client
	now           func() time.Time
}

func NewClient(endpoint, secret, clientVersion string) *Client {
	return &Client{
		endpoint:      endpoint,
		secret:        secret,
		clientVersion: clientVersion,
		http:          &http.Client{Timeout: 8 * time.Second},
		now:           time.Now,
	}
}

// Send signs and posts a detection request built from the snapshot.
// A transport or decode failure returns an error; a service-level
// refusal comes back as a Result with Success false.
func (c *Client) Send(ctx context.Context, snap *metadata.VideoSnapshot, user *metadata.UserInfo, autoDetect bool) (*Result, error) {
	ts := c.now().UnixMilli()
	req := Request{
		VideoID:       snap.Bvid,
		Title:         snap.Title,
		Uploader:      snap.Owner.Name,
		Mid:           snap.Owner.Mid,
		Duration:      snap.Duration,
		AutoDetect:    autoDetect,
		ClientVersion: c.clientVersion,
		VideoData:     snap,
		User:          user,
		Timestamp:     ts,
		Signature:     Signature(snap.Bvid, ts, c.clientVersion, c.secret),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detect_http_%d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}
