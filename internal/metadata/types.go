package metadata

import "context"

// Owner is the account that uploaded a video.
type Owner struct {
	Mid  int64  `json:"mid"`
	Name string `json:"name"`
}

// VideoMetadata is the subset of the platform's view API we consume.
type VideoMetadata struct {
	Bvid     string  `json:"bvid"`
	Aid      int64   `json:"aid"`
	Cid      int64   `json:"cid"`
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
	Owner    Owner   `json:"owner"`
}

// SubtitleTrack is one closed-caption track advertised by the player
// API. URL may be scheme-relative.
type SubtitleTrack struct {
	ID       int64  `json:"id"`
	Lang     string `json:"lan"`
	LangName string `json:"lan_doc"`
	URL      string `json:"subtitle_url"`
}

// SubtitleLine is one cue of a subtitle body.
type SubtitleLine struct {
	From    float64 `json:"from"`
	To      float64 `json:"to"`
	Content string  `json:"content"`
}

// VideoSnapshot bundles everything detection needs about one video:
// its metadata plus whatever subtitle text could be fetched.
type VideoSnapshot struct {
	*VideoMetadata
	HasSubtitle bool
	Tracks      []SubtitleTrack
	Subtitles   [][]SubtitleLine
}

// UserInfo describes the logged-in platform account, if any.
type UserInfo struct {
	IsLogin bool   `json:"isLogin"`
	Mid     int64  `json:"mid"`
	Name    string `json:"uname"`
	Level   int    `json:"level"`
}

// Provider resolves video snapshots and login state. Implementations
// are expected to cache aggressively; force bypasses the cache.
type Provider interface {
	Snapshot(ctx context.Context, videoID string, force bool) (*VideoSnapshot, error)
	LoginStatus(ctx context.Context) (*UserInfo, error)
}
