package config

import "time"

// defaultSigningSecret matches the detection server. It ships inside every
// distributed client, so it discourages casual tampering rather than
// providing any confidentiality.
const defaultSigningSecret = "adskip_plugin_2024_secure_key"

type Config struct {
	DataDir    string
	ListenAddr string

	BrowserURL    string // DevTools websocket URL; empty launches a local Chrome
	Headless      bool
	VideoPageHost string

	PlatformAPIBase string
	DetectEndpoint  string
	SigningSecret   string
	ClientVersion   string

	AutoDetect           bool // permission gate for scheduled detection
	SkipPercent          int
	MinAutoDetectSeconds int

	AutoDetectDelay     time.Duration
	PollInterval        time.Duration
	TimeCacheInterval   time.Duration
	URLPollInterval     time.Duration
	MarkerRetryInterval time.Duration
}
