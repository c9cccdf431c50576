package config

import (
	"os"
	"strconv"
	"time"
)

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		DataDir:    getenv("ADSKIP_DATA_DIR", "./data"),
		ListenAddr: getenv("ADSKIP_LISTEN", "127.0.0.1:8764"),

		BrowserURL:    os.Getenv("ADSKIP_BROWSER_URL"),
		Headless:      getenv("ADSKIP_HEADLESS", "false") == "true",
		VideoPageHost: getenv("ADSKIP_VIDEO_HOST", "bilibili.com"),

		PlatformAPIBase: getenv("ADSKIP_PLATFORM_API", "https://api.bilibili.com"),
		DetectEndpoint:  getenv("ADSKIP_DETECT_ENDPOINT", "https://izumihostpab.life:3000/api/detect"),
		SigningSecret:   getenv("ADSKIP_SIGNING_SECRET", defaultSigningSecret),
		ClientVersion:   getenv("ADSKIP_CLIENT_VERSION", "1.0.0"),

		AutoDetect:           getenv("ADSKIP_AUTO_DETECT", "true") == "true",
		SkipPercent:          getenvInt("ADSKIP_SKIP_PERCENT", 5),
		MinAutoDetectSeconds: getenvInt("ADSKIP_MIN_DURATION", 30),

		AutoDetectDelay:     getenvDuration("ADSKIP_DETECT_DELAY", 10*time.Second),
		PollInterval:        getenvDuration("ADSKIP_POLL_INTERVAL", 500*time.Millisecond),
		TimeCacheInterval:   getenvDuration("ADSKIP_TIME_CACHE_INTERVAL", 100*time.Millisecond),
		URLPollInterval:     getenvDuration("ADSKIP_URL_POLL_INTERVAL", time.Second),
		MarkerRetryInterval: getenvDuration("ADSKIP_MARKER_RETRY", time.Second),
	}

	if cfg.SkipPercent < 0 || cfg.SkipPercent > 100 {
		return nil, ErrConfig("ADSKIP_SKIP_PERCENT must be between 0 and 100")
	}
	if cfg.DetectEndpoint == "" {
		return nil, ErrConfig("ADSKIP_DETECT_ENDPOINT required")
	}
	_ = os.MkdirAll(cfg.DataDir, 0o755)
	return cfg, nil
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }
