package storage

import "strings"

// Key layout is flat: one row per video plus a handful of reserved
// settings rows sharing the same prefix.
const (
	KeyPrefix       = "adskip_"
	StatusKeyPrefix = "adskip_status_"

	KeyEnabled           = "adskip_enabled"
	KeyPercentage        = "adskip_percentage"
	KeyUploaderWhitelist = "adskip_uploader_whitelist"
	KeyVideoWhitelist    = "adskip_video_whitelist"
)

func VideoKey(videoID string) string {
	return KeyPrefix + videoID
}

func StatusKey(videoID string) string {
	return StatusKeyPrefix + videoID
}

var reservedKeys = map[string]struct{}{
	KeyEnabled:           {},
	KeyPercentage:        {},
	KeyUploaderWhitelist: {},
	KeyVideoWhitelist:    {},
}

// IsVideoDataKey reports whether key holds per-video interval data,
// as opposed to a status row or a reserved setting.
func IsVideoDataKey(key string) bool {
	if !strings.HasPrefix(key, KeyPrefix) {
		return false
	}
	if strings.HasPrefix(key, StatusKeyPrefix) {
		return false
	}
	_, reserved := reservedKeys[key]
	return !reserved
}

// VideoIDFromKey strips the data prefix; callers must check
// IsVideoDataKey first.
func VideoIDFromKey(key string) string {
	return strings.TrimPrefix(key, KeyPrefix)
}
