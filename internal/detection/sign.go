package detection

import (
	"encoding/base64"
	"encoding/json"
)

// signedFields is the canonical signing payload. Fields are marshaled
// in alphabetical key order; changing the order breaks verification
// server-side.
type signedFields struct {
	ClientVersion string `json:"clientVersion"`
	Timestamp     int64  `json:"timestamp"`
	VideoID       string `json:"videoId"`
}

// Signature computes the request signature: base64 of the compact
// JSON of the signed fields with the shared secret appended.
func Signature(videoID string, timestamp int64, clientVersion, secret string) string {
	raw, _ := json.Marshal(signedFields{
		ClientVersion: clientVersion,
		Timestamp:     timestamp,
		VideoID:       videoID,
	})
	return base64.StdEncoding.EncodeToString(append(raw, secret...))
}
