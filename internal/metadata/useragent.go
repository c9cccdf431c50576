package metadata

import (
	"fmt"
	"math/rand"
)

// RandomUserAgent picks a plausible desktop Chrome UA. The platform
// API rejects obviously non-browser clients.
func RandomUserAgent() string {
	// Target Chrome major versions roughly within last ~6 months
	const minMajor = 132
	const maxMajor = 138

	major := rand.Intn(maxMajor-minMajor+1) + minMajor
	return fmt.Sprintf(
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36",
		major,
	)
}
