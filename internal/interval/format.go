package interval

import (
	"fmt"
	"math"
	"strings"
)

// FormatClock renders whole seconds as m:ss, or h:mm:ss past the hour mark.
func FormatClock(sec float64) string {
	s := int(math.Round(sec))
	h := s / 3600
	m := (s % 3600) / 60
	r := s % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, r)
	}
	return fmt.Sprintf("%d:%02d", m, r)
}

// FormatRange renders an interval for display, e.g. "1:01-1:27".
func FormatRange(iv AdInterval) string {
	return FormatClock(iv.Start) + "-" + FormatClock(iv.End)
}

// FormatList renders a sequence for display, e.g. "1:01-1:27, 2:00-2:25".
func FormatList(ivs []AdInterval) string {
	if len(ivs) == 0 {
		return "none"
	}
	parts := make([]string, len(ivs))
	for i, iv := range ivs {
		parts[i] = FormatRange(iv)
	}
	return strings.Join(parts, ", ")
}
