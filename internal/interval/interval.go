package interval

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidInterval rejects intervals whose end does not lie strictly past
// their start, or whose start is negative.
var ErrInvalidInterval = errors.New("invalid ad interval")

// AdInterval is a [start, end) range of seconds within a video's runtime
// believed to be an advertisement. Sequences keep insertion order; overlapping
// entries are allowed and handled independently by the skip check.
type AdInterval struct {
	Start float64 `json:"start_time"`
	End   float64 `json:"end_time"`
}

func New(start, end float64) (AdInterval, error) {
	if start < 0 || end <= start {
		return AdInterval{}, fmt.Errorf("%w: %s-%s", ErrInvalidInterval, formatSeconds(start), formatSeconds(end))
	}
	return AdInterval{Start: start, End: end}, nil
}

func (iv AdInterval) Duration() float64 { return iv.End - iv.Start }

// Contains reports whether t falls inside the half-open range.
func (iv AdInterval) Contains(t float64) bool { return t >= iv.Start && t < iv.End }

// TriggerWindow returns the sub-range of iv inside which automatic skipping
// fires: the first pct percent of the interval, at least one second, never
// reaching past the interval's end. The range is half-open like the interval.
func TriggerWindow(iv AdInterval, pct int) (start, end float64) {
	d := iv.Duration() * float64(pct) / 100
	if d < 1 {
		d = 1
	}
	end = iv.Start + d
	if end > iv.End {
		end = iv.End
	}
	return iv.Start, end
}

func (iv AdInterval) String() string {
	return formatSeconds(iv.Start) + "-" + formatSeconds(iv.End)
}

// Validate checks every interval of a sequence.
func Validate(ivs []AdInterval) error {
	for _, iv := range ivs {
		if _, err := New(iv.Start, iv.End); err != nil {
			return err
		}
	}
	return nil
}

// Parse decodes the URL wire format: comma-separated start-end second pairs,
// e.g. "61-87,120-145". Each pair must satisfy the interval invariant.
func Parse(s string) ([]AdInterval, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	segments := strings.Split(s, ",")
	out := make([]AdInterval, 0, len(segments))
	for _, seg := range segments {
		start, end, ok := strings.Cut(seg, "-")
		if !ok {
			return nil, fmt.Errorf("%w: segment %q", ErrInvalidInterval, seg)
		}
		s0, err := strconv.ParseFloat(strings.TrimSpace(start), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: segment %q", ErrInvalidInterval, seg)
		}
		s1, err := strconv.ParseFloat(strings.TrimSpace(end), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: segment %q", ErrInvalidInterval, seg)
		}
		iv, err := New(s0, s1)
		if err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, nil
}

// Serialize is the inverse of Parse and also the canonical form used for the
// stale-URL comparison: two interval lists are considered equal when their
// serialized strings match exactly.
func Serialize(ivs []AdInterval) string {
	parts := make([]string, len(ivs))
	for i, iv := range ivs {
		parts[i] = iv.String()
	}
	return strings.Join(parts, ",")
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
