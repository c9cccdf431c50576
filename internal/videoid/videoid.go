// Package videoid derives the identity of the active video purely from a URL
// snapshot. Identities are immutable values; callers recompute them on every
// navigation signal and compare IDs to detect a client-side video switch.
package videoid

import (
	"net/url"
	"regexp"
	"strings"
)

type Kind int

const (
	KindBV Kind = iota
	KindEP
	KindAV
	KindSS
)

func (k Kind) String() string {
	switch k {
	case KindBV:
		return "BV"
	case KindEP:
		return "EP"
	case KindAV:
		return "AV"
	case KindSS:
		return "SS"
	}
	return "unknown"
}

// Identity names one video. ID is the canonical string used as a storage key
// ("BVxxxx", "epNNN", "avNNN", "ssNNN").
type Identity struct {
	ID      string
	Kind    Kind
	RawBvid string
	RawEpid string
}

var (
	reEpPath = regexp.MustCompile(`/bangumi/play/(ep\d+)`)
	reBvPath = regexp.MustCompile(`/video/(BV\w+)`)
)

// FromURL resolves the identity for a URL snapshot. Precedence: playlist
// query params, then the bangumi episode path, then the standard video path,
// then ad-hoc query params (aid, ss_id, ep_id). ok is false when the URL
// carries no recognizable video reference.
func FromURL(raw string) (Identity, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return Identity{}, false
	}
	q := u.Query()

	// Playlist pages keep the active video in query params while the path
	// stays the same, so those params win over everything else.
	if strings.Contains(u.Path, "/list/") {
		if bvid := q.Get("bvid"); bvid != "" {
			return Identity{ID: bvid, Kind: KindBV, RawBvid: bvid}, true
		}
		if oid := q.Get("oid"); oid != "" {
			return Identity{ID: "ep" + oid, Kind: KindEP, RawEpid: oid}, true
		}
	}

	if m := reEpPath.FindStringSubmatch(u.Path); m != nil {
		return Identity{ID: m[1], Kind: KindEP, RawEpid: strings.TrimPrefix(m[1], "ep")}, true
	}

	if m := reBvPath.FindStringSubmatch(u.Path); m != nil {
		return Identity{ID: m[1], Kind: KindBV, RawBvid: m[1]}, true
	}

	if aid := q.Get("aid"); aid != "" {
		return Identity{ID: "av" + aid, Kind: KindAV}, true
	}
	if ssid := q.Get("ss_id"); ssid != "" {
		return Identity{ID: "ss" + ssid, Kind: KindSS}, true
	}
	if epid := q.Get("ep_id"); epid != "" {
		return Identity{ID: "ep" + epid, Kind: KindEP, RawEpid: epid}, true
	}

	return Identity{}, false
}
