package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/izumilab/adskip/internal/interval"
)

// VideoInfo is the metadata snapshot persisted next to a video's
// interval list.
type VideoInfo struct {
	Title    string  `json:"title"`
	Uploader string  `json:"uploader"`
	Duration float64 `json:"duration"`
}

type storedVideo struct {
	VideoInfo  VideoInfo             `json:"videoInfo"`
	Timestamps []interval.AdInterval `json:"timestamps"`
	SavedAt    int64                 `json:"savedAt"`
}

type storedStatus struct {
	Status    int   `json:"status"`
	UpdatedAt int64 `json:"updatedAt"`
}

// WhitelistEntry is one row of the per-video no-ads whitelist.
type WhitelistEntry struct {
	Bvid      string `json:"bvid"`
	NoAds     bool   `json:"noAds"`
	AddedAt   int64  `json:"addedAt"`
	UpdatedAt int64  `json:"updatedAt,omitempty"`
}

// UploaderEntry is one row of the uploader whitelist. A disabled
// entry stays in the list but stops suppressing auto-detection.
type UploaderEntry struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	AddedAt int64  `json:"addedAt"`
}

// Repo layers the domain's typed reads and writes over a flat Store.
type Repo struct {
	store Store
}

func NewRepo(store Store) *Repo {
	return &Repo{store: store}
}

func (r *Repo) Store() Store { return r.store }

// SaveIntervals persists a video's ad intervals together with the
// metadata snapshot taken at save time.
func (r *Repo) SaveIntervals(videoID string, info VideoInfo, ivs []interval.AdInterval) error {
	if err := interval.Validate(ivs); err != nil {
		return err
	}
	raw, err := json.Marshal(storedVideo{
		VideoInfo:  info,
		Timestamps: ivs,
		SavedAt:    time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	return r.store.Set(VideoKey(videoID), string(raw))
}

// LoadIntervals returns the intervals stored for videoID, or nil when
// none are stored. Values written by older versions as a bare array
// are still accepted.
func (r *Repo) LoadIntervals(videoID string) ([]interval.AdInterval, error) {
	raw, err := r.store.Get(VideoKey(videoID))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeIntervals(raw)
}

func decodeIntervals(raw string) ([]interval.AdInterval, error) {
	var sv storedVideo
	if err := json.Unmarshal([]byte(raw), &sv); err == nil && sv.Timestamps != nil {
		return sv.Timestamps, nil
	}
	var bare []interval.AdInterval
	if err := json.Unmarshal([]byte(raw), &bare); err != nil {
		return nil, fmt.Errorf("decode intervals: %w", err)
	}
	return bare, nil
}

func (r *Repo) RemoveIntervals(videoID string) error {
	return r.store.Remove(VideoKey(videoID))
}

func (r *Repo) SaveStatus(videoID string, status int) error {
	raw, err := json.Marshal(storedStatus{Status: status, UpdatedAt: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	return r.store.Set(StatusKey(videoID), string(raw))
}

// Status returns the persisted detection status for videoID. ok is
// false when no status is stored or the stored value is malformed.
func (r *Repo) Status(videoID string) (status int, ok bool) {
	raw, err := r.store.Get(StatusKey(videoID))
	if err != nil {
		return 0, false
	}
	var ss storedStatus
	if err := json.Unmarshal([]byte(raw), &ss); err != nil {
		return 0, false
	}
	return ss.Status, true
}

// Enabled reports whether automatic skipping is on. Absent means on.
func (r *Repo) Enabled() bool {
	raw, err := r.store.Get(KeyEnabled)
	if err != nil {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

func (r *Repo) SetEnabled(enabled bool) error {
	return r.store.Set(KeyEnabled, strconv.FormatBool(enabled))
}

// SkipPercent returns the stored skip percentage, ok=false when unset.
func (r *Repo) SkipPercent() (int, bool) {
	raw, err := r.store.Get(KeyPercentage)
	if err != nil {
		return 0, false
	}
	pct, err := strconv.Atoi(raw)
	if err != nil || pct < 0 || pct > 100 {
		return 0, false
	}
	return pct, true
}

func (r *Repo) SetSkipPercent(pct int) error {
	if pct < 0 || pct > 100 {
		return fmt.Errorf("skip percent out of range: %d", pct)
	}
	return r.store.Set(KeyPercentage, strconv.Itoa(pct))
}

func (r *Repo) videoWhitelist() ([]WhitelistEntry, error) {
	raw, err := r.store.Get(KeyVideoWhitelist)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []WhitelistEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("decode video whitelist: %w", err)
	}
	return entries, nil
}

func (r *Repo) saveVideoWhitelist(entries []WhitelistEntry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return r.store.Set(KeyVideoWhitelist, string(raw))
}

// VideoWhitelist returns all per-video whitelist entries.
func (r *Repo) VideoWhitelist() ([]WhitelistEntry, error) {
	return r.videoWhitelist()
}

// IsNoAds reports whether videoID is marked ad-free.
func (r *Repo) IsNoAds(videoID string) bool {
	entries, err := r.videoWhitelist()
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.Bvid == videoID {
			return e.NoAds
		}
	}
	return false
}

// MarkNoAds upserts videoID into the no-ads whitelist. An existing
// entry keeps its addedAt and only has noAds and updatedAt refreshed,
// so repeat detections never duplicate rows.
func (r *Repo) MarkNoAds(videoID string) error {
	entries, err := r.videoWhitelist()
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for i, e := range entries {
		if e.Bvid == videoID {
			if e.NoAds {
				return nil
			}
			entries[i].NoAds = true
			entries[i].UpdatedAt = now
			return r.saveVideoWhitelist(entries)
		}
	}
	entries = append(entries, WhitelistEntry{Bvid: videoID, NoAds: true, AddedAt: now})
	return r.saveVideoWhitelist(entries)
}

func (r *Repo) uploaderWhitelist() ([]UploaderEntry, error) {
	raw, err := r.store.Get(KeyUploaderWhitelist)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []UploaderEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("decode uploader whitelist: %w", err)
	}
	return entries, nil
}

func (r *Repo) saveUploaderWhitelist(entries []UploaderEntry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return r.store.Set(KeyUploaderWhitelist, string(raw))
}

func (r *Repo) UploaderWhitelist() ([]UploaderEntry, error) {
	return r.uploaderWhitelist()
}

// IsUploaderWhitelisted reports whether name has an enabled whitelist
// entry. Whitelisted uploaders skip auto-detection entirely.
func (r *Repo) IsUploaderWhitelisted(name string) bool {
	if name == "" {
		return false
	}
	entries, err := r.uploaderWhitelist()
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.Name == name {
			return e.Enabled
		}
	}
	return false
}

func (r *Repo) AddUploader(name string) error {
	entries, err := r.uploaderWhitelist()
	if err != nil {
		return err
	}
	for i, e := range entries {
		if e.Name == name {
			if e.Enabled {
				return nil
			}
			entries[i].Enabled = true
			return r.saveUploaderWhitelist(entries)
		}
	}
	entries = append(entries, UploaderEntry{Name: name, Enabled: true, AddedAt: time.Now().UnixMilli()})
	return r.saveUploaderWhitelist(entries)
}

func (r *Repo) SetUploaderEnabled(name string, enabled bool) error {
	entries, err := r.uploaderWhitelist()
	if err != nil {
		return err
	}
	for i, e := range entries {
		if e.Name == name {
			entries[i].Enabled = enabled
			return r.saveUploaderWhitelist(entries)
		}
	}
	return fmt.Errorf("uploader not in whitelist: %s", name)
}

func (r *Repo) RemoveUploader(name string) error {
	entries, err := r.uploaderWhitelist()
	if err != nil {
		return err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.Name != name {
			out = append(out, e)
		}
	}
	if len(out) == len(entries) {
		return nil
	}
	return r.saveUploaderWhitelist(out)
}

// FindIntervalOwner returns the ID of a video other than excludeID
// whose stored interval list serializes to exactly serialized. It is
// used to spot interval lists pasted from another video's share URL.
func (r *Repo) FindIntervalOwner(serialized, excludeID string) (string, error) {
	keys, err := r.store.Keys(KeyPrefix)
	if err != nil {
		return "", err
	}
	for _, k := range keys {
		if !IsVideoDataKey(k) {
			continue
		}
		id := VideoIDFromKey(k)
		if id == excludeID {
			continue
		}
		ivs, err := r.LoadIntervals(id)
		if err != nil || len(ivs) == 0 {
			continue
		}
		if interval.Serialize(ivs) == serialized {
			return id, nil
		}
	}
	return "", nil
}
