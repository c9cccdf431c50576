package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/izumilab/adskip/internal/config"
	"github.com/izumilab/adskip/internal/detection"
	"github.com/izumilab/adskip/internal/interval"
	"github.com/izumilab/adskip/internal/metadata"
	"github.com/izumilab/adskip/internal/storage"
)

const testVideoURL = "https://www.bilibili.com/video/BV1xx411c7mD"

func testConfig() *config.Config {
	return &config.Config{
		AutoDetect:           true,
		SkipPercent:          5,
		MinAutoDetectSeconds: 30,
		AutoDetectDelay:      5 * time.Millisecond,
		PollInterval:         5 * time.Millisecond,
		TimeCacheInterval:    2 * time.Millisecond,
		URLPollInterval:      5 * time.Millisecond,
		MarkerRetryInterval:  5 * time.Millisecond,
	}
}

type fakePlayer struct {
	mu      sync.Mutex
	time    float64
	dur     float64
	playing bool
	seeks   []float64
}

func (p *fakePlayer) CurrentTime(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.time, nil
}

func (p *fakePlayer) Duration(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dur, nil
}

func (p *fakePlayer) Playing(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing, nil
}

func (p *fakePlayer) Seek(ctx context.Context, seconds float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.time = seconds
	p.seeks = append(p.seeks, seconds)
	return nil
}

func (p *fakePlayer) seekCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seeks)
}

func (p *fakePlayer) lastSeek() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.seeks) == 0 {
		return -1
	}
	return p.seeks[len(p.seeks)-1]
}

type fakeSource struct {
	mu     sync.Mutex
	player *fakePlayer
	url    string
	valid  bool
}

func (s *fakeSource) Player(ctx context.Context) (Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player == nil {
		return nil, ErrNoPlayer
	}
	return s.player, nil
}

func (s *fakeSource) Valid(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid
}

func (s *fakeSource) CurrentURL(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url, nil
}

func (s *fakeSource) Refresh(ctx context.Context) error { return nil }

type fakeProvider struct {
	mu        sync.Mutex
	snap      *metadata.VideoSnapshot
	snapErr   error
	user      *metadata.UserInfo
	snapCalls atomic.Int32
	lastForce atomic.Bool
}

func (p *fakeProvider) Snapshot(ctx context.Context, videoID string, force bool) (*metadata.VideoSnapshot, error) {
	p.snapCalls.Add(1)
	p.lastForce.Store(force)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.snapErr != nil {
		return nil, p.snapErr
	}
	return p.snap, nil
}

func (p *fakeProvider) setSnapshot(snap *metadata.VideoSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap = snap
}

func (p *fakeProvider) LoginStatus(ctx context.Context) (*metadata.UserInfo, error) {
	if p.user != nil {
		return p.user, nil
	}
	return &metadata.UserInfo{IsLogin: true, Mid: 1}, nil
}

type fakeDetector struct {
	res   *detection.Result
	err   error
	calls atomic.Int32
}

func (d *fakeDetector) Send(ctx context.Context, snap *metadata.VideoSnapshot, user *metadata.UserInfo, autoDetect bool) (*detection.Result, error) {
	d.calls.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	return d.res, nil
}

type fakeMarkers struct {
	mu      sync.Mutex
	renders int
	clears  int
	lastPct int
	fail    bool
}

func (m *fakeMarkers) Render(ctx context.Context, ivs []interval.AdInterval, duration float64, skipPercent int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("progress bar not ready")
	}
	m.renders++
	m.lastPct = skipPercent
	return nil
}

func (m *fakeMarkers) renderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.renders
}

func (m *fakeMarkers) lastPercent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPct
}

func (m *fakeMarkers) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clears++
	return nil
}

func snapshotFor(bvid string, duration float64, hasSubtitle bool) *metadata.VideoSnapshot {
	return &metadata.VideoSnapshot{
		VideoMetadata: &metadata.VideoMetadata{
			Bvid:     bvid,
			Title:    "demo",
			Duration: duration,
			Owner:    metadata.Owner{Mid: 42, Name: "uploader"},
		},
		HasSubtitle: hasSubtitle,
	}
}

type testRig struct {
	engine   *Engine
	repo     *storage.Repo
	source   *fakeSource
	player   *fakePlayer
	provider *fakeProvider
	detector *fakeDetector
	markers  *fakeMarkers
}

func newTestRig(t *testing.T, cfg *config.Config) *testRig {
	t.Helper()
	db, err := storage.OpenDB(&config.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	repo := storage.NewRepo(storage.NewSQLiteStore(db))
	player := &fakePlayer{dur: 600, playing: true}
	source := &fakeSource{player: player, url: testVideoURL, valid: true}
	provider := &fakeProvider{snap: snapshotFor("BV1xx411c7mD", 600, true)}
	detector := &fakeDetector{res: &detection.Result{Success: true}}
	markers := &fakeMarkers{}

	e := New(cfg, repo, provider, detector, source, markers, LogIndicator{}, nil)
	t.Cleanup(func() {
		// Navigating to a non-video page tears the session down.
		_ = e.Reinitialize(context.Background(), "https://www.bilibili.com/", false)
	})
	return &testRig{engine: e, repo: repo, source: source, player: player,
		provider: provider, detector: detector, markers: markers}
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestResolveURLBeatsStorage(t *testing.T) {
	cfg := testConfig()
	r := newTestRig(t, cfg)
	ctx := context.Background()

	// A stored no-ads verdict must lose to an explicit share link.
	if err := r.repo.SaveStatus("BV1xx411c7mD", int(StatusNoAds)); err != nil {
		t.Fatal(err)
	}

	url := testVideoURL + "?adskip=61-87,120-145"
	if err := r.engine.Reinitialize(ctx, url, false); err != nil {
		t.Fatal(err)
	}
	if got := r.engine.Status(); got != StatusHasAds {
		t.Fatalf("status = %v, want has_ads", got)
	}
	if got := interval.Serialize(r.engine.CurrentIntervals()); got != "61-87,120-145" {
		t.Fatalf("intervals = %q", got)
	}
	if r.detector.calls.Load() != 0 {
		t.Fatal("detection ran despite url intervals")
	}
}

func TestResolveStoredIntervals(t *testing.T) {
	cfg := testConfig()
	r := newTestRig(t, cfg)
	ctx := context.Background()

	ivs, _ := interval.Parse("10-20")
	if err := r.repo.SaveIntervals("BV1xx411c7mD", storage.VideoInfo{}, ivs); err != nil {
		t.Fatal(err)
	}

	if err := r.engine.Reinitialize(ctx, testVideoURL, false); err != nil {
		t.Fatal(err)
	}
	if got := r.engine.Status(); got != StatusHasAds {
		t.Fatalf("status = %v, want has_ads", got)
	}
	if got := interval.Serialize(r.engine.CurrentIntervals()); got != "10-20" {
		t.Fatalf("intervals = %q", got)
	}
}

func TestResolveWhitelistedVideo(t *testing.T) {
	cfg := testConfig()
	r := newTestRig(t, cfg)
	ctx := context.Background()

	if err := r.repo.MarkNoAds("BV1xx411c7mD"); err != nil {
		t.Fatal(err)
	}
	if err := r.engine.Reinitialize(ctx, testVideoURL, false); err != nil {
		t.Fatal(err)
	}
	if got := r.engine.Status(); got != StatusNoAds {
		t.Fatalf("status = %v, want no_ads", got)
	}
	if r.detector.calls.Load() != 0 {
		t.Fatal("detection ran for a whitelisted video")
	}
}

func TestResolveNoSubtitle(t *testing.T) {
	cfg := testConfig()
	r := newTestRig(t, cfg)
	r.provider.snap = snapshotFor("BV1xx411c7mD", 600, false)

	if err := r.engine.Reinitialize(context.Background(), testVideoURL, false); err != nil {
		t.Fatal(err)
	}
	if got := r.engine.Status(); got != StatusNoSubtitle {
		t.Fatalf("status = %v, want no_subtitle", got)
	}
	if st, ok := r.repo.Status("BV1xx411c7mD"); !ok || VideoStatus(st) != StatusNoSubtitle {
		t.Fatalf("persisted status = %d, %v", st, ok)
	}
}

func TestShortVideoSkipsDetection(t *testing.T) {
	cfg := testConfig()
	r := newTestRig(t, cfg)
	r.provider.snap = snapshotFor("BV1xx411c7mD", 25, true)

	if err := r.engine.Reinitialize(context.Background(), testVideoURL, false); err != nil {
		t.Fatal(err)
	}
	if got := r.engine.Status(); got != StatusPrepare {
		t.Fatalf("status right after attach = %v, want prepare", got)
	}

	waitFor(t, time.Second, func() bool { return r.engine.Status() == StatusUndetected })
	if r.detector.calls.Load() != 0 {
		t.Fatal("detection ran for a short video")
	}
	if st, ok := r.repo.Status("BV1xx411c7mD"); !ok || VideoStatus(st) != StatusUndetected {
		t.Fatalf("persisted status = %d, %v", st, ok)
	}
}

func TestAutoDetectFindsAds(t *testing.T) {
	cfg := testConfig()
	r := newTestRig(t, cfg)
	r.detector.res = resultWithAds(t, "61-87")

	if err := r.engine.Reinitialize(context.Background(), testVideoURL, false); err != nil {
		t.Fatal(err)
	}
	if got := r.engine.Status(); got != StatusPrepare {
		t.Fatalf("status right after attach = %v, want prepare", got)
	}

	waitFor(t, time.Second, func() bool { return r.engine.Status() == StatusHasAds })
	if got := interval.Serialize(r.engine.CurrentIntervals()); got != "61-87" {
		t.Fatalf("intervals = %q", got)
	}
	if r.detector.calls.Load() != 1 {
		t.Fatalf("detector called %d times, want 1", r.detector.calls.Load())
	}
}

func TestManualDetectVerdicts(t *testing.T) {
	cfg := testConfig()
	cfg.AutoDetect = false
	r := newTestRig(t, cfg)
	ctx := context.Background()

	if err := r.engine.Reinitialize(ctx, testVideoURL, false); err != nil {
		t.Fatal(err)
	}

	// First round: the service finds ads.
	r.detector.res = resultWithAds(t, "61-87")
	if err := r.engine.ManualDetect(ctx); err != nil {
		t.Fatal(err)
	}
	if got := r.engine.Status(); got != StatusHasAds {
		t.Fatalf("status = %v, want has_ads", got)
	}
	stored, err := r.repo.LoadIntervals("BV1xx411c7mD")
	if err != nil || interval.Serialize(stored) != "61-87" {
		t.Fatalf("stored intervals = %v, %v", stored, err)
	}
}

func TestManualDetectNoAdsWhitelistsOnce(t *testing.T) {
	cfg := testConfig()
	cfg.AutoDetect = false
	r := newTestRig(t, cfg)
	ctx := context.Background()

	if err := r.engine.Reinitialize(ctx, testVideoURL, false); err != nil {
		t.Fatal(err)
	}

	r.detector.res = &detection.Result{Success: true, HasAds: false}
	if err := r.engine.ManualDetect(ctx); err != nil {
		t.Fatal(err)
	}
	if err := r.engine.ManualDetect(ctx); err != nil {
		t.Fatal(err)
	}

	if got := r.engine.Status(); got != StatusNoAds {
		t.Fatalf("status = %v, want no_ads", got)
	}
	entries, err := r.repo.VideoWhitelist()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("whitelist entries = %d, want 1", len(entries))
	}
}

func TestDetectionFailureReverts(t *testing.T) {
	cfg := testConfig()
	cfg.AutoDetect = false
	r := newTestRig(t, cfg)
	ctx := context.Background()

	if err := r.engine.Reinitialize(ctx, testVideoURL, false); err != nil {
		t.Fatal(err)
	}

	r.detector.err = errors.New("connection refused")
	if err := r.engine.ManualDetect(ctx); err == nil {
		t.Fatal("ManualDetect succeeded despite transport failure")
	}
	if got := r.engine.Status(); got != StatusUndetected {
		t.Fatalf("status after failure = %v, want undetected", got)
	}
}

func TestReinitializeSameVideoIsNoop(t *testing.T) {
	cfg := testConfig()
	cfg.AutoDetect = false
	r := newTestRig(t, cfg)
	ctx := context.Background()

	if err := r.engine.Reinitialize(ctx, testVideoURL, false); err != nil {
		t.Fatal(err)
	}
	before := r.provider.snapCalls.Load()
	if err := r.engine.Reinitialize(ctx, testVideoURL+"?t=42", false); err != nil {
		t.Fatal(err)
	}
	if got := r.provider.snapCalls.Load(); got != before {
		t.Fatalf("same-video reinitialize re-resolved (snapshots %d -> %d)", before, got)
	}
}

func TestPollSkipsInsideWindow(t *testing.T) {
	cfg := testConfig()
	r := newTestRig(t, cfg)
	ctx := context.Background()

	// pct 20 on a 10s interval gives a 2s window starting at 100.
	if err := r.repo.SetSkipPercent(20); err != nil {
		t.Fatal(err)
	}
	r.player.mu.Lock()
	r.player.time = 101
	r.player.mu.Unlock()

	url := testVideoURL + "?adskip=100-110"
	if err := r.engine.Reinitialize(ctx, url, false); err != nil {
		t.Fatal(err)
	}

	waitFor(t, time.Second, func() bool { return r.player.seekCount() > 0 })
	if got := r.player.lastSeek(); got != 110 {
		t.Fatalf("seek target = %v, want 110", got)
	}
}

func TestPollIgnoresOutsideWindow(t *testing.T) {
	cfg := testConfig()
	r := newTestRig(t, cfg)
	ctx := context.Background()

	if err := r.repo.SetSkipPercent(20); err != nil {
		t.Fatal(err)
	}
	r.player.mu.Lock()
	r.player.time = 105
	r.player.mu.Unlock()

	url := testVideoURL + "?adskip=100-110"
	if err := r.engine.Reinitialize(ctx, url, false); err != nil {
		t.Fatal(err)
	}

	time.Sleep(50 * time.Millisecond)
	if got := r.player.seekCount(); got != 0 {
		t.Fatalf("seeked %d times from mid-interval, want 0", got)
	}
}

func TestInSkipWindow(t *testing.T) {
	iv := interval.AdInterval{Start: 100, End: 110}
	cases := []struct {
		name string
		t    float64
		pct  int
		want bool
	}{
		{"at start", 100, 20, true},
		{"inside window", 101.9, 20, true},
		{"at window end", 102, 20, false},
		{"mid interval", 105, 20, false},
		{"before start", 99.9, 20, false},
		{"minimum one second", 100.5, 1, true},
		{"window capped at interval end", 109.5, 100, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := inSkipWindow(iv, tc.t, tc.pct); got != tc.want {
				t.Errorf("inSkipWindow(%v, %v, %d) = %v, want %v", iv, tc.t, tc.pct, got, tc.want)
			}
		})
	}
}

func TestDisabledNeverSkips(t *testing.T) {
	cfg := testConfig()
	r := newTestRig(t, cfg)
	ctx := context.Background()

	if err := r.repo.SetEnabled(false); err != nil {
		t.Fatal(err)
	}
	r.player.mu.Lock()
	r.player.time = 100.2
	r.player.mu.Unlock()

	url := testVideoURL + "?adskip=100-110"
	if err := r.engine.Reinitialize(ctx, url, false); err != nil {
		t.Fatal(err)
	}

	time.Sleep(50 * time.Millisecond)
	if got := r.player.seekCount(); got != 0 {
		t.Fatalf("seeked %d times while disabled, want 0", got)
	}
}

func TestManualSkip(t *testing.T) {
	cfg := testConfig()
	r := newTestRig(t, cfg)
	ctx := context.Background()

	if err := r.repo.SetEnabled(false); err != nil {
		t.Fatal(err)
	}
	r.player.mu.Lock()
	r.player.time = 104
	r.player.mu.Unlock()

	url := testVideoURL + "?adskip=100-110"
	if err := r.engine.Reinitialize(ctx, url, false); err != nil {
		t.Fatal(err)
	}

	iv := interval.AdInterval{Start: 100, End: 110}

	// The time cache has to warm up before a click can validate. The
	// click position sits just ahead of the cached playback time.
	waitFor(t, time.Second, func() bool {
		return r.engine.ManualSkip(ctx, iv, 104.5) == nil
	})
	if got := r.player.lastSeek(); got != 110 {
		t.Fatalf("seek target = %v, want 110", got)
	}
}

func TestManualSkipRefusals(t *testing.T) {
	cfg := testConfig()
	r := newTestRig(t, cfg)
	ctx := context.Background()

	url := testVideoURL + "?adskip=100-110"
	if err := r.engine.Reinitialize(ctx, url, false); err != nil {
		t.Fatal(err)
	}
	iv := interval.AdInterval{Start: 100, End: 110}

	// Auto-skip is on and the uploader is not whitelisted.
	if err := r.engine.ManualSkip(ctx, iv, 104.5); !errors.Is(err, ErrSkipNotAllowed) {
		t.Fatalf("err = %v, want ErrSkipNotAllowed", err)
	}

	if err := r.repo.SetEnabled(false); err != nil {
		t.Fatal(err)
	}

	// Playback is outside the interval.
	r.player.mu.Lock()
	r.player.time = 50
	r.player.mu.Unlock()
	waitFor(t, time.Second, func() bool {
		return errors.Is(r.engine.ManualSkip(ctx, iv, 104.5), ErrOutsideWindow)
	})

	// A click behind the cached playback position would seek backwards.
	r.player.mu.Lock()
	r.player.time = 108
	r.player.mu.Unlock()
	waitFor(t, time.Second, func() bool {
		return errors.Is(r.engine.ManualSkip(ctx, iv, 101), ErrBackwardSkip)
	})
	if got := r.player.seekCount(); got != 0 {
		t.Fatalf("seeked %d times despite refusals, want 0", got)
	}
}

func TestStaleShareLinkDropped(t *testing.T) {
	cfg := testConfig()
	cfg.AutoDetect = false
	r := newTestRig(t, cfg)
	ctx := context.Background()

	// Another video already owns this exact interval list.
	ivs, _ := interval.Parse("61-87,120-145")
	if err := r.repo.SaveIntervals("BV1other111", storage.VideoInfo{}, ivs); err != nil {
		t.Fatal(err)
	}

	url := testVideoURL + "?adskip=61-87,120-145"
	if err := r.engine.Reinitialize(ctx, url, false); err != nil {
		t.Fatal(err)
	}

	if got := r.engine.Status(); got == StatusHasAds {
		t.Fatal("carried-over share link was trusted")
	}
	if got := r.engine.CurrentIntervals(); len(got) != 0 {
		t.Fatalf("intervals = %v, want none", got)
	}
}

func TestConfigurePersistsAndMonitors(t *testing.T) {
	cfg := testConfig()
	cfg.AutoDetect = false
	r := newTestRig(t, cfg)
	ctx := context.Background()

	if err := r.engine.Reinitialize(ctx, testVideoURL, false); err != nil {
		t.Fatal(err)
	}

	ivs, _ := interval.Parse("30-40")
	if err := r.engine.Configure(ivs); err != nil {
		t.Fatal(err)
	}
	if got := r.engine.Status(); got != StatusHasAds {
		t.Fatalf("status = %v, want has_ads", got)
	}
	stored, err := r.repo.LoadIntervals("BV1xx411c7mD")
	if err != nil || interval.Serialize(stored) != "30-40" {
		t.Fatalf("stored = %v, %v", stored, err)
	}

	r.player.mu.Lock()
	r.player.time = 30.2
	r.player.mu.Unlock()
	waitFor(t, time.Second, func() bool { return r.player.seekCount() > 0 })

	// Clearing the intervals removes the stored row.
	if err := r.engine.Configure(nil); err != nil {
		t.Fatal(err)
	}
	stored, err = r.repo.LoadIntervals("BV1xx411c7mD")
	if err != nil || stored != nil {
		t.Fatalf("stored after clear = %v, %v", stored, err)
	}
}

func TestResolveNoSubtitleBeatsShareLink(t *testing.T) {
	cfg := testConfig()
	r := newTestRig(t, cfg)
	r.provider.snap = snapshotFor("BV1xx411c7mD", 600, false)

	url := testVideoURL + "?adskip=61-87"
	if err := r.engine.Reinitialize(context.Background(), url, false); err != nil {
		t.Fatal(err)
	}
	if got := r.engine.Status(); got != StatusNoSubtitle {
		t.Fatalf("status = %v, want no_subtitle", got)
	}
	if got := r.engine.CurrentIntervals(); len(got) != 0 {
		t.Fatalf("intervals = %v, want none", got)
	}
}

func TestResolveFetchFailureBeatsStorage(t *testing.T) {
	cfg := testConfig()
	r := newTestRig(t, cfg)
	ctx := context.Background()

	ivs, _ := interval.Parse("10-20")
	if err := r.repo.SaveIntervals("BV1xx411c7mD", storage.VideoInfo{}, ivs); err != nil {
		t.Fatal(err)
	}
	r.provider.snapErr = errors.New("connection refused")

	if err := r.engine.Reinitialize(ctx, testVideoURL, false); err != nil {
		t.Fatal(err)
	}
	if got := r.engine.Status(); got != StatusUndetected {
		t.Fatalf("status = %v, want undetected", got)
	}
	if got := r.engine.CurrentIntervals(); len(got) != 0 {
		t.Fatalf("intervals = %v, want none while metadata is unreachable", got)
	}
	if r.detector.calls.Load() != 0 {
		t.Fatal("detection ran without metadata")
	}
}

func TestResolveAdoptsStoredVerdict(t *testing.T) {
	cases := []struct {
		name   string
		stored VideoStatus
	}{
		{"has ads without intervals", StatusHasAds},
		{"no subtitle", StatusNoSubtitle},
		{"undetected", StatusUndetected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			r := newTestRig(t, cfg)
			ctx := context.Background()

			if err := r.repo.SaveStatus("BV1xx411c7mD", int(tc.stored)); err != nil {
				t.Fatal(err)
			}
			if err := r.engine.Reinitialize(ctx, testVideoURL, false); err != nil {
				t.Fatal(err)
			}
			if got := r.engine.Status(); got != tc.stored {
				t.Fatalf("status = %v, want stored verdict %v", got, tc.stored)
			}
			if r.detector.calls.Load() != 0 {
				t.Fatal("detection ran despite a stored verdict")
			}
		})
	}
}

func TestNavigationForcesMetadataRefresh(t *testing.T) {
	cfg := testConfig()
	cfg.AutoDetect = false
	r := newTestRig(t, cfg)
	ctx := context.Background()

	if err := r.engine.Reinitialize(ctx, testVideoURL, false); err != nil {
		t.Fatal(err)
	}
	if r.provider.lastForce.Load() {
		t.Fatal("first attach bypassed the metadata cache")
	}

	r.provider.setSnapshot(snapshotFor("BV1yy4y1c7yY", 600, true))
	if err := r.engine.Reinitialize(ctx, "https://www.bilibili.com/video/BV1yy4y1c7yY", false); err != nil {
		t.Fatal(err)
	}
	if !r.provider.lastForce.Load() {
		t.Fatal("navigation did not force a metadata refresh")
	}
}

func TestUploaderWhitelistSuppressesAutoSkip(t *testing.T) {
	cfg := testConfig()
	cfg.AutoDetect = false
	r := newTestRig(t, cfg)
	ctx := context.Background()

	ivs, _ := interval.Parse("100-110")
	if err := r.repo.SaveIntervals("BV1xx411c7mD", storage.VideoInfo{}, ivs); err != nil {
		t.Fatal(err)
	}
	if err := r.repo.AddUploader("uploader"); err != nil {
		t.Fatal(err)
	}

	if err := r.engine.Reinitialize(ctx, testVideoURL, false); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return r.engine.Status() == StatusHasAds })

	r.player.mu.Lock()
	r.player.time = 100.2
	r.player.mu.Unlock()
	time.Sleep(60 * time.Millisecond)
	if got := r.player.seekCount(); got != 0 {
		t.Fatalf("seeked %d times for a whitelisted uploader, want 0", got)
	}

	// Manual skipping stays available for a whitelisted uploader even
	// though auto-skip is globally on.
	iv := interval.AdInterval{Start: 100, End: 110}
	waitFor(t, time.Second, func() bool {
		return r.engine.ManualSkip(ctx, iv, 100.5) == nil
	})
}

func TestReinitializeReplacesPollLoop(t *testing.T) {
	cfg := testConfig()
	cfg.AutoDetect = false
	r := newTestRig(t, cfg)
	ctx := context.Background()

	url := testVideoURL + "?adskip=100-110"
	if err := r.engine.Reinitialize(ctx, url, false); err != nil {
		t.Fatal(err)
	}
	// A forced pass replaces the session; only the new loop may survive.
	if err := r.engine.Reinitialize(ctx, url, true); err != nil {
		t.Fatal(err)
	}

	r.player.mu.Lock()
	r.player.time = 100.2
	r.player.mu.Unlock()
	waitFor(t, time.Second, func() bool { return r.player.seekCount() > 0 })
	if got := r.player.lastSeek(); got != 110 {
		t.Fatalf("seek target = %v, want 110", got)
	}

	// After navigating off the video, no loop may be left polling.
	if err := r.engine.Reinitialize(ctx, "https://www.bilibili.com/", false); err != nil {
		t.Fatal(err)
	}
	before := r.player.seekCount()
	r.player.mu.Lock()
	r.player.time = 100.2
	r.player.mu.Unlock()
	time.Sleep(60 * time.Millisecond)
	if got := r.player.seekCount(); got != before {
		t.Fatalf("seeked %d more times after teardown", got-before)
	}
}

func TestPollCatchesMissedNavigation(t *testing.T) {
	cfg := testConfig()
	cfg.AutoDetect = false
	r := newTestRig(t, cfg)
	ctx := context.Background()

	url := testVideoURL + "?adskip=100-110"
	if err := r.engine.Reinitialize(ctx, url, false); err != nil {
		t.Fatal(err)
	}

	// The page moves on without any navigation event reaching the
	// tracker; the skip poll notices the URL drift.
	r.provider.setSnapshot(snapshotFor("BV1yy4y1c7yY", 600, true))
	r.source.mu.Lock()
	r.source.url = "https://www.bilibili.com/video/BV1yy4y1c7yY"
	r.source.mu.Unlock()

	waitFor(t, time.Second, func() bool {
		id, ok := r.engine.CurrentVideo()
		return ok && id.ID == "BV1yy4y1c7yY"
	})
}

func TestPercentChangeRepaintsMarkers(t *testing.T) {
	cfg := testConfig()
	cfg.AutoDetect = false
	r := newTestRig(t, cfg)
	ctx := context.Background()

	url := testVideoURL + "?adskip=100-110"
	if err := r.engine.Reinitialize(ctx, url, false); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return r.markers.renderCount() >= 1 })

	if err := r.repo.SetSkipPercent(40); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool {
		return r.markers.renderCount() >= 2 && r.markers.lastPercent() == 40
	})
}

func resultWithAds(t *testing.T, serialized string) *detection.Result {
	t.Helper()
	ivs, err := interval.Parse(serialized)
	if err != nil {
		t.Fatal(err)
	}
	return detection.ResultFromIntervals(true, ivs, "")
}
