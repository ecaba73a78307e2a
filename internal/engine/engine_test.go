package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"

	"github.com/rollcall-dev/rollcall/internal/config"
	"github.com/rollcall-dev/rollcall/internal/display"
	"github.com/rollcall-dev/rollcall/internal/remote"
	"github.com/rollcall-dev/rollcall/internal/token"
)

const today = "3/7/2026"

var nineAM = time.Date(2026, time.March, 7, 9, 0, 0, 0, time.Local)

// recorder is a display surface that keeps everything it is shown.
type recorder struct {
	mu       sync.Mutex
	results  []token.Result
	statuses []display.Status
}

func (r *recorder) ShowResult(res token.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recorder) ShowStatus(s display.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

func testConfig(dir string) *config.Config {
	cfg := config.Default()
	cfg.Backend = config.BackendMemory
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.FallbackDir = filepath.Join(dir, "fallback")
	cfg.Sync.BackoffUnit = 0
	// the worker's timers must stay beyond every Advance in these tests
	cfg.Sync.WorkerWait = time.Hour
	cfg.Sync.WorkerProbeInterval = 2 * time.Hour
	return cfg
}

func newStore(roster ...string) *remote.MemStore {
	store := remote.NewMemStore()
	master := [][]string{{"ID", today}}
	for _, id := range roster {
		master = append(master, []string{id})
	}
	store.Seed(remote.DefaultMasterName, master)
	store.Seed(remote.DefaultTemplateName, [][]string{{"ID", "Timestamp1"}})
	return store
}

func newEngine(t *testing.T, cfg *config.Config, store remote.Store, clk quartz.Clock, surfaces ...display.Surface) *Engine {
	t.Helper()
	e, err := New(context.Background(), &Options{
		Config:   cfg,
		Store:    store,
		Clock:    clk,
		Surfaces: surfaces,
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return e
}

// eventually polls cond until it holds or a second has passed.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewRequiresConfig(t *testing.T) {
	if _, err := New(context.Background(), nil); err == nil {
		t.Error("New(nil) should fail")
	}
	if _, err := New(context.Background(), &Options{}); err == nil {
		t.Error("New() without config should fail")
	}
}

func TestSubmitCooldown(t *testing.T) {
	clk := quartz.NewMock(t)
	clk.Set(nineAM)
	store := newStore("A123")
	rec := &recorder{}
	e := newEngine(t, testConfig(t.TempDir()), store, clk, rec)

	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer e.Stop()

	if !e.Monitor().Online() {
		t.Fatalf("engine should be online after start: %s", e.Monitor().Snapshot().LastError)
	}

	r := e.Submit(ctx, "A123")
	if r.Kind != token.FirstScan || r.Timestamp != "09:00:00" || r.Column != "Timestamp1" {
		t.Fatalf("first Submit() = %+v", r)
	}
	if !r.Online {
		t.Error("first scan should report online")
	}

	clk.Advance(5 * time.Second)
	r = e.Submit(ctx, "A123")
	if r.Kind != token.Cooldown {
		t.Fatalf("second Submit() kind = %s, want cooldown", r.Kind)
	}
	if r.Remaining != 13*time.Second {
		t.Errorf("Remaining = %s, want 13s", r.Remaining)
	}

	l, err := e.Book().Today()
	if err != nil {
		t.Fatalf("Today() failed: %v", err)
	}
	got, _ := l.Record("A123")
	if got.Count() != 1 {
		t.Errorf("ledger events = %d, want 1", got.Count())
	}

	clk.Advance(13 * time.Second)
	r = e.Submit(ctx, "A123")
	if r.Kind != token.RepeatScan || r.Column != "Timestamp2" {
		t.Fatalf("third Submit() = %+v", r)
	}
	if r.Elapsed != 18*time.Second {
		t.Errorf("Elapsed = %s, want 18s", r.Elapsed)
	}

	if rec.count() != 3 {
		t.Errorf("surface saw %d results, want 3", rec.count())
	}

	eventually(t, "remote sync", func() bool {
		rec, _ := l.Record("A123")
		return rec.Synced()
	})
	daily := store.Snapshot(today)
	if len(daily) != 2 || daily[1][0] != "A123" {
		t.Fatalf("daily table = %v", daily)
	}
	master := store.Snapshot(remote.DefaultMasterName)
	if master[1][1] != "Present" {
		t.Errorf("master row = %v, want Present", master[1])
	}
}

func TestSubmitIgnoresBlank(t *testing.T) {
	clk := quartz.NewMock(t)
	clk.Set(nineAM)
	rec := &recorder{}
	e := newEngine(t, testConfig(t.TempDir()), newStore(), clk, rec)
	defer e.Stop()

	for _, in := range []string{"", "   ", "\t\n"} {
		if r := e.Submit(context.Background(), in); r.Kind != token.Ignored {
			t.Errorf("Submit(%q) = %s, want ignored", in, r.Kind)
		}
	}
	if rec.count() != 0 {
		t.Errorf("ignored scans reached the surface")
	}
}

func TestOfflineStartAndResync(t *testing.T) {
	clk := quartz.NewMock(t)
	clk.Set(nineAM)
	store := newStore("A123", "B456")
	store.SetReachable(false)
	rec := &recorder{}
	e := newEngine(t, testConfig(t.TempDir()), store, clk, rec)

	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer e.Stop()

	if e.Monitor().Online() {
		t.Fatal("engine should start offline when the store is unreachable")
	}

	for _, id := range []string{"A123", "B456"} {
		r := e.Submit(ctx, id)
		if r.Kind != token.FirstScan || r.Online {
			t.Fatalf("Submit(%s) = %+v, want offline first scan", id, r)
		}
	}
	if store.Writes() != 0 {
		t.Fatalf("offline scans wrote %d cells", store.Writes())
	}

	store.SetReachable(true)
	if err := e.Resync(); err != nil {
		t.Fatalf("Resync() failed: %v", err)
	}

	l, err := e.Book().Today()
	if err != nil {
		t.Fatalf("Today() failed: %v", err)
	}
	eventually(t, "replay", func() bool { return len(l.Unsynced()) == 0 })

	daily := store.Snapshot(today)
	if len(daily) != 3 {
		t.Fatalf("daily table = %v, want header plus two rows", daily)
	}
	status := e.Status()
	if status.Connectivity.StateName != "ONLINE" {
		t.Errorf("state = %s, want ONLINE", status.Connectivity.StateName)
	}
	if status.LastReplay == nil || status.LastReplay.Synced != 2 {
		t.Errorf("last replay = %+v, want 2 synced", status.LastReplay)
	}
}

func TestReplayDay(t *testing.T) {
	clk := quartz.NewMock(t)
	clk.Set(nineAM)
	store := newStore("A123")
	store.SetReachable(false)
	e := newEngine(t, testConfig(t.TempDir()), store, clk)
	defer e.Stop()

	ctx := context.Background()
	if r := e.Submit(ctx, "A123"); r.Kind != token.FirstScan {
		t.Fatalf("Submit() = %+v", r)
	}

	if _, err := e.Replay(ctx, nineAM); !errors.Is(err, ErrOffline) {
		t.Fatalf("Replay() offline error = %v, want ErrOffline", err)
	}

	store.SetReachable(true)
	report, err := e.Replay(ctx, nineAM)
	if err != nil {
		t.Fatalf("Replay() failed: %v", err)
	}
	if report.Day != today || report.Synced != 1 || report.Remaining != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestRepeatAfterRestart(t *testing.T) {
	clk := quartz.NewMock(t)
	clk.Set(nineAM)
	cfg := testConfig(t.TempDir())
	store := newStore("A123")
	store.SetReachable(false)

	first := newEngine(t, cfg, store, clk)
	if r := first.Submit(context.Background(), "A123"); r.Kind != token.FirstScan {
		t.Fatalf("Submit() = %+v", r)
	}
	if err := first.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	clk.Advance(5 * time.Minute)
	second := newEngine(t, cfg, store, clk)
	defer second.Stop()

	r := second.Submit(context.Background(), "A123")
	if r.Kind != token.RepeatScan {
		t.Fatalf("Submit() after restart = %s, want repeat", r.Kind)
	}
	if r.Elapsed != 5*time.Minute {
		t.Errorf("Elapsed = %s, want 5m", r.Elapsed)
	}
}

func TestStartTwice(t *testing.T) {
	clk := quartz.NewMock(t)
	clk.Set(nineAM)
	e := newEngine(t, testConfig(t.TempDir()), newStore(), clk)
	defer e.Stop()

	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := e.Start(ctx); err == nil {
		t.Error("second Start() should fail")
	}
}

// blockingStore holds the first InsertRow until release is closed.
type blockingStore struct {
	*remote.MemStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) InsertRow(ctx context.Context, t remote.Table, row int, values []string) error {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
	}
	return s.MemStore.InsertRow(ctx, t, row, values)
}

func TestStopDrainsAfterCancel(t *testing.T) {
	clk := quartz.NewMock(t)
	clk.Set(nineAM)
	store := &blockingStore{
		MemStore: newStore("A123", "B456"),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	e := newEngine(t, testConfig(t.TempDir()), store, clk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if r := e.Submit(ctx, "A123"); r.Kind != token.FirstScan {
		t.Fatalf("Submit(A123) = %+v", r)
	}
	select {
	case <-store.entered:
	case <-time.After(time.Second):
		t.Fatal("push of A123 never reached the store")
	}
	if r := e.Submit(ctx, "B456"); r.Kind != token.FirstScan {
		t.Fatalf("Submit(B456) = %+v", r)
	}

	// an interrupt cancels the caller's context before shutdown
	cancel()
	close(store.release)
	if err := e.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	daily := store.Snapshot(today)
	for _, id := range []string{"A123", "B456"} {
		row := remote.FindRow(daily, 0, id)
		if row < 0 {
			t.Errorf("daily table after shutdown lacks %s: %v", id, daily)
			continue
		}
		if daily[row][1] != "09:00:00" {
			t.Errorf("daily row for %s = %v", id, daily[row])
		}
	}
	master := store.Snapshot(remote.DefaultMasterName)
	for _, id := range []string{"A123", "B456"} {
		if row := remote.FindRow(master, 0, id); row < 0 || len(master[row]) < 2 || master[row][1] != "Present" {
			t.Errorf("master after shutdown = %v, want %s present", master, id)
		}
	}
}
