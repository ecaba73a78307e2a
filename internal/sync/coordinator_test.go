package sync

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/coder/quartz"

	"github.com/rollcall-dev/rollcall/internal/cache"
	"github.com/rollcall-dev/rollcall/internal/connectivity"
	"github.com/rollcall-dev/rollcall/internal/ledger"
	"github.com/rollcall-dev/rollcall/internal/remote"
)

const today = "3/7/2026"

var nineAM = time.Date(2026, time.March, 7, 9, 0, 0, 0, time.Local)

type harness struct {
	clk     *quartz.Mock
	store   *remote.MemStore
	book    *ledger.Book
	monitor *connectivity.Monitor
	coord   *Coordinator
	reports []Report
}

// newHarness builds an OFFLINE engine over a MemStore whose master table
// lists roster with today's date column.
func newHarness(t *testing.T, autoEnroll bool, roster ...string) *harness {
	t.Helper()
	h := &harness{clk: quartz.NewMock(t), store: remote.NewMemStore()}
	h.clk.Set(nineAM)
	discard := log.New(io.Discard, "", 0)

	master := [][]string{{"ID", "3/6/2026", today}}
	for _, id := range roster {
		master = append(master, []string{id})
	}
	h.store.Seed(remote.DefaultMasterName, master)

	dir := t.TempDir()
	h.book = ledger.NewBook(&ledger.Config{
		Dir:         filepath.Join(dir, "data"),
		FallbackDir: filepath.Join(dir, "fallback"),
		Clock:       h.clk,
		Logger:      discard,
	})
	t.Cleanup(func() { h.book.Close() })

	var err error
	h.monitor, err = connectivity.NewMonitor(h.store.Connect, &connectivity.Config{
		ProbeInterval:    30 * time.Second,
		FailureThreshold: 3,
		OnReconnect: func(ctx context.Context) {
			if _, err := h.coord.ReplayUnsynced(ctx); err != nil {
				t.Logf("replay: %v", err)
			}
		},
		Clock:  h.clk,
		Logger: discard,
	})
	if err != nil {
		t.Fatalf("NewMonitor() failed: %v", err)
	}
	inv, err := connectivity.NewInvoker(h.monitor, &connectivity.InvokerConfig{
		MaxAttempts: 3,
		BackoffUnit: 0,
		Clock:       h.clk,
		Logger:      discard,
	})
	if err != nil {
		t.Fatalf("NewInvoker() failed: %v", err)
	}
	h.coord, err = New(h.book, h.store, inv, cache.New(time.Minute), &Config{
		AutoEnroll: autoEnroll,
		OnReplay:   func(r Report) { h.reports = append(h.reports, r) },
		Clock:      h.clk,
		Logger:     discard,
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return h
}

func (h *harness) goOnline(t *testing.T) {
	t.Helper()
	if h.monitor.ForceProbe(context.Background()) != connectivity.Online {
		t.Fatal("probe failed")
	}
}

func (h *harness) record(t *testing.T, id string) ledger.Observation {
	t.Helper()
	obs, err := h.coord.RecordEvent(context.Background(), id)
	if err != nil {
		t.Fatalf("RecordEvent(%q) failed: %v", id, err)
	}
	return obs
}

func (h *harness) ledgerRecord(t *testing.T, id string) (ts []string, daily, master bool) {
	t.Helper()
	l, err := h.book.Today()
	if err != nil {
		t.Fatalf("Today() failed: %v", err)
	}
	rec, ok := l.Record(id)
	if !ok {
		t.Fatalf("ledger has no record for %s", id)
	}
	return rec.Timestamps, rec.SyncedDaily, rec.SyncedMaster
}

func assertTable(t *testing.T, store *remote.MemStore, name string, want [][]string) {
	t.Helper()
	got := store.Snapshot(name)
	for i := range got {
		got[i] = remote.TrimRow(got[i])
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("table %s = %v, want %v", name, got, want)
	}
}

func TestScanScenario(t *testing.T) {
	h := newHarness(t, false, "A123")
	h.goOnline(t)

	// 09:00:00 online
	obs := h.record(t, "A123")
	if !obs.First || obs.Column != "Timestamp1" {
		t.Fatalf("first RecordEvent() = %+v", obs)
	}
	assertTable(t, h.store, today, [][]string{{"ID", "Timestamp1"}, {"A123", "09:00:00"}})
	assertTable(t, h.store, "Master", [][]string{{"ID", "3/6/2026", today}, {"A123", "", "Present"}})
	if _, daily, master := h.ledgerRecord(t, "A123"); !daily || !master {
		t.Errorf("flags after online push = %v, %v", daily, master)
	}

	// 09:00:25 with the remote failing three times
	h.clk.Advance(25 * time.Second)
	h.store.FailNext(3, nil)
	obs = h.record(t, "A123")
	if obs.First || obs.Column != "Timestamp2" || obs.Timestamp != "09:00:25" {
		t.Fatalf("second RecordEvent() = %+v", obs)
	}
	if h.monitor.Online() {
		t.Fatal("three transient failures should leave the system OFFLINE")
	}
	assertTable(t, h.store, today, [][]string{{"ID", "Timestamp1"}, {"A123", "09:00:00"}})
	ts, daily, master := h.ledgerRecord(t, "A123")
	if !reflect.DeepEqual(ts, []string{"09:00:00", "09:00:25"}) || daily || !master {
		t.Errorf("ledger after failure = %v daily=%v master=%v", ts, daily, master)
	}

	// reconnect after the probe interval
	h.clk.Advance(30 * time.Second)
	masterWrites := h.store.Snapshot("Master")
	if h.monitor.Check(context.Background()) != connectivity.Online {
		t.Fatal("Check() should reconnect")
	}
	assertTable(t, h.store, today, [][]string{
		{"ID", "Timestamp1", "Timestamp2"},
		{"A123", "09:00:00", "09:00:25"},
	})
	if got := h.store.Snapshot("Master"); !reflect.DeepEqual(got, masterWrites) {
		t.Errorf("master changed during replay: %v", got)
	}
	if _, daily, master := h.ledgerRecord(t, "A123"); !daily || !master {
		t.Errorf("flags after replay = %v, %v", daily, master)
	}
	// the empty replay on the first connect is not reported
	if len(h.reports) != 1 || h.reports[0].Synced != 1 || h.reports[0].Remaining != 0 {
		t.Errorf("replay reports = %+v", h.reports)
	}
}

func TestOfflineRunConverges(t *testing.T) {
	h := newHarness(t, false, "A1", "B2", "C3")

	for _, id := range []string{"A1", "B2", "A1", "C3", "A1"} {
		h.record(t, id)
		h.clk.Advance(time.Minute)
	}
	if h.store.Calls() != 0 {
		t.Fatalf("offline ingestion made %d remote calls", h.store.Calls())
	}

	h.goOnline(t)

	assertTable(t, h.store, today, [][]string{
		{"ID", "Timestamp1", "Timestamp2", "Timestamp3"},
		{"A1", "09:00:00", "09:02:00", "09:04:00"},
		{"B2", "09:01:00"},
		{"C3", "09:03:00"},
	})
	assertTable(t, h.store, "Master", [][]string{
		{"ID", "3/6/2026", today},
		{"A1", "", "Present"},
		{"B2", "", "Present"},
		{"C3", "", "Present"},
	})

	l, _ := h.book.Today()
	if n := len(l.Unsynced()); n != 0 {
		t.Fatalf("Unsynced() = %d rows after replay", n)
	}

	// a second replay writes nothing
	writes := h.store.Writes()
	if _, err := h.coord.ReplayUnsynced(context.Background()); err != nil {
		t.Fatalf("ReplayUnsynced() failed: %v", err)
	}
	if h.store.Writes() != writes {
		t.Errorf("second replay wrote %d cells", h.store.Writes()-writes)
	}

	// even with the flags lost, pushes detect the remote values
	ctx := context.Background()
	if err := h.coord.pushTimestamps(ctx, today, "A1", []string{"09:00:00", "09:02:00", "09:04:00"}); err != nil {
		t.Fatalf("pushTimestamps() failed: %v", err)
	}
	if err := h.coord.MarkPresentInMaster(ctx, "B2", today); err != nil {
		t.Fatalf("MarkPresentInMaster() failed: %v", err)
	}
	if h.store.Writes() != writes {
		t.Errorf("repeated pushes wrote %d cells", h.store.Writes()-writes)
	}
}

func TestMarkPresentNeverOverwrites(t *testing.T) {
	h := newHarness(t, false)
	h.store.Seed("Master", [][]string{{"ID", today}, {"A1", "Excused"}})
	h.goOnline(t)

	writes := h.store.Writes()
	if err := h.coord.MarkPresentInMaster(context.Background(), "A1", today); err != nil {
		t.Fatalf("MarkPresentInMaster() failed: %v", err)
	}
	if h.store.Writes() != writes {
		t.Error("MarkPresentInMaster() overwrote a non-empty cell")
	}
	assertTable(t, h.store, "Master", [][]string{{"ID", today}, {"A1", "Excused"}})
}

func TestMarkPresentSchemaErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing date column", func(t *testing.T) {
		h := newHarness(t, false, "A1")
		h.store.Seed("Master", [][]string{{"ID", "3/6/2026"}, {"A1"}})
		h.goOnline(t)

		h.record(t, "A1")
		_, daily, master := h.ledgerRecord(t, "A1")
		if !daily || master {
			t.Errorf("flags = %v, %v; want daily synced, master pending", daily, master)
		}
		err := h.coord.MarkPresentInMaster(ctx, "A1", today)
		if !remote.IsSchema(err) || !errors.Is(err, remote.ErrColumnNotFound) {
			t.Errorf("MarkPresentInMaster() err = %v, want column not found", err)
		}
		if !h.monitor.Online() || h.monitor.Snapshot().ConsecutiveFailures != 0 {
			t.Error("schema errors must not count against connectivity")
		}
	})

	t.Run("unknown identifier", func(t *testing.T) {
		h := newHarness(t, false, "A1")
		h.goOnline(t)
		err := h.coord.MarkPresentInMaster(ctx, "Z9", today)
		if !errors.Is(err, remote.ErrRowNotFound) {
			t.Errorf("MarkPresentInMaster() err = %v, want row not found", err)
		}
	})

	t.Run("auto enroll", func(t *testing.T) {
		h := newHarness(t, true, "A1")
		h.goOnline(t)
		if err := h.coord.MarkPresentInMaster(ctx, "Z9", today); err != nil {
			t.Fatalf("MarkPresentInMaster() failed: %v", err)
		}
		assertTable(t, h.store, "Master", [][]string{
			{"ID", "3/6/2026", today},
			{"A1"},
			{"Z9", "", "Present"},
		})
	})
}

func TestFailureThresholdStopsRemoteCalls(t *testing.T) {
	h := newHarness(t, false, "A1")
	h.goOnline(t)

	forbidden := remote.Fatal("get headers", errors.New("403"))
	h.store.FailNext(3, forbidden)
	for i := 0; i < 3; i++ {
		h.record(t, "A1")
		h.clk.Advance(time.Minute)
	}
	if h.monitor.Online() {
		t.Fatal("three swallowed failures should trip the breaker")
	}

	calls := h.store.Calls()
	h.record(t, "A1")
	if h.store.Calls() != calls {
		t.Errorf("OFFLINE RecordEvent made %d remote calls", h.store.Calls()-calls)
	}
	ts, _, _ := h.ledgerRecord(t, "A1")
	if len(ts) != 4 {
		t.Errorf("ledger holds %d timestamps, want 4", len(ts))
	}
}

func TestRecordEventIgnoresBlankInput(t *testing.T) {
	h := newHarness(t, false)
	obs, err := h.coord.RecordEvent(context.Background(), " \n")
	if err != nil || obs.ID != "" {
		t.Errorf("RecordEvent(blank) = %+v, %v", obs, err)
	}
	l, _ := h.book.Today()
	if len(l.Records()) != 0 {
		t.Error("blank input reached the ledger")
	}
}

func TestDispatcherReceivesJobs(t *testing.T) {
	h := newHarness(t, false, "A1")
	h.goOnline(t)

	var jobs []Job
	h.coord.SetDispatcher(DispatchFunc(func(j Job) { jobs = append(jobs, j) }))

	calls := h.store.Calls()
	h.record(t, "A1")
	if h.store.Calls() != calls {
		t.Error("RecordEvent() with a dispatcher must not call the store")
	}
	if len(jobs) != 1 {
		t.Fatalf("dispatched %d jobs, want 1", len(jobs))
	}
	j := jobs[0]
	if j.Identifier != "A1" || j.Column != "Timestamp1" || j.Day.Format("1/2/2006") != today {
		t.Errorf("job = %+v", j)
	}

	if err := h.coord.PushEvent(context.Background(), j); err != nil {
		t.Fatalf("PushEvent() failed: %v", err)
	}
	assertTable(t, h.store, today, [][]string{{"ID", "Timestamp1"}, {"A1", "09:00:00"}})

	// a second push of an already synced row is a no-op
	calls = h.store.Calls()
	if err := h.coord.PushEvent(context.Background(), j); err != nil {
		t.Fatalf("PushEvent() failed: %v", err)
	}
	if h.store.Calls() != calls {
		t.Error("PushEvent() of a synced row called the store")
	}
}

func TestNextFreeColumn(t *testing.T) {
	tests := []struct {
		name  string
		row   []string
		idCol int
		want  int
	}{
		{"id only", []string{"A1"}, 0, 1},
		{"append", []string{"A1", "09:00:00"}, 0, 2},
		{"gap", []string{"A1", "09:00:00", "", "09:10:00"}, 0, 2},
		{"id not first", []string{"x", "A1", "09:00:00"}, 1, 3},
		{"short row", []string{}, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextFreeColumn(tt.row, tt.idCol); got != tt.want {
				t.Errorf("nextFreeColumn() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMissingValues(t *testing.T) {
	tests := []struct {
		have, want, missing []string
	}{
		{nil, []string{"a"}, []string{"a"}},
		{[]string{"a", "b"}, []string{"a", "b"}, nil},
		{[]string{"a"}, []string{"a", "a"}, []string{"a"}},
		{[]string{"", "b"}, []string{"a", "b", "c"}, []string{"a", "c"}},
	}
	for _, tt := range tests {
		if got := missingValues(tt.have, tt.want); !reflect.DeepEqual(got, tt.missing) {
			t.Errorf("missingValues(%v, %v) = %v, want %v", tt.have, tt.want, got, tt.missing)
		}
	}
}
