package db

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/pursuit/internal/command"
	"github.com/banshee-data/pursuit/internal/monitoring"
	"github.com/banshee-data/pursuit/internal/planner"
	"github.com/banshee-data/pursuit/internal/targeting"
	"github.com/banshee-data/pursuit/internal/testutil"
)

func init() {
	monitoring.SetLogger(nil)
}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func fireDecision() planner.Decision {
	target := targeting.Region{X: 280, Y: 100, Width: 80, Height: 80}
	return planner.Decision{
		Action:         planner.Action{Kind: planner.Fire, Magnitude: 3},
		Target:         target,
		HasTarget:      true,
		Classification: targeting.Classify(target, planner.DefaultPolicy().Targeting),
	}
}

func scanDecision() planner.Decision {
	return planner.Decision{Action: planner.Scan(planner.DefaultPolicy())}
}

func TestNewDB_AppliesMigrationsAndPragmas(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 1 || dirty {
		t.Errorf("version = %d dirty = %v, want 1 clean", version, dirty)
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("Failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("Expected journal_mode=wal, got %s", journalMode)
	}

	for _, table := range []string{"runs", "commands", "acks"} {
		var n int
		if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n); err != nil {
			t.Fatalf("Failed to query sqlite_master: %v", err)
		}
		if n != 1 {
			t.Errorf("table %s missing", table)
		}
	}
}

func TestNewDB_ReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	db, err := NewDB(path)
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	if _, err := db.StartRun(t0, map[string]int{}, "test"); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	db.Close()

	db, err = NewDB(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()
	if id, err := db.LatestRunID(); err != nil || id == "" {
		t.Errorf("LatestRunID() = %q, %v; want the earlier run", id, err)
	}
}

func TestMigrateDown(t *testing.T) {
	db := newTestDB(t)
	if err := db.MigrateDown(); err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='commands'`).Scan(&n); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if n != 0 {
		t.Errorf("commands table still present after down migration")
	}
	if err := db.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
}

func TestJournal_RecordsCommandsAndReceipts(t *testing.T) {
	db := newTestDB(t)
	run, err := db.StartRun(t0, planner.DefaultPolicy(), "v1.2.3")
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if len(run.ID) != 36 {
		t.Errorf("run id %q is not a uuid", run.ID)
	}

	scanID, err := run.RecordCommand(command.Command{Opcode: command.OpRotateCW, Magnitude: 50}, scanDecision(), t0)
	if err != nil {
		t.Fatalf("RecordCommand failed: %v", err)
	}
	if err := run.RecordAck(scanID, 'y', t0.Add(1250*time.Millisecond), 1250*time.Millisecond); err != nil {
		t.Fatalf("RecordAck failed: %v", err)
	}

	fireID, err := run.RecordCommand(command.Command{Opcode: command.OpFire, Magnitude: 3}, fireDecision(), t0.Add(2*time.Second))
	if err != nil {
		t.Fatalf("RecordCommand failed: %v", err)
	}
	if err := run.RecordMissedAck(fireID, t0.Add(12*time.Second), 10*time.Second); err != nil {
		t.Fatalf("RecordMissedAck failed: %v", err)
	}

	got, err := db.Commands(run.ID)
	if err != nil {
		t.Fatalf("Commands failed: %v", err)
	}
	receipt := byte('y')
	want := []CommandRecord{
		{
			ID: scanID, RunID: run.ID, Action: "scan_rotate",
			Opcode: command.OpRotateCW, Magnitude: 50, Wire: "3 50\n",
			SentAt: t0, Acked: true, Receipt: &receipt, LatencyMs: 1250,
		},
		{
			ID: fireID, RunID: run.ID, Action: "fire",
			Opcode: command.OpFire, Magnitude: 3, Wire: "5 3\n",
			Target:    &targeting.Region{X: 280, Y: 100, Width: 80, Height: 80},
			Alignment: "centered",
			SentAt:    t0.Add(2 * time.Second), Missed: true, LatencyMs: 10000,
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Commands mismatch (-want +got):\n%s", diff)
	}
}

func TestJournal_RunsAreSeparate(t *testing.T) {
	db := newTestDB(t)
	first, _ := db.StartRun(t0, nil, "")
	second, _ := db.StartRun(t0.Add(time.Hour), nil, "")

	if _, err := first.RecordCommand(command.Command{Opcode: command.OpAdvance, Magnitude: 170}, planner.Decision{Action: planner.Action{Kind: planner.Advance, Magnitude: 170}}, t0); err != nil {
		t.Fatalf("RecordCommand failed: %v", err)
	}

	if cmds, _ := db.Commands(second.ID); len(cmds) != 0 {
		t.Errorf("second run has %d commands, want 0", len(cmds))
	}
	if id, _ := db.LatestRunID(); id != second.ID {
		t.Errorf("LatestRunID() = %s, want %s", id, second.ID)
	}
}

func TestCommandCounts(t *testing.T) {
	db := newTestDB(t)
	run, _ := db.StartRun(t0, nil, "")

	record := func(d planner.Decision) {
		cmd, ok := command.FromAction(d.Action)
		if !ok {
			t.Fatalf("no command for %v", d.Action)
		}
		if _, err := run.RecordCommand(cmd, d, t0); err != nil {
			t.Fatalf("RecordCommand failed: %v", err)
		}
	}
	record(fireDecision())
	record(scanDecision())
	record(scanDecision())
	record(planner.Decision{Action: planner.Action{Kind: planner.Advance, Magnitude: 170}})

	got, err := db.CommandCounts(run.ID)
	if err != nil {
		t.Fatalf("CommandCounts failed: %v", err)
	}
	want := []ActionCount{{"advance", 1}, {"scan_rotate", 2}, {"fire", 1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("CommandCounts mismatch (-want +got):\n%s", diff)
	}
}

func TestSummarizeLatencies(t *testing.T) {
	got := SummarizeLatencies([]float64{400, 100, 300, 200})
	if got.Count != 4 || got.Min != 100 || got.Max != 400 {
		t.Errorf("unexpected bounds: %+v", got)
	}
	if got.Mean != 250 {
		t.Errorf("Mean = %f, want 250", got.Mean)
	}
	if math.Abs(got.StdDev-129.0994) > 1e-3 {
		t.Errorf("StdDev = %f, want ~129.099", got.StdDev)
	}
	if got.P50 != 200 || got.P90 != 400 {
		t.Errorf("P50 = %f P90 = %f, want 200 and 400", got.P50, got.P90)
	}

	if s := SummarizeLatencies(nil); s != (LatencySummary{}) {
		t.Errorf("empty summary = %+v", s)
	}
	if s := SummarizeLatencies([]float64{42}); s.StdDev != 0 || s.P50 != 42 {
		t.Errorf("single sample summary = %+v", s)
	}
}

func TestLatencySummary_CountsMissed(t *testing.T) {
	db := newTestDB(t)
	run, _ := db.StartRun(t0, nil, "")
	for i, lat := range []time.Duration{time.Second, 3 * time.Second} {
		id, err := run.RecordCommand(command.Command{Opcode: command.OpFire, Magnitude: 3}, fireDecision(), t0)
		if err != nil {
			t.Fatalf("RecordCommand %d failed: %v", i, err)
		}
		if err := run.RecordAck(id, 'y', t0.Add(lat), lat); err != nil {
			t.Fatalf("RecordAck failed: %v", err)
		}
	}
	id, _ := run.RecordCommand(command.Command{Opcode: command.OpFire, Magnitude: 3}, fireDecision(), t0)
	if err := run.RecordMissedAck(id, t0.Add(time.Minute), time.Minute); err != nil {
		t.Fatalf("RecordMissedAck failed: %v", err)
	}

	s, err := db.LatencySummary(run.ID)
	if err != nil {
		t.Fatalf("LatencySummary failed: %v", err)
	}
	if s.Count != 2 || s.Missed != 1 || s.Mean != 2000 {
		t.Errorf("LatencySummary = %+v, want 2 acked, 1 missed, mean 2000ms", s)
	}
}

func seedRun(t *testing.T, db *DB) *Run {
	t.Helper()
	run, err := db.StartRun(t0, nil, "")
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	for i, lat := range []time.Duration{800 * time.Millisecond, 1200 * time.Millisecond, 3 * time.Second} {
		id, err := run.RecordCommand(command.Command{Opcode: command.OpRotateCW, Magnitude: 50}, scanDecision(), t0)
		if err != nil {
			t.Fatalf("RecordCommand %d failed: %v", i, err)
		}
		if err := run.RecordAck(id, 'y', t0.Add(lat), lat); err != nil {
			t.Fatalf("RecordAck failed: %v", err)
		}
	}
	return run
}

func serveDebug(t *testing.T, db *DB, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)
	return testutil.ServeDebug(t, mux, method, target)
}

func TestAdminRoutes_Journal(t *testing.T) {
	db := newTestDB(t)
	run := seedRun(t, db)

	rec := serveDebug(t, db, http.MethodGet, "/debug/journal")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp journalResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if resp.RunID != run.ID || len(resp.Commands) != 3 || resp.Latency.Count != 3 {
		t.Errorf("unexpected journal response: run %s, %d commands, %+v", resp.RunID, len(resp.Commands), resp.Latency)
	}

	rec = serveDebug(t, db, http.MethodPost, "/debug/journal")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", rec.Code)
	}
}

func TestAdminRoutes_Charts(t *testing.T) {
	db := newTestDB(t)
	run := seedRun(t, db)

	rec := serveDebug(t, db, http.MethodGet, "/debug/actions?run="+run.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("actions status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "scan_rotate") {
		t.Errorf("actions chart missing series label")
	}

	rec = serveDebug(t, db, http.MethodGet, "/debug/ack-latency.png")
	if rec.Code != http.StatusOK {
		t.Fatalf("latency plot status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %s", ct)
	}
	if !strings.HasPrefix(rec.Body.String(), "\x89PNG") {
		t.Errorf("body is not a PNG")
	}
}

func TestAdminRoutes_LatencyPlotEmptyRun(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.StartRun(t0, nil, ""); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	rec := serveDebug(t, db, http.MethodGet, "/debug/ack-latency.png")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestAdminRoutes_Backup(t *testing.T) {
	db := newTestDB(t)
	seedRun(t, db)

	rec := serveDebug(t, db, http.MethodGet, "/debug/backup")
	if rec.Code != http.StatusOK {
		t.Fatalf("backup status = %d: %s", rec.Code, rec.Body.String())
	}
	zr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("backup is not gzip: %v", err)
	}
	data, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("failed to read backup: %v", err)
	}
	if !strings.HasPrefix(string(data), "SQLite format 3") {
		t.Errorf("backup is not a sqlite database")
	}
}
