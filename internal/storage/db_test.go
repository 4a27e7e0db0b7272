package storage

import (
	"path/filepath"
	"testing"
	"time"

	"wqm/internal"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "wqm.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestUpsertLogKeepsStatusUntilContentChanges(t *testing.T) {
	db := openTestDB(t)

	row := internal.LogRow{
		Source:    string(internal.SourceAttachment),
		MessageID: "m1",
		FileName:  "site.csv",
		Hash:      "aaa",
		Status:    string(internal.LogFetched),
		RawRef:    "/tmp/site.csv",
	}
	first, err := db.UpsertLog(row)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := db.UpdateLogStatus(first.ID, internal.LogProcessed); err != nil {
		t.Fatalf("status: %v", err)
	}

	again, err := db.UpsertLog(row)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if again.ID != first.ID || again.Status != string(internal.LogProcessed) {
		t.Fatalf("id=%d status=%s", again.ID, again.Status)
	}

	row.Hash = "bbb"
	changed, err := db.UpsertLog(row)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if changed.Status != string(internal.LogFetched) {
		t.Fatalf("status=%s", changed.Status)
	}

	pending, err := db.ListLogsByStatus(internal.LogFetched, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != first.ID {
		t.Fatalf("pending=%v", pending)
	}
}

func TestMustLogByIDMissing(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.MustLogByID(42); err == nil {
		t.Fatalf("expected error")
	}
}

func TestInsertRunWithRejections(t *testing.T) {
	db := openTestDB(t)

	run := internal.RunRow{
		ID:         "run-1",
		InputPath:  "in.csv",
		OutputPath: "edited_in.csv",
		Status:     "ok",
		Rows:       3,
		Rejected:   1,
	}
	counts := map[internal.InstrumentID]int{"147": 2, "148": 1}
	rejected := []internal.RejectedRow{{Instrument: "148", LineNo: 7, Reason: "short row", Raw: "WQM,148,1"}}
	if err := db.InsertRun(run, counts, map[string]float64{"totalMs": 4}, rejected); err != nil {
		t.Fatalf("insert: %v", err)
	}

	runs, err := db.ListRuns(5)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 1 || runs[0].Rows != 3 || runs[0].LogID != nil {
		t.Fatalf("runs=%+v", runs)
	}
	if runs[0].CountsJSON != `{"147":2,"148":1}` {
		t.Fatalf("counts=%s", runs[0].CountsJSON)
	}

	got, err := db.ListRejections("run-1")
	if err != nil {
		t.Fatalf("rejections: %v", err)
	}
	if len(got) != 1 || got[0].LineNo != 7 || got[0].Instrument != "148" {
		t.Fatalf("rejections=%+v", got)
	}
}

func TestUpsertEmailAndLastFetch(t *testing.T) {
	db := openTestDB(t)

	msg := internal.FetchedMailMessage{Provider: "imap", MessageID: "<x@y>", Subject: "logs"}
	id1, err := db.UpsertEmail(msg, "h1", "/raw/h1.eml")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	id2, err := db.UpsertEmail(msg, "h1", "/raw/h1.eml")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("ids=%d,%d", id1, id2)
	}

	if at, err := db.LastFetch("gmail"); err != nil || !at.IsZero() {
		t.Fatalf("at=%v err=%v", at, err)
	}
	when := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := db.SetLastFetch("gmail", when); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := db.SetLastFetch("gmail", when.Add(time.Hour)); err != nil {
		t.Fatalf("set: %v", err)
	}
	at, err := db.LastFetch("gmail")
	if err != nil || !at.Equal(when.Add(time.Hour)) {
		t.Fatalf("at=%v err=%v", at, err)
	}
	if at, err := db.LastFetch("imap"); err != nil || !at.IsZero() {
		t.Fatalf("imap at=%v err=%v", at, err)
	}
}
