package pipeline

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"wqm/internal"
	"wqm/internal/schema"
)

func TestMergeOrdersByInstrumentThenLine(t *testing.T) {
	s := schema.Default()
	streams := []internal.InstrumentStream{
		{Instrument: "147", Header: "Timestamp,WQM,SN,Cond(S/m)", Records: []internal.RawRecord{
			{LineNo: 3, Text: "t1,WQM,147,0.1"},
			{LineNo: 5, Text: "t2,WQM,147,0.3"},
		}},
		{Instrument: "148", Header: "", Records: nil},
		{Instrument: "149", Header: "Timestamp,WQM,SN,Temp(C)", Records: []internal.RawRecord{
			{LineNo: 2, Text: "t1,WQM,149,7.1"},
			{LineNo: 4, Text: "t2,WQM,149"},
			{LineNo: 6, Text: "t3,WQM,149,7.3"},
		}},
	}

	table, rejected := Merge(s, streams, "N/A", nil)
	if len(table.Header) != s.Len() {
		t.Fatalf("header len=%d", len(table.Header))
	}
	var order []string
	for _, row := range table.Rows {
		if len(row) != s.Len() {
			t.Fatalf("row len=%d", len(row))
		}
		order = append(order, row[2]+"@"+row[0])
	}
	if strings.Join(order, " ") != "147@t1 147@t2 149@t1 149@t3" {
		t.Fatalf("order=%v", order)
	}
	if table.Counts["147"] != 2 || table.Counts["149"] != 2 || table.Counts["148"] != 0 {
		t.Fatalf("counts=%v", table.Counts)
	}
	if len(rejected) != 1 || rejected[0].LineNo != 4 || rejected[0].Instrument != "149" {
		t.Fatalf("rejected=%+v", rejected)
	}
	if table.Rows[2][7] != "7.1" || table.Rows[2][6] != "N/A" {
		t.Fatalf("row=%v", table.Rows[2])
	}
}

func TestWriteTableFileIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "edited_log.csv")
	table := internal.OutputTable{
		Header: []string{"Timestamp", "NTU"},
		Rows:   [][]string{{"t1", "2.3"}, {"t2", "N/A"}},
	}
	if err := WriteTableFile(path, table); err != nil {
		t.Fatalf("write: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 3 || records[2][1] != "N/A" {
		t.Fatalf("records=%v", records)
	}

	bad := internal.OutputTable{Header: []string{"Timestamp", "NTU"}, Rows: [][]string{{"t1"}}}
	err = WriteTableFile(path, bad)
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("err=%v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("leftover files: %v", entries)
	}
	again, _ := os.ReadFile(path)
	if !strings.Contains(string(again), "t2,N/A") {
		t.Fatalf("previous output clobbered: %q", again)
	}
}

func TestWriteRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edited_log - failed.csv")
	rejected := []internal.RejectedRow{{Instrument: "148", LineNo: 13, Reason: "short", Raw: "t,WQM,148,1"}}
	if err := WriteRejected(path, rejected); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, _ := os.ReadFile(path)
	want := "Reason,Instrument,Line,Raw\nshort,148,13,\"t,WQM,148,1\"\n"
	if string(data) != want {
		t.Fatalf("got %q", data)
	}
}

func TestOutputPaths(t *testing.T) {
	in := filepath.Join("data", "site.csv")
	if got := OutputPathFor(in, ""); got != filepath.Join("data", "edited_site.csv") {
		t.Fatalf("got=%s", got)
	}
	out := OutputPathFor(in, "out")
	if out != filepath.Join("out", "edited_site.csv") {
		t.Fatalf("got=%s", out)
	}
	if got := FailedPathFor(out); got != filepath.Join("out", "edited_site - failed.csv") {
		t.Fatalf("got=%s", got)
	}
	if got := XLSXPathFor(out); got != filepath.Join("out", "edited_site.xlsx") {
		t.Fatalf("got=%s", got)
	}
}
