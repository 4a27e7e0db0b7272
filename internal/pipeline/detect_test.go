package pipeline

import (
	"testing"

	"wqm/internal"
)

func TestDetectInstrumentLog(t *testing.T) {
	opts := Options{Instruments: []internal.InstrumentID{"147", "148"}, Label: "WQM", HeaderMarker: "Cond(S/m)"}
	log := []byte("Timestamp,WQM,SN,Cond(S/m)\nt,WQM,147,1\nt,WQM,148,2\n")

	cases := []struct {
		name    string
		file    string
		content []byte
		isLog   bool
	}{
		{"full log", "site.csv", log, true},
		{"log without extension", "site", log, true},
		{"notes", "notes.txt", []byte("see you at the dock"), false},
		{"one instrument no header", "x.csv", []byte("t,WQM,147,1"), false},
		{"header only", "x.dat", []byte("Timestamp,Cond(S/m)"), true},
	}
	for _, tc := range cases {
		got := DetectInstrumentLog(tc.file, tc.content, opts)
		if got.IsLog != tc.isLog {
			t.Fatalf("%s: got %+v", tc.name, got)
		}
		if got.Score < 0 || got.Score > 1 {
			t.Fatalf("%s: score=%v", tc.name, got.Score)
		}
	}
}
