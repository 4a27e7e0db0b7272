package pipeline

import (
	"errors"
	"strings"
	"testing"

	"wqm/internal"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestReadLines(t *testing.T) {
	lines, err := ReadLines(strings.NewReader("a\r\nb\n\nc"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.Join(lines, "|") != "a|b||c" {
		t.Fatalf("lines=%q", lines)
	}
	if _, err := ReadLines(failingReader{}); !errors.Is(err, ErrInputUnavailable) {
		t.Fatalf("err=%v", err)
	}
}

func TestExtractHeadersDistinctInOrder(t *testing.T) {
	lines := []string{
		`"Timestamp","WQM","Cond(S/m)"`,
		"t,WQM,147,1",
		"Timestamp,WQM,Cond(S/m)  ",
		"Timestamp,WQM,SN,Cond(S/m)",
		"Timestamp,Temp(C)",
	}
	got := ExtractHeaders(lines, "Cond(S/m)")
	if strings.Join(got, "|") != "Timestamp,WQM,Cond(S/m)|Timestamp,WQM,SN,Cond(S/m)" {
		t.Fatalf("got=%q", got)
	}
	if len(ExtractHeaders(lines, "Missing(x)")) != 0 {
		t.Fatalf("expected no headers")
	}
	if ExtractHeaders(lines, "") != nil {
		t.Fatalf("expected nil for empty marker")
	}
}

const mailWithLogs = "From: tech@lake.example\r\n" +
	"Subject: Bay station 060115\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"outer\"\r\n" +
	"\r\n" +
	"--outer\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Readings</p><table>" +
	"<tr><th>Timestamp</th><th>WQM</th><th>SN</th><th>Cond(S/m)</th></tr>" +
	"<tr><td>060115  093000</td><td>WQM</td><td>147</td><td>3.98</td></tr>" +
	"</table><table><tr><td>lonely</td></tr></table>\r\n" +
	"--outer\r\n" +
	"Content-Type: text/csv\r\n" +
	"Content-Disposition: attachment; filename=\"bay.csv\"\r\n" +
	"\r\n" +
	"Timestamp,WQM,SN,Cond(S/m)\r\n" +
	"060115 093000,WQM,147,3.98\r\n" +
	"--outer\r\n" +
	"Content-Type: image/png\r\n" +
	"Content-Disposition: attachment; filename=\"site.png\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"iVBORw0KGgo=\r\n" +
	"--outer--\r\n"

func TestExtractLogsFromEmailRaw(t *testing.T) {
	logs, subject, err := ExtractLogsFromEmailRaw([]byte(mailWithLogs))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if subject != "Bay station 060115" {
		t.Fatalf("subject=%q", subject)
	}
	if len(logs) != 2 {
		t.Fatalf("logs=%d", len(logs))
	}
	if logs[0].FileName != "bay.csv" || logs[0].Source != internal.SourceAttachment {
		t.Fatalf("first=%+v", logs[0])
	}
	if logs[1].Source != internal.SourceMailTable || logs[1].FileName != "mail_table_1.csv" {
		t.Fatalf("second=%+v", logs[1])
	}
	want := "Timestamp,WQM,SN,Cond(S/m)\n060115 093000,WQM,147,3.98\n"
	if string(logs[1].Content) != want {
		t.Fatalf("table=%q", logs[1].Content)
	}
}
