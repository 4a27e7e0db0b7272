package internal

type InstrumentID string

type LogSource string

const (
	SourceFile       LogSource = "file"
	SourceWatch      LogSource = "watch"
	SourceAttachment LogSource = "attachment"
	SourceMailTable  LogSource = "mail_table"
)

type LogStatus string

const (
	LogFetched   LogStatus = "fetched"
	LogProcessed LogStatus = "processed"
	LogSkipped   LogStatus = "skipped"
	LogFailed    LogStatus = "failed"
)

// RawRecord is one cleaned line of the input attributed to an instrument.
type RawRecord struct {
	LineNo int
	Text   string
}

// InstrumentStream is one instrument's slice of an interleaved log: the
// header it claimed followed by its data lines in original order.
type InstrumentStream struct {
	Instrument InstrumentID
	Header     string
	Records    []RawRecord
}

type RejectedRow struct {
	Instrument InstrumentID
	LineNo     int
	Reason     string
	Raw        string
}

// OutputTable is the canonical header plus every reconciled row.
// Rows are grouped by instrument in registry order.
type OutputTable struct {
	Header []string
	Rows   [][]string
	Counts map[InstrumentID]int
}

type LogRow struct {
	ID         int
	Source     string
	MessageID  string
	FileName   string
	ReceivedAt string
	Hash       string
	Status     string
	RawRef     string
}

type RunRow struct {
	ID          string
	LogID       *int
	InputPath   string
	OutputPath  string
	Status      string
	Rows        int
	Rejected    int
	CountsJSON  string
	TimingsJSON string
	Error       string
	CreatedAt   string
}

type FetchedMailMessage struct {
	Provider   string
	MessageID  string
	Subject    string
	From       string
	ReceivedAt string
	Raw        []byte
}

// ExtractedLog is an instrument log pulled out of a mail message.
type ExtractedLog struct {
	FileName string
	Source   LogSource
	Content  []byte
}
