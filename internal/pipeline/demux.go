package pipeline

import (
	"fmt"
	"log/slog"
	"strings"

	"wqm/internal"
	"wqm/internal/util"
)

// HeaderQueue hands out extracted headers one at a time. Claimed headers
// are gone for good; a queue must have a single consumer.
type HeaderQueue struct {
	headers []string
}

func NewHeaderQueue(headers []string) *HeaderQueue {
	q := &HeaderQueue{headers: make([]string, len(headers))}
	copy(q.headers, headers)
	return q
}

func (q *HeaderQueue) Claim() (string, bool) {
	if len(q.headers) == 0 {
		return "", false
	}
	h := q.headers[0]
	q.headers = q.headers[1:]
	return h, true
}

func (q *HeaderQueue) Remaining() int { return len(q.headers) }

type DemuxOptions struct {
	Instruments  []internal.InstrumentID
	Label        string
	HeaderMarker string
	Logger       *slog.Logger
}

type Demuxed struct {
	Streams   []internal.InstrumentStream
	Unmatched int
}

// MarkerFor is the token that tags an instrument's data lines, e.g. "WQM,147".
func MarkerFor(label string, id internal.InstrumentID) string {
	return label + "," + string(id)
}

// Demultiplex splits an interleaved log into one stream per registered
// instrument in a single pass. Each line goes to the first instrument whose
// marker it carries; lines with no marker are dropped. Every instrument then
// claims the next header from headers in registry order.
func Demultiplex(lines []string, opts DemuxOptions, headers *HeaderQueue) (Demuxed, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	markers := make([]string, len(opts.Instruments))
	for i, id := range opts.Instruments {
		markers[i] = MarkerFor(opts.Label, id)
	}

	buckets := make([][]internal.RawRecord, len(opts.Instruments))
	unmatched := 0
	for i, raw := range lines {
		line := util.CleanLine(raw)
		if line == "" {
			continue
		}
		if opts.HeaderMarker != "" && strings.Contains(line, opts.HeaderMarker) {
			continue
		}
		routed := false
		for j, marker := range markers {
			if util.ContainsToken(line, marker) {
				buckets[j] = append(buckets[j], internal.RawRecord{LineNo: i + 1, Text: line})
				routed = true
				break
			}
		}
		if !routed {
			unmatched++
			logger.Debug("line matches no instrument", "line", i+1)
		}
	}

	out := Demuxed{Streams: make([]internal.InstrumentStream, 0, len(opts.Instruments)), Unmatched: unmatched}
	for i, id := range opts.Instruments {
		header, ok := headers.Claim()
		if !ok {
			if len(buckets[i]) > 0 {
				return Demuxed{}, fmt.Errorf("%w: instrument %s has %d data lines", ErrNoHeaderFound, id, len(buckets[i]))
			}
			logger.Warn("no header left for instrument", "instrument", id)
			out.Streams = append(out.Streams, internal.InstrumentStream{Instrument: id})
			continue
		}
		out.Streams = append(out.Streams, internal.InstrumentStream{
			Instrument: id,
			Header:     header,
			Records:    buckets[i],
		})
	}

	return out, nil
}
