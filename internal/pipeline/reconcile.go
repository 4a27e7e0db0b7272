package pipeline

import (
	"io"
	"log/slog"

	"wqm/internal"
	"wqm/internal/schema"
)

type Options struct {
	Schema       *schema.Schema
	Instruments  []internal.InstrumentID
	Label        string
	HeaderMarker string
	Placeholder  string
	Logger       *slog.Logger
}

type Result struct {
	Table     internal.OutputTable
	Rejected  []internal.RejectedRow
	Lines     int
	Headers   int
	Unmatched int
}

// Reconcile runs the whole reconciliation over one raw log held in r.
func Reconcile(r io.Reader, opts Options) (Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Schema == nil {
		opts.Schema = schema.Default()
	}

	lines, err := ReadLines(r)
	if err != nil {
		return Result{}, err
	}

	headers := ExtractHeaders(lines, opts.HeaderMarker)
	if len(headers) == 0 {
		logger.Warn("no header lines found", "marker", opts.HeaderMarker)
	}

	demuxed, err := Demultiplex(lines, DemuxOptions{
		Instruments:  opts.Instruments,
		Label:        opts.Label,
		HeaderMarker: opts.HeaderMarker,
		Logger:       logger,
	}, NewHeaderQueue(headers))
	if err != nil {
		return Result{}, err
	}

	table, rejected := Merge(opts.Schema, demuxed.Streams, opts.Placeholder, logger)
	logger.Info("reconciled log",
		"lines", len(lines),
		"headers", len(headers),
		"rows", len(table.Rows),
		"rejected", len(rejected),
		"unmatched", demuxed.Unmatched,
	)

	return Result{
		Table:     table,
		Rejected:  rejected,
		Lines:     len(lines),
		Headers:   len(headers),
		Unmatched: demuxed.Unmatched,
	}, nil
}
