package pipeline

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"wqm/internal"
	"wqm/internal/schema"
	"wqm/internal/util"
)

// Merge reconciles every instrument stream and concatenates the rows under
// one canonical header. Instrument order follows streams; rows keep their
// original order. Rows that cannot be reshaped are returned as rejections
// and never reach the table.
func Merge(s *schema.Schema, streams []internal.InstrumentStream, placeholder string, logger *slog.Logger) (internal.OutputTable, []internal.RejectedRow) {
	if logger == nil {
		logger = slog.Default()
	}

	table := internal.OutputTable{
		Header: s.Names(),
		Counts: make(map[internal.InstrumentID]int, len(streams)),
	}
	var rejected []internal.RejectedRow

	for _, stream := range streams {
		if len(stream.Records) == 0 {
			continue
		}
		mapping := MapHeader(s, util.SplitFields(stream.Header))
		for _, token := range mapping.Unknown {
			suggestion, score := s.Suggest(token)
			logger.Warn("dropping unknown column",
				"instrument", stream.Instrument,
				"column", token,
				"closest", suggestion,
				"similarity", strconv.FormatFloat(score, 'f', 2, 64),
			)
		}
		if len(mapping.Missing) > 0 {
			logger.Info("filling missing columns",
				"instrument", stream.Instrument,
				"columns", strings.Join(mapping.Missing, ","),
			)
		}

		for _, rec := range stream.Records {
			row, err := mapping.Apply(util.SplitFields(rec.Text), placeholder)
			if err != nil {
				rowErr := &RowError{Instrument: stream.Instrument, LineNo: rec.LineNo, Reason: err.Error()}
				logger.Warn("rejecting row", "error", rowErr)
				rejected = append(rejected, internal.RejectedRow{
					Instrument: stream.Instrument,
					LineNo:     rec.LineNo,
					Reason:     err.Error(),
					Raw:        rec.Text,
				})
				continue
			}
			table.Rows = append(table.Rows, row)
			table.Counts[stream.Instrument]++
		}
	}

	return table, rejected
}

func WriteTableCSV(w io.Writer, table internal.OutputTable) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(table.Header); err != nil {
		return err
	}
	for _, row := range table.Rows {
		if len(row) != len(table.Header) {
			return fmt.Errorf("%w: refusing to write row of %d fields", ErrSchemaMismatch, len(row))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTableFile writes the table next to path and renames it into place,
// so a failed run never leaves a partial file behind.
func WriteTableFile(path string, table internal.OutputTable) error {
	return writeAtomic(path, func(w io.Writer) error { return WriteTableCSV(w, table) })
}

func WriteRejected(path string, rejected []internal.RejectedRow) error {
	return writeAtomic(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"Reason", "Instrument", "Line", "Raw"}); err != nil {
			return err
		}
		for _, r := range rejected {
			if err := cw.Write([]string{r.Reason, string(r.Instrument), strconv.Itoa(r.LineNo), r.Raw}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

func writeAtomic(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".wqm-*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// OutputPathFor derives the canonical table path from the input path:
// "edited_<name>" in outputDir, or next to the input when outputDir is empty.
func OutputPathFor(inputPath, outputDir string) string {
	dir := outputDir
	if strings.TrimSpace(dir) == "" {
		dir = filepath.Dir(inputPath)
	}
	return filepath.Join(dir, "edited_"+filepath.Base(inputPath))
}

func FailedPathFor(outputPath string) string {
	ext := filepath.Ext(outputPath)
	return strings.TrimSuffix(outputPath, ext) + " - failed.csv"
}

func XLSXPathFor(outputPath string) string {
	ext := filepath.Ext(outputPath)
	return strings.TrimSuffix(outputPath, ext) + ".xlsx"
}
