package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"wqm/internal"
	"wqm/internal/config"
	"wqm/internal/logging"
	"wqm/internal/schema"
	"wqm/internal/storage"
)

const (
	runOK     = "ok"
	runFailed = "failed"
)

type ProcessingService struct {
	db     *storage.DB
	cfg    config.Config
	schema *schema.Schema
}

// NewProcessingService wires reconciliation to the run ledger. db may be nil
// for ReconcileFile, in which case runs are not recorded; the stored-log
// operations need it.
func NewProcessingService(db *storage.DB, cfg config.Config, s *schema.Schema) *ProcessingService {
	if s == nil {
		s = schema.Default()
	}
	return &ProcessingService{db: db, cfg: cfg, schema: s}
}

func OptionsFromConfig(cfg config.Config, s *schema.Schema) Options {
	ids := make([]internal.InstrumentID, 0, len(cfg.Instruments))
	for _, id := range cfg.Instruments {
		ids = append(ids, internal.InstrumentID(id))
	}
	return Options{
		Schema:       s,
		Instruments:  ids,
		Label:        cfg.Label,
		HeaderMarker: cfg.HeaderMarker,
		Placeholder:  cfg.Placeholder,
	}
}

type RunResult struct {
	RunID      string
	InputPath  string
	OutputPath string
	XLSXPath   string
	FailedPath string
	Rows       int
	Rejected   int
	Unmatched  int
	Counts     map[internal.InstrumentID]int
}

type PendingResult struct {
	Processed int
	Skipped   int
	Failed    int
}

// ReconcileFile reconciles one log file on disk. An empty outputPath is
// derived from the input name and the configured output directory.
func (s *ProcessingService) ReconcileFile(ctx context.Context, inputPath, outputPath string) (RunResult, error) {
	return s.reconcile(ctx, inputPath, outputPath, nil)
}

func (s *ProcessingService) reconcile(ctx context.Context, inputPath, outputPath string, logID *int) (RunResult, error) {
	if err := ctx.Err(); err != nil {
		return RunResult{}, err
	}

	start := time.Now()
	runID := uuid.NewString()
	logger := logging.WithRun(runID, "input", inputPath)

	if outputPath == "" {
		outputPath = OutputPathFor(inputPath, s.cfg.OutputDir)
	}
	result := RunResult{RunID: runID, InputPath: inputPath}

	table, rejected, unmatched, err := s.run(inputPath, outputPath, &result, logger)
	timings := map[string]float64{"totalMs": float64(time.Since(start).Milliseconds())}
	run := internal.RunRow{
		ID:         runID,
		LogID:      logID,
		InputPath:  inputPath,
		OutputPath: firstNonEmpty(result.OutputPath, result.XLSXPath),
		Status:     runOK,
	}
	if err != nil {
		run.Status = runFailed
		run.Error = err.Error()
		logger.Error("reconciliation failed", "error", err)
		s.recordRun(run, map[internal.InstrumentID]int{}, timings, nil, logger)
		return result, err
	}

	result.Rows = len(table.Rows)
	result.Rejected = len(rejected)
	result.Unmatched = unmatched
	result.Counts = table.Counts
	run.Rows = result.Rows
	run.Rejected = result.Rejected
	s.recordRun(run, table.Counts, timings, rejected, logger)

	logger.Info("reconciliation finished",
		"output", run.OutputPath,
		"rows", result.Rows,
		"rejected", result.Rejected,
		"ms", timings["totalMs"],
	)
	return result, nil
}

func (s *ProcessingService) run(inputPath, outputPath string, result *RunResult, logger *slog.Logger) (internal.OutputTable, []internal.RejectedRow, int, error) {
	if sameFile(inputPath, outputPath) {
		return internal.OutputTable{}, nil, 0, fmt.Errorf("output %s would overwrite the input", outputPath)
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return internal.OutputTable{}, nil, 0, fmt.Errorf("%w: %v", ErrInputUnavailable, err)
	}
	defer f.Close()

	opts := OptionsFromConfig(s.cfg, s.schema)
	opts.Logger = logger
	res, err := Reconcile(f, opts)
	if err != nil {
		return internal.OutputTable{}, nil, 0, err
	}

	if !s.cfg.WantsCSV() && !s.cfg.WantsXLSX() {
		return internal.OutputTable{}, nil, 0, fmt.Errorf("output format %q writes nothing", s.cfg.OutputFormat)
	}

	var written []string
	fail := func(err error) (internal.OutputTable, []internal.RejectedRow, int, error) {
		for _, path := range written {
			_ = os.Remove(path)
		}
		result.OutputPath, result.XLSXPath, result.FailedPath = "", "", ""
		return internal.OutputTable{}, nil, 0, err
	}

	if s.cfg.WantsCSV() {
		if err := WriteTableFile(outputPath, res.Table); err != nil {
			return fail(err)
		}
		written = append(written, outputPath)
		result.OutputPath = outputPath
	}
	if s.cfg.WantsXLSX() {
		xlsxPath := XLSXPathFor(outputPath)
		if err := ExportTableToXLSX(res.Table, xlsxPath); err != nil {
			return fail(err)
		}
		written = append(written, xlsxPath)
		result.XLSXPath = xlsxPath
	}
	if len(res.Rejected) > 0 {
		failedPath := FailedPathFor(outputPath)
		if err := WriteRejected(failedPath, res.Rejected); err != nil {
			return fail(err)
		}
		result.FailedPath = failedPath
	}

	return res.Table, res.Rejected, res.Unmatched, nil
}

func (s *ProcessingService) recordRun(run internal.RunRow, counts map[internal.InstrumentID]int, timings map[string]float64, rejected []internal.RejectedRow, logger *slog.Logger) {
	if s.db == nil {
		return
	}
	if err := s.db.InsertRun(run, counts, timings, rejected); err != nil {
		logger.Warn("failed to record run", "error", err)
	}
}

// ProcessLog reconciles one stored log and updates its status. Content that
// does not look like an instrument log is marked skipped. Outputs are named
// after the log id, so logs sharing a file name never collide.
func (s *ProcessingService) ProcessLog(ctx context.Context, row internal.LogRow) (internal.LogStatus, RunResult, error) {
	if s.db == nil {
		return internal.LogStatus(row.Status), RunResult{}, ErrNoLedger
	}
	logger := slog.Default().With("log_id", row.ID, "file", row.FileName)

	raw, err := os.ReadFile(row.RawRef)
	if err != nil {
		_ = s.db.UpdateLogStatus(row.ID, internal.LogFailed)
		return internal.LogFailed, RunResult{}, fmt.Errorf("%w: %v", ErrInputUnavailable, err)
	}

	detect := DetectInstrumentLog(row.FileName, raw, OptionsFromConfig(s.cfg, s.schema))
	if !detect.IsLog {
		logger.Info("skipping non-log content", "score", detect.Score, "reason", detect.Reason)
		if err := s.db.UpdateLogStatus(row.ID, internal.LogSkipped); err != nil {
			return internal.LogSkipped, RunResult{}, err
		}
		return internal.LogSkipped, RunResult{}, nil
	}

	id := row.ID
	res, err := s.reconcile(ctx, row.RawRef, LogOutputPath(row, s.cfg.OutputDir), &id)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return internal.LogStatus(row.Status), res, err
		}
		_ = s.db.UpdateLogStatus(row.ID, internal.LogFailed)
		return internal.LogFailed, res, err
	}
	if err := s.db.UpdateLogStatus(row.ID, internal.LogProcessed); err != nil {
		return internal.LogProcessed, res, err
	}
	return internal.LogProcessed, res, nil
}

// LogOutputPath is "edited_<id>_<name>" in outputDir, or next to the stored
// raw log when outputDir is empty.
func LogOutputPath(row internal.LogRow, outputDir string) string {
	dir := outputDir
	if strings.TrimSpace(dir) == "" {
		dir = filepath.Dir(row.RawRef)
	}
	return filepath.Join(dir, fmt.Sprintf("edited_%d_%s", row.ID, filepath.Base(row.FileName)))
}

// ProcessPending works through up to limit fetched logs. A log that fails
// to reconcile is marked failed and the batch moves on.
func (s *ProcessingService) ProcessPending(ctx context.Context, limit int) (PendingResult, error) {
	if s.db == nil {
		return PendingResult{}, ErrNoLedger
	}
	pending, err := s.db.ListLogsByStatus(internal.LogFetched, limit)
	if err != nil {
		return PendingResult{}, err
	}

	var out PendingResult
	for _, row := range pending {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		status, _, err := s.ProcessLog(ctx, row)
		switch status {
		case internal.LogProcessed:
			out.Processed++
		case internal.LogSkipped:
			out.Skipped++
		case internal.LogFailed:
			out.Failed++
		}
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			slog.Warn("log processing failed", "log_id", row.ID, "file", row.FileName, "error", err)
		}
	}
	return out, nil
}

func sameFile(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return absA == absB
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
