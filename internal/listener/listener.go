package listener

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"wqm/internal/config"
	"wqm/internal/connectors"
	"wqm/internal/pipeline"
	"wqm/internal/schema"
	"wqm/internal/storage"
)

type Service struct {
	db        *storage.DB
	cfg       config.Config
	schema    *schema.Schema
	connector connectors.MailConnector
}

// NewService builds the mail listener. A nil connector is resolved from
// MAIL_LISTENER_PROVIDER on the first cycle.
func NewService(db *storage.DB, cfg config.Config, s *schema.Schema, connector connectors.MailConnector) *Service {
	return &Service{db: db, cfg: cfg, schema: s, connector: connector}
}

type CycleResult struct {
	Fetch   connectors.FetchResult
	Pending pipeline.PendingResult
}

// Run executes one cycle right away and then one per MAIL_LISTENER_SCHEDULE
// tick until ctx is done. A tick that arrives while a cycle is still running
// is skipped.
func (s *Service) Run(ctx context.Context) error {
	logger := cronLogger{slog.Default().With("component", "listener")}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(s.cfg.MailListenerSchedule, func() { s.cycle(ctx) }); err != nil {
		return fmt.Errorf("invalid MAIL_LISTENER_SCHEDULE %q: %w", s.cfg.MailListenerSchedule, err)
	}

	s.cycle(ctx)
	c.Start()
	slog.Info("listener started", "schedule", s.cfg.MailListenerSchedule, "provider", s.cfg.MailListenerProvider)

	<-ctx.Done()
	<-c.Stop().Done()
	slog.Info("listener stopped")
	return nil
}

func (s *Service) cycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res, err := s.RunOnce(ctx)
	if err != nil {
		slog.Error("listener cycle failed", "error", err)
		return
	}
	slog.Info("listener cycle done",
		"fetched", res.Fetch.Fetched,
		"logs", res.Fetch.Logs,
		"processed", res.Pending.Processed,
		"skipped", res.Pending.Skipped,
		"failed", res.Pending.Failed,
	)
}

// RunOnce fetches new mail and reconciles every pending log.
func (s *Service) RunOnce(ctx context.Context) (CycleResult, error) {
	if s.connector == nil {
		connector, err := connectors.New(s.cfg.MailListenerProvider, s.cfg)
		if err != nil {
			return CycleResult{}, err
		}
		s.connector = connector
	}

	fetchService := connectors.NewFetchService(s.db, s.cfg.RawLogDir, s.cfg.MailListenerProvider, s.connector)
	fetched, err := fetchService.FetchAndStore(ctx, s.cfg.MailListenerLabel, s.cfg.MailListenerFetchMax)
	if err != nil {
		return CycleResult{}, err
	}

	processor := pipeline.NewProcessingService(s.db, s.cfg, s.schema)
	pending, err := processor.ProcessPending(ctx, s.cfg.MailListenerProcessBatch)
	if err != nil {
		return CycleResult{Fetch: fetched, Pending: pending}, err
	}
	return CycleResult{Fetch: fetched, Pending: pending}, nil
}

// cronLogger adapts slog to the scheduler's logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
