package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"wqm/internal"
	"wqm/internal/config"
	"wqm/internal/connectors"
	"wqm/internal/listener"
	"wqm/internal/logging"
	"wqm/internal/pipeline"
	"wqm/internal/schema"
	"wqm/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)

	switch cmd {
	case "reconcile":
		input := fs.String("input", "", "raw log path, or - for stdin")
		output := fs.String("output", "", "canonical csv path (default edited_<input>)")
		format := fs.String("format", cfg.OutputFormat, "csv|xlsx|both")
		noLedger := fs.Bool("no-ledger", false, "do not record the run")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*input) == "" {
			must(fmt.Errorf("--input is required"))
		}
		cfg.OutputFormat = strings.ToLower(*format)
		must(cfg.Validate())
		s := loadSchema(cfg)

		if *input == "-" {
			res, err := pipeline.Reconcile(os.Stdin, pipeline.OptionsFromConfig(cfg, s))
			must(err)
			must(pipeline.WriteTableCSV(os.Stdout, res.Table))
			if len(res.Rejected) > 0 {
				fmt.Fprintf(os.Stderr, "rejected %d rows\n", len(res.Rejected))
			}
			return
		}

		var db *storage.DB
		if !*noLedger {
			db = openDB(cfg)
			defer db.Close()
		}
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		res, err := pipeline.NewProcessingService(db, cfg, s).ReconcileFile(ctx, *input, *output)
		must(err)
		fmt.Printf("reconcile done run=%s rows=%d rejected=%d unmatched=%d\n", res.RunID, res.Rows, res.Rejected, res.Unmatched)
		for _, path := range []string{res.OutputPath, res.XLSXPath, res.FailedPath} {
			if path != "" {
				fmt.Printf("  wrote %s\n", path)
			}
		}
	case "mail:fetch":
		provider := fs.String("provider", cfg.MailListenerProvider, "gmail|imap")
		label := fs.String("label", cfg.MailListenerLabel, "mailbox/label")
		max := fs.Int("max", 50, "max messages")
		_ = fs.Parse(os.Args[2:])
		db := openDB(cfg)
		defer db.Close()
		previous, err := db.LastFetch(*provider)
		must(err)
		conn, err := connectors.New(*provider, cfg)
		must(err)
		fetch := connectors.NewFetchService(db, cfg.RawLogDir, *provider, conn)
		result, err := fetch.FetchAndStore(context.Background(), *label, *max)
		must(err)
		fmt.Printf("mail fetch done provider=%s fetched=%d stored=%d logs=%d previous=%s\n", *provider, result.Fetched, result.Stored, result.Logs, formatFetch(previous))
	case "mail:process":
		logID := fs.Int("log", 0, "specific log id")
		batch := fs.Int("batch", cfg.MailListenerProcessBatch, "batch size")
		_ = fs.Parse(os.Args[2:])
		must(cfg.Validate())
		db := openDB(cfg)
		defer db.Close()
		processor := pipeline.NewProcessingService(db, cfg, loadSchema(cfg))
		if *logID != 0 {
			row, err := db.MustLogByID(*logID)
			must(err)
			status, res, err := processor.ProcessLog(context.Background(), row)
			must(err)
			fmt.Printf("processed log id=%d status=%s rows=%d rejected=%d\n", row.ID, status, res.Rows, res.Rejected)
			return
		}
		res, err := processor.ProcessPending(context.Background(), *batch)
		must(err)
		fmt.Printf("processed pending logs processed=%d skipped=%d failed=%d\n", res.Processed, res.Skipped, res.Failed)
	case "mail:listen":
		_ = fs.Parse(os.Args[2:])
		must(cfg.Validate())
		db := openDB(cfg)
		defer db.Close()
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		must(listener.NewService(db, cfg, loadSchema(cfg), nil).Run(ctx))
	case "watch":
		dir := fs.String("dir", cfg.WatchDir, "directory to watch")
		_ = fs.Parse(os.Args[2:])
		must(cfg.Validate())
		db := openDB(cfg)
		defer db.Close()
		s := loadSchema(cfg)
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		w := listener.NewWatcher(*dir, pipeline.NewProcessingService(db, cfg, s), pipeline.OptionsFromConfig(cfg, s))
		must(w.Run(ctx))
	case "runs:list":
		limit := fs.Int("limit", 20, "max runs")
		runID := fs.String("run", "", "show rejected rows of one run")
		_ = fs.Parse(os.Args[2:])
		db := openDB(cfg)
		defer db.Close()
		if *runID != "" {
			rejected, err := db.ListRejections(*runID)
			must(err)
			for _, r := range rejected {
				fmt.Printf("%s\tline %d\t%s\t%s\n", r.Instrument, r.LineNo, r.Reason, r.Raw)
			}
			return
		}
		for _, provider := range []string{"gmail", "imap"} {
			at, err := db.LastFetch(provider)
			must(err)
			fmt.Printf("last %s fetch: %s\n", provider, formatFetch(at))
		}
		runs, err := db.ListRuns(*limit)
		must(err)
		for _, run := range runs {
			printRun(run)
		}
	case "schema:show":
		_ = fs.Parse(os.Args[2:])
		s := loadSchema(cfg)
		for i, name := range s.Names() {
			aliases := s.AliasesFor(name)
			sort.Strings(aliases)
			if len(aliases) > 0 {
				fmt.Printf("%2d  %s  (aliases: %s)\n", i, name, strings.Join(aliases, ", "))
			} else {
				fmt.Printf("%2d  %s\n", i, name)
			}
		}
	default:
		usage()
		os.Exit(1)
	}
}

func openDB(cfg config.Config) *storage.DB {
	db, err := storage.Open(cfg.DBPath)
	must(err)
	return db
}

func loadSchema(cfg config.Config) *schema.Schema {
	if strings.TrimSpace(cfg.SchemaPath) == "" {
		return schema.Default()
	}
	s, err := schema.LoadFile(cfg.SchemaPath)
	must(err)
	return s
}

func printRun(run internal.RunRow) {
	logID := "-"
	if run.LogID != nil {
		logID = fmt.Sprint(*run.LogID)
	}
	fmt.Printf("%s  %s  %-6s log=%s rows=%d rejected=%d counts=%s\n", run.CreatedAt, run.ID, run.Status, logID, run.Rows, run.Rejected, run.CountsJSON)
	fmt.Printf("    %s -> %s\n", run.InputPath, run.OutputPath)
	if run.Error != "" {
		fmt.Printf("    error: %s\n", run.Error)
	}
}

func formatFetch(at time.Time) string {
	if at.IsZero() {
		return "never"
	}
	return at.Local().Format(time.RFC3339)
}

func usage() {
	fmt.Println("usage: wqm <command>")
	fmt.Println("commands:")
	fmt.Println("  reconcile --input=log.csv [--output=edited_log.csv] [--format=csv|xlsx|both] [--no-ledger]")
	fmt.Println("  mail:fetch --provider=gmail|imap --label=INBOX --max=50")
	fmt.Println("  mail:process [--log=ID] [--batch=20]")
	fmt.Println("  mail:listen")
	fmt.Println("  watch [--dir=./data/inbox]")
	fmt.Println("  runs:list [--limit=20] [--run=RUN_ID]")
	fmt.Println("  schema:show")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
