package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"wqm/internal/config"
	"wqm/internal/listener"
	"wqm/internal/logging"
	"wqm/internal/schema"
	"wqm/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	must(cfg.Validate())

	s := schema.Default()
	if cfg.SchemaPath != "" {
		s, err = schema.LoadFile(cfg.SchemaPath)
		must(err)
	}

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	must(listener.NewService(db, cfg, s, nil).Run(ctx))
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
