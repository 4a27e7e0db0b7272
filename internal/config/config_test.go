package config

import (
	"os"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"WQM_INSTRUMENTS", "WQM_INSTRUMENT_LABEL", "WQM_HEADER_MARKER", "WQM_PLACEHOLDER", "WQM_OUTPUT_FORMAT", "MAIL_LISTENER_SCHEDULE"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if strings.Join(cfg.Instruments, ",") != "147,148,149,150" {
		t.Fatalf("instruments=%v", cfg.Instruments)
	}
	if cfg.Label != "WQM" || cfg.HeaderMarker != "Cond(S/m)" || cfg.Placeholder != "N/A" {
		t.Fatalf("label=%q marker=%q placeholder=%q", cfg.Label, cfg.HeaderMarker, cfg.Placeholder)
	}
	if cfg.MailListenerSchedule != "@every 5m" {
		t.Fatalf("schedule=%q", cfg.MailListenerSchedule)
	}
	if !cfg.WantsCSV() || cfg.WantsXLSX() {
		t.Fatalf("format=%q", cfg.OutputFormat)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WQM_INSTRUMENTS", " 201, ,202 ")
	t.Setenv("WQM_PLACEHOLDER", "-")
	t.Setenv("WQM_OUTPUT_FORMAT", "BOTH")
	t.Setenv("IMAP_PORT", "nope")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if strings.Join(cfg.Instruments, ",") != "201,202" {
		t.Fatalf("instruments=%v", cfg.Instruments)
	}
	if cfg.Placeholder != "-" {
		t.Fatalf("placeholder=%q", cfg.Placeholder)
	}
	if !cfg.WantsCSV() || !cfg.WantsXLSX() {
		t.Fatalf("format=%q", cfg.OutputFormat)
	}
	if cfg.IMAPPort != 993 {
		t.Fatalf("port=%d", cfg.IMAPPort)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Config{
		DBPath:                   "x.db",
		Instruments:              []string{"147", "147"},
		Label:                    "",
		HeaderMarker:             "Cond(S/m)",
		Placeholder:              "a,b",
		OutputFormat:             "pdf",
		MailListenerFetchMax:     1,
		MailListenerProcessBatch: 1,
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"twice", "WQM_INSTRUMENT_LABEL", "WQM_PLACEHOLDER", "WQM_OUTPUT_FORMAT"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %q in %v", want, err)
		}
	}
}

func TestValidateOK(t *testing.T) {
	cfg := Config{
		DBPath:                   "x.db",
		Instruments:              []string{"147"},
		Label:                    "WQM",
		HeaderMarker:             "Cond(S/m)",
		Placeholder:              "N/A",
		OutputFormat:             FormatCSV,
		MailListenerFetchMax:     1,
		MailListenerProcessBatch: 1,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
