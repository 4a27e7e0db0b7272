package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
	FormatBoth = "both"
)

type Config struct {
	DBPath    string
	RawLogDir string
	OutputDir string
	WatchDir  string

	Instruments  []string
	Label        string
	HeaderMarker string
	Placeholder  string
	SchemaPath   string
	OutputFormat string

	LogLevel  string
	LogFormat string

	GmailClientID     string
	GmailClientSecret string
	GmailRedirectURI  string
	GmailRefreshToken string

	IMAPHost     string
	IMAPPort     int
	IMAPSecure   bool
	IMAPUser     string
	IMAPPassword string
	IMAPMarkSeen bool

	MailListenerProvider     string
	MailListenerLabel        string
	MailListenerSchedule     string
	MailListenerFetchMax     int
	MailListenerProcessBatch int
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:    getEnv("DB_PATH", filepath.Join(cwd, "data", "wqm.db")),
		RawLogDir: getEnv("RAW_LOG_DIR", filepath.Join(cwd, "data", "raw")),
		OutputDir: getEnv("OUTPUT_DIR", ""),
		WatchDir:  getEnv("WATCH_DIR", filepath.Join(cwd, "data", "inbox")),

		Instruments:  getEnvList("WQM_INSTRUMENTS", []string{"147", "148", "149", "150"}),
		Label:        getEnv("WQM_INSTRUMENT_LABEL", "WQM"),
		HeaderMarker: getEnv("WQM_HEADER_MARKER", "Cond(S/m)"),
		Placeholder:  getEnv("WQM_PLACEHOLDER", "N/A"),
		SchemaPath:   getEnv("WQM_SCHEMA_PATH", ""),
		OutputFormat: strings.ToLower(getEnv("WQM_OUTPUT_FORMAT", FormatCSV)),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		GmailClientID:     getEnv("GMAIL_CLIENT_ID", ""),
		GmailClientSecret: getEnv("GMAIL_CLIENT_SECRET", ""),
		GmailRedirectURI:  getEnv("GMAIL_REDIRECT_URI", "https://developers.google.com/oauthplayground"),
		GmailRefreshToken: getEnv("GMAIL_REFRESH_TOKEN", ""),

		IMAPHost:     getEnv("IMAP_HOST", ""),
		IMAPPort:     getEnvInt("IMAP_PORT", 993),
		IMAPSecure:   getEnvBool("IMAP_SECURE", true),
		IMAPUser:     getEnv("IMAP_USER", ""),
		IMAPPassword: getEnv("IMAP_PASSWORD", ""),
		IMAPMarkSeen: getEnvBool("IMAP_MARK_SEEN", false),

		MailListenerProvider:     getEnv("MAIL_LISTENER_PROVIDER", "gmail"),
		MailListenerLabel:        getEnv("MAIL_LISTENER_LABEL", "INBOX"),
		MailListenerSchedule:     getEnv("MAIL_LISTENER_SCHEDULE", "@every 5m"),
		MailListenerFetchMax:     getEnvInt("MAIL_LISTENER_FETCH_MAX", 20),
		MailListenerProcessBatch: getEnvInt("MAIL_LISTENER_PROCESS_BATCH", 20),
	}

	return cfg, nil
}

// Validate reports every problem at once rather than the first one found.
func (c Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, "DB_PATH is required")
	}
	if len(c.Instruments) == 0 {
		errs = append(errs, "WQM_INSTRUMENTS must list at least one instrument")
	}
	seen := map[string]bool{}
	for _, id := range c.Instruments {
		if seen[id] {
			errs = append(errs, fmt.Sprintf("WQM_INSTRUMENTS lists %q twice", id))
		}
		seen[id] = true
	}
	if strings.TrimSpace(c.Label) == "" {
		errs = append(errs, "WQM_INSTRUMENT_LABEL is required")
	}
	if strings.TrimSpace(c.HeaderMarker) == "" {
		errs = append(errs, "WQM_HEADER_MARKER is required")
	}
	if strings.ContainsAny(c.Placeholder, ",\r\n") {
		errs = append(errs, "WQM_PLACEHOLDER must not contain commas or line breaks")
	}
	switch c.OutputFormat {
	case FormatCSV, FormatXLSX, FormatBoth:
	default:
		errs = append(errs, fmt.Sprintf("WQM_OUTPUT_FORMAT (%q) must be csv, xlsx or both", c.OutputFormat))
	}
	if c.MailListenerFetchMax <= 0 {
		errs = append(errs, "MAIL_LISTENER_FETCH_MAX must be positive")
	}
	if c.MailListenerProcessBatch <= 0 {
		errs = append(errs, "MAIL_LISTENER_PROCESS_BATCH must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c Config) WantsCSV() bool {
	return c.OutputFormat == FormatCSV || c.OutputFormat == FormatBoth
}

func (c Config) WantsXLSX() bool {
	return c.OutputFormat == FormatXLSX || c.OutputFormat == FormatBoth
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if value == "" {
		return fallback
	}
	if value == "1" || value == "true" || value == "yes" || value == "on" {
		return true
	}
	if value == "0" || value == "false" || value == "no" || value == "off" {
		return false
	}
	return fallback
}

// getEnvList splits a comma list, dropping blanks.
func getEnvList(key string, fallback []string) []string {
	value := strings.TrimSpace(getEnv(key, ""))
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
