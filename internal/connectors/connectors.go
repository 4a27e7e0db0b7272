package connectors

import (
	"context"
	"fmt"
	"strings"

	"wqm/internal"
	"wqm/internal/config"
	gmailconnector "wqm/internal/connectors/gmail"
	imapconnector "wqm/internal/connectors/imap"
)

type MailConnector interface {
	FetchInbox(ctx context.Context, label string, max int) ([]internal.FetchedMailMessage, error)
}

// New builds the connector for provider ("gmail" or "imap").
func New(provider string, cfg config.Config) (MailConnector, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "gmail":
		return gmailconnector.NewConnector(cfg)
	case "imap":
		return imapconnector.NewConnector(cfg)
	default:
		return nil, fmt.Errorf("unsupported mail provider: %s", provider)
	}
}
