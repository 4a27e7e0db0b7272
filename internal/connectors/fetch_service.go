package connectors

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"wqm/internal/pipeline"
	"wqm/internal/storage"
)

type FetchService struct {
	db        *storage.DB
	provider  string
	connector MailConnector
	store     *MailStoreService
}

type FetchResult struct {
	Fetched int
	Stored  int
	Logs    int
}

func NewFetchService(db *storage.DB, rawLogDir, provider string, connector MailConnector) *FetchService {
	return &FetchService{
		db:        db,
		provider:  provider,
		connector: connector,
		store:     NewMailStoreService(db, rawLogDir),
	}
}

// FetchAndStore pulls new mail, keeps every message and queues the
// instrument logs found inside it. Messages that cannot be parsed are kept
// but contribute no logs. A fetch that completes is stamped in the ledger
// as the provider's last fetch.
func (s *FetchService) FetchAndStore(ctx context.Context, label string, max int) (FetchResult, error) {
	messages, err := s.connector.FetchInbox(ctx, label, max)
	if err != nil {
		return FetchResult{}, err
	}

	result := FetchResult{Fetched: len(messages)}
	for _, msg := range messages {
		if _, err := s.store.StoreMessage(msg); err != nil {
			return result, err
		}
		result.Stored++

		logs, _, err := pipeline.ExtractLogsFromEmailRaw(msg.Raw)
		if err != nil {
			slog.Warn("unreadable mail message", "provider", msg.Provider, "message_id", msg.MessageID, "error", err)
			continue
		}
		for _, log := range logs {
			if _, err := s.store.StoreLog(msg, log); err != nil {
				return result, err
			}
			result.Logs++
		}
	}

	if err := s.db.SetLastFetch(s.provider, time.Now()); err != nil {
		return result, fmt.Errorf("record last fetch: %w", err)
	}
	return result, nil
}
