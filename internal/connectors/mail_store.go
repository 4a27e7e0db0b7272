package connectors

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"wqm/internal"
	"wqm/internal/storage"
)

type MailStoreService struct {
	db        *storage.DB
	rawLogDir string
}

func NewMailStoreService(db *storage.DB, rawLogDir string) *MailStoreService {
	return &MailStoreService{db: db, rawLogDir: rawLogDir}
}

func hashOf(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// StoreMessage keeps the raw message as <sha256>.eml under the mail
// directory and records it.
func (s *MailStoreService) StoreMessage(msg internal.FetchedMailMessage) (string, error) {
	hash := hashOf(msg.Raw)
	rawPath, err := writeOnce(filepath.Join(s.rawLogDir, "mail"), hash+".eml", msg.Raw)
	if err != nil {
		return "", err
	}
	if _, err := s.db.UpsertEmail(msg, hash, rawPath); err != nil {
		return "", err
	}
	return hash, nil
}

// StoreLog writes an extracted log under a directory named after its
// content hash and queues it for reconciliation.
func (s *MailStoreService) StoreLog(msg internal.FetchedMailMessage, log internal.ExtractedLog) (internal.LogRow, error) {
	hash := hashOf(log.Content)
	name := safeFileName(log.FileName)
	rawPath, err := writeOnce(filepath.Join(s.rawLogDir, "logs", hash[:16]), name, log.Content)
	if err != nil {
		return internal.LogRow{}, err
	}

	return s.db.UpsertLog(internal.LogRow{
		Source:     string(log.Source),
		MessageID:  msg.Provider + ":" + msg.MessageID,
		FileName:   name,
		ReceivedAt: msg.ReceivedAt,
		Hash:       hash,
		Status:     string(internal.LogFetched),
		RawRef:     rawPath,
	})
}

func writeOnce(dir, name string, content []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return "", err
		}
	}
	return path, nil
}

var unsafeNameChars = strings.NewReplacer("/", "_", "\\", "_", ":", "_", "<", "_", ">", "_", "|", "_", "?", "_", "*", "_")

func safeFileName(name string) string {
	name = unsafeNameChars.Replace(filepath.Base(strings.TrimSpace(name)))
	if name == "" || name == "." || name == ".." {
		return "log.csv"
	}
	if len(name) > 120 {
		name = name[len(name)-120:]
	}
	return name
}
