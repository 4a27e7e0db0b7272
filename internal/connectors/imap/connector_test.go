package imap

import (
	"testing"
	"time"

	"github.com/emersion/go-imap"
)

func TestFormatAddresses(t *testing.T) {
	got := formatAddresses([]*imap.Address{
		{PersonalName: "Field Tech", MailboxName: "tech", HostName: "lake.example"},
		nil,
		{MailboxName: "logger", HostName: "lake.example"},
	})
	if got != "Field Tech <tech@lake.example>, logger@lake.example" {
		t.Fatalf("got=%q", got)
	}
	if formatAddresses(nil) != "" {
		t.Fatalf("expected empty")
	}
}

func TestToFetched(t *testing.T) {
	when := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := &imap.Message{Uid: 9, InternalDate: when}
	got := toFetched(msg, []byte("raw"))
	if got.MessageID != "imap-9" || got.ReceivedAt != "2026-03-01T12:00:00Z" || got.Provider != "imap" {
		t.Fatalf("got=%+v", got)
	}

	msg.Envelope = &imap.Envelope{MessageId: "<a@b>", Subject: "WQM"}
	got = toFetched(msg, nil)
	if got.MessageID != "<a@b>" || got.Subject != "WQM" {
		t.Fatalf("got=%+v", got)
	}
}
