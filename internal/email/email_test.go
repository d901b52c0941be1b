package email

import (
	"reflect"
	"testing"
	"time"
)

func TestDomainsDeduplicates(t *testing.T) {
	t.Parallel()

	record := &Email{
		To: []string{"a@x.com", "b@y.com"},
		Cc: []string{"c@x.com"},
	}

	domains := Domains(record)
	if !reflect.DeepEqual(domains, []string{"x.com", "y.com"}) {
		t.Errorf("Domains: got %v, want [x.com y.com]", domains)
	}
}

func TestDomainsSkipsInvalidAddresses(t *testing.T) {
	t.Parallel()

	record := &Email{
		To:  []string{"not-an-address", "User@Example.COM"},
		Bcc: []string{"admin@example.com"},
	}

	domains := Domains(record)
	if !reflect.DeepEqual(domains, []string{"example.com"}) {
		t.Errorf("Domains: got %v, want [example.com]", domains)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	t.Parallel()

	record := &Email{
		UID:     "abc123",
		From:    "sender@test.com",
		To:      []string{"one@test.com", "two@other.com"},
		Cc:      []string{"three@test.com"},
		Subject: "hello",
		Body:    "<p>body</p>",
		SentAt:  "2024-02-01 13:37",
		Attachments: []Attachment{
			{Filename: "photo.png", Content: []byte{0x89, 0x50, 0x4e, 0x47, 0x00, 0xff}},
			{Filename: "notes.txt", Content: []byte("plain"), CID: "cid123"},
		},
	}

	data, err := Serialize(record)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	parsed, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if !reflect.DeepEqual(parsed, record) {
		t.Errorf("round trip: got %+v, want %+v", parsed, record)
	}
}

func TestIDIsStable(t *testing.T) {
	t.Parallel()

	first := &Email{From: "a@x.com", Subject: "hi"}
	second := &Email{From: "a@x.com", Subject: "hi"}

	if ID(first) != ID(second) {
		t.Error("identical records must produce identical ids")
	}
	if ID(first) == ID(&Email{From: "b@x.com", Subject: "hi"}) {
		t.Error("different records must produce different ids")
	}
}

func TestEnsureSentAt(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 4, 12, 30, 59, 0, time.UTC)

	record := &Email{}
	EnsureSentAt(record, now)
	if record.SentAt != "2024-05-04 12:30" {
		t.Errorf("SentAt: got %q, want %q", record.SentAt, "2024-05-04 12:30")
	}

	record = &Email{SentAt: "2020-01-01 00:00"}
	EnsureSentAt(record, now)
	if record.SentAt != "2020-01-01 00:00" {
		t.Errorf("SentAt must not be overwritten, got %q", record.SentAt)
	}
}

func TestDescendingTimestampOrdersNewestFirst(t *testing.T) {
	t.Parallel()

	older := DescendingTimestamp("2024-01-01 00:00")
	newer := DescendingTimestamp("2024-06-01 00:00")

	if !(newer < older) {
		t.Errorf("newer key %q must sort before older key %q", newer, older)
	}
	if len(newer) != len(older) {
		t.Errorf("keys must be fixed width: %q vs %q", newer, older)
	}
}
