// Package email defines the canonical email record exchanged between the
// relay's pipeline stages and the Lokole clients.
package email

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// SentAtLayout is the wire format of the sent_at field, always UTC.
const SentAtLayout = "2006-01-02 15:04"

// descendingEpoch is a fixed far-future instant used to derive mailbox sort
// keys. Seconds remaining until this epoch decrease as time advances, so the
// zero-padded remainder sorts newest-first lexicographically.
var descendingEpoch = time.Date(3000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Email is the normalized record stored once per message and shipped
// verbatim inside client bundles. UID is assigned exactly once, before the
// record is first persisted, and keys every subsequent pipeline stage.
type Email struct {
	UID         string       `json:"_uid,omitempty"`
	From        string       `json:"from,omitempty"`
	To          []string     `json:"to,omitempty"`
	Cc          []string     `json:"cc,omitempty"`
	Bcc         []string     `json:"bcc,omitempty"`
	Subject     string       `json:"subject,omitempty"`
	Body        string       `json:"body,omitempty"`
	SentAt      string       `json:"sent_at,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Read        bool         `json:"read,omitempty"`
}

// Attachment carries raw content bytes; encoding/json transports them as
// base64 text. CID cross-references inline images in the HTML body.
type Attachment struct {
	Filename string `json:"filename"`
	Content  []byte `json:"content"`
	CID      string `json:"cid,omitempty"`
}

// ID derives a stable identifier from the record contents.
func ID(e *Email) string {
	serialized, _ := json.Marshal(e)
	digest := sha256.Sum256(serialized)
	return hex.EncodeToString(digest[:])
}

// RawID derives a stable identifier from a raw MIME message, so that
// re-receiving the same message re-uses the same storage key.
func RawID(mime string) string {
	digest := sha256.Sum256([]byte(mime))
	return hex.EncodeToString(digest[:])
}

// Domain returns the part of an address after the last "@", lowercased.
func Domain(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(address[at+1:])
}

// Domains returns the distinct recipient domains across to, cc and bcc,
// sorted for deterministic fan-out.
func Domains(e *Email) []string {
	seen := map[string]struct{}{}
	for _, list := range [][]string{e.To, e.Cc, e.Bcc} {
		for _, address := range list {
			domain := Domain(address)
			if domain == "" {
				continue
			}
			seen[domain] = struct{}{}
		}
	}
	domains := make([]string, 0, len(seen))
	for domain := range seen {
		domains = append(domains, domain)
	}
	sort.Strings(domains)
	return domains
}

// Recipients returns all recipient addresses across to, cc and bcc.
func Recipients(e *Email) []string {
	recipients := make([]string, 0, len(e.To)+len(e.Cc)+len(e.Bcc))
	recipients = append(recipients, e.To...)
	recipients = append(recipients, e.Cc...)
	recipients = append(recipients, e.Bcc...)
	return recipients
}

// EnsureSentAt defaults an empty sent_at to now so that records persisted by
// the server always carry a timestamp.
func EnsureSentAt(e *Email, now time.Time) {
	if e.SentAt == "" {
		e.SentAt = now.UTC().Format(SentAtLayout)
	}
}

// DescendingTimestamp encodes sent_at so that lexical key order equals
// reverse-chronological order, keeping folder listings stable without a
// secondary sort. An unparseable timestamp maps to the oldest possible key.
func DescendingTimestamp(sentAt string) string {
	parsed, err := time.Parse(SentAtLayout, sentAt)
	if err != nil || parsed.After(descendingEpoch) {
		parsed = descendingEpoch
	}
	return fmt.Sprintf("%012d", descendingEpoch.Unix()-parsed.Unix())
}

// Serialize renders a record as compact JSON.
func Serialize(e *Email) ([]byte, error) {
	return json.Marshal(e)
}

// Deserialize parses a record from JSON.
func Deserialize(data []byte) (*Email, error) {
	var e Email
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode email record: %w", err)
	}
	return &e, nil
}
