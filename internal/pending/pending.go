// Package pending tracks which emails still await download by each domain's
// client, plus a lightweight per-address mailbox index.
package pending

import (
	"context"
	"fmt"
	"strings"

	"github.com/ascoderu/lokole-relay/internal/blob"
	"github.com/ascoderu/lokole-relay/internal/email"
)

// Index is the authoritative record of undelivered email per domain. It is
// a plain set keyed by "domain/uid": concurrent inserts and deletes of
// different keys commute, so no locking is needed.
type Index struct {
	store blob.Store
}

func NewIndex(store blob.Store) *Index {
	return &Index{store: store}
}

// MarkPending records that uid awaits delivery to domain. Marking twice is
// a no-op, set semantics.
func (i *Index) MarkPending(ctx context.Context, domain, uid string) error {
	return i.store.Put(ctx, key(domain, uid), []byte("pending"))
}

// Pending lists the uids currently awaiting delivery to domain.
func (i *Index) Pending(ctx context.Context, domain string) ([]string, error) {
	keys, err := i.store.List(ctx, domain+"/")
	if err != nil {
		return nil, fmt.Errorf("list pending for %s: %w", domain, err)
	}
	uids := make([]string, 0, len(keys))
	for _, k := range keys {
		uids = append(uids, strings.TrimPrefix(k, domain+"/"))
	}
	return uids, nil
}

// Delivered removes the given uids from the domain's pending set. Removing
// an absent uid is not an error.
func (i *Index) Delivered(ctx context.Context, domain string, uids []string) error {
	for _, uid := range uids {
		if err := i.store.Delete(ctx, key(domain, uid)); err != nil {
			return fmt.Errorf("mark %s delivered for %s: %w", uid, domain, err)
		}
	}
	return nil
}

// Count returns how many emails await delivery to domain.
func (i *Index) Count(ctx context.Context, domain string) (int, error) {
	keys, err := i.store.List(ctx, domain+"/")
	if err != nil {
		return 0, fmt.Errorf("count pending for %s: %w", domain, err)
	}
	return len(keys), nil
}

// Purge drops the domain's entire pending set, used on client deletion.
func (i *Index) Purge(ctx context.Context, domain string) error {
	keys, err := i.store.List(ctx, domain+"/")
	if err != nil {
		return fmt.Errorf("purge pending for %s: %w", domain, err)
	}
	for _, k := range keys {
		if err := i.store.Delete(ctx, k); err != nil {
			return fmt.Errorf("purge pending for %s: %w", domain, err)
		}
	}
	return nil
}

func key(domain, uid string) string {
	return domain + "/" + uid
}

// Folder names of the mailbox index.
const (
	FolderReceived = "received"
	FolderSent     = "sent"
)

// Mailbox is a secondary index of emails per address and folder. Keys embed
// a descending timestamp so a prefix listing is already newest-first.
type Mailbox struct {
	store blob.Store
}

func NewMailbox(store blob.Store) *Mailbox {
	return &Mailbox{store: store}
}

// IndexReceived files the email under every recipient's received folder.
func (m *Mailbox) IndexReceived(ctx context.Context, record *email.Email) error {
	for _, address := range email.Recipients(record) {
		if err := m.index(ctx, address, FolderReceived, record); err != nil {
			return err
		}
	}
	return nil
}

// IndexSent files the email under the sender's sent folder.
func (m *Mailbox) IndexSent(ctx context.Context, record *email.Email) error {
	if record.From == "" {
		return nil
	}
	return m.index(ctx, record.From, FolderSent, record)
}

func (m *Mailbox) index(ctx context.Context, address, folder string, record *email.Email) error {
	domain := email.Domain(address)
	if domain == "" {
		return nil
	}
	k := fmt.Sprintf("%s/%s/%s/%s/%s", domain, address, folder, email.DescendingTimestamp(record.SentAt), record.UID)
	if err := m.store.Put(ctx, k, []byte("indexed")); err != nil {
		return fmt.Errorf("index %s for %s: %w", record.UID, address, err)
	}
	return nil
}

// ListFolder returns the uids filed for an address and folder, newest first.
func (m *Mailbox) ListFolder(ctx context.Context, address, folder string) ([]string, error) {
	domain := email.Domain(address)
	prefix := fmt.Sprintf("%s/%s/%s/", domain, address, folder)
	keys, err := m.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s folder for %s: %w", folder, address, err)
	}
	uids := make([]string, 0, len(keys))
	for _, k := range keys {
		parts := strings.Split(k, "/")
		uids = append(uids, parts[len(parts)-1])
	}
	return uids, nil
}

// Purge drops every mailbox entry of the domain.
func (m *Mailbox) Purge(ctx context.Context, domain string) error {
	keys, err := m.store.List(ctx, domain+"/")
	if err != nil {
		return fmt.Errorf("purge mailbox for %s: %w", domain, err)
	}
	for _, k := range keys {
		if err := m.store.Delete(ctx, k); err != nil {
			return fmt.Errorf("purge mailbox for %s: %w", domain, err)
		}
	}
	return nil
}
