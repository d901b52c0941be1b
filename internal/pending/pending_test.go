package pending

import (
	"context"
	"reflect"
	"testing"

	"github.com/ascoderu/lokole-relay/internal/blob"
	"github.com/ascoderu/lokole-relay/internal/email"
)

func TestIndexSetSemantics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	index := NewIndex(blob.NewMemory())

	if err := index.MarkPending(ctx, "x.com", "uid1"); err != nil {
		t.Fatalf("MarkPending: %v", err)
	}
	// Marking twice must not create a duplicate entry.
	if err := index.MarkPending(ctx, "x.com", "uid1"); err != nil {
		t.Fatalf("MarkPending again: %v", err)
	}

	uids, err := index.Pending(ctx, "x.com")
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if !reflect.DeepEqual(uids, []string{"uid1"}) {
		t.Errorf("Pending: got %v, want [uid1]", uids)
	}

	count, err := index.Count(ctx, "x.com")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Errorf("Count: got %d, want 1", count)
	}
}

func TestIndexDelivered(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	index := NewIndex(blob.NewMemory())

	for _, uid := range []string{"uid1", "uid2"} {
		if err := index.MarkPending(ctx, "x.com", uid); err != nil {
			t.Fatalf("MarkPending: %v", err)
		}
	}
	if err := index.MarkPending(ctx, "y.com", "uid1"); err != nil {
		t.Fatalf("MarkPending: %v", err)
	}

	if err := index.Delivered(ctx, "x.com", []string{"uid1", "uid-never-pending"}); err != nil {
		t.Fatalf("Delivered: %v", err)
	}

	uids, _ := index.Pending(ctx, "x.com")
	if !reflect.DeepEqual(uids, []string{"uid2"}) {
		t.Errorf("Pending x.com: got %v, want [uid2]", uids)
	}
	// Delivery for one domain leaves other domains' entries alone.
	uids, _ = index.Pending(ctx, "y.com")
	if !reflect.DeepEqual(uids, []string{"uid1"}) {
		t.Errorf("Pending y.com: got %v, want [uid1]", uids)
	}
}

func TestIndexPurge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	index := NewIndex(blob.NewMemory())

	_ = index.MarkPending(ctx, "x.com", "uid1")
	_ = index.MarkPending(ctx, "x.com", "uid2")

	if err := index.Purge(ctx, "x.com"); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	count, _ := index.Count(ctx, "x.com")
	if count != 0 {
		t.Errorf("Count after purge: got %d, want 0", count)
	}
}

func TestMailboxListsNewestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mailbox := NewMailbox(blob.NewMemory())

	older := &email.Email{UID: "older", To: []string{"user@x.com"}, SentAt: "2024-01-01 10:00"}
	newer := &email.Email{UID: "newer", To: []string{"user@x.com"}, SentAt: "2024-06-01 10:00"}

	if err := mailbox.IndexReceived(ctx, older); err != nil {
		t.Fatalf("IndexReceived: %v", err)
	}
	if err := mailbox.IndexReceived(ctx, newer); err != nil {
		t.Fatalf("IndexReceived: %v", err)
	}

	uids, err := mailbox.ListFolder(ctx, "user@x.com", FolderReceived)
	if err != nil {
		t.Fatalf("ListFolder: %v", err)
	}
	if !reflect.DeepEqual(uids, []string{"newer", "older"}) {
		t.Errorf("ListFolder: got %v, want [newer older]", uids)
	}
}

func TestMailboxSentFolder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mailbox := NewMailbox(blob.NewMemory())

	record := &email.Email{UID: "uid1", From: "writer@x.com", To: []string{"user@y.com"}, SentAt: "2024-01-01 10:00"}
	if err := mailbox.IndexSent(ctx, record); err != nil {
		t.Fatalf("IndexSent: %v", err)
	}

	uids, err := mailbox.ListFolder(ctx, "writer@x.com", FolderSent)
	if err != nil {
		t.Fatalf("ListFolder: %v", err)
	}
	if !reflect.DeepEqual(uids, []string{"uid1"}) {
		t.Errorf("ListFolder: got %v, want [uid1]", uids)
	}
}
