// Package blob provides durable key to object storage for raw MIME blobs,
// canonical email records, index markers and client bundles.
package blob

import (
	"context"
	"errors"
	"fmt"

	"github.com/ascoderu/lokole-relay/internal/email"
)

// Logical containers partitioning the store by purpose. No read ever joins
// across containers.
const (
	ContainerRawEmails = "raw-emails"
	ContainerEmails    = "emails"
	ContainerPending   = "pending"
	ContainerMailbox   = "mailbox"
	ContainerBundles   = "client-bundles"
)

// ErrNotFound reports a fetch for an absent key.
var ErrNotFound = errors.New("blob does not exist")

// Store is a key to bytes container. Delete of an absent key is not an
// error. List returns a finite snapshot of keys under a prefix, restartable
// by re-invocation.
type Store interface {
	Put(ctx context.Context, key string, content []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// ObjectStore persists canonical email records as JSON over a Store.
type ObjectStore struct {
	store Store
}

func NewObjectStore(store Store) *ObjectStore {
	return &ObjectStore{store: store}
}

func (o *ObjectStore) StoreEmail(ctx context.Context, id string, record *email.Email) error {
	serialized, err := email.Serialize(record)
	if err != nil {
		return fmt.Errorf("serialize email %s: %w", id, err)
	}
	return o.store.Put(ctx, id, serialized)
}

func (o *ObjectStore) FetchEmail(ctx context.Context, id string) (*email.Email, error) {
	serialized, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return email.Deserialize(serialized)
}

func (o *ObjectStore) Delete(ctx context.Context, id string) error {
	return o.store.Delete(ctx, id)
}
