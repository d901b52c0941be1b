// Package clients maps client ids to the domain each Lokole device serves.
package clients

import (
	"context"
	"errors"
)

var (
	// ErrClientExists reports a registration for a domain that already
	// has a client.
	ErrClientExists = errors.New("client already exists")

	// ErrNotFound reports a lookup for an unknown client id or domain.
	ErrNotFound = errors.New("client is not registered")
)

// Directory is the bidirectional client id to domain mapping used to
// authorize uploads and downloads. Registrations are immutable except
// through explicit deletion.
type Directory interface {
	Register(ctx context.Context, clientID, domain string) error
	DomainFor(ctx context.Context, clientID string) (string, error)
	ClientIDFor(ctx context.Context, domain string) (string, error)
	Delete(ctx context.Context, clientID, domain string) error
}
