package actions

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ascoderu/lokole-relay/internal/blob"
	"github.com/ascoderu/lokole-relay/internal/clients"
	"github.com/ascoderu/lokole-relay/internal/pending"
)

// Setup runs the provider-side plumbing around a client's lifetime, for
// example creating the inbound route that makes mail for the client's
// domain arrive at the receive webhook.
type Setup interface {
	CreateMailbox(ctx context.Context, clientID, domain string) error
	DeleteMailbox(ctx context.Context, clientID, domain string) error
}

// NoopSetup is used when no provider-side setup is configured.
type NoopSetup struct{}

func (NoopSetup) CreateMailbox(context.Context, string, string) error { return nil }
func (NoopSetup) DeleteMailbox(context.Context, string, string) error { return nil }

// AccessInfo is handed back to freshly registered clients so they can reach
// the bundle storage directly.
type AccessInfo struct {
	Account string
	Key     string
}

// Registration is the payload a new client stores in its local config.
type Registration struct {
	ClientID          string `json:"client_id"`
	StorageAccount    string `json:"storage_account"`
	StorageKey        string `json:"storage_key"`
	ResourceContainer string `json:"resource_container"`
}

// RegisterClient assigns a fresh client id to a domain, provisions the
// bundle storage and runs the provider setup. The domain to id mapping is
// only persisted once everything else has succeeded.
type RegisterClient struct {
	clients     clients.Directory
	bundles     blob.Store
	setup       Setup
	access      AccessInfo
	newClientID func() string
	logger      *slog.Logger
}

func NewRegisterClient(directory clients.Directory, bundles blob.Store, setup Setup, access AccessInfo, logger *slog.Logger) *RegisterClient {
	return &RegisterClient{
		clients:     directory,
		bundles:     bundles,
		setup:       setup,
		access:      access,
		newClientID: uuid.NewString,
		logger:      logger,
	}
}

func (a *RegisterClient) Do(ctx context.Context, domain string) (*Registration, string, int) {
	if domain == "" || !strings.Contains(domain, ".") {
		return nil, "domain is invalid", http.StatusBadRequest
	}
	if domain != strings.ToLower(domain) {
		return nil, "domain must be lowercase", http.StatusBadRequest
	}
	if _, err := a.clients.ClientIDFor(ctx, domain); err == nil {
		a.logger.Warn("client already exists", "domain", domain)
		return nil, "client already exists", http.StatusConflict
	} else if !errors.Is(err, clients.ErrNotFound) {
		a.logger.Error("lookup domain", "domain", domain, "error", err)
		return nil, "error", http.StatusInternalServerError
	}

	clientID := a.newClientID()

	// Touch the bundle storage so its backing schema exists before the
	// client's first upload.
	if _, err := a.bundles.List(ctx, ""); err != nil {
		a.logger.Error("provision bundle storage", "domain", domain, "error", err)
		return nil, "error", http.StatusInternalServerError
	}
	if err := a.setup.CreateMailbox(ctx, clientID, domain); err != nil {
		a.logger.Error("create mailbox", "domain", domain, "error", err)
		return nil, "error", http.StatusInternalServerError
	}

	if err := a.clients.Register(ctx, clientID, domain); err != nil {
		if errors.Is(err, clients.ErrClientExists) {
			return nil, "client already exists", http.StatusConflict
		}
		a.logger.Error("register client", "domain", domain, "error", err)
		return nil, "error", http.StatusInternalServerError
	}

	a.logger.Info("client registered", "domain", domain, "client_id", clientID)
	return &Registration{
		ClientID:          clientID,
		StorageAccount:    a.access.Account,
		StorageKey:        a.access.Key,
		ResourceContainer: blob.ContainerBundles,
	}, "OK", http.StatusOK
}

// DeleteClient removes a client's registration, its provider-side mailbox
// and every index entry kept on its behalf. Stored email records are left
// in place since other domains may still reference them.
type DeleteClient struct {
	clients clients.Directory
	setup   Setup
	pending *pending.Index
	mailbox *pending.Mailbox
	logger  *slog.Logger
}

func NewDeleteClient(directory clients.Directory, setup Setup, pendingIndex *pending.Index, mailbox *pending.Mailbox, logger *slog.Logger) *DeleteClient {
	return &DeleteClient{clients: directory, setup: setup, pending: pendingIndex, mailbox: mailbox, logger: logger}
}

func (a *DeleteClient) Do(ctx context.Context, domain string) (string, int) {
	clientID, err := a.clients.ClientIDFor(ctx, domain)
	if errors.Is(err, clients.ErrNotFound) {
		return "client does not exist", http.StatusNotFound
	}
	if err != nil {
		a.logger.Error("lookup domain", "domain", domain, "error", err)
		return "error", http.StatusInternalServerError
	}

	if err := a.setup.DeleteMailbox(ctx, clientID, domain); err != nil {
		a.logger.Error("delete mailbox", "domain", domain, "error", err)
		return "error", http.StatusInternalServerError
	}
	if err := a.pending.Purge(ctx, domain); err != nil {
		a.logger.Error("purge pending emails", "domain", domain, "error", err)
		return "error", http.StatusInternalServerError
	}
	if err := a.mailbox.Purge(ctx, domain); err != nil {
		a.logger.Error("purge mailbox index", "domain", domain, "error", err)
		return "error", http.StatusInternalServerError
	}
	if err := a.clients.Delete(ctx, clientID, domain); err != nil {
		a.logger.Error("delete client", "domain", domain, "error", err)
		return "error", http.StatusInternalServerError
	}

	a.logger.Info("client deleted", "domain", domain, "client_id", clientID)
	return "OK", http.StatusOK
}

// PendingMetric reports how many emails are waiting for a domain.
type PendingMetric struct {
	ClientDomain  string `json:"client_domain"`
	PendingEmails int    `json:"pending_emails"`
}

// CalculatePendingEmailsMetric counts a domain's pending set without
// consuming it.
type CalculatePendingEmailsMetric struct {
	clients clients.Directory
	pending *pending.Index
	logger  *slog.Logger
}

func NewCalculatePendingEmailsMetric(directory clients.Directory, pendingIndex *pending.Index, logger *slog.Logger) *CalculatePendingEmailsMetric {
	return &CalculatePendingEmailsMetric{clients: directory, pending: pendingIndex, logger: logger}
}

func (a *CalculatePendingEmailsMetric) Do(ctx context.Context, domain string) (*PendingMetric, string, int) {
	if _, err := a.clients.ClientIDFor(ctx, domain); errors.Is(err, clients.ErrNotFound) {
		return nil, "client does not exist", http.StatusNotFound
	} else if err != nil {
		a.logger.Error("lookup domain", "domain", domain, "error", err)
		return nil, "error", http.StatusInternalServerError
	}

	count, err := a.pending.Count(ctx, domain)
	if err != nil {
		a.logger.Error("count pending emails", "domain", domain, "error", err)
		return nil, "error", http.StatusInternalServerError
	}
	return &PendingMetric{ClientDomain: domain, PendingEmails: count}, "OK", http.StatusOK
}
