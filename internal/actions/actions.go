// Package actions implements the relay's pipeline: single-purpose,
// idempotent units of work triggered by an HTTP call or a queue message.
// Every persistence call is keyed by a caller-supplied or deterministically
// derived id, so invoking an action twice with the same input is safe.
package actions

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ascoderu/lokole-relay/internal/blob"
	"github.com/ascoderu/lokole-relay/internal/bundle"
	"github.com/ascoderu/lokole-relay/internal/clients"
	"github.com/ascoderu/lokole-relay/internal/email"
	"github.com/ascoderu/lokole-relay/internal/parser"
	"github.com/ascoderu/lokole-relay/internal/pending"
	"github.com/ascoderu/lokole-relay/internal/queue"
	"github.com/ascoderu/lokole-relay/internal/send"
)

// ReceiveInboundEmail accepts raw MIME from the upstream webhook, stores it
// untouched and hands it to the inbound worker. Only a 200 response is a
// contract that both the store and the enqueue succeeded.
type ReceiveInboundEmail struct {
	clients    clients.Directory
	rawStorage blob.Store
	tasks      queue.Queue
	logger     *slog.Logger
}

func NewReceiveInboundEmail(directory clients.Directory, rawStorage blob.Store, tasks queue.Queue, logger *slog.Logger) *ReceiveInboundEmail {
	return &ReceiveInboundEmail{clients: directory, rawStorage: rawStorage, tasks: tasks, logger: logger}
}

func (a *ReceiveInboundEmail) Do(ctx context.Context, clientID, mime string) (string, int) {
	domain, err := a.clients.DomainFor(ctx, clientID)
	if errors.Is(err, clients.ErrNotFound) {
		a.logger.Warn("unregistered client", "client_id", clientID)
		return "client is not registered", http.StatusForbidden
	}
	if err != nil {
		a.logger.Error("lookup client", "client_id", clientID, "error", err)
		return "error", http.StatusInternalServerError
	}
	if mime == "" {
		return "email cannot be empty", http.StatusBadRequest
	}

	resourceID := email.RawID(mime)
	if err := a.rawStorage.Put(ctx, resourceID, []byte(mime)); err != nil {
		a.logger.Error("store raw email", "resource_id", resourceID, "error", err)
		return "error", http.StatusInternalServerError
	}
	if err := a.tasks.Enqueue(ctx, queue.Task{ResourceID: resourceID, ContainerName: blob.ContainerRawEmails}); err != nil {
		a.logger.Error("enqueue inbound task", "resource_id", resourceID, "error", err)
		return "error", http.StatusInternalServerError
	}

	a.logger.Info("email received for client", "domain", domain, "resource_id", resourceID)
	return "received", http.StatusOK
}

// StoreInboundEmails normalizes a stored raw MIME message into the
// canonical record and fans it out to every recipient domain's pending set.
// Re-running with the same resource id re-stores the same record and leaves
// the pending sets unchanged.
type StoreInboundEmails struct {
	rawStorage blob.Store
	emails     *blob.ObjectStore
	pending    *pending.Index
	mailbox    *pending.Mailbox
	limits     parser.ImageLimits
	inliner    *parser.InlineImageFormatter
	now        func() time.Time
	logger     *slog.Logger
}

func NewStoreInboundEmails(
	rawStorage blob.Store,
	emails *blob.ObjectStore,
	pendingIndex *pending.Index,
	mailbox *pending.Mailbox,
	limits parser.ImageLimits,
	inliner *parser.InlineImageFormatter,
	logger *slog.Logger,
) *StoreInboundEmails {
	return &StoreInboundEmails{
		rawStorage: rawStorage,
		emails:     emails,
		pending:    pendingIndex,
		mailbox:    mailbox,
		limits:     limits,
		inliner:    inliner,
		now:        time.Now,
		logger:     logger,
	}
}

func (a *StoreInboundEmails) Do(ctx context.Context, resourceID string) (string, int) {
	raw, err := a.rawStorage.Get(ctx, resourceID)
	if errors.Is(err, blob.ErrNotFound) {
		a.logger.Warn("inbound email does not exist", "resource_id", resourceID)
		return "skipped", http.StatusAccepted
	}
	if err != nil {
		a.logger.Error("fetch raw email", "resource_id", resourceID, "error", err)
		return "error", http.StatusInternalServerError
	}

	record, parseErr := parser.Parse(string(raw))
	if parseErr != nil {
		a.logger.Warn("partial mime parse", "resource_id", resourceID, "error", parseErr)
	}
	email.EnsureSentAt(record, a.now())
	record.UID = resourceID
	record = parser.FormatAttachments(record, a.limits)
	if a.inliner != nil {
		record = a.inliner.Format(record)
	}

	if err := a.emails.StoreEmail(ctx, record.UID, record); err != nil {
		a.logger.Error("store email", "uid", record.UID, "error", err)
		return "error", http.StatusInternalServerError
	}
	domains := email.Domains(record)
	for _, domain := range domains {
		if err := a.pending.MarkPending(ctx, domain, record.UID); err != nil {
			a.logger.Error("mark pending", "domain", domain, "uid", record.UID, "error", err)
			return "error", http.StatusInternalServerError
		}
	}
	// Inbound mail is filed only under its recipients; the sender lives
	// outside the relay and has no mailbox here.
	if err := a.mailbox.IndexReceived(ctx, record); err != nil {
		a.logger.Error("index received email", "uid", record.UID, "error", err)
		return "error", http.StatusInternalServerError
	}

	if err := a.rawStorage.Delete(ctx, resourceID); err != nil {
		a.logger.Error("delete raw email", "resource_id", resourceID, "error", err)
		return "error", http.StatusInternalServerError
	}

	a.logger.Info("email stored for client", "domain", email.Domain(record.From), "uid", record.UID, "fan_out", len(domains))
	return "OK", http.StatusOK
}

// UploadClientEmails accepts a client's notification that it finished
// uploading a bundle of locally written email, and hands the bundle to the
// written-store worker.
type UploadClientEmails struct {
	clients clients.Directory
	tasks   queue.Queue
	logger  *slog.Logger
}

func NewUploadClientEmails(directory clients.Directory, tasks queue.Queue, logger *slog.Logger) *UploadClientEmails {
	return &UploadClientEmails{clients: directory, tasks: tasks, logger: logger}
}

func (a *UploadClientEmails) Do(ctx context.Context, clientID, resourceID string) (string, int) {
	domain, err := a.clients.DomainFor(ctx, clientID)
	if errors.Is(err, clients.ErrNotFound) {
		a.logger.Warn("unregistered client", "client_id", clientID)
		return "client is not registered", http.StatusForbidden
	}
	if err != nil {
		a.logger.Error("lookup client", "client_id", clientID, "error", err)
		return "error", http.StatusInternalServerError
	}
	if resourceID == "" {
		return "resource_id cannot be empty", http.StatusBadRequest
	}

	if err := a.tasks.Enqueue(ctx, queue.Task{ResourceID: resourceID, ContainerName: blob.ContainerBundles}); err != nil {
		a.logger.Error("enqueue written task", "resource_id", resourceID, "error", err)
		return "error", http.StatusInternalServerError
	}

	a.logger.Info("emails received from client", "domain", domain, "resource_id", resourceID)
	return "uploaded", http.StatusOK
}

// StoreWrittenClientEmails unpacks a client-authored bundle, stores each
// record under its own uid and schedules a send per email. Records are
// processed independently: one malformed record never blocks the rest.
type StoreWrittenClientEmails struct {
	bundles   blob.Store
	emails    *blob.ObjectStore
	mailbox   *pending.Mailbox
	sendTasks queue.Queue
	now       func() time.Time
	logger    *slog.Logger
}

func NewStoreWrittenClientEmails(
	bundles blob.Store,
	emails *blob.ObjectStore,
	mailbox *pending.Mailbox,
	sendTasks queue.Queue,
	logger *slog.Logger,
) *StoreWrittenClientEmails {
	return &StoreWrittenClientEmails{
		bundles:   bundles,
		emails:    emails,
		mailbox:   mailbox,
		sendTasks: sendTasks,
		now:       time.Now,
		logger:    logger,
	}
}

func (a *StoreWrittenClientEmails) Do(ctx context.Context, resourceID string) (string, int) {
	records, err := bundle.Unpack(ctx, a.bundles, resourceID, a.logger)
	if errors.Is(err, blob.ErrNotFound) {
		a.logger.Warn("client bundle does not exist", "resource_id", resourceID)
		return "skipped", http.StatusAccepted
	}
	if err != nil {
		a.logger.Error("unpack client bundle", "resource_id", resourceID, "error", err)
		return "error", http.StatusInternalServerError
	}

	stored := 0
	domain := ""
	for _, record := range records {
		if record.UID == "" {
			a.logger.Warn("skipping client email without uid", "resource_id", resourceID)
			continue
		}
		email.EnsureSentAt(record, a.now())
		if err := a.emails.StoreEmail(ctx, record.UID, record); err != nil {
			a.logger.Error("store client email", "uid", record.UID, "error", err)
			continue
		}
		// File the email under the author's sent folder and, when a
		// recipient lives on another relay domain, under that recipient's
		// received folder too.
		if err := a.mailbox.IndexSent(ctx, record); err != nil {
			a.logger.Error("index sent email", "uid", record.UID, "error", err)
		}
		if err := a.mailbox.IndexReceived(ctx, record); err != nil {
			a.logger.Error("index received email", "uid", record.UID, "error", err)
		}
		if err := a.sendTasks.Enqueue(ctx, queue.Task{ResourceID: record.UID, ContainerName: blob.ContainerEmails}); err != nil {
			a.logger.Error("enqueue send task", "uid", record.UID, "error", err)
			continue
		}
		stored++
		domain = email.Domain(record.From)
	}

	if err := a.bundles.Delete(ctx, resourceID); err != nil {
		a.logger.Error("delete client bundle", "resource_id", resourceID, "error", err)
		return "error", http.StatusInternalServerError
	}

	a.logger.Info("emails stored from client", "domain", domain, "num_emails", stored)
	return "OK", http.StatusOK
}

// SendOutboundEmails hands one stored record to the transactional-email
// provider. It does not retry internally; the queue redelivers on failure.
type SendOutboundEmails struct {
	emails *blob.ObjectStore
	sender send.Sender
	logger *slog.Logger
}

func NewSendOutboundEmails(emails *blob.ObjectStore, sender send.Sender, logger *slog.Logger) *SendOutboundEmails {
	return &SendOutboundEmails{emails: emails, sender: sender, logger: logger}
}

func (a *SendOutboundEmails) Do(ctx context.Context, resourceID string) (string, int) {
	record, err := a.emails.FetchEmail(ctx, resourceID)
	if errors.Is(err, blob.ErrNotFound) {
		a.logger.Warn("outbound email does not exist", "resource_id", resourceID)
		return "skipped", http.StatusAccepted
	}
	if err != nil {
		a.logger.Error("fetch outbound email", "resource_id", resourceID, "error", err)
		return "error", http.StatusInternalServerError
	}

	if err := a.sender.Send(ctx, record); err != nil {
		a.logger.Error("send email", "uid", record.UID, "provider", a.sender.Name(), "error", err)
		return "error", http.StatusInternalServerError
	}

	a.logger.Info("email delivered from client", "domain", email.Domain(record.From), "uid", record.UID)
	return "OK", http.StatusOK
}

// DownloadResult points the client at its freshly packed bundle.
type DownloadResult struct {
	ResourceID        string `json:"resource_id"`
	ResourceContainer string `json:"resource_container"`
	ResourceType      string `json:"resource_type"`
}

// DownloadClientEmails bundles everything pending for the client's domain
// and marks exactly the bundled ids delivered. Concurrent downloads may
// deliver overlapping sets; an email only leaves the pending set after its
// bundle has been durably stored.
type DownloadClientEmails struct {
	clients clients.Directory
	emails  *blob.ObjectStore
	pending *pending.Index
	bundles blob.Store
	logger  *slog.Logger
}

func NewDownloadClientEmails(
	directory clients.Directory,
	emails *blob.ObjectStore,
	pendingIndex *pending.Index,
	bundles blob.Store,
	logger *slog.Logger,
) *DownloadClientEmails {
	return &DownloadClientEmails{
		clients: directory,
		emails:  emails,
		pending: pendingIndex,
		bundles: bundles,
		logger:  logger,
	}
}

func (a *DownloadClientEmails) Do(ctx context.Context, clientID string) (*DownloadResult, string, int) {
	domain, err := a.clients.DomainFor(ctx, clientID)
	if errors.Is(err, clients.ErrNotFound) {
		a.logger.Warn("unregistered client", "client_id", clientID)
		return nil, "client is not registered", http.StatusForbidden
	}
	if err != nil {
		a.logger.Error("lookup client", "client_id", clientID, "error", err)
		return nil, "error", http.StatusInternalServerError
	}

	uids, err := a.pending.Pending(ctx, domain)
	if err != nil {
		a.logger.Error("list pending emails", "domain", domain, "error", err)
		return nil, "error", http.StatusInternalServerError
	}

	var records []*email.Email
	var delivered []string
	for _, uid := range uids {
		record, err := a.emails.FetchEmail(ctx, uid)
		if errors.Is(err, blob.ErrNotFound) {
			// The record vanished; leave the marker so the email is not
			// silently lost.
			a.logger.Warn("pending email does not exist", "domain", domain, "uid", uid)
			continue
		}
		if err != nil {
			a.logger.Error("fetch pending email", "domain", domain, "uid", uid, "error", err)
			return nil, "error", http.StatusInternalServerError
		}
		records = append(records, record)
		delivered = append(delivered, uid)
	}

	resourceID, err := bundle.Pack(ctx, a.bundles, records)
	if err != nil {
		a.logger.Error("pack bundle", "domain", domain, "error", err)
		return nil, "error", http.StatusInternalServerError
	}

	// The bundle is durable, only now may the markers go away.
	if err := a.pending.Delivered(ctx, domain, delivered); err != nil {
		a.logger.Error("mark emails delivered", "domain", domain, "error", err)
		return nil, "error", http.StatusInternalServerError
	}

	a.logger.Info("emails delivered to client", "domain", domain, "num_emails", len(delivered))
	return &DownloadResult{
		ResourceID:        resourceID,
		ResourceContainer: blob.ContainerBundles,
		ResourceType:      bundle.ResourceType,
	}, "OK", http.StatusOK
}
