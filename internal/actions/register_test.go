package actions

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/ascoderu/lokole-relay/internal/blob"
	"github.com/ascoderu/lokole-relay/internal/clients"
)

type fakeSetup struct {
	created   []string
	deleted   []string
	createErr error
}

func (f *fakeSetup) CreateMailbox(_ context.Context, _, domain string) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, domain)
	return nil
}

func (f *fakeSetup) DeleteMailbox(_ context.Context, _, domain string) error {
	f.deleted = append(f.deleted, domain)
	return nil
}

func TestRegisterClient(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	setup := &fakeSetup{}
	action := NewRegisterClient(f.directory, f.bundles, setup, AccessInfo{Account: "relay", Key: "secret"}, testLogger())

	reg, msg, status := action.Do(ctx, "newclient.lokole.ca")
	if status != http.StatusOK {
		t.Fatalf("Do() = (%q, %d), want 200", msg, status)
	}
	if reg.ClientID == "" {
		t.Fatal("registration has empty client id")
	}
	if reg.StorageAccount != "relay" || reg.StorageKey != "secret" || reg.ResourceContainer != blob.ContainerBundles {
		t.Errorf("registration = %+v, want storage access info", reg)
	}

	domain, err := f.directory.DomainFor(ctx, reg.ClientID)
	if err != nil || domain != "newclient.lokole.ca" {
		t.Errorf("DomainFor() = (%q, %v), want newclient.lokole.ca", domain, err)
	}
	if len(setup.created) != 1 || setup.created[0] != "newclient.lokole.ca" {
		t.Errorf("setup ran for %v, want the new domain", setup.created)
	}
}

func TestRegisterClientRejectsDuplicateDomain(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.register(t, "client-1", "taken.lokole.ca")
	action := NewRegisterClient(f.directory, f.bundles, NoopSetup{}, AccessInfo{}, testLogger())

	_, _, status := action.Do(context.Background(), "taken.lokole.ca")
	if status != http.StatusConflict {
		t.Fatalf("Do() status = %d, want 409", status)
	}
}

func TestRegisterClientValidatesDomain(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	action := NewRegisterClient(f.directory, f.bundles, NoopSetup{}, AccessInfo{}, testLogger())

	for _, domain := range []string{"", "nodot", "Mixed.Lokole.Ca"} {
		if _, _, status := action.Do(context.Background(), domain); status != http.StatusBadRequest {
			t.Errorf("Do(%q) status = %d, want 400", domain, status)
		}
	}
}

func TestRegisterClientSetupFailureLeavesNoRegistration(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	setup := &fakeSetup{createErr: errors.New("provider down")}
	action := NewRegisterClient(f.directory, f.bundles, setup, AccessInfo{}, testLogger())

	_, _, status := action.Do(ctx, "broken.lokole.ca")
	if status != http.StatusInternalServerError {
		t.Fatalf("Do() status = %d, want 500", status)
	}
	if _, err := f.directory.ClientIDFor(ctx, "broken.lokole.ca"); !errors.Is(err, clients.ErrNotFound) {
		t.Errorf("failed registration left a directory entry")
	}
}

func TestDeleteClient(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "client-1", "gone.lokole.ca")
	if err := f.pending.MarkPending(ctx, "gone.lokole.ca", "uid-1"); err != nil {
		t.Fatalf("MarkPending() error = %v", err)
	}
	setup := &fakeSetup{}
	action := NewDeleteClient(f.directory, setup, f.pending, f.mailbox, testLogger())

	msg, status := action.Do(ctx, "gone.lokole.ca")
	if status != http.StatusOK {
		t.Fatalf("Do() = (%q, %d), want 200", msg, status)
	}
	if _, err := f.directory.ClientIDFor(ctx, "gone.lokole.ca"); !errors.Is(err, clients.ErrNotFound) {
		t.Errorf("directory entry survived deletion")
	}
	count, err := f.pending.Count(ctx, "gone.lokole.ca")
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 0 {
		t.Errorf("pending count = %d, want purged", count)
	}
	if len(setup.deleted) != 1 {
		t.Errorf("setup teardown ran %d times, want 1", len(setup.deleted))
	}

	if _, status := action.Do(ctx, "gone.lokole.ca"); status != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", status)
	}
}

func TestCalculatePendingEmailsMetric(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "client-1", "lokole.ca")
	for _, uid := range []string{"uid-1", "uid-2", "uid-3"} {
		if err := f.pending.MarkPending(ctx, "lokole.ca", uid); err != nil {
			t.Fatalf("MarkPending() error = %v", err)
		}
	}
	action := NewCalculatePendingEmailsMetric(f.directory, f.pending, testLogger())

	metric, _, status := action.Do(ctx, "lokole.ca")
	if status != http.StatusOK {
		t.Fatalf("Do() status = %d, want 200", status)
	}
	if metric.ClientDomain != "lokole.ca" || metric.PendingEmails != 3 {
		t.Errorf("metric = %+v, want 3 pending for lokole.ca", metric)
	}

	if _, _, status := action.Do(ctx, "unknown.ca"); status != http.StatusNotFound {
		t.Errorf("unknown domain status = %d, want 404", status)
	}
}
