package send

import (
	"context"
	"errors"
	"strings"
	"testing"

	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/ascoderu/lokole-relay/internal/email"
)

type fakeSESClient struct {
	inputs []*sesv2.SendEmailInput
	err    error
}

func (f *fakeSESClient) SendEmail(_ context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{}, nil
}

func TestSESSimpleEmail(t *testing.T) {
	t.Parallel()

	client := &fakeSESClient{}
	sender := NewSESWithClient(client)

	record := &email.Email{
		From:    "writer@test.com",
		To:      []string{"one@x.com"},
		Cc:      []string{"two@y.com"},
		Subject: "hello",
		Body:    "<p>hi</p>",
	}
	if err := sender.Send(context.Background(), record); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(client.inputs) != 1 {
		t.Fatalf("SendEmail calls: got %d, want 1", len(client.inputs))
	}
	input := client.inputs[0]
	if input.Content.Simple == nil {
		t.Fatal("email without attachments must use the simple format")
	}
	if *input.FromEmailAddress != "writer@test.com" {
		t.Errorf("FromEmailAddress: got %q", *input.FromEmailAddress)
	}
	if len(input.Destination.ToAddresses) != 1 || input.Destination.ToAddresses[0] != "one@x.com" {
		t.Errorf("ToAddresses: got %v", input.Destination.ToAddresses)
	}
	if len(input.Destination.CcAddresses) != 1 {
		t.Errorf("CcAddresses: got %v", input.Destination.CcAddresses)
	}
}

func TestSESRawEmailWithAttachments(t *testing.T) {
	t.Parallel()

	client := &fakeSESClient{}
	sender := NewSESWithClient(client)

	record := &email.Email{
		From:    "writer@test.com",
		To:      []string{"reader@x.com"},
		Subject: "with attachment",
		Body:    "<p>see attached</p>",
		SentAt:  "2024-03-01 09:00",
		Attachments: []email.Attachment{
			{Filename: "report.txt", Content: []byte("contents")},
		},
	}
	if err := sender.Send(context.Background(), record); err != nil {
		t.Fatalf("Send: %v", err)
	}

	input := client.inputs[0]
	if input.Content.Raw == nil {
		t.Fatal("email with attachments must use the raw format")
	}
	raw := string(input.Content.Raw.Data)
	if !strings.Contains(raw, "report.txt") {
		t.Errorf("raw message must name the attachment: %q", raw)
	}
	if !strings.Contains(raw, "Subject: with attachment") {
		t.Errorf("raw message must carry the subject: %q", raw)
	}
}

func TestSESPropagatesProviderFailure(t *testing.T) {
	t.Parallel()

	client := &fakeSESClient{err: errors.New("throttled")}
	sender := NewSESWithClient(client)

	err := sender.Send(context.Background(), &email.Email{From: "a@x.com", To: []string{"b@y.com"}})
	if err == nil {
		t.Fatal("provider failure must surface as an error")
	}
}
