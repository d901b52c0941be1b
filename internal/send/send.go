// Package send delivers outbound email through a transactional provider.
package send

import (
	"context"
	"log/slog"

	"github.com/ascoderu/lokole-relay/internal/email"
)

// Sender is the interface that delivery backends implement. The pipeline
// never retries internally; a failed send surfaces to the queue, which
// redelivers the task.
type Sender interface {
	Send(ctx context.Context, record *email.Email) error
	Name() string
}

// Stdout is a Sender that only logs, the default when no provider
// credentials are configured. Useful for development and air-gapped tests.
type Stdout struct {
	logger *slog.Logger
}

func NewStdout(logger *slog.Logger) *Stdout {
	return &Stdout{logger: logger}
}

func (s *Stdout) Send(_ context.Context, record *email.Email) error {
	s.logger.Info("email delivered to stdout",
		"uid", record.UID,
		"from", record.From,
		"to", record.To,
		"subject", record.Subject,
		"attachments", len(record.Attachments),
	)
	return nil
}

func (s *Stdout) Name() string {
	return "stdout"
}
