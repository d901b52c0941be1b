package api

import (
	"context"

	"github.com/ascoderu/lokole-relay/internal/actions"
)

type Receiver interface {
	Do(ctx context.Context, clientID, mime string) (string, int)
}

type Uploader interface {
	Do(ctx context.Context, clientID, resourceID string) (string, int)
}

type Downloader interface {
	Do(ctx context.Context, clientID string) (*actions.DownloadResult, string, int)
}

type Registrar interface {
	Do(ctx context.Context, domain string) (*actions.Registration, string, int)
}

type Deleter interface {
	Do(ctx context.Context, domain string) (string, int)
}

type MetricReader interface {
	Do(ctx context.Context, domain string) (*actions.PendingMetric, string, int)
}
