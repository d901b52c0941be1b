// Package bundle packs email records into the single compressed object
// exchanged with clients during a sync: gzip-compressed JSON lines, one
// record per line, attachment bytes base64-encoded inside the JSON.
package bundle

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ascoderu/lokole-relay/internal/blob"
	"github.com/ascoderu/lokole-relay/internal/email"
)

// ResourceType identifies the bundle encoding to clients.
const ResourceType = "emails.jsonl.gz"

// Pack compresses the records into a new bundle object and returns its
// resource id. An empty record list still produces a (empty) bundle so a
// sync with nothing pending completes normally.
func Pack(ctx context.Context, store blob.Store, records []*email.Email) (string, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	for _, record := range records {
		serialized, err := email.Serialize(record)
		if err != nil {
			return "", fmt.Errorf("pack email %s: %w", record.UID, err)
		}
		if _, err := writer.Write(append(serialized, '\n')); err != nil {
			return "", fmt.Errorf("pack email %s: %w", record.UID, err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("pack bundle: %w", err)
	}

	resourceID := uuid.NewString()
	if err := store.Put(ctx, resourceID, buf.Bytes()); err != nil {
		return "", fmt.Errorf("store bundle %s: %w", resourceID, err)
	}
	return resourceID, nil
}

// Unpack reads the records out of a bundle object. Malformed lines are
// logged and skipped so one bad record never blocks the rest of the batch.
func Unpack(ctx context.Context, store blob.Store, resourceID string, logger *slog.Logger) ([]*email.Email, error) {
	compressed, err := store.Get(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	reader, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("open bundle %s: %w", resourceID, err)
	}
	defer reader.Close()

	var records []*email.Email
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		record, err := email.Deserialize(line)
		if err != nil {
			logger.Warn("skipping malformed bundle line", "resource_id", resourceID, "error", err)
			continue
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read bundle %s: %w", resourceID, err)
	}
	return records, nil
}
