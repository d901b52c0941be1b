// Package parser converts raw MIME messages into canonical email records.
package parser

import (
	"io"
	"sort"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/ascoderu/lokole-relay/internal/email"
)

// Parse normalizes a raw MIME message. The returned record has no UID; the
// caller assigns one before persisting. A partially parseable message yields
// a record with whatever headers and parts could be read, plus the error.
func Parse(raw string) (*email.Email, error) {
	record := &email.Email{}

	reader, err := mail.CreateReader(strings.NewReader(raw))
	if reader == nil {
		return record, err
	}

	if fromList, err := reader.Header.AddressList("From"); err == nil && len(fromList) > 0 {
		record.From = normalizeAddress(fromList[0].Address)
	}
	record.To = headerAddresses(reader.Header, "To")
	record.Cc = headerAddresses(reader.Header, "Cc")
	record.Bcc = headerAddresses(reader.Header, "Bcc")
	if subject, err := reader.Header.Subject(); err == nil {
		record.Subject = subject
	}
	if date, err := reader.Header.Date(); err == nil && !date.IsZero() {
		record.SentAt = date.UTC().Format(email.SentAtLayout)
	}

	textBody, htmlBody := "", ""
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return record, err
		}

		switch header := part.Header.(type) {
		case *mail.InlineHeader:
			mediaType, _, _ := header.ContentType()
			cid := contentID(header.Get("Content-ID"))
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			switch {
			case strings.HasPrefix(mediaType, "text/html"):
				if htmlBody == "" {
					htmlBody = string(body)
				}
			case strings.HasPrefix(mediaType, "text/plain") || mediaType == "":
				if textBody == "" {
					textBody = string(body)
				}
			case cid != "":
				// Inline non-text content, typically an embedded image
				// referenced from the HTML body.
				record.Attachments = append(record.Attachments, email.Attachment{
					Filename: inlineFilename(header, cid),
					Content:  body,
					CID:      cid,
				})
			}
		case *mail.AttachmentHeader:
			filename, _ := header.Filename()
			if strings.TrimSpace(filename) == "" {
				continue
			}
			body, err := io.ReadAll(part.Body)
			if err != nil || len(body) == 0 {
				continue
			}
			record.Attachments = append(record.Attachments, email.Attachment{
				Filename: filename,
				Content:  body,
				CID:      contentID(header.Get("Content-ID")),
			})
		}
	}

	record.Body = htmlBody
	if record.Body == "" {
		record.Body = textBody
	}
	return record, nil
}

func headerAddresses(header mail.Header, key string) []string {
	list, err := header.AddressList(key)
	if err != nil || len(list) == 0 {
		return nil
	}
	seen := map[string]struct{}{}
	addresses := make([]string, 0, len(list))
	for _, addr := range list {
		normalized := normalizeAddress(addr.Address)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		addresses = append(addresses, normalized)
	}
	if len(addresses) == 0 {
		return nil
	}
	sort.Strings(addresses)
	return addresses
}

func normalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func contentID(header string) string {
	return strings.Trim(strings.TrimSpace(header), "<>")
}

func inlineFilename(header *mail.InlineHeader, cid string) string {
	if _, params, err := header.ContentType(); err == nil && params["name"] != "" {
		return params["name"]
	}
	return cid
}
