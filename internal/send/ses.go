package send

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	gomail "github.com/emersion/go-message/mail"

	"github.com/ascoderu/lokole-relay/internal/email"
)

// SESConfig holds the credentials for the AWS SES v2 backend.
type SESConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// SES sends email via the AWS SES v2 API.
type SES struct {
	client SendEmailAPI
}

// SendEmailAPI is the slice of the SES v2 client the sender uses, split out
// so tests can substitute a fake.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// NewSES builds a sender against the real SES API.
func NewSES(ctx context.Context, cfg SESConfig) (*SES, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &SES{client: sesv2.NewFromConfig(awsCfg)}, nil
}

// NewSESWithClient builds a sender over a custom client, used by tests.
func NewSESWithClient(client SendEmailAPI) *SES {
	return &SES{client: client}
}

// Send delivers a record via SES. Records with attachments go out as raw
// MIME; everything else uses the simple email format.
func (s *SES) Send(ctx context.Context, record *email.Email) error {
	var input *sesv2.SendEmailInput
	if len(record.Attachments) > 0 {
		raw, err := buildRawMessage(record)
		if err != nil {
			return fmt.Errorf("build raw message: %w", err)
		}
		input = &sesv2.SendEmailInput{
			FromEmailAddress: aws.String(record.From),
			Destination:      destination(record),
			Content: &types.EmailContent{
				Raw: &types.RawMessage{Data: raw},
			},
		}
	} else {
		input = buildSimpleInput(record)
	}

	if _, err := s.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("ses send: %w", err)
	}
	return nil
}

func (s *SES) Name() string {
	return "ses"
}

func destination(record *email.Email) *types.Destination {
	return &types.Destination{
		ToAddresses:  record.To,
		CcAddresses:  record.Cc,
		BccAddresses: record.Bcc,
	}
}

func buildSimpleInput(record *email.Email) *sesv2.SendEmailInput {
	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(record.From),
		Destination:      destination(record),
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(record.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Html: &types.Content{
						Data:    aws.String(record.Body),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}
}

// buildRawMessage renders a record back into MIME for sends that carry
// attachments.
func buildRawMessage(record *email.Email) ([]byte, error) {
	var header gomail.Header
	header.SetDate(sentAtOrNow(record))
	header.SetSubject(record.Subject)
	header.SetAddressList("From", addressList([]string{record.From}))
	if len(record.To) > 0 {
		header.SetAddressList("To", addressList(record.To))
	}
	if len(record.Cc) > 0 {
		header.SetAddressList("Cc", addressList(record.Cc))
	}

	var buf bytes.Buffer
	writer, err := gomail.CreateWriter(&buf, header)
	if err != nil {
		return nil, fmt.Errorf("create mime writer: %w", err)
	}

	inline, err := writer.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("create body: %w", err)
	}
	var bodyHeader gomail.InlineHeader
	bodyHeader.Set("Content-Type", "text/html; charset=utf-8")
	bodyWriter, err := inline.CreatePart(bodyHeader)
	if err != nil {
		return nil, fmt.Errorf("create body part: %w", err)
	}
	if _, err := bodyWriter.Write([]byte(record.Body)); err != nil {
		return nil, fmt.Errorf("write body: %w", err)
	}
	bodyWriter.Close()
	inline.Close()

	for _, attachment := range record.Attachments {
		var attachmentHeader gomail.AttachmentHeader
		attachmentHeader.SetFilename(attachment.Filename)
		attachmentWriter, err := writer.CreateAttachment(attachmentHeader)
		if err != nil {
			return nil, fmt.Errorf("create attachment %s: %w", attachment.Filename, err)
		}
		if _, err := attachmentWriter.Write(attachment.Content); err != nil {
			return nil, fmt.Errorf("write attachment %s: %w", attachment.Filename, err)
		}
		attachmentWriter.Close()
	}
	writer.Close()

	return buf.Bytes(), nil
}

func addressList(addresses []string) []*gomail.Address {
	list := make([]*gomail.Address, 0, len(addresses))
	for _, address := range addresses {
		list = append(list, &gomail.Address{Address: address})
	}
	return list
}

func sentAtOrNow(record *email.Email) time.Time {
	if parsed, err := time.Parse(email.SentAtLayout, record.SentAt); err == nil {
		return parsed
	}
	return time.Now().UTC()
}
