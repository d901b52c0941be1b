package parser

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/ascoderu/lokole-relay/internal/email"
)

// ImageLimits bounds the dimensions of images shipped to clients over slow
// links. Images already within bounds pass through byte-for-byte.
type ImageLimits struct {
	MaxWidth  int
	MaxHeight int
}

// FormatAttachments resizes image attachments that exceed the limits. The
// input record is never mutated; a copy is returned only when at least one
// attachment actually changed.
func FormatAttachments(record *email.Email, limits ImageLimits) *email.Email {
	if len(record.Attachments) == 0 {
		return record
	}

	formatted := make([]email.Attachment, len(record.Attachments))
	copy(formatted, record.Attachments)
	changed := false

	for i, attachment := range record.Attachments {
		guessed := mime.TypeByExtension(filepath.Ext(attachment.Filename))
		if !strings.Contains(strings.ToLower(guessed), "image") {
			continue
		}
		resized, err := resizeImage(attachment.Content, limits)
		if err != nil {
			continue
		}
		if !bytes.Equal(resized, attachment.Content) {
			formatted[i].Content = resized
			changed = true
		}
	}

	if !changed {
		return record
	}
	copied := *record
	copied.Attachments = formatted
	return &copied
}

// resizeImage thumbnails content to fit within the limits, preserving aspect
// ratio and the original encoding. Content already within bounds is returned
// unchanged.
func resizeImage(content []byte, limits ImageLimits) ([]byte, error) {
	decoded, format, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := decoded.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= limits.MaxWidth && height <= limits.MaxHeight {
		return content, nil
	}

	scale := float64(limits.MaxWidth) / float64(width)
	if vertical := float64(limits.MaxHeight) / float64(height); vertical < scale {
		scale = vertical
	}
	scaledWidth := int(float64(width) * scale)
	scaledHeight := int(float64(height) * scale)
	if scaledWidth < 1 {
		scaledWidth = 1
	}
	if scaledHeight < 1 {
		scaledHeight = 1
	}

	scaled := image.NewRGBA(image.Rect(0, 0, scaledWidth, scaledHeight))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), decoded, bounds, draw.Over, nil)

	var buf bytes.Buffer
	switch format {
	case "png":
		err = png.Encode(&buf, scaled)
	case "gif":
		err = gif.Encode(&buf, scaled, nil)
	default:
		err = jpeg.Encode(&buf, scaled, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s image: %w", format, err)
	}
	return buf.Bytes(), nil
}

// InlineImageFormatter rewrites remote <img> references in HTML bodies to
// embedded data URIs so clients can render them offline.
type InlineImageFormatter struct {
	client *http.Client
	limits ImageLimits
	logger *slog.Logger
}

func NewInlineImageFormatter(client *http.Client, limits ImageLimits, logger *slog.Logger) *InlineImageFormatter {
	if client == nil {
		client = http.DefaultClient
	}
	return &InlineImageFormatter{client: client, limits: limits, logger: logger}
}

// Format fetches, resizes and inlines every http(s) image in the body. A
// fetch or decode failure for one image leaves that tag untouched and never
// fails the email as a whole.
func (f *InlineImageFormatter) Format(record *email.Email) *email.Email {
	if record.Body == "" {
		return record
	}

	context := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	fragments, err := html.ParseFragment(strings.NewReader(record.Body), context)
	if err != nil {
		f.logger.Warn("parse email body", "error", err)
		return record
	}

	changed := false
	for _, fragment := range fragments {
		if f.inlineImages(fragment) {
			changed = true
		}
	}
	if !changed {
		return record
	}

	var buf bytes.Buffer
	for _, fragment := range fragments {
		if err := html.Render(&buf, fragment); err != nil {
			f.logger.Warn("render email body", "error", err)
			return record
		}
	}
	copied := *record
	copied.Body = buf.String()
	return &copied
}

func (f *InlineImageFormatter) inlineImages(node *html.Node) bool {
	changed := false
	if node.Type == html.ElementNode && node.DataAtom == atom.Img {
		for i, attr := range node.Attr {
			if attr.Key != "src" || !strings.HasPrefix(attr.Val, "http") {
				continue
			}
			encoded, err := f.fetchImage(attr.Val)
			if err != nil {
				f.logger.Warn("inline image skipped", "url", attr.Val, "error", err)
				continue
			}
			node.Attr[i].Val = encoded
			changed = true
		}
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if f.inlineImages(child) {
			changed = true
		}
	}
	return changed
}

func (f *InlineImageFormatter) fetchImage(url string) (string, error) {
	response, err := f.client.Get(url)
	if err != nil {
		return "", fmt.Errorf("fetch image: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch image: status %d", response.StatusCode)
	}
	content, err := io.ReadAll(response.Body)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if len(content) == 0 {
		return "", fmt.Errorf("fetch image: empty response")
	}

	imageType := response.Header.Get("Content-Type")
	if imageType == "" {
		imageType = mime.TypeByExtension(filepath.Ext(url))
	}
	if imageType == "" {
		return "", fmt.Errorf("fetch image: unknown content type")
	}

	resized, err := resizeImage(content, f.limits)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("data:%s;base64,%s", imageType, base64.StdEncoding.EncodeToString(resized)), nil
}
