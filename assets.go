package restruct

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ErrEmptyDocument is returned when a text asset has no content.
var ErrEmptyDocument = errors.New("document text is empty")

// Asset is any input that can be turned into the opening messages of a
// conversation.
type Asset interface {
	CreateMessages(ctx context.Context, log *slog.Logger) ([]*Message, error)
}

// TextAsset represents a text document
type TextAsset struct {
	Content string
}

func (t *TextAsset) CreateMessages(ctx context.Context, log *slog.Logger) ([]*Message, error) {
	if t.Content == "" {
		return nil, ErrEmptyDocument
	}
	return []*Message{NewUserMessage(NewTextPart(t.Content))}, nil
}

// ImageAsset represents an image document. An empty MimeType is detected from
// the data.
type ImageAsset struct {
	Data     []byte
	MimeType string
}

func (i *ImageAsset) CreateMessages(ctx context.Context, log *slog.Logger) ([]*Message, error) {
	if len(i.Data) == 0 {
		return nil, errors.New("image data is empty")
	}
	mt := i.MimeType
	if mt == "" {
		mt = mimetype.Detect(i.Data).String()
		log.Debug("Detected image MIME type", "mime_type", mt)
	}
	if !strings.HasPrefix(mt, "image/") {
		return nil, fmt.Errorf("image asset has non-image MIME type %q", mt)
	}
	return []*Message{NewUserMessage(NewImagePart(i.Data, mt))}, nil
}

// MultiModalAsset represents a combination of text and media
type MultiModalAsset struct {
	Text  string
	Media []*Part
}

func (m *MultiModalAsset) CreateMessages(ctx context.Context, log *slog.Logger) ([]*Message, error) {
	parts := []*Part{}
	if m.Text != "" {
		parts = append(parts, NewTextPart(m.Text))
	}
	parts = append(parts, m.Media...)

	if len(parts) == 0 {
		return nil, errors.New("no content provided")
	}
	return []*Message{NewUserMessage(parts...)}, nil
}

// BytesAsset is content of unknown type. Text is sent as text; anything else
// is sent inline with its detected MIME type.
type BytesAsset struct {
	Data []byte
	Name string // for logs only
}

func (b *BytesAsset) CreateMessages(ctx context.Context, log *slog.Logger) ([]*Message, error) {
	if len(b.Data) == 0 {
		return nil, fmt.Errorf("asset %q is empty", b.Name)
	}
	mt := mimetype.Detect(b.Data)
	log.Debug("Detected asset MIME type", "name", b.Name, "mime_type", mt.String())
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return []*Message{NewUserMessage(NewTextPart(string(b.Data)))}, nil
		}
	}
	return []*Message{NewUserMessage(NewDataPart(b.Data, mt.String()))}, nil
}

// FileAsset reads a local file when messages are created.
type FileAsset struct {
	Path string
}

func (f *FileAsset) CreateMessages(ctx context.Context, log *slog.Logger) ([]*Message, error) {
	if f.Path == "" {
		return nil, errors.New("file path is empty")
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read asset: %w", err)
	}
	return (&BytesAsset{Data: data, Name: f.Path}).CreateMessages(ctx, log)
}

func NewTextAsset(content string) *TextAsset {
	return &TextAsset{Content: content}
}

// NewImageAsset creates an image asset; mimeType may be empty.
func NewImageAsset(data []byte, mimeType string) *ImageAsset {
	return &ImageAsset{Data: data, MimeType: mimeType}
}

func NewMultiModalAsset(text string, media ...*Part) *MultiModalAsset {
	return &MultiModalAsset{Text: text, Media: media}
}

func NewBytesAsset(name string, data []byte) *BytesAsset {
	return &BytesAsset{Data: data, Name: name}
}

func NewFileAsset(path string) *FileAsset {
	return &FileAsset{Path: path}
}

// AssetsFrom wraps a text document.
func AssetsFrom(content string) []Asset {
	return []Asset{NewTextAsset(content)}
}

// conversationFrom builds the opening user messages from assets.
func conversationFrom(ctx context.Context, assets []Asset, log *slog.Logger) ([]*Message, error) {
	var msgs []*Message
	for i, asset := range assets {
		m, err := asset.CreateMessages(ctx, log)
		if err != nil {
			return nil, fmt.Errorf("asset %d: %w", i, err)
		}
		msgs = append(msgs, m...)
	}
	return msgs, nil
}

// firstText returns the first text part in msgs.
func firstText(msgs []*Message) string {
	for _, m := range msgs {
		for _, p := range m.Parts {
			if p.Type == "text" && p.Text != "" {
				return p.Text
			}
		}
	}
	return ""
}
