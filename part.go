package restruct

// Part represents a part of a message (text, image, file, etc.)
type Part struct {
	Type     string
	Text     string
	Data     []byte
	FileURI  string // For file uploads
	MimeType string // For images and files
}

// NewTextPart creates a new text part
func NewTextPart(text string) *Part {
	return &Part{Type: "text", Text: text}
}

// NewImagePart creates a new image part with data and mime type
func NewImagePart(data []byte, mimeType string) *Part {
	return &Part{Type: "image", Data: data, MimeType: mimeType}
}

// NewDataPart carries inline bytes of any MIME type
func NewDataPart(data []byte, mimeType string) *Part {
	return &Part{Type: "data", Data: data, MimeType: mimeType}
}

// NewFilePart creates a new file part that references an uploaded file URI
func NewFilePart(fileURI, mimeType string) *Part {
	return &Part{Type: "file", FileURI: fileURI, MimeType: mimeType}
}

// Message roles used in a conversation.
const (
	RoleSystem = "system"
	RoleUser   = "user"
	RoleModel  = "model"
)

// Message represents a message in a conversation
type Message struct {
	Role  string
	Parts []*Part
}

// NewUserMessage creates a new user message
func NewUserMessage(parts ...*Part) *Message {
	return &Message{Role: RoleUser, Parts: parts}
}

// NewSystemMessage creates a new system message
func NewSystemMessage(parts ...*Part) *Message {
	return &Message{Role: RoleSystem, Parts: parts}
}

// NewModelMessage creates a message attributed to the model, used to replay a
// previous response back to it.
func NewModelMessage(parts ...*Part) *Message {
	return &Message{Role: RoleModel, Parts: parts}
}

// Text concatenates the text parts of the message.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Type == "text" {
			out += p.Text
		}
	}
	return out
}
