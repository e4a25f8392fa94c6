package aster

// Attachment is a user-supplied image or PDF, carried either as base64 data
// or as a URL — never both, never neither.
type Attachment struct {
	MediaType string `json:"media_type"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

var supportedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

var supportedDocumentTypes = map[string]bool{
	"application/pdf": true,
}

// Size bounds for base64-sourced attachments (decoded bytes).
const (
	MaxImageBytes    = 20 * 1024 * 1024
	MaxDocumentBytes = 32 * 1024 * 1024
)

// decodedSize estimates the decoded byte count of a base64 string:
// ceil(len * 3 / 4).
func decodedSize(b64 string) int {
	return (len(b64)*3 + 3) / 4
}

// ValidateAttachment checks the media type, the data-xor-url rule, and the
// size bound. URL-sourced attachments bypass the size check; the provider
// enforces its own limit on fetch.
func ValidateAttachment(a Attachment) error {
	isImage := supportedImageTypes[a.MediaType]
	isDocument := supportedDocumentTypes[a.MediaType]
	if !isImage && !isDocument {
		return Validationf("unsupported media type %q", a.MediaType)
	}
	if a.Data == "" && a.URL == "" {
		return Validationf("attachment needs either data or url")
	}
	if a.Data != "" && a.URL != "" {
		return Validationf("attachment must carry data or url, not both")
	}
	if a.Data != "" {
		size := decodedSize(a.Data)
		if isImage && size > MaxImageBytes {
			return Validationf("image too large: %d bytes, limit %d", size, MaxImageBytes)
		}
		if isDocument && size > MaxDocumentBytes {
			return Validationf("document too large: %d bytes, limit %d", size, MaxDocumentBytes)
		}
	}
	return nil
}

// attachmentBlock converts a validated attachment to an image or document
// content block.
func attachmentBlock(a Attachment) ContentBlock {
	var src Source
	if a.URL != "" {
		src = Source{Kind: "url", URL: a.URL}
	} else {
		src = Source{Kind: "base64", MediaType: a.MediaType, Data: a.Data}
	}
	blockType := BlockImage
	if supportedDocumentTypes[a.MediaType] {
		blockType = BlockDocument
	}
	return ContentBlock{Type: blockType, Source: &src}
}

// BuildUserContent assembles a user message body from text and attachments.
// Without attachments the content stays a plain string. With attachments the
// result is a block sequence with every attachment before the text block.
func BuildUserContent(text string, attachments []Attachment) (Content, error) {
	if len(attachments) == 0 {
		return TextContent(text), nil
	}
	blocks := make([]ContentBlock, 0, len(attachments)+1)
	for _, a := range attachments {
		if err := ValidateAttachment(a); err != nil {
			return Content{}, err
		}
		blocks = append(blocks, attachmentBlock(a))
	}
	blocks = append(blocks, Text(text))
	return BlockContent(blocks...), nil
}
