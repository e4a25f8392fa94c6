package aster

import (
	"strings"
	"testing"
)

// base64For returns a base64 string whose estimated decoded size is exactly n
// bytes: with length = floor(n*4/3), ceil(length*3/4) == n.
func base64For(n int) string {
	return strings.Repeat("A", n*4/3)
}

func TestValidateAttachment(t *testing.T) {
	tests := []struct {
		name    string
		att     Attachment
		wantErr bool
	}{
		{"png ok", Attachment{MediaType: "image/png", Data: "aGVsbG8="}, false},
		{"pdf ok", Attachment{MediaType: "application/pdf", Data: "aGVsbG8="}, false},
		{"url image ok", Attachment{MediaType: "image/jpeg", URL: "https://example.com/a.jpg"}, false},
		{"unsupported type", Attachment{MediaType: "image/tiff", Data: "aGk="}, true},
		{"text type rejected", Attachment{MediaType: "text/plain", Data: "aGk="}, true},
		{"neither data nor url", Attachment{MediaType: "image/png"}, true},
		{"both data and url", Attachment{MediaType: "image/png", Data: "aGk=", URL: "https://x"}, true},
		{"image at limit", Attachment{MediaType: "image/png", Data: base64For(MaxImageBytes)}, false},
		{"image one byte over", Attachment{MediaType: "image/png", Data: base64For(MaxImageBytes + 1)}, true},
		{"pdf at limit", Attachment{MediaType: "application/pdf", Data: base64For(MaxDocumentBytes)}, false},
		{"pdf one byte over", Attachment{MediaType: "application/pdf", Data: base64For(MaxDocumentBytes + 1)}, true},
		{"oversize url image bypasses check", Attachment{MediaType: "image/png", URL: "https://example.com/huge.png"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAttachment(tt.att)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAttachment() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBuildUserContent(t *testing.T) {
	content, err := BuildUserContent("just text", nil)
	if err != nil {
		t.Fatal(err)
	}
	if content.IsBlocks() || content.Text != "just text" {
		t.Errorf("no attachments should stay plain text: %+v", content)
	}

	content, err = BuildUserContent("look at these", []Attachment{
		{MediaType: "image/png", Data: "aW1n"},
		{MediaType: "application/pdf", URL: "https://example.com/doc.pdf"},
	})
	if err != nil {
		t.Fatal(err)
	}
	blocks := content.Blocks
	if len(blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(blocks))
	}
	if blocks[0].Type != BlockImage || blocks[1].Type != BlockDocument {
		t.Errorf("attachments must precede text: %v, %v", blocks[0].Type, blocks[1].Type)
	}
	if blocks[2].Type != BlockText || blocks[2].Text != "look at these" {
		t.Errorf("text block must come last: %+v", blocks[2])
	}
	if blocks[1].Source.Kind != "url" {
		t.Errorf("url attachment source: %+v", blocks[1].Source)
	}

	if _, err := BuildUserContent("x", []Attachment{{MediaType: "audio/mp3", Data: "eA=="}}); err == nil {
		t.Error("invalid attachment should fail the whole build")
	}
}
