package message

import (
	"context"
	"strings"
	"testing"

	"github.com/careloop/schedkit/internal/document"
)

func TestNormalizeAttachmentRenderByModel(t *testing.T) {
	r := &fakeRenderer{}
	att, err := normalizeAttachment(context.Background(), r, map[string]any{
		"template": "invoice",
		"model":    map[string]any{"amount": 120},
		"filename": "invoice.pdf",
	}, nil)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if att.MimeType != document.MimePDF {
		t.Fatalf("mime = %q", att.MimeType)
	}
	if att.Filename != "invoice.pdf" {
		t.Fatalf("filename = %q", att.Filename)
	}
	if string(att.Content) != "rendered:invoice" {
		t.Fatalf("content = %q", att.Content)
	}
}

func TestNormalizeAttachmentExplicitTypeBeatsExtension(t *testing.T) {
	r := &fakeRenderer{}
	att, err := normalizeAttachment(context.Background(), r, map[string]any{
		"template": "letter",
		"model":    map[string]any{"x": 1},
		"filename": "letter.pdf",
		"type":     "docx",
	}, nil)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if att.MimeType != document.MimeDocx {
		t.Fatalf("mime = %q", att.MimeType)
	}
}

func TestNormalizeAttachmentRenderByStoredID(t *testing.T) {
	r := &fakeRenderer{}
	att, err := normalizeAttachment(context.Background(), r, map[string]any{
		"template": "report",
		"id":       "stored-42",
	}, nil)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if string(att.Content) != "stored:stored-42" {
		t.Fatalf("content = %q", att.Content)
	}
	if att.MimeType != document.MimePDF {
		t.Fatalf("mime = %q", att.MimeType)
	}
}

func TestNormalizeAttachmentRawContent(t *testing.T) {
	att, err := normalizeAttachment(context.Background(), nil, map[string]any{
		"filename": "notes.txt",
		"content":  "aGVsbG8=", // "hello"
		"mimeType": "text/plain",
	}, nil)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if string(att.Content) != "hello" {
		t.Fatalf("content = %q", att.Content)
	}
	if att.MimeType != "text/plain" {
		t.Fatalf("mime = %q", att.MimeType)
	}
}

func TestNormalizeAttachmentURLFieldCasings(t *testing.T) {
	for _, key := range []string{"mimeType", "mimetype", "mime_type", "contentType"} {
		att, err := normalizeAttachment(context.Background(), nil, map[string]any{
			"url": "https://files.test/scan.png",
			key:   "image/png",
		}, nil)
		if err != nil {
			t.Fatalf("normalize(%s): %v", key, err)
		}
		if att.URL != "https://files.test/scan.png" {
			t.Fatalf("url = %q", att.URL)
		}
		if att.MimeType != "image/png" {
			t.Fatalf("%s: mime = %q", key, att.MimeType)
		}
	}
}

func TestNormalizeAttachmentBareURLString(t *testing.T) {
	att, err := normalizeAttachment(context.Background(), nil, "https://files.test/result.pdf", nil)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if att.MimeType != "text/html" {
		t.Fatalf("mime = %q", att.MimeType)
	}
	if !strings.Contains(string(att.Content), `href="https://files.test/result.pdf"`) {
		t.Fatalf("content = %q", att.Content)
	}
}

func TestNormalizeAttachmentFallbackPlainText(t *testing.T) {
	att, err := normalizeAttachment(context.Background(), nil, "just a note", nil)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if att.MimeType != "text/plain" {
		t.Fatalf("mime = %q", att.MimeType)
	}
	if string(att.Content) != "just a note" {
		t.Fatalf("content = %q", att.Content)
	}
}
