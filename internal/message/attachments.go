package message

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/careloop/schedkit/internal/document"
)

// normalizeAttachments resolves each raw attachment descriptor into an
// Attachment by the first matching rule:
//
//  1. template + model: render a document from (model, template), mime picked
//     by explicit type or filename extension
//  2. template + id: render a PDF from server-side stored data
//  3. raw content: pass through
//  4. url object: pass through, tolerating historical casings of the
//     mime-type field
//  5. bare URL string: minimal HTML-link attachment
//  6. anything else: plain-text attachment wrapping the raw value
func normalizeAttachments(ctx context.Context, renderer document.Renderer, items []any, data map[string]any) ([]Attachment, error) {
	if len(items) == 0 {
		return nil, nil
	}
	out := make([]Attachment, 0, len(items))
	for _, item := range items {
		att, err := normalizeAttachment(ctx, renderer, item, data)
		if err != nil {
			return nil, err
		}
		out = append(out, att)
	}
	return out, nil
}

func normalizeAttachment(ctx context.Context, renderer document.Renderer, item any, data map[string]any) (Attachment, error) {
	if m, ok := item.(map[string]any); ok {
		tmpl := stringField(m, "template")
		name := stringField(m, "filename", "name")

		if tmpl != "" {
			if model, ok := m["model"].(map[string]any); ok && len(model) > 0 {
				mime := mimeFor(stringField(m, "type"), name)
				doc, err := renderer.RenderByModel(ctx, model, tmpl, mime)
				if err != nil {
					return Attachment{}, err
				}
				return docAttachment(doc, name), nil
			}
			if id := stringField(m, "id"); id != "" {
				doc, err := renderer.RenderByStoredID(ctx, id, tmpl)
				if err != nil {
					return Attachment{}, err
				}
				return docAttachment(doc, name), nil
			}
			// Template with no explicit fill data renders against the
			// compose data.
			mime := mimeFor(stringField(m, "type"), name)
			doc, err := renderer.RenderByModel(ctx, data, tmpl, mime)
			if err != nil {
				return Attachment{}, err
			}
			return docAttachment(doc, name), nil
		}

		if content := stringField(m, "content"); content != "" {
			raw, err := base64.StdEncoding.DecodeString(content)
			if err != nil {
				raw = []byte(content)
			}
			return Attachment{
				Filename:    name,
				MimeType:    mimeField(m),
				Content:     raw,
				Description: stringField(m, "description"),
			}, nil
		}

		if u := stringField(m, "url"); u != "" {
			return Attachment{
				Filename:    name,
				MimeType:    mimeField(m),
				URL:         u,
				Thumbnail:   stringField(m, "thumbnail", "thumb"),
				Description: stringField(m, "description", "desc"),
			}, nil
		}
	}

	if s, ok := item.(string); ok && isWebURL(s) {
		return Attachment{
			MimeType: "text/html",
			Content:  []byte(fmt.Sprintf(`<a href=%q>%s</a>`, s, s)),
		}, nil
	}

	return Attachment{
		MimeType: "text/plain",
		Content:  []byte(fmt.Sprint(item)),
	}, nil
}

func docAttachment(doc document.Doc, name string) Attachment {
	if name == "" {
		name = doc.Name
	}
	return Attachment{Filename: name, MimeType: doc.MimeType, Content: doc.Content}
}

// mimeFor picks the render target: explicit "pdf" or a .pdf filename means
// PDF, anything else falls back to the office-document type.
func mimeFor(explicit, filename string) string {
	switch {
	case strings.EqualFold(explicit, "pdf"), explicit == document.MimePDF:
		return document.MimePDF
	case explicit != "":
		return document.MimeDocx
	case strings.HasSuffix(strings.ToLower(filename), ".pdf"), filename == "":
		return document.MimePDF
	default:
		return document.MimeDocx
	}
}

// mimeField tolerates the historical spellings of the mime-type field.
func mimeField(m map[string]any) string {
	return stringField(m, "mimeType", "mimetype", "mime_type", "contentType", "type")
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func isWebURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
