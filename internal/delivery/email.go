// Package delivery fans a composed message out over its enabled channels.
// The dispatcher runs inside the offline queue worker, so every sender must
// tolerate redelivery of the same message.
package delivery

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"net/smtp"
	"strings"

	"github.com/careloop/schedkit/internal/message"
)

type EmailSender interface {
	Send(to string, subject string, body string, attachments []message.Attachment) error
}

// SMTPSender sends email via unauthenticated SMTP (Mailpit-compatible).
type SMTPSender struct {
	addr string
	from string
}

func NewSMTPSender(host string, port string, from string) *SMTPSender {
	host = strings.TrimSpace(host)
	port = strings.TrimSpace(port)
	from = strings.TrimSpace(from)
	if from == "" {
		from = "no-reply@schedkit.local"
	}
	return &SMTPSender{
		addr: fmt.Sprintf("%s:%s", host, port),
		from: from,
	}
}

func (s *SMTPSender) Send(to string, subject string, body string, attachments []message.Attachment) error {
	msg := buildMessage(s.from, to, subject, body, attachments)
	return smtp.SendMail(s.addr, nil, s.from, []string{to}, msg)
}

const mimeBoundary = "schedkit-mixed-boundary"

func buildMessage(from, to, subject, body string, attachments []message.Attachment) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	buf.WriteString("MIME-Version: 1.0\r\n")

	inline := inlineAttachments(attachments)
	if len(inline) == 0 {
		buf.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
		buf.WriteString(body)
		buf.WriteString("\r\n")
		return buf.Bytes()
	}

	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", mimeBoundary)
	fmt.Fprintf(&buf, "--%s\r\n", mimeBoundary)
	buf.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	buf.WriteString(body)
	buf.WriteString("\r\n")

	for _, att := range inline {
		name := att.Filename
		if name == "" {
			name = "attachment"
		}
		contentType := att.MimeType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		fmt.Fprintf(&buf, "--%s\r\n", mimeBoundary)
		fmt.Fprintf(&buf, "Content-Type: %s; name=%q\r\n", contentType, name)
		buf.WriteString("Content-Transfer-Encoding: base64\r\n")
		fmt.Fprintf(&buf, "Content-Disposition: attachment; filename=%q\r\n\r\n", name)
		writeBase64(&buf, att.Content)
	}
	fmt.Fprintf(&buf, "--%s--\r\n", mimeBoundary)
	return buf.Bytes()
}

// inlineAttachments keeps only attachments carrying bytes; URL-only
// attachments are already referenced from the body.
func inlineAttachments(attachments []message.Attachment) []message.Attachment {
	var out []message.Attachment
	for _, att := range attachments {
		if len(att.Content) > 0 {
			out = append(out, att)
		}
	}
	return out
}

func writeBase64(buf *bytes.Buffer, content []byte) {
	encoded := base64.StdEncoding.EncodeToString(content)
	for len(encoded) > 76 {
		buf.WriteString(encoded[:76])
		buf.WriteString("\r\n")
		encoded = encoded[76:]
	}
	buf.WriteString(encoded)
	buf.WriteString("\r\n")
}
