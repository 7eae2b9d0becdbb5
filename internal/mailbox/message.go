package mailbox

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

// maxPartBytes caps how much of a single MIME part is kept for matching.
const maxPartBytes = 1 << 20

// ParseMessage parses a raw RFC 5322 message. It never fails: headers
// that cannot be decoded are kept raw, and a body that is not valid MIME
// is kept as-is.
func ParseMessage(raw []byte) *Message {
	br := bufio.NewReader(bytes.NewReader(raw))
	th, err := textproto.ReadHeader(br)
	if err != nil {
		return &Message{Text: string(raw)}
	}
	rest, _ := io.ReadAll(br)

	h := mail.Header{Header: message.Header{Header: th}}
	msg := &Message{
		From:        decodedField(h, "From"),
		Subject:     decodedField(h, "Subject"),
		ContentType: th.Get("Content-Type"),
	}
	if date, err := h.Date(); err == nil {
		msg.Date = date
	}

	if text, ok := mimeText(raw); ok {
		msg.Text = text
	} else {
		msg.Text = string(rest)
	}

	return msg
}

func decodedField(h mail.Header, key string) string {
	if v, err := h.Text(key); err == nil {
		return v
	}
	return h.Get(key)
}

// mimeText walks every part and concatenates the decoded text/* and
// message/* bodies. Delivery reports keep the failed recipient in a
// message/delivery-status part and the original headers in a message/rfc822
// or text/rfc822-headers part.
func mimeText(raw []byte) (string, bool) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return "", false
	}
	defer mr.Close()

	var sb strings.Builder
	parts := 0
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) || message.IsUnknownEncoding(err) {
				continue
			}
			break
		}

		var contentType string
		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ = h.ContentType()
		case *mail.AttachmentHeader:
			contentType, _, _ = h.ContentType()
		}
		contentType = strings.ToLower(contentType)
		if contentType != "" &&
			!strings.HasPrefix(contentType, "text/") &&
			!strings.HasPrefix(contentType, "message/") {
			continue
		}

		body, err := io.ReadAll(io.LimitReader(part.Body, maxPartBytes))
		if err != nil {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.Write(body)
		parts++
	}

	return sb.String(), parts > 0
}
