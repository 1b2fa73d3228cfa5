// Package inbound ingests promotional offers that arrive as .eml files
// dropped into a local directory. Unlike the live Gmail API mailbox sync
// (explicitly out of scope), this path needs no OAuth: it reads files a
// separate, operator-owned process has already exported.
package inbound

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/ignite/promo-digest/internal/webparse"
)

// ParsedEmail is the structured result of parsing one .eml file.
type ParsedEmail struct {
	Subject    string
	From       string
	ReceivedAt time.Time
	BodyText   string
	TopLinks   []string
}

// MessageID derives the Message's source_message_id for an inbound .eml
// file: "mail:" + SHA-256(raw bytes)[0:60], stable across re-runs over the
// same file so re-ingesting a directory is a no-op.
func MessageID(raw []byte) string {
	sum := sha256.Sum256(raw)
	return "mail:" + hex.EncodeToString(sum[:])[:60]
}

// FromDomain returns the lowercased domain portion of an address, or "" if
// there is none.
func FromDomain(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(address[at+1:])
}

// ParseEML parses raw .eml bytes into a ParsedEmail, preferring the
// text/plain part and falling back to text/html converted to plain text
// (mirroring the original ingester's preference order).
func ParseEML(raw []byte) (ParsedEmail, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return ParsedEmail{}, fmt.Errorf("inbound: parse eml: %w", err)
	}

	subject, _ := mr.Header.Subject()
	from := ""
	if addrs, err := mr.Header.AddressList("From"); err == nil && len(addrs) > 0 {
		from = strings.ToLower(strings.TrimSpace(addrs[0].Address))
	}
	receivedAt, err := mr.Header.Date()
	if err != nil {
		receivedAt = time.Time{}
	}

	var textBody, htmlBody string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return ParsedEmail{}, fmt.Errorf("inbound: read part: %w", err)
		}
		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := inline.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch contentType {
		case "text/plain":
			if textBody == "" {
				textBody = string(body)
			}
		case "text/html":
			if htmlBody == "" {
				htmlBody = string(body)
			}
		}
	}

	parsed := ParsedEmail{Subject: subject, From: from, ReceivedAt: receivedAt}
	switch {
	case textBody != "":
		parsed.BodyText = textBody
	case htmlBody != "":
		doc, err := webparse.Parse(htmlBody)
		if err != nil {
			return ParsedEmail{}, fmt.Errorf("inbound: parse html body: %w", err)
		}
		parsed.BodyText = doc.Text
		parsed.TopLinks = doc.TopLinks
	}
	return parsed, nil
}
