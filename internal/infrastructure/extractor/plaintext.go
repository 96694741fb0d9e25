package extractor

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/ChrisPatten/haven-sub001/internal/core/domain"
)

// Plaintext handles text-ish attachments verbatim. Anything that is not
// valid UTF-8 is rejected rather than indexed as mojibake.
type Plaintext struct{}

func NewPlaintext() *Plaintext {
	return &Plaintext{}
}

func (p *Plaintext) Supports(mimeType string) bool {
	base := baseMIME(mimeType)
	if strings.HasPrefix(base, "text/") {
		return true
	}
	switch base {
	case "application/json", "application/xml", "message/rfc822":
		return true
	}
	return false
}

func (p *Plaintext) Extract(_ context.Context, att domain.Attachment) (string, error) {
	if !utf8.Valid(att.Data) {
		return "", domain.WrapError(domain.ErrInvalidInput, "extract plaintext",
			errInvalidEncoding(att.Filename))
	}
	return strings.TrimSpace(string(att.Data)), nil
}
