package extractor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/ChrisPatten/haven-sub001/internal/core/domain"
)

type PDF struct{}

func NewPDF() *PDF {
	return &PDF{}
}

func (p *PDF) Supports(mimeType string) bool {
	return baseMIME(mimeType) == "application/pdf"
}

func (p *PDF) Extract(_ context.Context, att domain.Attachment) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(att.Data), int64(len(att.Data)))
	if err != nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "open pdf", err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}

	var b strings.Builder
	if _, err := io.Copy(&b, plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return strings.TrimSpace(b.String()), nil
}
