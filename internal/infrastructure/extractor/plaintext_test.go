package extractor

import (
	"context"
	"testing"

	"github.com/ChrisPatten/haven-sub001/internal/core/domain"
)

func TestPlaintextSupports(t *testing.T) {
	p := NewPlaintext()
	cases := []struct {
		mime string
		want bool
	}{
		{"text/plain", true},
		{"text/plain; charset=utf-8", true},
		{"TEXT/HTML", true},
		{"application/json", true},
		{"message/rfc822", true},
		{"application/pdf", false},
		{"image/png", false},
	}
	for _, tc := range cases {
		if got := p.Supports(tc.mime); got != tc.want {
			t.Fatalf("Supports(%q) = %v, want %v", tc.mime, got, tc.want)
		}
	}
}

func TestPlaintextExtractTrims(t *testing.T) {
	p := NewPlaintext()
	got, err := p.Extract(context.Background(), domain.Attachment{
		Filename: "note.txt",
		Data:     []byte("  hello world \n"),
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got != "hello world" {
		t.Fatalf("expected trimmed text, got %q", got)
	}
}

func TestPlaintextRejectsInvalidUTF8(t *testing.T) {
	p := NewPlaintext()
	_, err := p.Extract(context.Background(), domain.Attachment{
		Filename: "legacy.txt",
		Data:     []byte{0xff, 0xfe, 0x41},
	})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for non-utf8 data, got %v", err)
	}
}

func TestBaseMIMEStripsParameters(t *testing.T) {
	if got := baseMIME("Text/Plain; charset=ISO-8859-1"); got != "text/plain" {
		t.Fatalf("baseMIME() = %q", got)
	}
	if got := baseMIME("application/json"); got != "application/json" {
		t.Fatalf("baseMIME() = %q", got)
	}
}
