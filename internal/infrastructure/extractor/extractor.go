package extractor

import (
	"fmt"
	"strings"

	"github.com/ChrisPatten/haven-sub001/internal/core/ports"
)

// Default returns the extractors wired into the worker, in dispatch order.
func Default() []ports.TextExtractor {
	return []ports.TextExtractor{
		NewPlaintext(),
		NewPDF(),
		NewXLSX(),
	}
}

// baseMIME strips parameters like "; charset=utf-8".
func baseMIME(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

func errInvalidEncoding(filename string) error {
	return fmt.Errorf("attachment %q is not valid utf-8", filename)
}
