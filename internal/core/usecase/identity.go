package usecase

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/ChrisPatten/haven-sub001/internal/core/domain"
)

// ResolveIdentity derives the canonical external identifier and content hash
// for an inbound item. Pure: no I/O, no persisted state. Identical input
// always yields identical output, which is what makes server-side
// deduplication possible without an identifier registry.
func ResolveIdentity(item domain.IngestItem) domain.ResolvedIdentity {
	contentHash := HashContent(item.Text)
	if item.ContentSHA256 != "" {
		contentHash = strings.ToLower(strings.TrimSpace(item.ContentSHA256))
	}

	if native := normalizeNativeID(item.NativeID); native != "" {
		return domain.ResolvedIdentity{
			ExternalID:  string(item.SourceType) + ":" + native,
			ContentHash: contentHash,
			Strategy:    domain.IdentityNativeID,
		}
	}

	seed := deriveSeed(item)
	sum := sha256.Sum256([]byte(seed))
	return domain.ResolvedIdentity{
		ExternalID:  string(item.SourceType) + ":" + hex.EncodeToString(sum[:]),
		ContentHash: contentHash,
		Strategy:    domain.IdentityDerivedSeed,
		EmptySeed:   seed == "",
	}
}

// HashContent hashes whitespace-normalized body text for change detection.
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(normalizeWhitespace(text)))
	return hex.EncodeToString(sum[:])
}

// deriveSeed joins canonical timestamp, normalized subject and normalized
// sender with pipes, omitting absent components. Order is fixed; two items
// that agree on all present fields collide deliberately.
func deriveSeed(item domain.IngestItem) string {
	parts := make([]string, 0, 3)
	if ts, ok := ParseContentTimestamp(item.ContentTimestamp); ok {
		parts = append(parts, strconv.FormatInt(ts.Unix(), 10))
	}
	if subject := normalizeWhitespace(strings.ToLower(item.Title)); subject != "" {
		parts = append(parts, subject)
	}
	if sender := normalizeSender(item.Sender); sender != "" {
		parts = append(parts, sender)
	}
	return strings.Join(parts, "|")
}

// ParseContentTimestamp accepts the textual timestamp shapes connectors
// actually send and canonicalizes them to one instant, so "2024-01-02T03:04:05Z"
// and "Tue, 02 Jan 2024 03:04:05 +0000" produce the same seed component.
func ParseContentTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if epoch, err := strconv.ParseInt(raw, 10, 64); err == nil && epoch > 0 {
		return time.Unix(epoch, 0).UTC(), true
	}
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		time.RFC1123Z,
		time.RFC1123,
		time.RFC822Z,
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func normalizeNativeID(id string) string {
	id = strings.TrimSpace(id)
	for len(id) >= 2 {
		first, last := id[0], id[len(id)-1]
		if (first == '<' && last == '>') || (first == '"' && last == '"') {
			id = strings.TrimSpace(id[1 : len(id)-1])
			continue
		}
		break
	}
	if id == "" {
		return ""
	}
	return lowercaseScheme(id)
}

// lowercaseScheme lowers only a leading URI-style scheme so "MID:ABC" and
// "mid:ABC" normalize identically without touching the opaque remainder.
func lowercaseScheme(id string) string {
	idx := strings.Index(id, ":")
	if idx <= 0 {
		return id
	}
	scheme := id[:idx]
	for _, r := range scheme {
		if !unicode.IsLetter(r) {
			return id
		}
	}
	return strings.ToLower(scheme) + id[idx:]
}

func normalizeSender(sender string) string {
	sender = strings.ToLower(strings.TrimSpace(sender))
	if open := strings.LastIndex(sender, "<"); open >= 0 {
		if close := strings.Index(sender[open:], ">"); close > 0 {
			sender = sender[open+1 : open+close]
		}
	}
	return strings.TrimSpace(sender)
}

// normalizeWhitespace collapses runs of whitespace to single spaces so
// line-ending and indentation differences do not change content identity.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
