package importer

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// importNamespace scopes the ids derived for imported cards.
var importNamespace = uuid.MustParse("0c3f7c0e-5d6a-4b7e-9a43-2f1d2c6e8b51")

// Normalize concatenates the note's content after cleaning each part.
// It trims whitespace, lowercases, and normalizes line endings for each field
// before joining them.
func Normalize(n Note) string {
	normalizePart := func(part string) string {
		p := strings.ReplaceAll(part, "\r\n", "\n")
		return strings.TrimSpace(strings.ToLower(p))
	}
	// Joined with newlines so "question"+"answer" cannot collide with "questionanswer".
	return strings.Join([]string{
		normalizePart(n.Question),
		normalizePart(n.Answer),
		normalizePart(n.Context),
	}, "\n")
}

// Hash returns the SHA-256 of the normalized note as a hex string.
func Hash(n Note) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(Normalize(n))))
}

// CardID derives a stable card id for a note imported into deckID, so
// re-importing the same content finds the same card.
func CardID(deckID string, n Note) string {
	return uuid.NewSHA1(importNamespace, []byte(deckID+"\n"+Hash(n))).String()
}
