package ticket

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
)

// codeBytes gives 160 bits of entropy, rendered as 32 base32 characters.
const codeBytes = 20

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

type Generator struct{}

// NewCode returns a random, URL-safe ticket code.
func (Generator) NewCode() (string, error) {
	b := make([]byte, codeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("ticket.NewCode: %w", err)
	}
	return encoding.EncodeToString(b), nil
}

// LooksLikeCode reports whether s has the shape of a generated code.
func LooksLikeCode(s string) bool {
	if len(s) != encoding.EncodedLen(codeBytes) {
		return false
	}
	_, err := encoding.DecodeString(s)
	return err == nil
}
