package session

import (
	"crypto/rand"
	"fmt"

	"github.com/luciancaetano/authoritative/internal/packet"
)

// TokenLength is the length of issued tokens, the exact length a
// client_declaration accepts.
const TokenLength = packet.TokenLength

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// NewToken returns TokenLength random URL-safe characters.
func NewToken() (string, error) {
	buf := make([]byte, TokenLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	for i, b := range buf {
		buf[i] = tokenAlphabet[int(b)&63]
	}
	return string(buf), nil
}
