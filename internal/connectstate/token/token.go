package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"github.com/postloop/postloop/internal/connectstate/domain"
)

const (
	// DefaultEntropyBytes yields 256 bits of entropy per state token.
	DefaultEntropyBytes = 32
	// MinEntropyBytes is the 128-bit floor below which a token would be
	// guessable within its TTL window.
	MinEntropyBytes = 16

	MethodS256 = "S256"

	pkceVerifierBytes = 32
)

// Pair is a PKCE verifier with its derived challenge. The verifier stays
// with the caller; only the challenge may be persisted.
type Pair struct {
	Verifier  string
	Challenge string
	Method    string
}

type Generator interface {
	NewState() (string, error)
	NewPKCEPair() (Pair, error)
}

type generator struct {
	entropyBytes int
}

func NewGenerator(entropyBytes int) Generator {
	if entropyBytes < MinEntropyBytes {
		entropyBytes = DefaultEntropyBytes
	}
	return &generator{entropyBytes: entropyBytes}
}

func (g *generator) NewState() (string, error) {
	buf := make([]byte, g.entropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrRandomSource, err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (g *generator) NewPKCEPair() (Pair, error) {
	buf := make([]byte, pkceVerifierBytes)
	if _, err := rand.Read(buf); err != nil {
		return Pair{}, fmt.Errorf("%w: %v", domain.ErrRandomSource, err)
	}
	// 32 bytes encode to 43 characters, the RFC 7636 minimum.
	verifier := base64.RawURLEncoding.EncodeToString(buf)
	return Pair{
		Verifier:  verifier,
		Challenge: Challenge(verifier),
		Method:    MethodS256,
	}, nil
}

// Challenge derives the S256 code challenge for a verifier.
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyPKCE recomputes the S256 challenge for the caller-held verifier
// and compares it to the stored challenge in constant time.
func VerifyPKCE(verifier, expectedChallenge string) bool {
	if verifier == "" || expectedChallenge == "" {
		return false
	}
	computed := Challenge(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(expectedChallenge)) == 1
}
