package access

import (
	"fmt"

	nanoid "github.com/jaevor/go-nanoid"
)

// TokenLength of 22 URL-safe symbols carries 132 random bits.
const TokenLength = 22

// TokenFunc produces a fresh random token.
type TokenFunc func() string

// NewTokenFunc returns a crypto-random nanoid generator.
func NewTokenFunc() (TokenFunc, error) {
	gen, err := nanoid.Standard(TokenLength)
	if err != nil {
		return nil, fmt.Errorf("failed to init token generator: %w", err)
	}
	return TokenFunc(gen), nil
}
