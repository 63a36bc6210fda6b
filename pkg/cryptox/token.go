// Package cryptox holds the small cryptographic helpers the gateway needs:
// random secret generation and sealing of stored platform credentials.
package cryptox

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// Secret size constants (in bytes before encoding).
const (
	// TokenSize256 provides 256 bits of entropy (43 chars base64url).
	// Enough for an HS256 signing secret.
	TokenSize256 = 32
	// TokenSize512 provides 512 bits of entropy (86 chars base64url).
	// Enough for an HS512 signing secret.
	TokenSize512 = 64
)

// GenerateToken creates a cryptographically secure random secret of the
// given byte length, base64url encoded without padding. It backs the
// gateway's --generate-secret flag, whose output is suitable for both
// JWT_SECRET and CREDENTIALS_KEY.
func GenerateToken(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("token size must be positive, got %d", size)
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}
