package mockapi

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// ErrUnknownHashType is returned when a configured hash has an unrecognized format.
var ErrUnknownHashType = errors.New("unknown hash type")

// argon2idParams defines OWASP minimum parameters for Argon2id.
// Memory: 47 MiB, Iterations: 1, Parallelism: 1
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashKey returns an Argon2id hash of the raw key in PHC format, suitable
// for the mock_api.api_key_hashes configuration list.
// Format: $argon2id$v=19$m=48128,t=1,p=1$<salt>$<hash>
func HashKey(rawKey string) (string, error) {
	return argon2id.CreateHash(rawKey, argon2idParams)
}

// sha256Hex returns the SHA-256 hex hash of the raw key. Kept for
// pre-hashed test fixtures and hand-seeded configs; new keys should use
// HashKey.
func sha256Hex(rawKey string) string {
	hash := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(hash[:])
}

// detectHashType identifies the hash algorithm used for a configured hash.
// Returns "argon2id" for PHC format, "sha256" for prefixed or bare hex,
// "unknown" for unrecognized formats.
func detectHashType(storedHash string) string {
	if strings.HasPrefix(storedHash, "$argon2id$") {
		return "argon2id"
	}
	if strings.HasPrefix(storedHash, "sha256:") {
		return "sha256"
	}
	// Bare SHA-256 hex is exactly 64 hex characters
	if len(storedHash) == 64 && isHexString(storedHash) {
		return "sha256"
	}
	return "unknown"
}

// isHexString checks if a string contains only valid hexadecimal characters.
func isHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// verifyKey verifies a raw key against a configured hash.
// Supports Argon2id (PHC format), "sha256:"-prefixed, and bare SHA-256 hex.
// Returns (true, nil) if match, (false, nil) if no match,
// (false, ErrUnknownHashType) for unrecognized hash formats.
func verifyKey(rawKey, storedHash string) (bool, error) {
	switch detectHashType(storedHash) {
	case "argon2id":
		match, err := safeArgon2idCompare(rawKey, storedHash)
		if err != nil {
			return false, err
		}
		return match, nil

	case "sha256":
		expectedHash := strings.TrimPrefix(storedHash, "sha256:")
		computedHash := sha256Hex(rawKey)

		// Constant-time comparison to prevent timing attacks
		match := subtle.ConstantTimeCompare([]byte(computedHash), []byte(expectedHash)) == 1
		return match, nil

	default:
		return false, ErrUnknownHashType
	}
}

// safeArgon2idCompare wraps argon2id.ComparePasswordAndHash with panic recovery.
// The underlying argon2 library panics on malformed Argon2id hashes with invalid
// parameters (e.g., t=0 rounds, p=0 parallelism). This function catches those
// panics and converts them to errors, ensuring verifyKey never panics.
func safeArgon2idCompare(rawKey, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(rawKey, storedHash)
}
