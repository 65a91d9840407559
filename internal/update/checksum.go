package update

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"dbconv/internal/debug"
	appErrors "dbconv/internal/errors"
)

// digestBufferSize is the read size used while hashing.
const digestBufferSize = 32 * 1024

// ErrChecksumMismatch is wrapped by every ChecksumError.
var ErrChecksumMismatch = errors.New("checksum verification failed")

// checksumPattern matches a labeled digest such as "SHA256: abcd..." or
// "sha256:`abcd...`". The digest must be exactly 64 hex characters.
var checksumPattern = regexp.MustCompile("(?i)SHA256\\s*:\\s*`?([0-9a-f]{64})`?(?:[^0-9a-f]|$)")

// ExtractChecksum returns the lowercase SHA-256 digest labeled in release
// notes. Unlabeled hex strings are ignored.
func ExtractChecksum(notes string) (string, bool) {
	m := checksumPattern.FindStringSubmatch(notes)
	if m == nil {
		return "", false
	}
	return strings.ToLower(m[1]), true
}

// Verification reports what VerifyArtifact did.
type Verification int

const (
	// VerificationSkipped means no expected digest was available; the
	// artifact is unverified.
	VerificationSkipped Verification = iota
	// VerificationPassed means the digest matched.
	VerificationPassed
)

// String returns the string representation of a Verification.
func (v Verification) String() string {
	switch v {
	case VerificationPassed:
		return "passed"
	default:
		return "skipped"
	}
}

// ChecksumError describes a digest mismatch.
type ChecksumError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("%v: expected %s, got %s", ErrChecksumMismatch, e.Expected, e.Actual)
}

// Unwrap returns ErrChecksumMismatch.
func (e *ChecksumError) Unwrap() error {
	return ErrChecksumMismatch
}

// Digest returns the lowercase hex SHA-256 of the file at path, streaming it
// through a fixed buffer.
func Digest(path string) (string, error) {
	//nolint:gosec // G304: Path comes from caller; this is intentional for checksum verification
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	buf := make([]byte, digestBufferSize)
	if _, err := io.CopyBuffer(h, struct{ io.Reader }{f}, buf); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify reports whether the file at path hashes to expectedHex.
// The comparison is case-insensitive.
func Verify(path, expectedHex string) (bool, error) {
	expected := strings.ToLower(strings.TrimSpace(expectedHex))
	if !isDigest(expected) {
		return false, appErrors.New(appErrors.CodeInvalidInput, fmt.Sprintf("%q is not a SHA-256 hex digest", expectedHex), nil)
	}
	actual, err := Digest(path)
	if err != nil {
		return false, err
	}
	return actual == expected, nil
}

// VerifyArtifact checks a downloaded artifact against an optional expected
// digest. An empty expected digest yields VerificationSkipped. A mismatch
// returns a CodeIntegrity error wrapping *ChecksumError.
func VerifyArtifact(path, expected string) (Verification, error) {
	if strings.TrimSpace(expected) == "" {
		debug.Warn("artifact is unverified: release did not publish a checksum", "path", path)
		return VerificationSkipped, nil
	}
	expected = strings.ToLower(strings.TrimSpace(expected))
	if !isDigest(expected) {
		return VerificationSkipped, appErrors.New(appErrors.CodeIntegrity, fmt.Sprintf("published checksum %q is malformed", expected), nil)
	}
	actual, err := Digest(path)
	if err != nil {
		return VerificationSkipped, appErrors.New(appErrors.CodeIntegrity, "could not hash downloaded update", err)
	}
	if actual != expected {
		mismatch := &ChecksumError{Path: path, Expected: expected, Actual: actual}
		debug.Error("checksum mismatch", "path", path, "expected", expected, "actual", actual)
		return VerificationSkipped, appErrors.New(appErrors.CodeIntegrity, "downloaded update failed checksum verification", mismatch)
	}
	debug.Info("checksum verified", "path", path, "sha256", actual)
	return VerificationPassed, nil
}

func isDigest(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
