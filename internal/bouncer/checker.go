package bouncer

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// Checker decides whether a keycard's credentials are valid and returns the
// avatar id to log in as. It runs on the loop and must not block.
type Checker interface {
	RequestAvatarID(ctx context.Context, kc *Keycard) (string, error)
}

// SaltedChecker is a Checker that stores salted password digests.
type SaltedChecker interface {
	Checker
	Salt(username string) (string, bool)
}

// HashPassword returns the stored digest for password under salt.
func HashPassword(salt, password string) string {
	sum := sha256.Sum256([]byte(salt + password))
	return hex.EncodeToString(sum[:])
}

// ChallengeResponse computes the answer a client sends for challenge.
func ChallengeResponse(challenge, salt, password string) string {
	sum := sha256.Sum256([]byte(challenge + HashPassword(salt, password)))
	return hex.EncodeToString(sum[:])
}

// Answer fills in the response of a challenged keycard.
func Answer(kc *Keycard, password string) {
	kc.Response = ChallengeResponse(kc.Challenge, kc.Salt, password)
}

func randomHex(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// PasswordChecker checks usernames against salted password digests.
type PasswordChecker struct {
	users map[string]passwordEntry
}

type passwordEntry struct {
	salt   string
	digest string
}

// NewPasswordChecker returns an empty checker.
func NewPasswordChecker() *PasswordChecker {
	return &PasswordChecker{users: make(map[string]passwordEntry)}
}

// AddUser stores password for username under a fresh salt.
func (c *PasswordChecker) AddUser(username, password string) {
	salt := randomHex(8)
	c.users[username] = passwordEntry{salt: salt, digest: HashPassword(salt, password)}
}

// Salt returns the salt stored for username.
func (c *PasswordChecker) Salt(username string) (string, bool) {
	entry, ok := c.users[username]
	return entry.salt, ok
}

// RequestAvatarID accepts a plaintext password keycard or an answered
// challenge keycard.
func (c *PasswordChecker) RequestAvatarID(_ context.Context, kc *Keycard) (string, error) {
	entry, ok := c.users[kc.Username]
	if !ok {
		return "", fmt.Errorf("%w: unknown user %q", ErrNotAuthenticated, kc.Username)
	}
	var expected, got string
	switch kc.Type {
	case TypeUACPP:
		expected, got = entry.digest, HashPassword(entry.salt, kc.Password)
	case TypeUACPCC:
		sum := sha256.Sum256([]byte(kc.Challenge + entry.digest))
		expected, got = hex.EncodeToString(sum[:]), kc.Response
	default:
		return "", fmt.Errorf("%w: keycard type %s carries no credentials", ErrNotAuthenticated, kc.Type)
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(got)) != 1 {
		return "", fmt.Errorf("%w: bad credentials for %q", ErrNotAuthenticated, kc.Username)
	}
	return kc.Username, nil
}
