package auth

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// Password hashing parameters are part of the wire/storage contract
// (§4.8) and must not be changed independently of the stored data.
const (
	pbkdf2Iterations = 300_000
	pbkdf2KeyLength  = 64 // bytes
	saltLength       = 64 // bytes, base64-encoded for storage
)

// HashPassword derives a PBKDF2-HMAC-SHA512 hash of password using a fresh
// random salt, returning the hex-encoded hash and the base64-encoded salt.
func HashPassword(password string) (hashHex, saltB64 string, err error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", "", fmt.Errorf("auth: generate salt: %w", err)
	}
	hash := derive(password, salt)
	return hex.EncodeToString(hash), base64.StdEncoding.EncodeToString(salt), nil
}

// VerifyPassword recomputes the hash with the stored salt and compares in
// constant time against the stored hex-encoded hash.
func VerifyPassword(password, hashHex, saltB64 string) (bool, error) {
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return false, fmt.Errorf("auth: decode salt: %w", err)
	}
	want, err := hex.DecodeString(hashHex)
	if err != nil {
		return false, fmt.Errorf("auth: decode hash: %w", err)
	}
	got := derive(password, salt)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func derive(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, pbkdf2KeyLength, sha512.New)
}
