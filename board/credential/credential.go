// Package credential derives and verifies per-post password hashes.
//
// Passwords are stretched with PBKDF2 and only the derived key, together
// with the parameters used to derive it, is ever persisted.
package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strconv"
	"strings"

	"github.com/andrebq/lockboard/internal/safecmp"
	"golang.org/x/crypto/pbkdf2"
)

const (
	DigestSHA256 = "sha256"
	DigestSHA512 = "sha512"

	DefaultIterations = 100_000
	MinIterations     = 100_000
	// MaxIterations bounds the work a stored record can ask for.
	MaxIterations = 10_000_000

	DefaultKeyLength  = 32
	DefaultSaltLength = 16

	encodingPrefix = "pbkdf2-"
)

type (
	Record struct {
		Salt       string `json:"salt"`
		Iterations int    `json:"iterations"`
		Digest     string `json:"digest"`
		KeyLength  int    `json:"keyLength"`
		Hash       string `json:"hash"`
	}

	Hasher struct {
		Iterations int
		KeyLength  int
		SaltLength int
		Digest     string

		rand      io.Reader
		allowWeak bool
	}

	UnsupportedDigest struct {
		Digest string
	}

	WeakParameters struct {
		Iterations int
		SaltLength int
	}

	MalformedRecord struct {
		Reason string
	}
)

var (
	burnSalt = []byte("lockboard/burn-salt")
)

func (u UnsupportedDigest) Error() string {
	return fmt.Sprintf("credential: digest %q is not supported", u.Digest)
}

func (w WeakParameters) Error() string {
	return fmt.Sprintf("credential: refusing weak parameters iterations=%v salt=%v bytes (minimum %v iterations, %v bytes)",
		w.Iterations, w.SaltLength, MinIterations, DefaultSaltLength)
}

func (m MalformedRecord) Error() string {
	return fmt.Sprintf("credential: malformed record, %v", m.Reason)
}

// Default returns the hasher used for new posts.
func Default() Hasher {
	return Hasher{
		Iterations: DefaultIterations,
		KeyLength:  DefaultKeyLength,
		SaltLength: DefaultSaltLength,
		Digest:     DigestSHA256,
	}
}

// ForTesting returns a hasher that accepts iteration counts below
// MinIterations. Only tests should use it.
func ForTesting(iterations int) Hasher {
	h := Default()
	h.Iterations = iterations
	h.allowWeak = true
	return h
}

// WithRand replaces the source of salts.
func (h Hasher) WithRand(r io.Reader) Hasher {
	h.rand = r
	return h
}

func (h Hasher) MakeRecord(password string) (Record, error) {
	if !h.allowWeak && (h.Iterations < MinIterations || h.SaltLength < DefaultSaltLength) {
		return Record{}, WeakParameters{Iterations: h.Iterations, SaltLength: h.SaltLength}
	}
	src := h.rand
	if src == nil {
		src = rand.Reader
	}
	salt := make([]byte, h.SaltLength)
	if _, err := io.ReadFull(src, salt); err != nil {
		return Record{}, fmt.Errorf("credential: unable to generate salt, cause %w", err)
	}
	key, err := Derive([]byte(password), salt, h.Iterations, h.KeyLength, h.Digest)
	if err != nil {
		return Record{}, err
	}
	return Record{
		Salt:       hex.EncodeToString(salt),
		Iterations: h.Iterations,
		Digest:     h.Digest,
		KeyLength:  h.KeyLength,
		Hash:       hex.EncodeToString(key),
	}, nil
}

// MakeRecord hashes password with the Default hasher.
func MakeRecord(password string) (Record, error) {
	return Default().MakeRecord(password)
}

func Derive(password, salt []byte, iterations, keyLength int, digest string) ([]byte, error) {
	fn, err := digestFunc(digest)
	if err != nil {
		return nil, err
	}
	if iterations <= 0 || iterations > MaxIterations {
		return nil, MalformedRecord{Reason: fmt.Sprintf("iterations %v out of range", iterations)}
	}
	if keyLength <= 0 {
		return nil, MalformedRecord{Reason: fmt.Sprintf("key length %v out of range", keyLength)}
	}
	return pbkdf2.Key(password, salt, iterations, keyLength, fn), nil
}

// Verify reports whether password matches r.
//
// A malformed record never matches. In that case a full derivation is still
// performed so callers cannot tell a broken record from a wrong password by
// timing.
func Verify(password string, r Record) bool {
	salt, errSalt := hex.DecodeString(r.Salt)
	expected, errHash := hex.DecodeString(r.Hash)
	if errSalt != nil || errHash != nil || len(salt) == 0 || len(expected) != r.KeyLength {
		burn(password)
		return false
	}
	actual, err := Derive([]byte(password), salt, r.Iterations, r.KeyLength, r.Digest)
	if err != nil {
		burn(password)
		return false
	}
	return safecmp.Equal(actual, expected)
}

func burn(password string) {
	_ = pbkdf2.Key([]byte(password), burnSalt, DefaultIterations, DefaultKeyLength, sha256.New)
}

// Encode returns the textual form of r:
//
//	pbkdf2-<digest>$<iterations>$<keylen>$<salt hex>$<hash hex>
func Encode(r Record) string {
	return fmt.Sprintf("%v%v$%d$%d$%v$%v", encodingPrefix, r.Digest, r.Iterations, r.KeyLength, r.Salt, r.Hash)
}

// FromSecret accepts either the output of Encode or a plain password, which
// is hashed with the Default hasher.
func FromSecret(secret string) (Record, error) {
	if IsEncoded(secret) {
		return Decode(secret)
	}
	return MakeRecord(secret)
}

// IsEncoded reports whether s looks like the output of Encode.
func IsEncoded(s string) bool {
	return strings.HasPrefix(s, encodingPrefix)
}

func Decode(s string) (Record, error) {
	if !IsEncoded(s) {
		return Record{}, MalformedRecord{Reason: "missing pbkdf2 prefix"}
	}
	parts := strings.Split(strings.TrimPrefix(s, encodingPrefix), "$")
	if len(parts) != 5 {
		return Record{}, MalformedRecord{Reason: fmt.Sprintf("expecting 5 fields got %v", len(parts))}
	}
	iter, err := strconv.Atoi(parts[1])
	if err != nil {
		return Record{}, MalformedRecord{Reason: "iterations is not a number"}
	}
	keylen, err := strconv.Atoi(parts[2])
	if err != nil {
		return Record{}, MalformedRecord{Reason: "key length is not a number"}
	}
	r := Record{
		Digest:     parts[0],
		Iterations: iter,
		KeyLength:  keylen,
		Salt:       parts[3],
		Hash:       parts[4],
	}
	if _, err := digestFunc(r.Digest); err != nil {
		return Record{}, err
	}
	if _, err := hex.DecodeString(r.Salt); err != nil {
		return Record{}, MalformedRecord{Reason: "salt is not hex encoded"}
	}
	if _, err := hex.DecodeString(r.Hash); err != nil {
		return Record{}, MalformedRecord{Reason: "hash is not hex encoded"}
	}
	return r, nil
}

func digestFunc(name string) (func() hash.Hash, error) {
	switch name {
	case DigestSHA256:
		return sha256.New, nil
	case DigestSHA512:
		return sha512.New, nil
	}
	return nil, UnsupportedDigest{Digest: name}
}
