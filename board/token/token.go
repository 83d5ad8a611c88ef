// Package token issues and verifies the opaque bearer tokens used for admin
// sessions and per-post view tokens.
//
// A token is handed out as "<secret>.<salt>". The server keeps only the salt
// and sha256(secret || salt || pepper), where the pepper is a server side
// secret that never leaves the process.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/andrebq/lockboard/internal/safecmp"
)

const (
	Separator = "."

	SecretBytes = 32
	SaltBytes   = 16

	MinPepperBytes = 16
)

type (
	Codec struct {
		pepper []byte
		rand   io.Reader
	}

	Issued struct {
		Secret string
		Salt   string
		Hash   string
	}

	ShortPepper struct {
		Size int
	}
)

func (s ShortPepper) Error() string {
	return fmt.Sprintf("token: pepper must have at least %v bytes got %v", MinPepperBytes, s.Size)
}

func NewCodec(pepper []byte) (*Codec, error) {
	if len(pepper) < MinPepperBytes {
		return nil, ShortPepper{Size: len(pepper)}
	}
	p := make([]byte, len(pepper))
	copy(p, pepper)
	return &Codec{pepper: p, rand: rand.Reader}, nil
}

// WithRand returns a copy of c that reads randomness from r.
func (c *Codec) WithRand(r io.Reader) *Codec {
	cp := *c
	cp.rand = r
	return &cp
}

func (c *Codec) Issue() (Issued, error) {
	secret, err := c.randomHex(SecretBytes)
	if err != nil {
		return Issued{}, err
	}
	salt, err := c.randomHex(SaltBytes)
	if err != nil {
		return Issued{}, err
	}
	return Issued{
		Secret: secret,
		Salt:   salt,
		Hash:   c.hash(secret, salt),
	}, nil
}

// Bearer is the value given to the client. It must never be logged.
func (i Issued) Bearer() string {
	return i.Secret + Separator + i.Salt
}

// Parse splits a presented token on its last separator.
func Parse(presented string) (secret, salt string, ok bool) {
	idx := strings.LastIndex(presented, Separator)
	if idx <= 0 || idx == len(presented)-1 {
		return "", "", false
	}
	return presented[:idx], presented[idx+1:], true
}

// HashOf computes the storage key for a presented token.
func (c *Codec) HashOf(presented string) (string, bool) {
	secret, salt, ok := Parse(presented)
	if !ok {
		return "", false
	}
	return c.hash(secret, salt), true
}

func (c *Codec) Verify(presented, storedHash, storedSalt string) bool {
	secret, salt, ok := Parse(presented)
	if !ok {
		return false
	}
	saltMatch := safecmp.EqualString(salt, storedSalt)
	hashMatch := safecmp.EqualString(c.hash(secret, salt), storedHash)
	return saltMatch && hashMatch
}

func (c *Codec) hash(secret, salt string) string {
	h := sha256.New()
	io.WriteString(h, secret)
	io.WriteString(h, salt)
	h.Write(c.pepper)
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Codec) randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.rand, buf); err != nil {
		return "", fmt.Errorf("token: unable to read random bytes, cause %w", err)
	}
	return hex.EncodeToString(buf), nil
}
