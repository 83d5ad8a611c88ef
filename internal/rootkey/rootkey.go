// Package rootkey loads the server root key and derives purpose specific
// secrets, such as the token pepper, from it.
package rootkey

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/argon2"
)

const (
	RootKeyEnvVar       = "LOCKBOARD_ROOTKEY"
	AdminPasswordEnvVar = "LOCKBOARD_ADMIN_PASSWORD"

	PurposeTokenPepper = "lockboard/token-pepper"
)

type (
	Key [32]byte

	GetEnvFn func(string) string
	SetEnvFn func(string, string) error

	MissingSecret struct {
		Var string
	}
)

func (m MissingSecret) Error() string {
	return fmt.Sprintf("rootkey: environment variable %v is empty", m.Var)
}

func (k *Key) Zero() {
	for i := range k {
		k[i] = 0
	}
}

// Encode returns the base64 form accepted by FromEnv.
func (k *Key) Encode() string {
	return base64.StdEncoding.EncodeToString(k[:])
}

// Derive stretches the root key into a new 32 byte key bound to purpose.
func (k *Key) Derive(purpose string) Key {
	var out Key
	// 7 passes over 10 MB should be a good replacement
	// for 1 pass over 64 MB of ram.
	buf := argon2.IDKey(k[:], []byte(purpose), 7, 10*1024, 1, uint32(len(out)))
	copy(out[:], buf)
	return out
}

func Generate(r io.Reader) (Key, error) {
	if r == nil {
		r = rand.Reader
	}
	var k Key
	if _, err := io.ReadFull(r, k[:]); err != nil {
		return Key{}, fmt.Errorf("rootkey: unable to generate key, cause %w", err)
	}
	return k, nil
}

func Decode(val string) (Key, error) {
	var k Key
	buf, err := base64.StdEncoding.DecodeString(val)
	if err != nil {
		return Key{}, fmt.Errorf("rootkey: cannot decode string to valid key, cause %v", err)
	}
	if len(buf) != len(k) {
		return Key{}, fmt.Errorf("rootkey: decoded key has %v bytes expecting %v bytes", len(buf), len(k))
	}
	copy(k[:], buf)
	for i := range buf {
		buf[i] = 0
	}
	return k, nil
}

// FromEnv reads a base64 key from varname and clears the variable.
func FromEnv(varname string, getfn GetEnvFn, setfn SetEnvFn) (Key, error) {
	val, err := SecretFromEnv(varname, getfn, setfn)
	if err != nil {
		return Key{}, err
	}
	return Decode(val)
}

// SecretFromEnv reads varname and clears it so child processes and later
// readers of the environment never see the value.
func SecretFromEnv(varname string, getfn GetEnvFn, setfn SetEnvFn) (string, error) {
	if getfn == nil {
		getfn = os.Getenv
	}
	if setfn == nil {
		setfn = os.Setenv
	}
	val := getfn(varname)
	if err := setfn(varname, ""); err != nil {
		return "", fmt.Errorf("rootkey: unable to clear %v, cause %w", varname, err)
	}
	if val == "" {
		return "", MissingSecret{Var: varname}
	}
	return val, nil
}
