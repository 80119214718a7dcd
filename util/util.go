package util

import (
	"encoding/hex"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// Digest is the 32-byte blake2b hash of buffer.
func Digest(buffer []byte) ([]byte, error) {

	// Generic hash of 32 bytes
	hasher, err := blake2b.New(32, []byte{})
	if err != nil {
		return nil, errors.Wrap(err, "Unable create blake2b hash object")
	}

	if _, err = hasher.Write(buffer); err != nil {
		return nil, errors.Wrap(err, "Unable write buffer bytes to hash function")
	}

	return hasher.Sum([]byte{}), nil
}

// DigestHex is Digest rendered as 0x-prefixed hex.
func DigestHex(buffer []byte) (string, error) {

	sum, err := Digest(buffer)
	if err != nil {
		return "", err
	}

	return "0x" + hex.EncodeToString(sum), nil
}
