package service

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"
)

var (
	ErrMalformedCondition  = errors.New("malformed condition")
	ErrMalformedFulfilment = errors.New("malformed fulfilment")
	ErrFulfilmentMismatch  = errors.New("fulfilment does not match condition")
)

const preimageLen = 32

func decodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// VerifyFulfilment checks that the fulfilment is the SHA-256 preimage of the
// condition the transfer was prepared with. Both are base64url-encoded 32-byte
// values.
func VerifyFulfilment(fulfilment, condition string) error {
	preimage, err := decodeBase64URL(fulfilment)
	if err != nil || len(preimage) != preimageLen {
		return ErrMalformedFulfilment
	}

	want, err := decodeBase64URL(condition)
	if err != nil || len(want) != sha256.Size {
		return ErrMalformedCondition
	}

	got := sha256.Sum256(preimage)
	if subtle.ConstantTimeCompare(got[:], want) != 1 {
		return ErrFulfilmentMismatch
	}
	return nil
}
