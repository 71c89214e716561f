package service

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeConditionPair(t *testing.T, preimage []byte) (fulfilment, condition string) {
	t.Helper()
	require.Len(t, preimage, 32)
	digest := sha256.Sum256(preimage)
	return base64.RawURLEncoding.EncodeToString(preimage),
		base64.RawURLEncoding.EncodeToString(digest[:])
}

func TestVerifyFulfilment(t *testing.T) {
	preimage := make([]byte, 32)
	copy(preimage, "a-very-secret-preimage-of-32-byt")
	fulfilment, condition := makeConditionPair(t, preimage)

	t.Run("valid pair passes", func(t *testing.T) {
		assert.NoError(t, VerifyFulfilment(fulfilment, condition))
	})

	t.Run("padded encoding also accepted", func(t *testing.T) {
		padded := base64.URLEncoding.EncodeToString(preimage)
		assert.NoError(t, VerifyFulfilment(padded, condition))
	})

	t.Run("wrong preimage rejected", func(t *testing.T) {
		other := make([]byte, 32)
		otherFulfilment, _ := makeConditionPair(t, other)
		assert.ErrorIs(t, VerifyFulfilment(otherFulfilment, condition), ErrFulfilmentMismatch)
	})

	t.Run("malformed fulfilment rejected", func(t *testing.T) {
		assert.ErrorIs(t, VerifyFulfilment("not base64!!", condition), ErrMalformedFulfilment)
		assert.ErrorIs(t, VerifyFulfilment(base64.RawURLEncoding.EncodeToString([]byte("short")), condition), ErrMalformedFulfilment)
	})

	t.Run("malformed condition rejected", func(t *testing.T) {
		assert.ErrorIs(t, VerifyFulfilment(fulfilment, "???"), ErrMalformedCondition)
		assert.ErrorIs(t, VerifyFulfilment(fulfilment, base64.RawURLEncoding.EncodeToString([]byte("short"))), ErrMalformedCondition)
	})
}
