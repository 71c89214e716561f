package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"ledgerhub/internal/repository"
)

// DuplicateStatus classifies a repeated request against the stored record of
// the first one.
type DuplicateStatus int

const (
	// DuplicateStatusUnique: first time this id was seen; the record is now
	// stored and the caller proceeds with processing.
	DuplicateStatusUnique DuplicateStatus = iota + 1
	// DuplicateStatusDuplicated: same id, byte-equivalent body. A retry.
	DuplicateStatusDuplicated
	// DuplicateStatusModified: same id, different body. A client error.
	DuplicateStatusModified
)

// DuplicateStore persists one hash per request id, with exactly-once insert
// semantics under concurrency.
type DuplicateStore interface {
	Insert(ctx context.Context, transferID, hash string) error
	Get(ctx context.Context, transferID string) (string, bool, error)
}

// DuplicateDetector implements insert-first duplicate detection: the record is
// claimed before processing, so two concurrent requests with the same id can
// never both process. The storage unique index is the arbiter.
type DuplicateDetector struct {
	store DuplicateStore
}

func NewDuplicateDetector(store DuplicateStore) *DuplicateDetector {
	return &DuplicateDetector{store: store}
}

// HashPayload hashes the canonical JSON encoding of v. Struct field order is
// fixed by the type, so equal values always hash equal.
func HashPayload(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("hash payload: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Check claims transferID for this payload, or classifies the collision when
// it was already claimed.
func (d *DuplicateDetector) Check(ctx context.Context, transferID string, payload interface{}) (DuplicateStatus, error) {
	hash, err := HashPayload(payload)
	if err != nil {
		return 0, err
	}

	err = d.store.Insert(ctx, transferID, hash)
	if err == nil {
		return DuplicateStatusUnique, nil
	}
	if !errors.Is(err, repository.ErrDuplicateRecord) {
		return 0, err
	}

	stored, ok, err := d.store.Get(ctx, transferID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("duplicate record for %s vanished after insert conflict", transferID)
	}

	if stored == hash {
		return DuplicateStatusDuplicated, nil
	}
	return DuplicateStatusModified, nil
}
