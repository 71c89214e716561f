package service

import (
	"context"
	"sync"
	"testing"

	"ledgerhub/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDuplicateStore mimics the unique-index insert semantics of the real
// repository.
type fakeDuplicateStore struct {
	mu      sync.Mutex
	records map[string]string
}

func newFakeDuplicateStore() *fakeDuplicateStore {
	return &fakeDuplicateStore{records: make(map[string]string)}
}

func (s *fakeDuplicateStore) Insert(ctx context.Context, transferID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[transferID]; ok {
		return repository.ErrDuplicateRecord
	}
	s.records[transferID] = hash
	return nil
}

func (s *fakeDuplicateStore) Get(ctx context.Context, transferID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, ok := s.records[transferID]
	return hash, ok, nil
}

type samplePayload struct {
	ID     string `json:"id"`
	Amount string `json:"amount"`
}

func TestDuplicateDetector(t *testing.T) {
	ctx := context.Background()

	t.Run("first request is unique", func(t *testing.T) {
		d := NewDuplicateDetector(newFakeDuplicateStore())
		status, err := d.Check(ctx, "t1", samplePayload{ID: "t1", Amount: "10.00"})
		require.NoError(t, err)
		assert.Equal(t, DuplicateStatusUnique, status)
	})

	t.Run("identical retry is duplicated", func(t *testing.T) {
		d := NewDuplicateDetector(newFakeDuplicateStore())
		payload := samplePayload{ID: "t1", Amount: "10.00"}

		_, err := d.Check(ctx, "t1", payload)
		require.NoError(t, err)

		status, err := d.Check(ctx, "t1", payload)
		require.NoError(t, err)
		assert.Equal(t, DuplicateStatusDuplicated, status)
	})

	t.Run("same id different body is modified", func(t *testing.T) {
		d := NewDuplicateDetector(newFakeDuplicateStore())

		_, err := d.Check(ctx, "t1", samplePayload{ID: "t1", Amount: "10.00"})
		require.NoError(t, err)

		status, err := d.Check(ctx, "t1", samplePayload{ID: "t1", Amount: "99.00"})
		require.NoError(t, err)
		assert.Equal(t, DuplicateStatusModified, status)
	})

	t.Run("exactly one concurrent claimant wins", func(t *testing.T) {
		d := NewDuplicateDetector(newFakeDuplicateStore())
		payload := samplePayload{ID: "t1", Amount: "10.00"}

		const n = 32
		results := make(chan DuplicateStatus, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				status, err := d.Check(ctx, "t1", payload)
				require.NoError(t, err)
				results <- status
			}()
		}
		wg.Wait()
		close(results)

		unique := 0
		for status := range results {
			if status == DuplicateStatusUnique {
				unique++
			} else {
				assert.Equal(t, DuplicateStatusDuplicated, status)
			}
		}
		assert.Equal(t, 1, unique)
	})
}

func TestHashPayload(t *testing.T) {
	a, err := HashPayload(samplePayload{ID: "x", Amount: "1.00"})
	require.NoError(t, err)
	b, err := HashPayload(samplePayload{ID: "x", Amount: "1.00"})
	require.NoError(t, err)
	c, err := HashPayload(samplePayload{ID: "x", Amount: "2.00"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
