package state

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mikey/llm-mail-sorter/internal/core"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryStoreRecordAndHas(t *testing.T) {
	store := NewMemoryStore(zap.NewNop())
	ctx := context.Background()
	now := time.Now().UTC()

	seen, err := store.Has(ctx, "fp-1")
	require.NoError(t, err)
	require.False(t, seen)

	require.NoError(t, store.Record(ctx, record("fp-1", "work", "SPAM", now)))
	require.NoError(t, store.Record(ctx, record("fp-1", "work", "RECEIPTS", now)))

	seen, err = store.Has(ctx, "fp-1")
	require.NoError(t, err)
	require.True(t, seen)

	stats, err := store.CategoryStats(ctx, "")
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"SPAM": 1}, stats)
}

func TestMemoryStoreRecordCopiesTheRecord(t *testing.T) {
	store := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	rec := record("fp-1", "work", "SPAM", time.Now().UTC())
	require.NoError(t, store.Record(ctx, rec))
	rec.Category = "RECEIPTS"

	require.NoError(t, store.List(ctx, "", func(got *core.ProcessedRecord) error {
		require.Equal(t, "SPAM", got.Category)
		return nil
	}))
}

func TestMemoryStorePruneAndReset(t *testing.T) {
	store := NewMemoryStore(zap.NewNop())
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Record(ctx, record("fp-old", "work", "SPAM", now.Add(-72*time.Hour))))
	require.NoError(t, store.Record(ctx, record("fp-new", "work", "SPAM", now)))
	require.NoError(t, store.Record(ctx, record("fp-home", "home", "SPAM", now.Add(-72*time.Hour))))

	deleted, err := store.Prune(ctx, 24*time.Hour, "work")
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	seen, err := store.Has(ctx, "fp-home")
	require.NoError(t, err)
	require.True(t, seen)

	deleted, err = store.Reset(ctx, "")
	require.NoError(t, err)
	require.Equal(t, int64(2), deleted)
}

func TestMemoryStoreListOrdersByProcessedAt(t *testing.T) {
	store := NewMemoryStore(zap.NewNop())
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, store.Record(ctx, record("fp-2", "work", "SPAM", base.Add(-time.Hour))))
	require.NoError(t, store.Record(ctx, record("fp-1", "work", "SPAM", base.Add(-2*time.Hour))))
	require.NoError(t, store.Record(ctx, record("fp-3", "work", "SPAM", base)))

	var order []string
	require.NoError(t, store.List(ctx, "", func(rec *core.ProcessedRecord) error {
		order = append(order, rec.Fingerprint)
		return nil
	}))
	require.Equal(t, []string{"fp-1", "fp-2", "fp-3"}, order)
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	store := NewMemoryStore(zap.NewNop())
	ctx := context.Background()
	now := time.Now().UTC()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				fp := fmt.Sprintf("fp-%d-%d", i, j)
				_ = store.Record(ctx, record(fp, "work", "SPAM", now))
				_, _ = store.Has(ctx, fp)
			}
		}(i)
	}
	wg.Wait()

	stats, err := store.CategoryStats(ctx, "work")
	require.NoError(t, err)
	require.Equal(t, int64(400), stats["SPAM"])
}
