package memory

import (
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/solana-sweeper/internal/consolidator"
	"github.com/rovshanmuradov/solana-sweeper/internal/storage"
)

func TestReportStore_SaveAndList(t *testing.T) {
	ctx := context.Background()
	store := NewReportStore()
	owner := solana.NewWallet().PublicKey()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, op := range []string{consolidator.OpReclaim, consolidator.OpConvert, consolidator.OpReclaim} {
		require.NoError(t, store.SaveReport(ctx, &consolidator.Report{
			ID:        string(rune('a' + i)),
			Owner:     owner,
			Operation: op,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, store.SaveReport(ctx, &consolidator.Report{
		ID: "other", Owner: solana.NewWallet().PublicKey(), Operation: consolidator.OpReclaim,
	}))

	got, err := store.ListReports(ctx, owner, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestReportStore_Errors(t *testing.T) {
	ctx := context.Background()
	store := NewReportStore()

	assert.ErrorIs(t, store.SaveReport(ctx, &consolidator.Report{}), storage.ErrInvalidInput)

	r := &consolidator.Report{ID: "x", Operation: consolidator.OpConvert}
	require.NoError(t, store.SaveReport(ctx, r))
	assert.ErrorIs(t, store.SaveReport(ctx, r), storage.ErrDuplicateKey)

	_, err := store.GetReport(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReportStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewReportStore()

	r := &consolidator.Report{ID: "x", Operation: consolidator.OpReclaim, Signatures: []solana.Signature{{1}}}
	require.NoError(t, store.SaveReport(ctx, r))
	r.Signatures[0] = solana.Signature{2}

	got, err := store.GetReport(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, solana.Signature{1}, got.Signatures[0])
}
