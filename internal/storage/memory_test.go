package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidverse/vidverse-go/internal/metrics"
	"github.com/vidverse/vidverse-go/internal/model"
)

const account = "0x00000000000000000000000000000000000A11CE"

func journal(t *testing.T, s Store, n int) []model.Transaction {
	t.Helper()
	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	var out []model.Transaction
	for i := 0; i < n; i++ {
		tx := model.Transaction{
			ID:        fmt.Sprintf("01J%023d", i),
			Hash:      fmt.Sprintf("0x%064d", i),
			Kind:      model.TxKindLike,
			Account:   account,
			Status:    "submitted",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			UpdatedAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.RecordTransaction(context.Background(), tx))
		out = append(out, tx)
	}
	return out
}

func TestMemoryJournalLifecycle(t *testing.T) {
	s := NewMemory()
	txs := journal(t, s, 1)

	assert.ErrorIs(t, s.RecordTransaction(context.Background(), txs[0]), ErrConflict)

	id := uint64(4)
	require.NoError(t, s.UpdateTransactionStatus(context.Background(), StatusUpdate{Hash: txs[0].Hash, Status: "confirmed", VideoID: &id}))

	got, err := s.GetTransaction(context.Background(), txs[0].Hash)
	require.NoError(t, err)
	assert.Equal(t, "confirmed", got.Status)
	require.NotNil(t, got.VideoID)
	assert.Equal(t, uint64(4), *got.VideoID)

	_, err = s.GetTransaction(context.Background(), "0xmissing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.UpdateTransactionStatus(context.Background(), StatusUpdate{Hash: "0xmissing"}), ErrNotFound)
}

func TestMemoryListTransactionsPaginates(t *testing.T) {
	s := NewMemory()
	txs := journal(t, s, 5)

	page, err := s.ListTransactions(context.Background(), TransactionQuery{Account: "0x00000000000000000000000000000000000a11ce", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 2)
	assert.Equal(t, txs[4].Hash, page.Transactions[0].Hash)
	assert.Equal(t, txs[3].Hash, page.Transactions[1].Hash)
	require.NotEmpty(t, page.NextCursor)

	var seen []string
	for _, tx := range page.Transactions {
		seen = append(seen, tx.Hash)
	}
	for page.NextCursor != "" {
		page, err = s.ListTransactions(context.Background(), TransactionQuery{Account: account, Limit: 2, Cursor: page.NextCursor})
		require.NoError(t, err)
		for _, tx := range page.Transactions {
			seen = append(seen, tx.Hash)
		}
	}
	assert.Equal(t, []string{txs[4].Hash, txs[3].Hash, txs[2].Hash, txs[1].Hash, txs[0].Hash}, seen)

	other, err := s.ListTransactions(context.Background(), TransactionQuery{Account: "0x0000000000000000000000000000000000000b0b"})
	require.NoError(t, err)
	assert.Empty(t, other.Transactions)

	_, err = s.ListTransactions(context.Background(), TransactionQuery{Account: account, Cursor: "%%%"})
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestMemoryIdempotency(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	expires := time.Now().UTC().Add(time.Hour)

	_, err := s.GetIdempotentResponse(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.StoreIdempotentResponse(ctx, "k", "r1", []byte(`{"ok":true}`), 201, expires))
	resp, err := s.GetIdempotentResponse(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "r1", resp.RequestHash)
	assert.Equal(t, 201, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(resp.ResponseBody))

	assert.ErrorIs(t, s.StoreIdempotentResponse(ctx, "k", "r2", nil, 201, expires), ErrConflict)
	assert.NoError(t, s.StoreIdempotentResponse(ctx, "k", "r1", []byte(`{}`), 200, expires))

	require.NoError(t, s.StoreIdempotentResponse(ctx, "old", "r", nil, 200, time.Now().UTC().Add(-time.Second)))
	_, err = s.GetIdempotentResponse(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInstrumentedStore(t *testing.T) {
	s := Instrument(NewMemory(), metrics.NewMetrics(prometheus.NewRegistry()))
	journal(t, s, 2)

	page, err := s.ListTransactions(context.Background(), TransactionQuery{Account: account})
	require.NoError(t, err)
	assert.Len(t, page.Transactions, 2)

	_, err = s.GetTransaction(context.Background(), "0xmissing")
	assert.ErrorIs(t, err, ErrNotFound)
	s.Close()
}
