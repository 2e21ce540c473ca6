package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vidverse/vidverse-go/internal/metrics"
	"github.com/vidverse/vidverse-go/internal/model"
)

// instrumented records operation counts and durations for a wrapped Store.
// ErrNotFound counts as success: it is an answer, not a failure.
type instrumented struct {
	next    Store
	metrics *metrics.Metrics
}

// Instrument wraps s so every call is observed by m. A nil m returns s unchanged.
func Instrument(s Store, m *metrics.Metrics) Store {
	if m == nil {
		return s
	}
	return &instrumented{next: s, metrics: m}
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	if errors.Is(err, ErrNotFound) {
		err = nil
	}
	i.metrics.ObserveStorage(op, metrics.Status(err), time.Since(start))
}

func (i *instrumented) RecordTransaction(ctx context.Context, tx model.Transaction) error {
	start := time.Now()
	err := i.next.RecordTransaction(ctx, tx)
	i.observe("record_transaction", start, err)
	return err
}

func (i *instrumented) UpdateTransactionStatus(ctx context.Context, update StatusUpdate) error {
	start := time.Now()
	err := i.next.UpdateTransactionStatus(ctx, update)
	i.observe("update_transaction", start, err)
	return err
}

func (i *instrumented) GetTransaction(ctx context.Context, hash string) (*model.Transaction, error) {
	start := time.Now()
	tx, err := i.next.GetTransaction(ctx, hash)
	i.observe("get_transaction", start, err)
	return tx, err
}

func (i *instrumented) ListTransactions(ctx context.Context, query TransactionQuery) (*TransactionPage, error) {
	start := time.Now()
	page, err := i.next.ListTransactions(ctx, query)
	i.observe("list_transactions", start, err)
	return page, err
}

func (i *instrumented) StoreIdempotentResponse(ctx context.Context, keyHash, requestHash string, responseBody []byte, statusCode int, expiresAt time.Time) error {
	start := time.Now()
	err := i.next.StoreIdempotentResponse(ctx, keyHash, requestHash, responseBody, statusCode, expiresAt)
	i.observe("store_idempotent", start, err)
	return err
}

func (i *instrumented) GetIdempotentResponse(ctx context.Context, keyHash string) (*IdempotentResponse, error) {
	start := time.Now()
	resp, err := i.next.GetIdempotentResponse(ctx, keyHash)
	i.observe("get_idempotent", start, err)
	return resp, err
}

func (i *instrumented) Close() { i.next.Close() }
