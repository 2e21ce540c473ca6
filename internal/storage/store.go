// Package storage persists the transaction journal and idempotency records, with
// in-memory and PostgreSQL backends. Neither video state nor content lives here:
// the ledger and the content store own those.
package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vidverse/vidverse-go/internal/model"
)

// Standard errors returned by the storage layer
var (
	ErrNotFound = errors.New("not found") // Returned when an entry is not found
	ErrConflict = errors.New("conflict")  // Returned when an entry already exists

	ErrInvalidCursor = errors.New("invalid cursor") // Returned when a pagination cursor cannot be decoded
)

// Store defines the storage operations required by the pipeline service and HTTP API.
type Store interface {
	// Transaction journal
	RecordTransaction(ctx context.Context, tx model.Transaction) error
	UpdateTransactionStatus(ctx context.Context, update StatusUpdate) error
	GetTransaction(ctx context.Context, hash string) (*model.Transaction, error)
	ListTransactions(ctx context.Context, query TransactionQuery) (*TransactionPage, error)

	// Idempotency operations
	StoreIdempotentResponse(ctx context.Context, keyHash, requestHash string, responseBody []byte, statusCode int, expiresAt time.Time) error
	GetIdempotentResponse(ctx context.Context, keyHash string) (*IdempotentResponse, error)

	Close()
}

// StatusUpdate moves a journaled transaction to its final status.
type StatusUpdate struct {
	Hash    string
	Status  string
	Reason  string
	VideoID *uint64 // Set when a create confirms
}

// TransactionQuery selects journal entries of one account, newest first.
type TransactionQuery struct {
	Account string
	Limit   int
	Cursor  string
}

// TransactionPage is one page of journal entries.
type TransactionPage struct {
	Transactions []model.Transaction `json:"transactions"`
	NextCursor   string              `json:"nextCursor,omitempty"`
}

// IdempotentResponse represents a cached idempotent response
type IdempotentResponse struct {
	RequestHash  string    // Hash of the request the response answered
	ResponseBody []byte    // Cached response body
	StatusCode   int       // HTTP status code
	ExpiresAt    time.Time // When the entry expires
}

// clampLimit applies the default and maximum page sizes.
func clampLimit(limit int) int {
	if limit <= 0 {
		return 25
	}
	if limit > 100 {
		return 100
	}
	return limit
}

// cursorData represents the data encoded in a pagination cursor
type cursorData struct {
	LastCreatedAt time.Time // Creation time of the last entry
	LastID        string    // ULID of the last entry
}

// encodeCursor encodes cursor data into a base64 string
func encodeCursor(lastCreatedAt time.Time, lastID string) string {
	jsonBytes, _ := json.Marshal(cursorData{LastCreatedAt: lastCreatedAt, LastID: lastID})
	return base64.URLEncoding.EncodeToString(jsonBytes)
}

// decodeCursor decodes a base64 cursor string into cursor data
func decodeCursor(cursor string) (*cursorData, error) {
	dataBytes, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: bad encoding: %w", ErrInvalidCursor, err)
	}
	var data cursorData
	if err := json.Unmarshal(dataBytes, &data); err != nil {
		return nil, fmt.Errorf("%w: bad payload: %w", ErrInvalidCursor, err)
	}
	return &data, nil
}

// newer orders entries newest first, then by id descending.
func newer(a, b model.Transaction) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID > b.ID
	}
	return a.CreatedAt.After(b.CreatedAt)
}
