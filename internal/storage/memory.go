package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vidverse/vidverse-go/internal/model"
)

// memory implements the Store interface using in-memory storage.
// It's intended for development and testing purposes.
type memory struct {
	mu           sync.RWMutex
	transactions map[string]*model.Transaction  // Map of tx hash to journal entry
	idempotency  map[string]*IdempotentResponse // Map of key hash to idempotent responses
	now          func() time.Time
}

// NewMemory creates a new in-memory storage implementation.
func NewMemory() Store {
	return &memory{
		transactions: make(map[string]*model.Transaction),
		idempotency:  make(map[string]*IdempotentResponse),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (m *memory) RecordTransaction(ctx context.Context, tx model.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.transactions[tx.Hash]; exists {
		return ErrConflict
	}
	for _, existing := range m.transactions {
		if existing.ID == tx.ID {
			return ErrConflict
		}
	}
	txCopy := tx
	m.transactions[tx.Hash] = &txCopy
	return nil
}

func (m *memory) UpdateTransactionStatus(ctx context.Context, update StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, exists := m.transactions[update.Hash]
	if !exists {
		return ErrNotFound
	}
	tx.Status = update.Status
	tx.Reason = update.Reason
	if update.VideoID != nil {
		id := *update.VideoID
		tx.VideoID = &id
	}
	tx.UpdatedAt = m.now()
	return nil
}

func (m *memory) GetTransaction(ctx context.Context, hash string) (*model.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, exists := m.transactions[hash]
	if !exists {
		return nil, ErrNotFound
	}
	txCopy := *tx
	return &txCopy, nil
}

func (m *memory) ListTransactions(ctx context.Context, query TransactionQuery) (*TransactionPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	filtered := make([]model.Transaction, 0)
	for _, tx := range m.transactions {
		if strings.EqualFold(tx.Account, query.Account) {
			filtered = append(filtered, *tx)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return newer(filtered[i], filtered[j]) })

	start := 0
	if query.Cursor != "" {
		cur, err := decodeCursor(query.Cursor)
		if err != nil {
			return nil, err
		}
		start = len(filtered)
		last := model.Transaction{CreatedAt: cur.LastCreatedAt, ID: cur.LastID}
		for i, tx := range filtered {
			if newer(last, tx) {
				start = i
				break
			}
		}
	}

	limit := clampLimit(query.Limit)
	end := start + limit
	if end > len(filtered) {
		end = len(filtered)
	}

	page := &TransactionPage{Transactions: filtered[start:end]}
	if end < len(filtered) && end > start {
		last := filtered[end-1]
		page.NextCursor = encodeCursor(last.CreatedAt, last.ID)
	}
	return page, nil
}

// StoreIdempotentResponse stores an idempotent response in memory.
// A live entry for the same key but another request is a conflict.
func (m *memory) StoreIdempotentResponse(ctx context.Context, keyHash, requestHash string, responseBody []byte, statusCode int, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.idempotency[keyHash]; ok && existing.RequestHash != requestHash && m.now().Before(existing.ExpiresAt) {
		return ErrConflict
	}

	responseCopy := make([]byte, len(responseBody))
	copy(responseCopy, responseBody)

	m.idempotency[keyHash] = &IdempotentResponse{
		RequestHash:  requestHash,
		ResponseBody: responseCopy,
		StatusCode:   statusCode,
		ExpiresAt:    expiresAt,
	}
	return nil
}

// GetIdempotentResponse retrieves a cached idempotent response from memory
func (m *memory) GetIdempotentResponse(ctx context.Context, keyHash string) (*IdempotentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	response, exists := m.idempotency[keyHash]
	if !exists {
		return nil, ErrNotFound
	}
	if m.now().After(response.ExpiresAt) {
		delete(m.idempotency, keyHash)
		return nil, ErrNotFound
	}

	out := *response
	out.ResponseBody = make([]byte, len(response.ResponseBody))
	copy(out.ResponseBody, response.ResponseBody)
	return &out, nil
}

func (m *memory) Close() {}
