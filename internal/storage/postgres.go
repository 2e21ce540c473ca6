package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vidverse/vidverse-go/internal/model"
)

// postgres provides persistent storage for the journal and idempotency records.
type postgres struct {
	db *pgxpool.Pool // Connection pool to PostgreSQL database
}

// NewPostgres creates a new PostgreSQL storage implementation.
// It establishes a connection pool to the database and initializes the schema.
// Parameters:
//   - ctx: Context bounding connection setup
//   - dsn: Database connection string in PostgreSQL format
//
// Returns:
//   - Store: Implementation of the storage interface
//   - error: Any error that occurred during initialization
func NewPostgres(ctx context.Context, dsn string) (Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = time.Minute * 30
	config.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &postgres{db: pool}, nil
}

// initSchema creates all required tables and indexes if they don't already exist.
func initSchema(ctx context.Context, db *pgxpool.Pool) error {
	schema := `
		-- Journal of submitted ledger transactions
		CREATE TABLE IF NOT EXISTS transactions (
		    id TEXT PRIMARY KEY,                     -- ULID
		    hash TEXT NOT NULL UNIQUE,               -- Transaction hash
		    kind TEXT NOT NULL,                      -- create, update, like, comment
		    account TEXT NOT NULL,                   -- Signing account, lower-case hex
		    video_id BIGINT,                         -- Target video, when known
		    metadata_cid TEXT NOT NULL DEFAULT '',   -- Metadata document for create/update
		    status TEXT NOT NULL,                    -- submitted, confirmed, reverted
		    reason TEXT NOT NULL DEFAULT '',         -- Revert reason
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_transactions_account_created_at ON transactions(account, created_at DESC, id DESC);

		-- Idempotency table for storing idempotency keys
		CREATE TABLE IF NOT EXISTS idempotency (
		    key_hash TEXT PRIMARY KEY,               -- Hash of the idempotency key
		    request_hash TEXT NOT NULL,              -- Hash of the request payload for conflict detection
		    response_body BYTEA NOT NULL,            -- Cached response body
		    response_status INTEGER NOT NULL,        -- HTTP status code
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    expires_at TIMESTAMP WITH TIME ZONE NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_idempotency_expires_at ON idempotency(expires_at);
	`
	_, err := db.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool
func (p *postgres) Close() {
	p.db.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// RecordTransaction journals a submitted transaction.
func (p *postgres) RecordTransaction(ctx context.Context, tx model.Transaction) error {
	query := `INSERT INTO transactions (id, hash, kind, account, video_id, metadata_cid, status, reason, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	var videoID *int64
	if tx.VideoID != nil {
		v := int64(*tx.VideoID)
		videoID = &v
	}

	_, err := p.db.Exec(ctx, query,
		tx.ID,
		tx.Hash,
		string(tx.Kind),
		strings.ToLower(tx.Account),
		videoID,
		tx.MetadataCID,
		tx.Status,
		tx.Reason,
		tx.CreatedAt,
		tx.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to record transaction: %w", err)
	}
	return nil
}

// UpdateTransactionStatus stores the final status of a journaled transaction.
func (p *postgres) UpdateTransactionStatus(ctx context.Context, update StatusUpdate) error {
	query := `UPDATE transactions SET status = $1, reason = $2, video_id = COALESCE($3, video_id), updated_at = $4
	          WHERE hash = $5`

	var videoID *int64
	if update.VideoID != nil {
		v := int64(*update.VideoID)
		videoID = &v
	}

	result, err := p.db.Exec(ctx, query, update.Status, update.Reason, videoID, time.Now().UTC(), update.Hash)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const transactionColumns = `id, hash, kind, account, video_id, metadata_cid, status, reason, created_at, updated_at`

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var tx model.Transaction
	var kind string
	var videoID *int64
	err := row.Scan(
		&tx.ID,
		&tx.Hash,
		&kind,
		&tx.Account,
		&videoID,
		&tx.MetadataCID,
		&tx.Status,
		&tx.Reason,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	tx.Kind = model.TxKind(kind)
	if videoID != nil {
		v := uint64(*videoID)
		tx.VideoID = &v
	}
	return &tx, nil
}

// GetTransaction retrieves a journal entry by transaction hash.
func (p *postgres) GetTransaction(ctx context.Context, hash string) (*model.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE hash = $1`
	tx, err := scanTransaction(p.db.QueryRow(ctx, query, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

// ListTransactions lists an account's journal newest first with cursor-based pagination.
func (p *postgres) ListTransactions(ctx context.Context, query TransactionQuery) (*TransactionPage, error) {
	baseQuery := `SELECT ` + transactionColumns + ` FROM transactions WHERE account = $1`
	args := []interface{}{strings.ToLower(query.Account)}
	argIndex := 2

	if query.Cursor != "" {
		cur, err := decodeCursor(query.Cursor)
		if err != nil {
			return nil, err
		}
		baseQuery += fmt.Sprintf(" AND (created_at < $%d OR (created_at = $%d AND id < $%d))", argIndex, argIndex, argIndex+1)
		args = append(args, cur.LastCreatedAt, cur.LastID)
		argIndex += 2
	}

	limit := clampLimit(query.Limit)
	baseQuery += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", argIndex)
	args = append(args, limit+1) // Fetch one extra entry to determine if there are more results

	rows, err := p.db.Query(ctx, baseQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	page := &TransactionPage{Transactions: []model.Transaction{}}
	more := false
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if len(page.Transactions) == limit {
			more = true
			break
		}
		page.Transactions = append(page.Transactions, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	if more {
		last := page.Transactions[len(page.Transactions)-1]
		page.NextCursor = encodeCursor(last.CreatedAt, last.ID)
	}
	return page, nil
}

// StoreIdempotentResponse stores an idempotent response in the database.
// A live entry for the same key but another request is a conflict.
func (p *postgres) StoreIdempotentResponse(ctx context.Context, keyHash, requestHash string, responseBody []byte, statusCode int, expiresAt time.Time) error {
	now := time.Now().UTC()

	var existingRequestHash string
	query := `SELECT request_hash FROM idempotency WHERE key_hash = $1 AND request_hash != $2 AND expires_at > $3`
	err := p.db.QueryRow(ctx, query, keyHash, requestHash, now).Scan(&existingRequestHash)
	if err == nil {
		return ErrConflict
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to check for idempotency conflicts: %w", err)
	}

	query = `INSERT INTO idempotency (key_hash, request_hash, response_body, response_status, created_at, expires_at)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          ON CONFLICT (key_hash) DO UPDATE
	          SET request_hash = $2, response_body = $3, response_status = $4, created_at = $5, expires_at = $6`
	if _, err := p.db.Exec(ctx, query, keyHash, requestHash, responseBody, statusCode, now, expiresAt); err != nil {
		return fmt.Errorf("failed to store idempotent response: %w", err)
	}
	return nil
}

// GetIdempotentResponse retrieves a cached idempotent response from the database
func (p *postgres) GetIdempotentResponse(ctx context.Context, keyHash string) (*IdempotentResponse, error) {
	query := `SELECT request_hash, response_body, response_status, expires_at FROM idempotency
	          WHERE key_hash = $1 AND expires_at > $2`

	var resp IdempotentResponse
	err := p.db.QueryRow(ctx, query, keyHash, time.Now().UTC()).Scan(
		&resp.RequestHash, &resp.ResponseBody, &resp.StatusCode, &resp.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get idempotent response: %w", err)
	}
	return &resp, nil
}
