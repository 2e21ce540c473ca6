package ledger

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	errordefs "github.com/vidverse/vidverse-go/internal/errors"
	"github.com/vidverse/vidverse-go/internal/model"
)

// DefaultCoinFactory is the coin factory address coin addresses are derived from.
var DefaultCoinFactory = common.HexToAddress("0x777777751622c0d3258f214F9DF38E35BF45baF3")

// Memory is an in-process ledger with the registry contract's rules. Transactions
// execute when submitted and are reported as included on AwaitConfirmation.
type Memory struct {
	mu        sync.RWMutex
	factory   common.Address
	signers   map[common.Address]bool // nil allows every account
	videos    []model.VideoRecord
	comments  map[uint64][]model.Comment
	likes     map[uint64]map[common.Address]bool
	nonce     uint64
	block     uint64
	mutations int
	reject    error
	now       func() time.Time
}

// MemoryOption configures a Memory ledger.
type MemoryOption func(*Memory)

// WithSigners restricts writers to the given accounts.
func WithSigners(accounts ...common.Address) MemoryOption {
	return func(m *Memory) {
		m.signers = make(map[common.Address]bool, len(accounts))
		for _, a := range accounts {
			m.signers[a] = true
		}
	}
}

// WithCoinFactory sets the address coin addresses are derived from.
func WithCoinFactory(addr common.Address) MemoryOption {
	return func(m *Memory) { m.factory = addr }
}

// WithClock sets the time source for createdAt fields.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory creates an empty ledger.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		factory:  DefaultCoinFactory,
		comments: make(map[uint64][]model.Comment),
		likes:    make(map[uint64]map[common.Address]bool),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RejectSubmissions makes every subsequent mutation fail at submission with err (nil clears it).
func (m *Memory) RejectSubmissions(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reject = err
}

// Mutations returns how many mutating calls were issued, rejected ones included.
func (m *Memory) Mutations() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mutations
}

// Video implements Reader.
func (m *Memory) Video(ctx context.Context, id uint64) (model.VideoRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id >= uint64(len(m.videos)) {
		return model.VideoRecord{}, errordefs.NotFound("video %d not found", id)
	}
	return m.videos[id], nil
}

// Comments implements Reader.
func (m *Memory) Comments(ctx context.Context, id uint64) ([]model.Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id >= uint64(len(m.videos)) {
		return nil, errordefs.NotFound("video %d not found", id)
	}
	out := make([]model.Comment, len(m.comments[id]))
	copy(out, m.comments[id])
	return out, nil
}

// NextVideoID implements Reader.
func (m *Memory) NextVideoID(ctx context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.videos)), nil
}

// IsLikedBy implements Reader.
func (m *Memory) IsLikedBy(ctx context.Context, id uint64, account common.Address) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.likes[id][account], nil
}

// Writer implements Ledger.
func (m *Memory) Writer(account common.Address) (Writer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.signers != nil && !m.signers[account] {
		return nil, errordefs.TxSubmission("no signer for account "+account.Hex(), nil)
	}
	return &memoryWriter{ledger: m, account: account}, nil
}

// submit runs exec under the write lock as one transaction.
// exec returns the created video id, if any, and a revert reason.
func (m *Memory) submit(ctx context.Context, kind model.TxKind, from common.Address,
	exec func() (*uint64, string)) (TxHandle, error) {

	m.mu.Lock()
	defer m.mu.Unlock()
	m.mutations++

	if err := ctx.Err(); err != nil {
		return nil, errordefs.TxSubmission("submission canceled", err)
	}
	if m.reject != nil {
		return nil, errordefs.TxSubmission(string(kind)+" rejected", m.reject)
	}

	m.nonce++
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], m.nonce)
	hash := crypto.Keccak256Hash(from.Bytes(), nonce[:], []byte(kind))

	videoID, reason := exec()
	m.block++
	return &memoryTx{
		hash:    hash,
		kind:    kind,
		block:   m.block,
		videoID: videoID,
		reason:  reason,
	}, nil
}

type memoryWriter struct {
	ledger  *Memory
	account common.Address
}

func (w *memoryWriter) Account() common.Address { return w.account }

func (w *memoryWriter) CreateVideo(ctx context.Context, in CreateVideoInput) (TxHandle, error) {
	m := w.ledger
	return m.submit(ctx, model.TxKindCreate, w.account, func() (*uint64, string) {
		id := uint64(len(m.videos))
		m.videos = append(m.videos, model.VideoRecord{
			ID:           id,
			Title:        in.Title,
			Description:  in.Description,
			Category:     in.Category,
			Location:     in.Location,
			ThumbnailCID: in.ThumbnailCID,
			VideoCID:     in.VideoCID,
			Owner:        w.account,
			CoinAddress:  crypto.CreateAddress(m.factory, id),
			CreatedAt:    m.now().Unix(),
		})
		return &id, ""
	})
}

func (w *memoryWriter) UpdateVideo(ctx context.Context, in UpdateVideoInput) (TxHandle, error) {
	m := w.ledger
	return m.submit(ctx, model.TxKindUpdate, w.account, func() (*uint64, string) {
		if in.ID >= uint64(len(m.videos)) {
			return nil, "Video does not exist"
		}
		v := &m.videos[in.ID]
		if v.Owner != w.account {
			return nil, "Only owner can update video"
		}
		v.Title = in.Title
		v.Description = in.Description
		v.Category = in.Category
		v.Location = in.Location
		v.ThumbnailCID = in.ThumbnailCID
		return nil, ""
	})
}

func (w *memoryWriter) ToggleLike(ctx context.Context, id uint64) (TxHandle, error) {
	m := w.ledger
	return m.submit(ctx, model.TxKindLike, w.account, func() (*uint64, string) {
		if id >= uint64(len(m.videos)) {
			return nil, "Video does not exist"
		}
		if m.likes[id] == nil {
			m.likes[id] = make(map[common.Address]bool)
		}
		if m.likes[id][w.account] {
			delete(m.likes[id], w.account)
			m.videos[id].LikesCount--
		} else {
			m.likes[id][w.account] = true
			m.videos[id].LikesCount++
		}
		return nil, ""
	})
}

func (w *memoryWriter) Comment(ctx context.Context, id uint64, text string) (TxHandle, error) {
	m := w.ledger
	return m.submit(ctx, model.TxKindComment, w.account, func() (*uint64, string) {
		if id >= uint64(len(m.videos)) {
			return nil, "Video does not exist"
		}
		if text == "" {
			return nil, "Comment cannot be empty"
		}
		m.comments[id] = append(m.comments[id], model.Comment{
			ID:        uint64(len(m.comments[id])),
			VideoID:   id,
			Author:    w.account,
			Text:      text,
			CreatedAt: m.now().Unix(),
		})
		m.videos[id].CommentsCount++
		return nil, ""
	})
}

type memoryTx struct {
	hash    common.Hash
	kind    model.TxKind
	block   uint64
	videoID *uint64
	reason  string
}

func (t *memoryTx) Hash() common.Hash  { return t.hash }
func (t *memoryTx) Kind() model.TxKind { return t.kind }

func (t *memoryTx) Submitted() TxResult {
	return TxResult{Status: TxSubmitted, TxHash: t.hash}
}

func (t *memoryTx) AwaitConfirmation(ctx context.Context) (TxResult, error) {
	if err := ctx.Err(); err != nil {
		return t.Submitted(), errordefs.Wrap(errordefs.VV_UNAVAILABLE, "confirmation wait aborted", err)
	}
	if t.reason != "" {
		return reverted(t.hash, t.reason)
	}
	return TxResult{
		Status: TxConfirmed,
		TxHash: t.hash,
		Receipt: &Receipt{
			TxHash:      t.hash,
			BlockNumber: t.block,
			GasUsed:     21000,
			VideoID:     t.videoID,
		},
	}, nil
}

// reverted builds the Reverted variant and its error.
func reverted(hash common.Hash, reason string) (TxResult, error) {
	if reason == "" {
		reason = "execution reverted"
	}
	return TxResult{Status: TxReverted, TxHash: hash, RevertReason: reason}, errordefs.TxRevert(reason)
}
