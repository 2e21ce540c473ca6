// Package ledger is the typed boundary to the on-chain video registry.
//
// Every mutating call is two-phase. Submitting returns a TxHandle as soon as the
// ledger accepts the transaction (the Submitted variant); AwaitConfirmation then
// resolves it to Confirmed with a receipt or Reverted with a reason. A failure at
// submission is a VV_TX_SUBMISSION error and never yields a handle.
package ledger

import (
	"context"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	errordefs "github.com/vidverse/vidverse-go/internal/errors"
	"github.com/vidverse/vidverse-go/internal/model"
)

// DefaultChainID is Base Sepolia.
const DefaultChainID int64 = 84532

// TxStatus is the phase a transaction has reached.
type TxStatus string

const (
	TxSubmitted TxStatus = "submitted"
	TxConfirmed TxStatus = "confirmed"
	TxReverted  TxStatus = "reverted"
)

// Receipt describes an included, successful transaction.
type Receipt struct {
	TxHash      common.Hash `json:"txHash"`
	BlockNumber uint64      `json:"blockNumber"`
	GasUsed     uint64      `json:"gasUsed"`
	// VideoID is set for create transactions, from the VideoAdded event.
	VideoID *uint64 `json:"videoId,omitempty"`
}

// TxResult is one of Submitted{hash}, Confirmed{receipt} or Reverted{reason}.
type TxResult struct {
	Status       TxStatus    `json:"status"`
	TxHash       common.Hash `json:"txHash"`
	Receipt      *Receipt    `json:"receipt,omitempty"`
	RevertReason string      `json:"revertReason,omitempty"`
}

// TxHandle tracks one submitted transaction.
type TxHandle interface {
	Hash() common.Hash
	Kind() model.TxKind
	// Submitted returns the Submitted variant for this transaction.
	Submitted() TxResult
	// AwaitConfirmation blocks until the transaction is included or ctx ends.
	// A revert returns the Reverted variant together with a VV_TX_REVERT error.
	AwaitConfirmation(ctx context.Context) (TxResult, error)
}

// CreateVideoInput are the arguments of a create call.
type CreateVideoInput struct {
	Title        string
	Description  string
	Category     string
	Location     string
	ThumbnailCID string
	VideoCID     string
	MetadataCID  string
}

// UpdateVideoInput are the arguments of an update call. The video CID is immutable
// after creation and has no field here.
type UpdateVideoInput struct {
	ID           uint64
	Title        string
	Description  string
	Category     string
	Location     string
	ThumbnailCID string
	MetadataCID  string
}

// Reader exposes the read calls.
type Reader interface {
	// Video returns the record for id, or a VV_NOT_FOUND error.
	Video(ctx context.Context, id uint64) (model.VideoRecord, error)
	// Comments returns the comments of id in append order.
	Comments(ctx context.Context, id uint64) ([]model.Comment, error)
	// NextVideoID returns the id the next create will be assigned.
	NextVideoID(ctx context.Context) (uint64, error)
	// IsLikedBy reports the like flag of account for id.
	IsLikedBy(ctx context.Context, id uint64, account common.Address) (bool, error)
}

// Writer submits mutations signed by one account.
type Writer interface {
	Account() common.Address
	CreateVideo(ctx context.Context, in CreateVideoInput) (TxHandle, error)
	UpdateVideo(ctx context.Context, in UpdateVideoInput) (TxHandle, error)
	ToggleLike(ctx context.Context, id uint64) (TxHandle, error)
	Comment(ctx context.Context, id uint64, text string) (TxHandle, error)
}

// Ledger is a Reader that can hand out Writers.
type Ledger interface {
	Reader
	// Writer returns a writer signing as account. An account with no signer, or a
	// ledger connected to the wrong network, yields a VV_TX_SUBMISSION error.
	Writer(account common.Address) (Writer, error)
}

// ParseVideoID accepts an integer id in decimal form.
func ParseVideoID(s string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, errordefs.Validation("invalid video id %q", s)
	}
	return id, nil
}

// ParseAccount parses a hex account address.
func ParseAccount(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, errordefs.Validation("invalid account address %q", s)
	}
	return common.HexToAddress(s), nil
}
