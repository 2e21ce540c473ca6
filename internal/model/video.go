// internal/model/video.go
// Package model defines the data structures used throughout the VidVerse pipeline.
// These structures represent media payloads, the metadata document that references them,
// and the ledger-owned video, comment, and transaction state.
package model

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MediaAsset is an immutable byte payload supplied by the caller.
// It is discarded once the content store has accepted it.
type MediaAsset struct {
	Filename string // Human filename, used as the path segment under the folder CID
	MimeType string // Declared MIME type; may be empty
	Data     []byte // Raw bytes
}

// Size returns the payload size in bytes.
func (a MediaAsset) Size() int64 {
	return int64(len(a.Data))
}

// BaseDescriptor carries the caller-editable fields of a video.
type BaseDescriptor struct {
	Title       string `json:"title" validate:"required,max=200,no_markup"`
	Description string `json:"description" validate:"required,max=5000,no_markup"`
	Category    string `json:"category" validate:"required,max=64"`
	Location    string `json:"location" validate:"required,max=128"`
	ExternalURL string `json:"externalUrl,omitempty" validate:"omitempty,url"`
}

// MetadataContent describes the primary media of a metadata document.
type MetadataContent struct {
	Mime string `json:"mime"`
	URI  string `json:"uri"`
}

// MetadataProperties holds the free-form classification fields.
type MetadataProperties struct {
	Category string `json:"category"`
	Location string `json:"location"`
}

// MetadataDocument is the JSON document stored in the content store and referenced
// from the ledger by its CID. Field order is fixed so encoding is byte-stable.
type MetadataDocument struct {
	Name         string             `json:"name"`
	Description  string             `json:"description"`
	ExternalURL  string             `json:"external_url"`
	Image        string             `json:"image,omitempty"`
	AnimationURL string             `json:"animation_url,omitempty"`
	Content      *MetadataContent   `json:"content,omitempty"`
	Properties   MetadataProperties `json:"properties"`
}

// UploadResult is the transient outcome of an Upload Coordinator call.
// VideoCID and ThumbnailCID are CID paths ("{folderCID}/{filename}") and are only
// set for assets uploaded in the same call.
type UploadResult struct {
	MetadataCID  string `json:"metadataCid"`
	VideoCID     string `json:"videoCid,omitempty"`
	ThumbnailCID string `json:"thumbnailCid,omitempty"`
	FolderCID    string `json:"folderCid,omitempty"`
}

// VideoRecord is the canonical ledger entity.
type VideoRecord struct {
	ID            uint64         `json:"id"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Category      string         `json:"category"`
	Location      string         `json:"location"`
	ThumbnailCID  string         `json:"thumbnailCid"`
	VideoCID      string         `json:"videoCid"`
	Owner         common.Address `json:"owner"`
	CoinAddress   common.Address `json:"coinAddress"`
	CreatedAt     int64          `json:"createdAt"` // unix seconds
	LikesCount    uint64         `json:"likesCount"`
	CommentsCount uint64         `json:"commentsCount"`
}

// IsOwnedBy reports whether account owns the record.
func (v VideoRecord) IsOwnedBy(account string) bool {
	return account != "" && strings.EqualFold(v.Owner.Hex(), account)
}

// Comment is an append-only remark on a video.
type Comment struct {
	ID        uint64         `json:"id"`
	VideoID   uint64         `json:"videoId"`
	Author    common.Address `json:"author"`
	Text      string         `json:"text"`
	CreatedAt int64          `json:"createdAt"` // unix seconds
}

// MarketStats is the off-chain market data for a video's coin.
type MarketStats struct {
	MarketCap       float64 `json:"marketCap"`
	Volume24h       float64 `json:"volume24h"`
	TotalVolume     float64 `json:"totalVolume"`
	CreatorEarnings float64 `json:"creatorEarnings"`
	UniqueHolders   int64   `json:"uniqueHolders"`
	TotalSupply     float64 `json:"totalSupply"`
	CreatedAt       string  `json:"createdAt,omitempty"`
	Symbol          string  `json:"symbol,omitempty"`
	Name            string  `json:"name,omitempty"`
}

// AggregateView is the display-ready combination of ledger state and best-effort market data.
type AggregateView struct {
	Video           VideoRecord `json:"video"`
	ThumbnailURI    string      `json:"thumbnailUri"`
	VideoURI        string      `json:"videoUri"`
	Market          MarketStats `json:"market"`
	MarketAvailable bool        `json:"marketAvailable"`
	LikedByViewer   *bool       `json:"likedByViewer,omitempty"`
}

// IsOwner reports whether account owns the aggregated video.
func (v AggregateView) IsOwner(account string) bool {
	return v.Video.IsOwnedBy(account)
}

// TxKind names the ledger operation a journal entry tracks.
type TxKind string

const (
	TxKindCreate  TxKind = "create"
	TxKindUpdate  TxKind = "update"
	TxKindLike    TxKind = "like"
	TxKindComment TxKind = "comment"
)

// Transaction is a journal entry for a submitted ledger transaction.
// This corresponds to the transactions table in storage.
type Transaction struct {
	ID          string    `json:"id" db:"id"`                      // ULID
	Hash        string    `json:"hash" db:"hash"`                  // Transaction hash
	Kind        TxKind    `json:"kind" db:"kind"`                  // Ledger operation
	Account     string    `json:"account" db:"account"`            // Signing account
	VideoID     *uint64   `json:"videoId,omitempty" db:"video_id"` // Target video, when known
	MetadataCID string    `json:"metadataCid,omitempty" db:"metadata_cid"`
	Status      string    `json:"status" db:"status"` // submitted, confirmed, reverted
	Reason      string    `json:"reason,omitempty" db:"reason"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}
