// Package contentstore uploads raw payloads to a content-addressed store and returns
// the identifiers naming them. Uploads are permanent: no implementation offers delete.
package contentstore

import (
	"context"
	"fmt"
	"strings"

	errordefs "github.com/vidverse/vidverse-go/internal/errors"
	"github.com/vidverse/vidverse-go/internal/model"
)

// Scheme is the URI scheme used for every stored-content reference.
const Scheme = "ipfs://"

// Client is the content store boundary used by the Upload Coordinator.
// A Store call either returns identifiers for every submitted payload or a single
// VV_STORE_FAILURE; it never returns a partially populated result.
type Client interface {
	// Store uploads a batch of payloads under one folder CID.
	Store(ctx context.Context, assets []model.MediaAsset) (BatchResult, error)
	// StoreJSON uploads a JSON document and returns its CID.
	StoreJSON(ctx context.Context, doc interface{}) (string, error)
}

// FileInfo describes one payload of a stored batch.
type FileInfo struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size"`
	CID      string `json:"cid,omitempty"` // Per-file CID when the backend reports one
	Path     string `json:"path"`          // "{folderCID}/{filename}"
}

// BatchResult is the outcome of a Store call.
type BatchResult struct {
	FolderCID string     `json:"folderCid"`
	Files     []FileInfo `json:"files"`
}

// File returns the info for filename, if present.
func (b BatchResult) File(filename string) (FileInfo, bool) {
	for _, f := range b.Files {
		if f.Filename == filename {
			return f, true
		}
	}
	return FileInfo{}, false
}

// URI builds "ipfs://{cid}" or "ipfs://{cid}/{filename}".
func URI(cid string, filename string) string {
	if filename == "" {
		return Scheme + cid
	}
	return Scheme + cid + "/" + filename
}

// Path joins a folder CID and a filename into a CID path.
func Path(folderCID, filename string) string {
	return folderCID + "/" + filename
}

// TrimScheme strips the ipfs:// prefix from uri, returning the CID or CID path.
func TrimScheme(uri string) string {
	return strings.TrimPrefix(uri, Scheme)
}

// completeBatch enforces the all-or-nothing contract on a backend result.
func completeBatch(assets []model.MediaAsset, result BatchResult) (BatchResult, error) {
	if result.FolderCID == "" {
		return BatchResult{}, errordefs.StoreFailure("store returned no folder identifier", nil)
	}
	if len(result.Files) != len(assets) {
		return BatchResult{}, errordefs.StoreFailure(
			fmt.Sprintf("store returned %d identifiers for %d payloads", len(result.Files), len(assets)), nil)
	}
	if err := checkBatch(assets); err != nil {
		return BatchResult{}, err
	}
	for _, a := range assets {
		if _, ok := result.File(a.Filename); !ok {
			return BatchResult{}, errordefs.StoreFailure(fmt.Sprintf("store returned no identifier for %s", a.Filename), nil)
		}
	}
	return result, nil
}

// checkBatch rejects batches that cannot map one identifier to each payload.
func checkBatch(assets []model.MediaAsset) error {
	if len(assets) == 0 {
		return errordefs.StoreFailure("empty batch", nil)
	}
	seen := make(map[string]struct{}, len(assets))
	for _, a := range assets {
		if _, dup := seen[a.Filename]; dup {
			return errordefs.StoreFailure(fmt.Sprintf("duplicate filename %q in batch", a.Filename), nil)
		}
		seen[a.Filename] = struct{}{}
	}
	return nil
}
