package contentstore

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// manifestEntry is one file of a folder manifest.
type manifestEntry struct {
	Name string `json:"name"`
	CID  string `json:"cid"`
	Size int64  `json:"size"`
}

// rawCID returns the CIDv1 (raw codec, sha2-256) of data.
func rawCID(data []byte) (string, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("hash payload: %w", err)
	}
	return cid.NewCidV1(cid.Raw, sum).String(), nil
}

// jsonCID returns the CIDv1 (dag-json codec, sha2-256) of an encoded JSON document.
func jsonCID(encoded []byte) (string, error) {
	sum, err := multihash.Sum(encoded, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("hash document: %w", err)
	}
	return cid.NewCidV1(cid.DagJSON, sum).String(), nil
}

// folderManifest sorts entries by name and returns the folder CID with its encoded manifest.
// The same set of files always yields the same folder CID regardless of submission order.
func folderManifest(entries []manifestEntry) (string, []byte, error) {
	sorted := make([]manifestEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	encoded, err := json.Marshal(sorted)
	if err != nil {
		return "", nil, fmt.Errorf("encode manifest: %w", err)
	}
	folder, err := jsonCID(encoded)
	if err != nil {
		return "", nil, err
	}
	return folder, encoded, nil
}
