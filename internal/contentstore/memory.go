package contentstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	errordefs "github.com/vidverse/vidverse-go/internal/errors"
	"github.com/vidverse/vidverse-go/internal/model"
)

// Memory is an in-process content-addressed store for development and tests.
// CIDs are derived exactly as the S3 store derives them. Objects are never removed,
// including the ones written by a batch that later failed.
type Memory struct {
	mu        sync.RWMutex
	objects   map[string][]byte // CID or CID path -> bytes
	storeN    int
	jsonN     int
	failStore error
	failJSON  error
	failFile  map[string]error
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		objects:  make(map[string][]byte),
		failFile: make(map[string]error),
	}
}

// FailStore makes every subsequent Store call fail with err (nil clears it).
func (m *Memory) FailStore(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failStore = err
}

// FailJSON makes every subsequent StoreJSON call fail with err (nil clears it).
func (m *Memory) FailJSON(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failJSON = err
}

// FailFile makes the write of filename fail inside an otherwise healthy batch.
func (m *Memory) FailFile(filename string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFile[filename] = err
}

// Calls returns how many Store and StoreJSON calls were made.
func (m *Memory) Calls() (stores, documents int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.storeN, m.jsonN
}

// Get returns the bytes stored under a CID or CID path.
func (m *Memory) Get(ref string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[TrimScheme(ref)]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, true
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Store implements Client.
func (m *Memory) Store(ctx context.Context, assets []model.MediaAsset) (BatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeN++

	if err := checkBatch(assets); err != nil {
		return BatchResult{}, err
	}
	if m.failStore != nil {
		return BatchResult{}, errordefs.StoreFailure("batch upload failed", m.failStore)
	}

	entries := make([]manifestEntry, 0, len(assets))
	for _, a := range assets {
		c, err := rawCID(a.Data)
		if err != nil {
			return BatchResult{}, errordefs.StoreFailure("batch upload failed", err)
		}
		entries = append(entries, manifestEntry{Name: a.Filename, CID: c, Size: a.Size()})
	}
	folder, manifest, err := folderManifest(entries)
	if err != nil {
		return BatchResult{}, errordefs.StoreFailure("batch upload failed", err)
	}

	result := BatchResult{FolderCID: folder}
	for i, a := range assets {
		if ctx.Err() != nil {
			return BatchResult{}, errordefs.StoreFailure("batch upload canceled", ctx.Err())
		}
		if ferr := m.failFile[a.Filename]; ferr != nil {
			return BatchResult{}, errordefs.StoreFailure(fmt.Sprintf("upload of %s failed", a.Filename), ferr)
		}
		data := make([]byte, len(a.Data))
		copy(data, a.Data)
		path := Path(folder, a.Filename)
		m.objects[path] = data
		m.objects[entries[i].CID] = data
		result.Files = append(result.Files, FileInfo{
			Filename: a.Filename,
			MimeType: a.MimeType,
			Size:     a.Size(),
			CID:      entries[i].CID,
			Path:     path,
		})
	}
	m.objects[folder] = manifest

	return completeBatch(assets, result)
}

// StoreJSON implements Client.
func (m *Memory) StoreJSON(ctx context.Context, doc interface{}) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jsonN++

	if m.failJSON != nil {
		return "", errordefs.StoreFailure("json upload failed", m.failJSON)
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return "", errordefs.StoreFailure("encode json document", err)
	}
	c, err := jsonCID(encoded)
	if err != nil {
		return "", errordefs.StoreFailure("json upload failed", err)
	}
	m.objects[c] = encoded
	return c, nil
}
