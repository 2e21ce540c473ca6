package server

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	errordefs "github.com/vidverse/vidverse-go/internal/errors"
	"github.com/vidverse/vidverse-go/internal/storage"
	"github.com/vidverse/vidverse-go/internal/upload"
)

// idempotencyTTL is how long a stored publish response is replayed.
const idempotencyTTL = 24 * time.Hour

// idempotent tracks one request carrying an Idempotency-Key header.
type idempotent struct {
	m           *Mux
	keyHash     string // empty when the request carries no key
	requestHash string
}

// beginIdempotent scopes the Idempotency-Key header to the account.
func (m *Mux) beginIdempotent(r *http.Request, account, requestHash string) idempotent {
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		return idempotent{m: m}
	}
	sum := sha256.Sum256([]byte(account + "\x00" + key))
	return idempotent{m: m, keyHash: hex.EncodeToString(sum[:]), requestHash: requestHash}
}

// replayed writes the stored response, or a conflict when the key was used for a
// different payload, and reports whether it wrote anything.
func (i idempotent) replayed(w http.ResponseWriter, r *http.Request) bool {
	if i.keyHash == "" {
		return false
	}
	cached, err := i.m.journal.GetIdempotentResponse(r.Context(), i.keyHash)
	if errors.Is(err, storage.ErrNotFound) {
		return false
	}
	if err != nil {
		i.m.logger.Warn("idempotency lookup failed", "error", err)
		return false
	}
	if cached.RequestHash != i.requestHash {
		i.m.writeFailure(w, r, errordefs.New(errordefs.VV_CONFLICT, "idempotency key reused with a different payload", ""), nil)
		return true
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.ResponseBody)
	return true
}

// respond writes a success response and stores it under the key, if any.
func (i idempotent) respond(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(map[string]interface{}{"data": data})

	if i.keyHash != "" {
		if err := i.m.journal.StoreIdempotentResponse(r.Context(), i.keyHash, i.requestHash, buf.Bytes(), status, time.Now().Add(idempotencyTTL)); err != nil {
			i.m.logger.Warn("failed to store idempotent response", "error", err)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// requestHash fingerprints a publish request by its descriptor and asset bytes.
func requestHash(req upload.CreateRequest) string {
	h := sha256.New()
	_ = json.NewEncoder(h).Encode(req.Base)
	for _, a := range [][]byte{
		[]byte(req.Video.Filename), []byte(req.Video.MimeType), req.Video.Data,
		[]byte(req.Thumbnail.Filename), []byte(req.Thumbnail.MimeType), req.Thumbnail.Data,
	} {
		var n [8]byte
		binary.LittleEndian.PutUint64(n[:], uint64(len(a)))
		h.Write(n[:])
		h.Write(a)
	}
	return hex.EncodeToString(h.Sum(nil))
}
