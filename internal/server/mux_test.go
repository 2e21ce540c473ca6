// Package server provides unit tests for the HTTP handlers and routing.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidverse/vidverse-go/internal/aggregate"
	"github.com/vidverse/vidverse-go/internal/auth"
	"github.com/vidverse/vidverse-go/internal/contentstore"
	"github.com/vidverse/vidverse-go/internal/ledger"
	"github.com/vidverse/vidverse-go/internal/metrics"
	"github.com/vidverse/vidverse-go/internal/pipeline"
	"github.com/vidverse/vidverse-go/internal/schema"
	"github.com/vidverse/vidverse-go/internal/storage"
	"github.com/vidverse/vidverse-go/internal/upload"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type testServer struct {
	handler http.Handler
	auth    *auth.Authenticator
	ledger  *ledger.Memory
	store   *contentstore.Memory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	v, err := schema.NewValidator()
	require.NoError(t, err)
	a, err := auth.New("test-secret", "vidverse", "vidverse-api")
	require.NoError(t, err)

	store := contentstore.NewMemory()
	l := ledger.NewMemory()
	journal := storage.NewMemory()
	svc := pipeline.New(pipeline.Deps{
		Coordinator: upload.New(store, upload.DefaultPolicy(), upload.WithSchema(v), upload.WithLogger(logger)),
		Ledger:      l,
		Journal:     journal,
		Schema:      v,
		Metrics:     m,
		Logger:      logger,
	})
	h := NewMux(Deps{
		Pipeline:           svc,
		Aggregator:         aggregate.New(l, nil, logger),
		Journal:            journal,
		Auth:               a,
		Metrics:            m,
		Gatherer:           reg,
		Logger:             logger,
		CORSAllowedOrigins: []string{"http://localhost:3000"},
	})
	return &testServer{handler: h, auth: a, ledger: l, store: store}
}

func (s *testServer) token(t *testing.T, account common.Address) string {
	t.Helper()
	tok, err := s.auth.Issue(account, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

type filePart struct {
	field, filename, mime string
	data                  []byte
}

func multipartBody(t *testing.T, fields map[string]string, files ...filePart) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+f.field+`"; filename="`+f.filename+`"`)
		h.Set("Content-Type", f.mime)
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

var baseFields = map[string]string{
	"title": "Sunset", "description": "Timelapse", "category": "Nature", "location": "Lisbon",
}

func publishRequest(t *testing.T, authz string) *http.Request {
	t.Helper()
	body, ct := multipartBody(t, baseFields,
		filePart{"video", "video.mp4", "video/mp4", []byte("mp4 bytes")},
		filePart{"thumbnail", "thumb.png", "image/png", []byte("png bytes")},
	)
	req := httptest.NewRequest(http.MethodPost, "/v1/videos", body)
	req.Header.Set("Content-Type", ct)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	return req
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code          string `json:"code"`
		Message       string `json:"message"`
		Stage         string `json:"stage"`
		CorrelationID string `json:"correlationId"`
	} `json:"error"`
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, data interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	if data != nil && env.Data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func (s *testServer) publish(t *testing.T, account common.Address) uint64 {
	t.Helper()
	rr := s.do(publishRequest(t, s.token(t, account)))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var out pipeline.Outcome
	decode(t, rr, &out)
	require.NotNil(t, out.VideoID)
	return *out.VideoID
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		rr := s.do(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rr.Code, path)
		assert.Equal(t, "ok", rr.Body.String(), path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(httptest.NewRequest(http.MethodGet, "/v1/videos", nil))

	rr := s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "vidverse_http_requests_total")
}

func TestPublishRequiresBearerToken(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(publishRequest(t, ""))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	env := decode(t, rr, nil)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VV_AUTHN", env.Error.Code)
	assert.NotEmpty(t, env.Error.CorrelationID)

	rr = s.do(publishRequest(t, "Bearer not-a-token"))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, 0, s.store.Len())
}

func TestPublishAndView(t *testing.T) {
	s := newTestServer(t)
	id := s.publish(t, alice)

	req := httptest.NewRequest(http.MethodGet, "/v1/videos/0", nil)
	req.Header.Set("Authorization", s.token(t, alice))
	rr := s.do(req)
	require.Equal(t, http.StatusOK, rr.Code)

	var view viewResponse
	decode(t, rr, &view)
	assert.Equal(t, id, view.Video.ID)
	assert.Equal(t, "Sunset", view.Video.Title)
	assert.True(t, view.IsOwner)
	assert.False(t, view.MarketAvailable)
	require.NotNil(t, view.LikedByViewer)
	assert.False(t, *view.LikedByViewer)
	assert.True(t, strings.HasPrefix(view.VideoURI, "ipfs://"))

	anon := s.do(httptest.NewRequest(http.MethodGet, "/v1/videos/0", nil))
	var anonView viewResponse
	decode(t, anon, &anonView)
	assert.Nil(t, anonView.LikedByViewer)
	assert.False(t, anonView.IsOwner)
}

func TestPublishValidationFailure(t *testing.T) {
	s := newTestServer(t)
	body, ct := multipartBody(t, baseFields, filePart{"video", "video.mp4", "video/mp4", []byte("x")})
	req := httptest.NewRequest(http.MethodPost, "/v1/videos", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", s.token(t, alice))

	rr := s.do(req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	env := decode(t, rr, nil)
	assert.Equal(t, "VV_VALIDATION", env.Error.Code)
	assert.Equal(t, 0, s.ledger.Mutations())
}

func TestPublishIdempotencyKey(t *testing.T) {
	s := newTestServer(t)
	authz := s.token(t, alice)

	first := publishRequest(t, authz)
	first.Header.Set("Idempotency-Key", "k1")
	rr1 := s.do(first)
	require.Equal(t, http.StatusCreated, rr1.Code)

	again := publishRequest(t, authz)
	again.Header.Set("Idempotency-Key", "k1")
	rr2 := s.do(again)
	assert.Equal(t, http.StatusCreated, rr2.Code)
	assert.Equal(t, "true", rr2.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, rr1.Body.String(), rr2.Body.String())
	assert.Equal(t, 1, s.ledger.Mutations())

	body, ct := multipartBody(t, map[string]string{
		"title": "Other", "description": "d", "category": "c", "location": "l",
	},
		filePart{"video", "video.mp4", "video/mp4", []byte("mp4 bytes")},
		filePart{"thumbnail", "thumb.png", "image/png", []byte("png bytes")},
	)
	conflict := httptest.NewRequest(http.MethodPost, "/v1/videos", body)
	conflict.Header.Set("Content-Type", ct)
	conflict.Header.Set("Authorization", authz)
	conflict.Header.Set("Idempotency-Key", "k1")
	rr3 := s.do(conflict)
	assert.Equal(t, http.StatusConflict, rr3.Code)
	assert.Equal(t, "VV_CONFLICT", decode(t, rr3, nil).Error.Code)
}

func TestEditByNonOwnerIsForbidden(t *testing.T) {
	s := newTestServer(t)
	s.publish(t, alice)

	body, ct := multipartBody(t, baseFields)
	req := httptest.NewRequest(http.MethodPost, "/v1/videos/0/edit", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", s.token(t, bob))

	rr := s.do(req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestEditKeepsVideo(t *testing.T) {
	s := newTestServer(t)
	s.publish(t, alice)

	fields := map[string]string{"title": "Renamed", "description": "d", "category": "c", "location": "l"}
	body, ct := multipartBody(t, fields)
	req := httptest.NewRequest(http.MethodPost, "/v1/videos/0/edit", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", s.token(t, alice))

	rr := s.do(req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	list := s.do(httptest.NewRequest(http.MethodGet, "/v1/videos", nil))
	var views []viewResponse
	decode(t, list, &views)
	require.Len(t, views, 1)
	assert.Equal(t, "Renamed", views[0].Video.Title)
	assert.Contains(t, views[0].Video.VideoCID, "/video.mp4")
}

func TestLikeAndComments(t *testing.T) {
	s := newTestServer(t)
	s.publish(t, alice)

	like := httptest.NewRequest(http.MethodPost, "/v1/videos/0/like", nil)
	like.Header.Set("Authorization", s.token(t, bob))
	rr := s.do(like)
	require.Equal(t, http.StatusOK, rr.Code)
	var out pipeline.Outcome
	decode(t, rr, &out)
	assert.Equal(t, ledger.TxConfirmed, out.Status)

	for _, text := range []string{"first", "second"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/videos/0/comments", strings.NewReader(`{"text":"`+text+`"}`))
		req.Header.Set("Authorization", s.token(t, bob))
		require.Equal(t, http.StatusCreated, s.do(req).Code)
	}

	empty := httptest.NewRequest(http.MethodPost, "/v1/videos/0/comments", strings.NewReader(`{"text":""}`))
	empty.Header.Set("Authorization", s.token(t, bob))
	rr = s.do(empty)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "VV_VALIDATION", decode(t, rr, nil).Error.Code)

	list := s.do(httptest.NewRequest(http.MethodGet, "/v1/videos/0/comments", nil))
	require.Equal(t, http.StatusOK, list.Code)
	var comments []struct {
		Text string `json:"text"`
	}
	decode(t, list, &comments)
	require.Len(t, comments, 2)
	assert.Equal(t, "second", comments[0].Text)
}

func TestRevertedLikeReportsHash(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/videos/9/like", nil)
	req.Header.Set("Authorization", s.token(t, bob))

	rr := s.do(req)
	assert.Equal(t, http.StatusConflict, rr.Code)
	var out pipeline.Outcome
	env := decode(t, rr, &out)
	assert.Equal(t, "VV_TX_REVERT", env.Error.Code)
	assert.Equal(t, pipeline.StageConfirming, env.Error.Stage)
	assert.NotEmpty(t, out.TxHash)
	assert.Equal(t, "Video does not exist", out.RevertReason)
}

func TestTransactionsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.publish(t, alice)

	rr := s.do(httptest.NewRequest(http.MethodGet, "/v1/accounts/"+alice.Hex()+"/transactions", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var page storage.TransactionPage
	decode(t, rr, &page)
	require.Len(t, page.Transactions, 1)
	assert.Equal(t, "confirmed", page.Transactions[0].Status)

	bad := s.do(httptest.NewRequest(http.MethodGet, "/v1/accounts/alice/transactions", nil))
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

type downJournal struct {
	storage.Store
}

func (downJournal) ListTransactions(context.Context, storage.TransactionQuery) (*storage.TransactionPage, error) {
	return nil, errors.New("connection refused")
}

func TestTransactionsErrors(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(httptest.NewRequest(http.MethodGet, "/v1/accounts/"+alice.Hex()+"/transactions?cursor=%25%25%25", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "VV_BAD_REQUEST", decode(t, rr, nil).Error.Code)

	h := NewMux(Deps{
		Journal: downJournal{Store: storage.NewMemory()},
		Logger:  slog.New(slog.NewJSONHandler(io.Discard, nil)),
	})
	down := httptest.NewRecorder()
	h.ServeHTTP(down, httptest.NewRequest(http.MethodGet, "/v1/accounts/"+alice.Hex()+"/transactions", nil))
	assert.Equal(t, http.StatusServiceUnavailable, down.Code)
	assert.Equal(t, "VV_UNAVAILABLE", decode(t, down, nil).Error.Code)
}

func TestReadErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		path   string
		status int
		code   string
	}{
		{"/v1/videos/abc", http.StatusBadRequest, "VV_VALIDATION"},
		{"/v1/videos/5", http.StatusNotFound, "VV_NOT_FOUND"},
		{"/v1/videos/5/comments", http.StatusNotFound, "VV_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rr := s.do(httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, tt.code, decode(t, rr, nil).Error.Code)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/v1/videos", nil)
	req.Header.Set("Origin", "http://localhost:3000")

	rr := s.do(req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")

	other := httptest.NewRequest(http.MethodOptions, "/v1/videos", nil)
	other.Header.Set("Origin", "https://evil.example")
	assert.Empty(t, s.do(other).Header().Get("Access-Control-Allow-Origin"))
}

func TestCorrelationIDEchoed(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/videos", nil)
	req.Header.Set("X-Correlation-Id", "corr-123")
	rr := s.do(req)
	assert.Equal(t, "corr-123", rr.Header().Get("X-Correlation-Id"))
}
