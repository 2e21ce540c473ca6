// Package integration exercises the wired service end to end. Tests that need a
// live PostgreSQL or NATS server are skipped unless VV_TEST_DB_DSN or
// VV_TEST_NATS_URL is set.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidverse/vidverse-go/internal/app"
	"github.com/vidverse/vidverse-go/internal/config"
	"github.com/vidverse/vidverse-go/internal/contentstore"
	"github.com/vidverse/vidverse-go/internal/event"
	"github.com/vidverse/vidverse-go/internal/model"
	"github.com/vidverse/vidverse-go/internal/storage"
)

const signerKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func baseConfig() config.Config {
	return config.Config{
		Env:                "dev",
		ContentStore:       config.BackendMemory,
		Ledger:             config.BackendMemory,
		LedgerChainID:      84532,
		LedgerKeys:         []string{signerKey},
		MaxVideoSize:       1 << 20,
		MaxThumbnailSize:   1 << 20,
		VideoMimeTypes:     []string{"video/"},
		ThumbnailMimeTypes: []string{"image/"},
		JWTSecret:          "integration-secret",
		JWTIssuer:          "vidverse",
		JWTAudience:        "vidverse-api",
	}
}

func signer(t *testing.T) common.Address {
	t.Helper()
	key, err := crypto.HexToECDSA(signerKey)
	require.NoError(t, err)
	return crypto.PubkeyToAddress(key.PublicKey)
}

func start(t *testing.T, cfg config.Config, opts ...app.Option) (*app.App, *httptest.Server) {
	t.Helper()
	a, err := app.Build(context.Background(), cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)), opts...)
	require.NoError(t, err)
	srv := httptest.NewServer(a.Handler)
	t.Cleanup(func() {
		srv.Close()
		a.Close()
	})
	return a, srv
}

func publishBody(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range map[string]string{"title": "T", "description": "D", "category": "Music", "location": "NYC"} {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range []struct{ field, name, mime, data string }{
		{"video", "video.mp4", "video/mp4", "mp4"},
		{"thumbnail", "thumb.png", "image/png", "png"},
	} {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+f.field+`"; filename="`+f.name+`"`)
		h.Set("Content-Type", f.mime)
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = io.WriteString(w, f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

type errorBody struct {
	Error struct {
		Code  string `json:"code"`
		Stage string `json:"stage"`
	} `json:"error"`
}

func publish(t *testing.T, srv *httptest.Server, token string) (*http.Response, errorBody) {
	t.Helper()
	body, ct := publishBody(t)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/videos", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var eb errorBody
	_ = json.NewDecoder(resp.Body).Decode(&eb)
	return resp, eb
}

// TestTokenValidation covers the bearer token checks on write endpoints.
func TestTokenValidation(t *testing.T) {
	cfg := baseConfig()
	_, srv := start(t, cfg)
	account := signer(t)

	sign := func(claims jwt.MapClaims, secret string) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return s
	}
	valid := jwt.MapClaims{
		"sub": account.Hex(), "iss": cfg.JWTIssuer, "aud": cfg.JWTAudience,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	with := func(k string, v interface{}) jwt.MapClaims {
		c := jwt.MapClaims{}
		for key, val := range valid {
			c[key] = val
		}
		c[k] = v
		return c
	}

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"valid", sign(valid, cfg.JWTSecret), http.StatusCreated},
		{"expired", sign(with("exp", time.Now().Add(-time.Minute).Unix()), cfg.JWTSecret), http.StatusUnauthorized},
		{"wrong issuer", sign(with("iss", "elsewhere"), cfg.JWTSecret), http.StatusUnauthorized},
		{"wrong audience", sign(with("aud", "elsewhere"), cfg.JWTSecret), http.StatusUnauthorized},
		{"wrong secret", sign(valid, "not-the-secret"), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, eb := publish(t, srv, tt.token)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.status == http.StatusUnauthorized {
				assert.Equal(t, "VV_AUTHN", eb.Error.Code)
			}
		})
	}
}

// TestAccountWithoutSignerUploadsNothing checks the writer is resolved before any upload.
func TestAccountWithoutSignerUploadsNothing(t *testing.T) {
	store := contentstore.NewMemory()
	a, srv := start(t, baseConfig(), app.WithContentStore(store))

	stranger := common.HexToAddress("0x00000000000000000000000000000000deadbeef")
	token, err := a.Auth.Issue(stranger, time.Hour)
	require.NoError(t, err)

	resp, eb := publish(t, srv, token)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "VV_TX_SUBMISSION", eb.Error.Code)
	assert.Equal(t, "SUBMITTING", eb.Error.Stage)
	assert.Equal(t, 0, store.Len())
}

// TestPostgresJournal runs the journal against a live database.
func TestPostgresJournal(t *testing.T) {
	dsn := os.Getenv("VV_TEST_DB_DSN")
	if dsn == "" {
		t.Skip("VV_TEST_DB_DSN not set")
	}
	ctx := context.Background()
	store, err := storage.NewPostgres(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()

	hash := "0x" + common.Bytes2Hex(crypto.Keccak256([]byte(t.Name()+time.Now().String())))
	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.RecordTransaction(ctx, model.Transaction{
		ID: ulid.Make().String(), Hash: hash, Kind: model.TxKindLike,
		Account: signer(t).Hex(), Status: "submitted", CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, store.UpdateTransactionStatus(ctx, storage.StatusUpdate{Hash: hash, Status: "confirmed"}))

	tx, err := store.GetTransaction(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "confirmed", tx.Status)
}

// TestNATSPublisher publishes through a live JetStream server.
func TestNATSPublisher(t *testing.T) {
	url := os.Getenv("VV_TEST_NATS_URL")
	if url == "" {
		t.Skip("VV_TEST_NATS_URL not set")
	}
	pub := event.NewPublisher(url, nil, nil)
	defer pub.Close()

	err := pub.PublishTransaction(context.Background(), model.Transaction{
		Hash: "0x" + common.Bytes2Hex(crypto.Keccak256([]byte(time.Now().String()))), Status: "submitted",
	})
	assert.NoError(t, err)
}
