// Package conformance provides a test harness that drives a fully wired VidVerse
// service over HTTP and checks the pipeline's observable guarantees.
package conformance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidverse/vidverse-go/internal/app"
	"github.com/vidverse/vidverse-go/internal/config"
	"github.com/vidverse/vidverse-go/internal/contentstore"
	"github.com/vidverse/vidverse-go/internal/event"
	"github.com/vidverse/vidverse-go/internal/ledger"
)

// Harness runs a VidVerse service on memory backends behind an httptest server.
type Harness struct {
	server *httptest.Server
	market *httptest.Server
	app    *app.App
	store  *contentstore.Memory
	events *event.Recorder
}

// Config holds configuration for the conformance test harness.
type Config struct {
	// JWTSecret signs the bearer tokens the harness issues
	JWTSecret string
	// MarketDown makes every market lookup fail
	MarketDown bool
}

// NewHarness creates a new conformance test harness.
func NewHarness(cfg Config) (*Harness, error) {
	h := &Harness{
		store:  contentstore.NewMemory(),
		events: event.NewRecorder(),
	}

	// Market API stand-in; a broken one answers 503 to everything
	h.market = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cfg.MarketDown {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"zora20Token":{"marketCap":"1000","volume24h":"10","totalVolume":"50","uniqueHolders":3,"totalSupply":"1000000","symbol":"VV","name":"VidVerse","creatorEarnings":[{"amountUsd":"2.5"}]}}`)
	}))

	c := config.Config{
		Env:                "dev",
		ContentStore:       config.BackendMemory,
		Ledger:             config.BackendMemory,
		LedgerChainID:      ledger.DefaultChainID,
		MarketAPIURL:       h.market.URL,
		MarketAPIKey:       "test-key",
		MarketCacheTTL:     time.Second,
		MaxVideoSize:       1 << 20,
		MaxThumbnailSize:   1 << 20,
		VideoMimeTypes:     []string{"video/", "audio/"},
		ThumbnailMimeTypes: []string{"image/"},
		JWTSecret:          cfg.JWTSecret,
		JWTIssuer:          "vidverse",
		JWTAudience:        "vidverse-api",
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	a, err := app.Build(context.Background(), c, logger,
		app.WithContentStore(h.store),
		app.WithPublisher(h.events),
	)
	if err != nil {
		h.market.Close()
		return nil, fmt.Errorf("failed to build service: %w", err)
	}
	h.app = a
	h.server = httptest.NewServer(a.Handler)
	return h, nil
}

// URL returns the base URL of the test server.
func (h *Harness) URL() string {
	return h.server.URL
}

// Close shuts down the test servers and cleans up resources.
func (h *Harness) Close() {
	h.server.Close()
	h.market.Close()
	h.app.Close()
}

// RunConformanceTests runs all conformance tests against the service.
func (h *Harness) RunConformanceTests(t *testing.T) {
	t.Run("HealthEndpoints", h.testHealthEndpoints)
	t.Run("PublishBuildsMetadata", h.testPublishBuildsMetadata)
	t.Run("NoLedgerMutationOnUploadFailure", h.testNoLedgerMutationOnUploadFailure)
	t.Run("EditCarriesForwardVideo", h.testEditCarriesForwardVideo)
	t.Run("LikeToggleInvolution", h.testLikeToggleInvolution)
	t.Run("CommentOrdering", h.testCommentOrdering)
	t.Run("Eventing", h.testEventing)
}

// RunDegradedMarketTests checks reads against a harness built with MarketDown.
func (h *Harness) RunDegradedMarketTests(t *testing.T) {
	t.Run("AggregateDegradesGracefully", h.testAggregateDegrades)
}

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

// apiResponse is the response envelope.
type apiResponse struct {
	Status int
	Data   json.RawMessage `json:"data"`
	Error  *struct {
		Code  string `json:"code"`
		Stage string `json:"stage"`
	} `json:"error"`
}

func (h *Harness) token(t *testing.T, account common.Address) string {
	t.Helper()
	tok, err := h.app.Auth.Issue(account, time.Hour)
	require.NoError(t, err)
	return tok
}

func (h *Harness) call(t *testing.T, method, path, token, contentType string, body io.Reader) apiResponse {
	t.Helper()
	req, err := http.NewRequest(method, h.URL()+path, body)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := apiResponse{Status: resp.StatusCode}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

type part struct{ field, filename, mime, data string }

func form(t *testing.T, fields map[string]string, parts ...part) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, p := range parts {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, p.field, p.filename))
		hdr.Set("Content-Type", p.mime)
		w, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, err = io.WriteString(w, p.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

var base = map[string]string{"title": "T", "description": "D", "category": "Music", "location": "NYC"}

type outcome struct {
	VideoID *uint64 `json:"videoId"`
	TxHash  string  `json:"txHash"`
	Status  string  `json:"status"`
	Upload  *struct {
		MetadataCID  string `json:"metadataCid"`
		VideoCID     string `json:"videoCid"`
		ThumbnailCID string `json:"thumbnailCid"`
		FolderCID    string `json:"folderCid"`
	} `json:"upload"`
}

func (h *Harness) publish(t *testing.T, account common.Address) outcome {
	t.Helper()
	body, ct := form(t, base,
		part{"video", "video.mp4", "video/mp4", "mp4 bytes " + t.Name()},
		part{"thumbnail", "thumb.png", "image/png", "png bytes " + t.Name()},
	)
	resp := h.call(t, http.MethodPost, "/v1/videos", h.token(t, account), ct, body)
	require.Equal(t, http.StatusCreated, resp.Status, "%+v", resp.Error)
	var out outcome
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	require.NotNil(t, out.VideoID)
	return out
}

func (h *Harness) metadataDoc(t *testing.T, cid string) map[string]interface{} {
	t.Helper()
	raw, ok := h.store.Get(cid)
	require.True(t, ok, "metadata %s not stored", cid)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))
	return doc
}

type video struct {
	ID           uint64 `json:"id"`
	Title        string `json:"title"`
	VideoCID     string `json:"videoCid"`
	ThumbnailCID string `json:"thumbnailCid"`
	LikesCount   uint64 `json:"likesCount"`
}

type view struct {
	Video           video `json:"video"`
	MarketAvailable bool  `json:"marketAvailable"`
	Market          struct {
		MarketCap       float64 `json:"marketCap"`
		CreatorEarnings float64 `json:"creatorEarnings"`
	} `json:"market"`
	LikedByViewer *bool `json:"likedByViewer"`
}

func (h *Harness) view(t *testing.T, id uint64, token string) view {
	t.Helper()
	resp := h.call(t, http.MethodGet, fmt.Sprintf("/v1/videos/%d", id), token, "", nil)
	require.Equal(t, http.StatusOK, resp.Status)
	var v view
	require.NoError(t, json.Unmarshal(resp.Data, &v))
	return v
}

// testHealthEndpoints tests the health check endpoints.
func (h *Harness) testHealthEndpoints(t *testing.T) {
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(h.URL() + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

// testPublishBuildsMetadata checks the document stored for a fresh upload.
func (h *Harness) testPublishBuildsMetadata(t *testing.T) {
	out := h.publish(t, alice)
	folder := out.Upload.FolderCID

	doc := h.metadataDoc(t, out.Upload.MetadataCID)
	assert.Equal(t, "T", doc["name"])
	assert.Equal(t, "ipfs://"+folder+"/thumb.png", doc["image"])
	assert.Equal(t, "ipfs://"+folder+"/video.mp4", doc["animation_url"])
	assert.Equal(t, map[string]interface{}{"mime": "video/mp4", "uri": "ipfs://" + folder + "/video.mp4"}, doc["content"])

	v := h.view(t, *out.VideoID, "")
	assert.Equal(t, folder+"/video.mp4", v.Video.VideoCID)
	assert.True(t, v.MarketAvailable)
	assert.Equal(t, 2.5, v.Market.CreatorEarnings)
}

// testNoLedgerMutationOnUploadFailure checks that a failed upload never reaches the ledger.
func (h *Harness) testNoLedgerMutationOnUploadFailure(t *testing.T) {
	mem, ok := h.app.Ledger.(*ledger.Memory)
	require.True(t, ok)
	before := mem.Mutations()

	for _, fail := range []struct {
		name  string
		set   func(error)
		stage string
	}{
		{"assets", h.store.FailStore, "UPLOADING_ASSETS"},
		{"metadata", h.store.FailJSON, "UPLOADING_METADATA"},
	} {
		t.Run(fail.name, func(t *testing.T) {
			fail.set(errors.New("store offline"))
			defer fail.set(nil)

			body, ct := form(t, base,
				part{"video", "video.mp4", "video/mp4", "x"},
				part{"thumbnail", "thumb.png", "image/png", "y"},
			)
			resp := h.call(t, http.MethodPost, "/v1/videos", h.token(t, alice), ct, body)
			assert.Equal(t, http.StatusBadGateway, resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, "VV_STORE_FAILURE", resp.Error.Code)
			assert.Equal(t, fail.stage, resp.Error.Stage)
			assert.Equal(t, before, mem.Mutations())
		})
	}
}

// testEditCarriesForwardVideo edits only the thumbnail and checks the video reference survives.
func (h *Harness) testEditCarriesForwardVideo(t *testing.T) {
	out := h.publish(t, alice)
	before := h.view(t, *out.VideoID, "")

	body, ct := form(t, base, part{"thumbnail", "cover.jpg", "image/jpeg", "new cover"})
	resp := h.call(t, http.MethodPost, fmt.Sprintf("/v1/videos/%d/edit", *out.VideoID), h.token(t, alice), ct, body)
	require.Equal(t, http.StatusOK, resp.Status, "%+v", resp.Error)

	var edited outcome
	require.NoError(t, json.Unmarshal(resp.Data, &edited))
	doc := h.metadataDoc(t, edited.Upload.MetadataCID)
	assert.Equal(t, "ipfs://"+before.Video.VideoCID, doc["animation_url"])
	assert.Equal(t, "ipfs://"+edited.Upload.ThumbnailCID, doc["image"])
	assert.True(t, strings.HasSuffix(edited.Upload.ThumbnailCID, "/cover.jpg"))

	after := h.view(t, *out.VideoID, "")
	assert.Equal(t, before.Video.VideoCID, after.Video.VideoCID)
	assert.NotEqual(t, before.Video.ThumbnailCID, after.Video.ThumbnailCID)
}

// testLikeToggleInvolution toggles twice and expects the original state.
func (h *Harness) testLikeToggleInvolution(t *testing.T) {
	out := h.publish(t, alice)
	tok := h.token(t, bob)
	path := fmt.Sprintf("/v1/videos/%d/like", *out.VideoID)
	before := h.view(t, *out.VideoID, tok)

	require.Equal(t, http.StatusOK, h.call(t, http.MethodPost, path, tok, "", nil).Status)
	mid := h.view(t, *out.VideoID, tok)
	assert.Equal(t, before.Video.LikesCount+1, mid.Video.LikesCount)
	assert.True(t, *mid.LikedByViewer)

	require.Equal(t, http.StatusOK, h.call(t, http.MethodPost, path, tok, "", nil).Status)
	after := h.view(t, *out.VideoID, tok)
	assert.Equal(t, before.Video.LikesCount, after.Video.LikesCount)
	assert.Equal(t, *before.LikedByViewer, *after.LikedByViewer)
}

// testCommentOrdering appends three comments and expects them most recent first.
func (h *Harness) testCommentOrdering(t *testing.T) {
	out := h.publish(t, alice)
	path := fmt.Sprintf("/v1/videos/%d/comments", *out.VideoID)
	for _, text := range []string{"c1", "c2", "c3"} {
		resp := h.call(t, http.MethodPost, path, h.token(t, bob), "application/json", strings.NewReader(`{"text":"`+text+`"}`))
		require.Equal(t, http.StatusCreated, resp.Status)
	}

	resp := h.call(t, http.MethodGet, path, "", "", nil)
	require.Equal(t, http.StatusOK, resp.Status)
	var comments []struct {
		Text string `json:"text"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &comments))
	texts := make([]string, 0, len(comments))
	for _, c := range comments {
		texts = append(texts, c.Text)
	}
	assert.Equal(t, []string{"c3", "c2", "c1"}, texts)
}

// testEventing checks that a publish announces assets then both transaction phases.
func (h *Harness) testEventing(t *testing.T) {
	start := len(h.events.Subjects())
	h.publish(t, alice)
	assert.Equal(t, []string{"vv.assets.stored", "vv.ledger.submitted", "vv.ledger.confirmed"}, h.events.Subjects()[start:])
}

// testAggregateDegrades reads a video while the market API is down.
func (h *Harness) testAggregateDegrades(t *testing.T) {
	out := h.publish(t, alice)
	v := h.view(t, *out.VideoID, "")
	assert.Equal(t, "T", v.Video.Title)
	assert.False(t, v.MarketAvailable)
	assert.Zero(t, v.Market.MarketCap)
}
