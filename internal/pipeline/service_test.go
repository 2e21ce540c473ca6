package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidverse/vidverse-go/internal/contentstore"
	errordefs "github.com/vidverse/vidverse-go/internal/errors"
	"github.com/vidverse/vidverse-go/internal/event"
	"github.com/vidverse/vidverse-go/internal/ledger"
	"github.com/vidverse/vidverse-go/internal/model"
	"github.com/vidverse/vidverse-go/internal/schema"
	"github.com/vidverse/vidverse-go/internal/storage"
	"github.com/vidverse/vidverse-go/internal/upload"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	base  = model.BaseDescriptor{Title: "T", Description: "D", Category: "Music", Location: "NYC"}
)

type fixture struct {
	store   *contentstore.Memory
	ledger  *ledger.Memory
	journal storage.Store
	events  *event.Recorder
	svc     *Service
}

func newFixture(t *testing.T, opts ...ledger.MemoryOption) *fixture {
	t.Helper()
	v, err := schema.NewValidator()
	require.NoError(t, err)

	f := &fixture{
		store:   contentstore.NewMemory(),
		ledger:  ledger.NewMemory(opts...),
		journal: storage.NewMemory(),
		events:  event.NewRecorder(),
	}
	f.svc = New(Deps{
		Coordinator: upload.New(f.store, upload.DefaultPolicy(), upload.WithSchema(v)),
		Ledger:      f.ledger,
		Journal:     f.journal,
		Events:      f.events,
		Schema:      v,
		Logger:      slog.New(slog.NewJSONHandler(io.Discard, nil)),
	})
	return f
}

func createRequest() upload.CreateRequest {
	return upload.CreateRequest{
		Base:      base,
		Video:     model.MediaAsset{Filename: "video.mp4", MimeType: "video/mp4", Data: []byte("mp4")},
		Thumbnail: model.MediaAsset{Filename: "thumb.png", MimeType: "image/png", Data: []byte("png")},
	}
}

func (f *fixture) publish(t *testing.T, account common.Address) uint64 {
	t.Helper()
	out, err := f.svc.Publish(context.Background(), account, createRequest())
	require.NoError(t, err)
	require.NotNil(t, out.VideoID)
	return *out.VideoID
}

func TestPublishRegistersVideoAndJournals(t *testing.T) {
	f := newFixture(t)

	out, err := f.svc.Publish(context.Background(), alice, createRequest())
	require.NoError(t, err)
	require.NotNil(t, out.VideoID)
	assert.Equal(t, ledger.TxConfirmed, out.Status)
	require.NotNil(t, out.Upload)

	rec, err := f.ledger.Video(context.Background(), *out.VideoID)
	require.NoError(t, err)
	assert.Equal(t, out.Upload.VideoCID, rec.VideoCID)
	assert.Equal(t, out.Upload.ThumbnailCID, rec.ThumbnailCID)
	assert.Equal(t, alice, rec.Owner)

	tx, err := f.journal.GetTransaction(context.Background(), out.TxHash)
	require.NoError(t, err)
	assert.Equal(t, "confirmed", tx.Status)
	assert.Equal(t, model.TxKindCreate, tx.Kind)
	assert.Equal(t, out.Upload.MetadataCID, tx.MetadataCID)
	require.NotNil(t, tx.VideoID)
	assert.Equal(t, *out.VideoID, *tx.VideoID)

	assert.Equal(t, []string{"vv.assets.stored", "vv.ledger.submitted", "vv.ledger.confirmed"}, f.events.Subjects())
}

func TestPublishUploadFailureNeverReachesLedger(t *testing.T) {
	f := newFixture(t)
	f.store.FailStore(errors.New("pinning service down"))

	out, err := f.svc.Publish(context.Background(), alice, createRequest())
	require.Error(t, err)
	assert.True(t, errordefs.Is(err, errordefs.VV_STORE_FAILURE))
	assert.Equal(t, string(upload.StageUploadingAssets), errordefs.StageOf(err))
	assert.Nil(t, out.Upload)
	assert.Equal(t, 0, f.ledger.Mutations())
	assert.Empty(t, f.events.Subjects())
}

func TestPublishMetadataFailureNeverReachesLedger(t *testing.T) {
	f := newFixture(t)
	f.store.FailJSON(errors.New("pin quota exceeded"))

	out, err := f.svc.Publish(context.Background(), alice, createRequest())
	require.Error(t, err)
	assert.True(t, errordefs.Is(err, errordefs.VV_STORE_FAILURE))
	assert.Equal(t, string(upload.StageUploadingMetadata), errordefs.StageOf(err))
	assert.Equal(t, 0, f.ledger.Mutations())
	assert.Empty(t, f.events.Subjects())

	// The assets stored before the failure are reported back.
	require.NotNil(t, out.Upload)
	assert.Empty(t, out.Upload.MetadataCID)
	_, ok := f.store.Get(out.Upload.VideoCID)
	assert.True(t, ok)
}

func TestPublishWithoutSignerUploadsNothing(t *testing.T) {
	f := newFixture(t, ledger.WithSigners(bob))

	_, err := f.svc.Publish(context.Background(), alice, createRequest())
	require.Error(t, err)
	assert.True(t, errordefs.Is(err, errordefs.VV_TX_SUBMISSION))
	assert.Equal(t, StageSubmitting, errordefs.StageOf(err))
	assert.Equal(t, 0, f.store.Len())
}

func TestPublishSubmissionFailureKeepsAssets(t *testing.T) {
	f := newFixture(t)
	f.ledger.RejectSubmissions(errors.New("insufficient funds"))

	out, err := f.svc.Publish(context.Background(), alice, createRequest())
	require.Error(t, err)
	assert.True(t, errordefs.Is(err, errordefs.VV_TX_SUBMISSION))
	require.NotNil(t, out.Upload)
	assert.Empty(t, out.TxHash)

	_, ok := f.store.Get(out.Upload.MetadataCID)
	assert.True(t, ok, "assets stay stored after a ledger failure")

	page, err := f.journal.ListTransactions(context.Background(), storage.TransactionQuery{Account: alice.Hex()})
	require.NoError(t, err)
	assert.Empty(t, page.Transactions)
}

func TestEditCarriesForwardVideo(t *testing.T) {
	f := newFixture(t)
	id := f.publish(t, alice)
	before, err := f.ledger.Video(context.Background(), id)
	require.NoError(t, err)

	edited := base
	edited.Title = "New title"
	out, err := f.svc.Edit(context.Background(), alice, id, EditInput{Base: edited})
	require.NoError(t, err)
	assert.Equal(t, ledger.TxConfirmed, out.Status)
	require.NotNil(t, out.Upload)
	assert.Empty(t, out.Upload.VideoCID)

	after, err := f.ledger.Video(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "New title", after.Title)
	assert.Equal(t, before.VideoCID, after.VideoCID)
	assert.Equal(t, before.ThumbnailCID, after.ThumbnailCID)

	raw, ok := f.store.Get(out.Upload.MetadataCID)
	require.True(t, ok)
	assert.Contains(t, string(raw), `"animation_url":"ipfs://`+before.VideoCID+`"`)
	assert.Contains(t, string(raw), `"image":"ipfs://`+before.ThumbnailCID+`"`)
	assert.NotContains(t, string(raw), `"content"`)
}

func TestEditWithNewThumbnail(t *testing.T) {
	f := newFixture(t)
	id := f.publish(t, alice)

	thumb := model.MediaAsset{Filename: "new.jpg", MimeType: "image/jpeg", Data: []byte("jpg")}
	out, err := f.svc.Edit(context.Background(), alice, id, EditInput{Base: base, Thumbnail: &thumb})
	require.NoError(t, err)

	after, err := f.ledger.Video(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, out.Upload.ThumbnailCID, after.ThumbnailCID)
	assert.Contains(t, after.ThumbnailCID, "/new.jpg")
}

func TestEditMetadataFailureNeverReachesLedger(t *testing.T) {
	f := newFixture(t)
	id := f.publish(t, alice)
	before := f.ledger.Mutations()
	f.store.FailJSON(errors.New("pin quota exceeded"))

	thumb := model.MediaAsset{Filename: "new.jpg", MimeType: "image/jpeg", Data: []byte("jpg")}
	out, err := f.svc.Edit(context.Background(), alice, id, EditInput{Base: base, Thumbnail: &thumb})
	require.Error(t, err)
	assert.True(t, errordefs.Is(err, errordefs.VV_STORE_FAILURE))
	assert.Equal(t, string(upload.StageUploadingMetadata), errordefs.StageOf(err))
	assert.Equal(t, before, f.ledger.Mutations())

	require.NotNil(t, out.Upload)
	assert.Contains(t, out.Upload.ThumbnailCID, "/new.jpg")

	rec, err := f.ledger.Video(context.Background(), id)
	require.NoError(t, err)
	assert.NotEqual(t, out.Upload.ThumbnailCID, rec.ThumbnailCID)
}

func TestEditByNonOwnerIsRejectedBeforeUpload(t *testing.T) {
	f := newFixture(t)
	id := f.publish(t, alice)
	storedBefore := f.store.Len()
	mutationsBefore := f.ledger.Mutations()

	_, err := f.svc.Edit(context.Background(), bob, id, EditInput{Base: base})
	require.Error(t, err)
	assert.True(t, errordefs.Is(err, errordefs.VV_AUTHZ))
	assert.Equal(t, storedBefore, f.store.Len())
	assert.Equal(t, mutationsBefore, f.ledger.Mutations())
}

func TestEditMissingVideo(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Edit(context.Background(), alice, 42, EditInput{Base: base})
	assert.True(t, errordefs.Is(err, errordefs.VV_NOT_FOUND))
}

func TestLikeToggles(t *testing.T) {
	f := newFixture(t)
	id := f.publish(t, alice)

	_, err := f.svc.Like(context.Background(), bob, id)
	require.NoError(t, err)
	liked, err := f.ledger.IsLikedBy(context.Background(), id, bob)
	require.NoError(t, err)
	assert.True(t, liked)

	_, err = f.svc.Like(context.Background(), bob, id)
	require.NoError(t, err)
	liked, err = f.ledger.IsLikedBy(context.Background(), id, bob)
	require.NoError(t, err)
	assert.False(t, liked)
}

func TestCommentValidation(t *testing.T) {
	f := newFixture(t)
	id := f.publish(t, alice)
	before := f.ledger.Mutations()

	_, err := f.svc.Comment(context.Background(), bob, id, "   ")
	require.Error(t, err)
	assert.True(t, errordefs.Is(err, errordefs.VV_VALIDATION))
	assert.Equal(t, before, f.ledger.Mutations())

	out, err := f.svc.Comment(context.Background(), bob, id, "great video")
	require.NoError(t, err)
	assert.Equal(t, ledger.TxConfirmed, out.Status)

	comments, err := f.ledger.Comments(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "great video", comments[0].Text)
}

func TestCommentTooLongNeverReachesLedger(t *testing.T) {
	f := newFixture(t)
	id := f.publish(t, alice)
	before := f.ledger.Mutations()

	_, err := f.svc.Comment(context.Background(), bob, id, strings.Repeat("x", 2049))
	require.Error(t, err)
	assert.True(t, errordefs.Is(err, errordefs.VV_VALIDATION))
	assert.Equal(t, string(upload.StageValidating), errordefs.StageOf(err))
	assert.Equal(t, before, f.ledger.Mutations())

	_, err = f.svc.Comment(context.Background(), bob, id, strings.Repeat("x", 2048))
	require.NoError(t, err)
	assert.Equal(t, before+1, f.ledger.Mutations())
}

func TestRevertIsJournaled(t *testing.T) {
	f := newFixture(t)

	out, err := f.svc.Like(context.Background(), bob, 7)
	require.Error(t, err)
	assert.True(t, errordefs.Is(err, errordefs.VV_TX_REVERT))
	assert.Equal(t, StageConfirming, errordefs.StageOf(err))
	assert.Equal(t, ledger.TxReverted, out.Status)
	assert.Equal(t, "Video does not exist", out.RevertReason)

	tx, err := f.journal.GetTransaction(context.Background(), out.TxHash)
	require.NoError(t, err)
	assert.Equal(t, "reverted", tx.Status)
	assert.Equal(t, "Video does not exist", tx.Reason)
	assert.Equal(t, []string{"vv.ledger.submitted", "vv.ledger.reverted"}, f.events.Subjects())
}
