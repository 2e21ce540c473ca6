// Package pipeline runs the end-to-end write flows: upload through the coordinator,
// submit to the ledger, journal the transaction and announce it.
//
// There is no compensation step. Assets stored before a failed ledger call stay
// stored, and the returned Outcome still carries their references.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vidverse/vidverse-go/internal/contentstore"
	errordefs "github.com/vidverse/vidverse-go/internal/errors"
	"github.com/vidverse/vidverse-go/internal/event"
	"github.com/vidverse/vidverse-go/internal/ledger"
	"github.com/vidverse/vidverse-go/internal/metrics"
	"github.com/vidverse/vidverse-go/internal/model"
	"github.com/vidverse/vidverse-go/internal/schema"
	"github.com/vidverse/vidverse-go/internal/storage"
	"github.com/vidverse/vidverse-go/internal/telemetry"
	"github.com/vidverse/vidverse-go/internal/upload"
)

// Stages after the coordinator hands over.
const (
	StageSubmitting = "SUBMITTING"
	StageConfirming = "CONFIRMING"
)

// Outcome reports how far a write flow got.
type Outcome struct {
	VideoID      *uint64             `json:"videoId,omitempty"`
	TxHash       string              `json:"txHash,omitempty"`
	Status       ledger.TxStatus     `json:"status,omitempty"`
	RevertReason string              `json:"revertReason,omitempty"`
	Upload       *model.UploadResult `json:"upload,omitempty"`
}

// EditInput is an edit as the caller expresses it. The carry-forward references
// are read from the current record, not supplied.
type EditInput struct {
	Base      model.BaseDescriptor
	Thumbnail *model.MediaAsset
}

// Deps are the collaborators of a Service.
type Deps struct {
	Coordinator *upload.Coordinator
	Ledger      ledger.Ledger
	Journal     storage.Store
	Events      event.Publisher
	Schema      *schema.Validator // Optional; comment text is only checked for blanks without it
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Service runs the write flows.
type Service struct {
	coordinator *upload.Coordinator
	ledger      ledger.Ledger
	journal     storage.Store
	events      event.Publisher
	schema      *schema.Validator
	metrics     *metrics.Metrics
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// New creates a Service. Events default to a no-op publisher.
func New(d Deps) *Service {
	if d.Events == nil {
		d.Events = event.Noop()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Service{
		coordinator: d.Coordinator,
		ledger:      d.Ledger,
		journal:     d.Journal,
		events:      d.Events,
		schema:      d.Schema,
		metrics:     d.Metrics,
		logger:      d.Logger.With("component", "pipeline"),
		tracer:      telemetry.Tracer("pipeline"),
		now:         time.Now,
	}
}

// Publish uploads a new video and registers it on the ledger.
func (s *Service) Publish(ctx context.Context, account common.Address, req upload.CreateRequest) (Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.Publish", trace.WithAttributes(
		attribute.String("account", account.Hex()),
	))
	defer span.End()

	w, err := s.ledger.Writer(account)
	if err != nil {
		return s.fail(span, Outcome{}, errordefs.WithStage(err, StageSubmitting))
	}

	res, err := s.coordinator.Create(ctx, req)
	if err != nil {
		return s.fail(span, storedAssets(res), err)
	}
	s.announceAssets(ctx, account, res)

	out := Outcome{Upload: &res}
	out, err = s.submit(ctx, w, model.TxKindCreate, nil, res.MetadataCID, out, func() (ledger.TxHandle, error) {
		return w.CreateVideo(ctx, ledger.CreateVideoInput{
			Title:        req.Base.Title,
			Description:  req.Base.Description,
			Category:     req.Base.Category,
			Location:     req.Base.Location,
			ThumbnailCID: res.ThumbnailCID,
			VideoCID:     res.VideoCID,
			MetadataCID:  res.MetadataCID,
		})
	})
	if err != nil {
		return s.fail(span, out, err)
	}
	return out, nil
}

// Edit replaces the descriptor and optionally the thumbnail of video id.
// The video itself is never re-uploaded.
func (s *Service) Edit(ctx context.Context, account common.Address, id uint64, in EditInput) (Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.Edit", trace.WithAttributes(
		attribute.String("account", account.Hex()),
		attribute.Int64("video_id", int64(id)),
	))
	defer span.End()

	w, err := s.ledger.Writer(account)
	if err != nil {
		return s.fail(span, Outcome{}, errordefs.WithStage(err, StageSubmitting))
	}

	rec, err := s.ledger.Video(ctx, id)
	if err != nil {
		return s.fail(span, Outcome{}, err)
	}
	if !rec.IsOwnedBy(account.Hex()) {
		return s.fail(span, Outcome{}, errordefs.New(errordefs.VV_AUTHZ, "only the owner can edit this video", ""))
	}

	carry := upload.CarryForward{VideoURI: contentstore.URI(rec.VideoCID, "")}
	if rec.ThumbnailCID != "" {
		carry.ImageURI = contentstore.URI(rec.ThumbnailCID, "")
	}
	res, err := s.coordinator.Edit(ctx, upload.EditRequest{Base: in.Base, Thumbnail: in.Thumbnail, Carry: carry})
	if err != nil {
		return s.fail(span, storedAssets(res), err)
	}
	if in.Thumbnail != nil {
		s.announceAssets(ctx, account, res)
	}

	thumbnail := rec.ThumbnailCID
	if res.ThumbnailCID != "" {
		thumbnail = res.ThumbnailCID
	}
	out := Outcome{Upload: &res}
	out, err = s.submit(ctx, w, model.TxKindUpdate, &id, res.MetadataCID, out, func() (ledger.TxHandle, error) {
		return w.UpdateVideo(ctx, ledger.UpdateVideoInput{
			ID:           id,
			Title:        in.Base.Title,
			Description:  in.Base.Description,
			Category:     in.Base.Category,
			Location:     in.Base.Location,
			ThumbnailCID: thumbnail,
			MetadataCID:  res.MetadataCID,
		})
	})
	if err != nil {
		return s.fail(span, out, err)
	}
	return out, nil
}

// Like toggles the like flag of account on video id.
func (s *Service) Like(ctx context.Context, account common.Address, id uint64) (Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.Like")
	defer span.End()

	w, err := s.ledger.Writer(account)
	if err != nil {
		return s.fail(span, Outcome{}, errordefs.WithStage(err, StageSubmitting))
	}
	out, err := s.submit(ctx, w, model.TxKindLike, &id, "", Outcome{}, func() (ledger.TxHandle, error) {
		return w.ToggleLike(ctx, id)
	})
	if err != nil {
		return s.fail(span, out, err)
	}
	return out, nil
}

// Comment appends text to the comments of video id.
func (s *Service) Comment(ctx context.Context, account common.Address, id uint64, text string) (Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.Comment")
	defer span.End()

	if err := s.validateComment(text); err != nil {
		return s.fail(span, Outcome{}, errordefs.WithStage(err, string(upload.StageValidating)))
	}
	w, err := s.ledger.Writer(account)
	if err != nil {
		return s.fail(span, Outcome{}, errordefs.WithStage(err, StageSubmitting))
	}
	out, err := s.submit(ctx, w, model.TxKindComment, &id, "", Outcome{}, func() (ledger.TxHandle, error) {
		return w.Comment(ctx, id, text)
	})
	if err != nil {
		return s.fail(span, out, err)
	}
	return out, nil
}

// storedAssets reports the assets a failed upload left behind, if any.
func storedAssets(res model.UploadResult) Outcome {
	if res.FolderCID == "" {
		return Outcome{}
	}
	return Outcome{Upload: &res}
}

func (s *Service) validateComment(text string) error {
	if strings.TrimSpace(text) == "" {
		return errordefs.Validation("comment cannot be empty")
	}
	if s.schema == nil {
		return nil
	}
	_, err := s.schema.Validate(schema.KindComment, map[string]string{"text": text})
	return err
}

// submit sends one transaction and follows it to its final status.
func (s *Service) submit(ctx context.Context, w ledger.Writer, kind model.TxKind, videoID *uint64,
	metadataCID string, out Outcome, send func() (ledger.TxHandle, error)) (Outcome, error) {

	handle, err := send()
	if err != nil {
		s.metrics.ObserveLedgerTx(string(kind), "rejected")
		s.logger.Warn("transaction rejected",
			"kind", kind,
			"account", w.Account().Hex(),
			"code", errordefs.CodeOf(err),
			"error", err,
		)
		return out, errordefs.WithStage(err, StageSubmitting)
	}

	sub := handle.Submitted()
	out.TxHash = sub.TxHash.Hex()
	out.Status = sub.Status
	out.VideoID = videoID
	s.metrics.ObserveLedgerTx(string(kind), string(ledger.TxSubmitted))

	now := s.now().UTC()
	tx := model.Transaction{
		ID:          ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Hash:        out.TxHash,
		Kind:        kind,
		Account:     w.Account().Hex(),
		VideoID:     videoID,
		MetadataCID: metadataCID,
		Status:      string(ledger.TxSubmitted),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.journal.RecordTransaction(ctx, tx); err != nil {
		s.logger.Error("failed to journal transaction", "tx_hash", tx.Hash, "error", err)
	}
	s.announceTx(ctx, tx)

	res, err := handle.AwaitConfirmation(ctx)
	if err != nil && res.Status != ledger.TxReverted {
		// Still pending as far as we know; the journal keeps it submitted.
		return out, errordefs.WithStage(err, StageConfirming)
	}

	out.Status = res.Status
	update := storage.StatusUpdate{Hash: tx.Hash, Status: string(res.Status)}
	if res.Status == ledger.TxReverted {
		out.RevertReason = res.RevertReason
		update.Reason = res.RevertReason
	} else if res.Receipt != nil && res.Receipt.VideoID != nil {
		out.VideoID = res.Receipt.VideoID
		update.VideoID = res.Receipt.VideoID
	}
	s.metrics.ObserveLedgerTx(string(kind), string(res.Status))

	if jerr := s.journal.UpdateTransactionStatus(ctx, update); jerr != nil {
		s.logger.Error("failed to update journal", "tx_hash", tx.Hash, "status", res.Status, "error", jerr)
	}
	tx.Status = update.Status
	tx.Reason = update.Reason
	if update.VideoID != nil {
		tx.VideoID = update.VideoID
	}
	tx.UpdatedAt = s.now().UTC()
	s.announceTx(ctx, tx)

	if err != nil {
		return out, errordefs.WithStage(err, StageConfirming)
	}
	s.logger.Info("transaction confirmed", "kind", kind, "tx_hash", tx.Hash, "account", tx.Account)
	return out, nil
}

func (s *Service) announceAssets(ctx context.Context, account common.Address, res model.UploadResult) {
	if err := s.events.PublishAssetsStored(ctx, account.Hex(), res); err != nil {
		s.logger.Warn("failed to publish assets event", "metadata_cid", res.MetadataCID, "error", err)
	}
}

func (s *Service) announceTx(ctx context.Context, tx model.Transaction) {
	if err := s.events.PublishTransaction(ctx, tx); err != nil {
		s.logger.Warn("failed to publish transaction event", "tx_hash", tx.Hash, "status", tx.Status, "error", err)
	}
}

func (s *Service) fail(span trace.Span, out Outcome, err error) (Outcome, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(errordefs.CodeOf(err)))
	return out, err
}
