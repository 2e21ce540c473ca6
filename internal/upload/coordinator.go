// Package upload turns caller-supplied media into stored content and a stored metadata
// document. It never talks to the ledger: a finished Create or Edit only means the
// assets are durably stored, and informing the ledger is the caller's next step.
package upload

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vidverse/vidverse-go/internal/contentstore"
	errordefs "github.com/vidverse/vidverse-go/internal/errors"
	"github.com/vidverse/vidverse-go/internal/metadata"
	"github.com/vidverse/vidverse-go/internal/metrics"
	"github.com/vidverse/vidverse-go/internal/model"
	"github.com/vidverse/vidverse-go/internal/schema"
	"github.com/vidverse/vidverse-go/internal/telemetry"
)

// Stage is a state of one coordinator invocation.
type Stage string

const (
	StageValidating        Stage = "VALIDATING"
	StageUploadingAssets   Stage = "UPLOADING_ASSETS"
	StageBuildingMetadata  Stage = "BUILDING_METADATA"
	StageUploadingMetadata Stage = "UPLOADING_METADATA"
	StageDone              Stage = "DONE"
	StageFailed            Stage = "FAILED"
)

// CreateRequest is the input of a create flow. Both assets are required.
type CreateRequest struct {
	Base      model.BaseDescriptor
	Video     model.MediaAsset
	Thumbnail model.MediaAsset
}

// CarryForward holds the references an edit keeps from the current record.
// VideoURI is always required since edits never replace the video. ImageURI is
// required unless the edit supplies a new thumbnail.
type CarryForward struct {
	ImageURI string
	VideoURI string
}

// EditRequest is the input of an edit flow.
type EditRequest struct {
	Base      model.BaseDescriptor
	Thumbnail *model.MediaAsset // nil keeps Carry.ImageURI
	Carry     CarryForward
}

// Coordinator runs the create and edit flows.
type Coordinator struct {
	store    contentstore.Client
	policy   Policy
	validate *validator.Validate
	schema   *schema.Validator
	metrics  *metrics.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
	onStage  func(Stage)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithSchema validates every built document before it is stored.
func WithSchema(v *schema.Validator) Option { return func(c *Coordinator) { c.schema = v } }

// WithMetrics records stage durations and outcomes.
func WithMetrics(m *metrics.Metrics) Option { return func(c *Coordinator) { c.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Coordinator) { c.logger = l } }

// WithStageHook calls fn on every state entered, FAILED included.
func WithStageHook(fn func(Stage)) Option { return func(c *Coordinator) { c.onStage = fn } }

// New creates a coordinator that uploads through store under policy.
func New(store contentstore.Client, policy Policy, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		policy:   policy,
		validate: newValidate(),
		tracer:   telemetry.Tracer("upload"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "upload")
	return c
}

// Create validates and uploads a new video with its thumbnail, then builds and
// stores the metadata document.
func (c *Coordinator) Create(ctx context.Context, req CreateRequest) (model.UploadResult, error) {
	ctx, span := c.tracer.Start(ctx, "upload.Create")
	defer span.End()

	var result model.UploadResult
	err := c.run(ctx, "create", []step{
		{StageValidating, func(ctx context.Context) error {
			if err := checkBase(c.validate, req.Base); err != nil {
				return err
			}
			if err := c.policy.checkVideo(req.Video); err != nil {
				return err
			}
			if err := c.policy.checkThumbnail(req.Thumbnail); err != nil {
				return err
			}
			if req.Video.Filename == req.Thumbnail.Filename {
				return errordefs.Validation("video and thumbnail share filename %q", req.Video.Filename)
			}
			return nil
		}},
		{StageUploadingAssets, func(ctx context.Context) error {
			batch, err := c.store.Store(ctx, []model.MediaAsset{req.Thumbnail, req.Video})
			if err != nil {
				return err
			}
			result.FolderCID = batch.FolderCID
			result.ThumbnailCID = contentstore.Path(batch.FolderCID, req.Thumbnail.Filename)
			result.VideoCID = contentstore.Path(batch.FolderCID, req.Video.Filename)
			return nil
		}},
	}, func() metadata.Refs {
		return metadata.Refs{
			ThumbnailCID:      result.FolderCID,
			ThumbnailFilename: req.Thumbnail.Filename,
			VideoCID:          result.FolderCID,
			VideoFilename:     req.Video.Filename,
			VideoMime:         req.Video.MimeType,
		}
	}, req.Base, &result)

	recordSpan(span, result, err)
	return result, err
}

// Edit re-uploads only a replacement thumbnail, if any, and stores a new metadata
// document that carries forward the references the caller supplied.
func (c *Coordinator) Edit(ctx context.Context, req EditRequest) (model.UploadResult, error) {
	ctx, span := c.tracer.Start(ctx, "upload.Edit")
	defer span.End()

	var result model.UploadResult
	err := c.run(ctx, "edit", []step{
		{StageValidating, func(ctx context.Context) error {
			if err := checkBase(c.validate, req.Base); err != nil {
				return err
			}
			if err := checkCarryURI("carry-forward video uri", req.Carry.VideoURI); err != nil {
				return err
			}
			if req.Thumbnail != nil {
				return c.policy.checkThumbnail(*req.Thumbnail)
			}
			return checkCarryURI("carry-forward image uri", req.Carry.ImageURI)
		}},
		{StageUploadingAssets, func(ctx context.Context) error {
			if req.Thumbnail == nil {
				return nil
			}
			batch, err := c.store.Store(ctx, []model.MediaAsset{*req.Thumbnail})
			if err != nil {
				return err
			}
			result.FolderCID = batch.FolderCID
			result.ThumbnailCID = contentstore.Path(batch.FolderCID, req.Thumbnail.Filename)
			return nil
		}},
	}, func() metadata.Refs {
		refs := metadata.Refs{
			ExistingImageURI: req.Carry.ImageURI,
			ExistingVideoURI: req.Carry.VideoURI,
		}
		if req.Thumbnail != nil {
			refs.ThumbnailCID = result.FolderCID
			refs.ThumbnailFilename = req.Thumbnail.Filename
		}
		return refs
	}, req.Base, &result)

	recordSpan(span, result, err)
	return result, err
}

type step struct {
	stage Stage
	fn    func(ctx context.Context) error
}

// run executes the flow-specific steps followed by the shared metadata stages.
func (c *Coordinator) run(ctx context.Context, flow string, steps []step, refs func() metadata.Refs,
	base model.BaseDescriptor, result *model.UploadResult) error {

	var doc model.MetadataDocument
	steps = append(steps,
		step{StageBuildingMetadata, func(ctx context.Context) error {
			doc = metadata.Build(base, refs())
			if c.schema == nil {
				return nil
			}
			_, err := c.schema.Validate(schema.KindMetadata, doc)
			c.metrics.ObserveSchemaValidation(schema.KindMetadata, metrics.Status(err))
			return err
		}},
		step{StageUploadingMetadata, func(ctx context.Context) error {
			cid, err := c.store.StoreJSON(ctx, doc)
			if err != nil {
				return err
			}
			result.MetadataCID = cid
			return nil
		}},
	)

	for _, s := range steps {
		if err := c.stage(ctx, s); err != nil {
			c.enter(StageFailed)
			c.metrics.ObserveUpload(flow, "failed")
			c.logger.Warn("upload failed",
				"flow", flow,
				"stage", s.stage,
				"code", errordefs.CodeOf(err),
				"error", err,
				"folder_cid", result.FolderCID,
			)
			// Asset references stored before the failure are kept for the caller.
			result.MetadataCID = ""
			return err
		}
	}

	c.enter(StageDone)
	c.metrics.ObserveUpload(flow, "done")
	c.logger.Info("upload complete",
		"flow", flow,
		"metadata_cid", result.MetadataCID,
		"folder_cid", result.FolderCID,
	)
	return nil
}

// stage runs one step, tagging any failure with the stage it happened in.
func (c *Coordinator) stage(ctx context.Context, s step) error {
	c.enter(s.stage)
	if err := ctx.Err(); err != nil {
		return errordefs.WithStage(errordefs.Wrap(errordefs.VV_UNAVAILABLE, "upload canceled", err), string(s.stage))
	}

	ctx, span := c.tracer.Start(ctx, "upload."+string(s.stage))
	defer span.End()

	start := time.Now()
	err := s.fn(ctx)
	c.metrics.ObserveStage(string(s.stage), metrics.Status(err), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return errordefs.WithStage(err, string(s.stage))
	}
	return nil
}

func (c *Coordinator) enter(s Stage) {
	c.logger.Debug("stage", "stage", s)
	if c.onStage != nil {
		c.onStage(s)
	}
}

func recordSpan(span trace.Span, result model.UploadResult, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("upload.failed_stage", errordefs.StageOf(err)))
		return
	}
	span.SetAttributes(
		attribute.String("upload.metadata_cid", result.MetadataCID),
		attribute.String("upload.folder_cid", result.FolderCID),
	)
}
