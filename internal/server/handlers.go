package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	errordefs "github.com/vidverse/vidverse-go/internal/errors"
	"github.com/vidverse/vidverse-go/internal/ledger"
	"github.com/vidverse/vidverse-go/internal/model"
	"github.com/vidverse/vidverse-go/internal/pipeline"
	"github.com/vidverse/vidverse-go/internal/storage"
	"github.com/vidverse/vidverse-go/internal/telemetry"
	"github.com/vidverse/vidverse-go/internal/upload"
)

// multipartMemory is how much of a multipart body is buffered before spilling to disk.
const multipartMemory = 32 << 20

// handlePublish handles POST /v1/videos with idempotency support
func (m *Mux) handlePublish(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.Tracer("server").Start(r.Context(), "handlePublish")
	defer span.End()
	r = r.WithContext(ctx)

	form, err := m.parseMultipart(w, r)
	if err != nil {
		span.SetStatus(codes.Error, "invalid multipart body")
		m.writeFailure(w, r, err, nil)
		return
	}
	defer form.RemoveAll()

	req := upload.CreateRequest{Base: baseFromForm(form)}
	video, err := fileFromForm(form, "video")
	if err != nil {
		m.writeFailure(w, r, err, nil)
		return
	}
	thumb, err := fileFromForm(form, "thumbnail")
	if err != nil {
		m.writeFailure(w, r, err, nil)
		return
	}
	if video == nil || thumb == nil {
		m.writeFailure(w, r, errordefs.Validation("video and thumbnail files are required"), nil)
		return
	}
	req.Video, req.Thumbnail = *video, *thumb

	account := accountFrom(ctx)
	span.SetAttributes(
		attribute.String("account", account.Hex()),
		attribute.Int64("video_bytes", req.Video.Size()),
	)

	idem := m.beginIdempotent(r, account.Hex(), requestHash(req))
	if idem.replayed(w, r) {
		return
	}

	out, err := m.pipeline.Publish(ctx, account, req)
	if err != nil {
		span.SetStatus(codes.Error, string(errordefs.CodeOf(err)))
		m.writeFailure(w, r, err, partial(out))
		return
	}
	idem.respond(w, r, http.StatusCreated, out)
}

// handleEdit handles POST /v1/videos/{id}/edit
func (m *Mux) handleEdit(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.Tracer("server").Start(r.Context(), "handleEdit")
	defer span.End()
	r = r.WithContext(ctx)

	id, err := ledger.ParseVideoID(r.PathValue("id"))
	if err != nil {
		m.writeFailure(w, r, err, nil)
		return
	}
	form, err := m.parseMultipart(w, r)
	if err != nil {
		m.writeFailure(w, r, err, nil)
		return
	}
	defer form.RemoveAll()

	thumb, err := fileFromForm(form, "thumbnail")
	if err != nil {
		m.writeFailure(w, r, err, nil)
		return
	}
	out, err := m.pipeline.Edit(ctx, accountFrom(ctx), id, pipeline.EditInput{
		Base:      baseFromForm(form),
		Thumbnail: thumb,
	})
	if err != nil {
		span.SetStatus(codes.Error, string(errordefs.CodeOf(err)))
		m.writeFailure(w, r, err, partial(out))
		return
	}
	m.writeSuccess(w, http.StatusOK, out)
}

// handleLike handles POST /v1/videos/{id}/like
func (m *Mux) handleLike(w http.ResponseWriter, r *http.Request) {
	id, err := ledger.ParseVideoID(r.PathValue("id"))
	if err != nil {
		m.writeFailure(w, r, err, nil)
		return
	}
	out, err := m.pipeline.Like(r.Context(), accountFrom(r.Context()), id)
	if err != nil {
		m.writeFailure(w, r, err, partial(out))
		return
	}
	m.writeSuccess(w, http.StatusOK, out)
}

// commentRequest is the body of POST /v1/videos/{id}/comments.
type commentRequest struct {
	Text string `json:"text"`
}

// handleComment handles POST /v1/videos/{id}/comments
func (m *Mux) handleComment(w http.ResponseWriter, r *http.Request) {
	id, err := ledger.ParseVideoID(r.PathValue("id"))
	if err != nil {
		m.writeFailure(w, r, err, nil)
		return
	}
	defer r.Body.Close()

	var req commentRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		m.writeFailure(w, r, errordefs.New(errordefs.VV_BAD_REQUEST, "invalid JSON", ""), nil)
		return
	}
	out, err := m.pipeline.Comment(r.Context(), accountFrom(r.Context()), id, req.Text)
	if err != nil {
		m.writeFailure(w, r, err, partial(out))
		return
	}
	m.writeSuccess(w, http.StatusCreated, out)
}

// handleList handles GET /v1/videos
func (m *Mux) handleList(w http.ResponseWriter, r *http.Request) {
	views, err := m.aggregator.List(r.Context())
	if err != nil {
		m.writeFailure(w, r, err, nil)
		return
	}
	m.writeSuccess(w, http.StatusOK, views)
}

// viewResponse adds the ownership hint for the authenticated viewer.
type viewResponse struct {
	model.AggregateView
	IsOwner bool `json:"isOwner"`
}

// handleView handles GET /v1/videos/{id}
func (m *Mux) handleView(w http.ResponseWriter, r *http.Request) {
	id, err := ledger.ParseVideoID(r.PathValue("id"))
	if err != nil {
		m.writeFailure(w, r, err, nil)
		return
	}
	viewer := accountFrom(r.Context())
	view, err := m.aggregator.View(r.Context(), id, viewer)
	if err != nil {
		m.writeFailure(w, r, err, nil)
		return
	}
	resp := viewResponse{AggregateView: view}
	if viewer != (common.Address{}) {
		resp.IsOwner = view.IsOwner(viewer.Hex())
	}
	m.writeSuccess(w, http.StatusOK, resp)
}

// handleComments handles GET /v1/videos/{id}/comments
func (m *Mux) handleComments(w http.ResponseWriter, r *http.Request) {
	id, err := ledger.ParseVideoID(r.PathValue("id"))
	if err != nil {
		m.writeFailure(w, r, err, nil)
		return
	}
	comments, err := m.aggregator.Comments(r.Context(), id)
	if err != nil {
		m.writeFailure(w, r, err, nil)
		return
	}
	m.writeSuccess(w, http.StatusOK, comments)
}

// handleTransactions handles GET /v1/accounts/{address}/transactions
func (m *Mux) handleTransactions(w http.ResponseWriter, r *http.Request) {
	account, err := ledger.ParseAccount(r.PathValue("address"))
	if err != nil {
		m.writeFailure(w, r, err, nil)
		return
	}

	query := storage.TransactionQuery{Account: account.Hex(), Cursor: r.URL.Query().Get("cursor")}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			m.writeFailure(w, r, errordefs.New(errordefs.VV_BAD_REQUEST, "invalid limit parameter", ""), nil)
			return
		}
		query.Limit = limit
	}

	page, err := m.journal.ListTransactions(r.Context(), query)
	if errors.Is(err, storage.ErrInvalidCursor) {
		m.writeFailure(w, r, errordefs.Wrap(errordefs.VV_BAD_REQUEST, "invalid cursor parameter", err), nil)
		return
	}
	if err != nil {
		m.writeFailure(w, r, errordefs.Wrap(errordefs.VV_UNAVAILABLE, "failed to list transactions", err), nil)
		return
	}
	m.writeSuccess(w, http.StatusOK, page)
}

// parseMultipart reads a size-capped multipart body.
func (m *Mux) parseMultipart(w http.ResponseWriter, r *http.Request) (*multipart.Form, error) {
	r.Body = http.MaxBytesReader(w, r.Body, m.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errordefs.Validation("request body exceeds %d bytes", tooLarge.Limit)
		}
		return nil, errordefs.New(errordefs.VV_BAD_REQUEST, "invalid multipart body", "")
	}
	return r.MultipartForm, nil
}

func baseFromForm(form *multipart.Form) model.BaseDescriptor {
	value := func(key string) string {
		if v := form.Value[key]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}
	return model.BaseDescriptor{
		Title:       value("title"),
		Description: value("description"),
		Category:    value("category"),
		Location:    value("location"),
		ExternalURL: value("externalUrl"),
	}
}

// fileFromForm returns the named file part, or nil when it is absent.
func fileFromForm(form *multipart.Form, field string) (*model.MediaAsset, error) {
	headers := form.File[field]
	if len(headers) == 0 {
		return nil, nil
	}
	fh := headers[0]
	f, err := fh.Open()
	if err != nil {
		return nil, errordefs.New(errordefs.VV_BAD_REQUEST, fmt.Sprintf("unreadable %s part", field), "")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errordefs.New(errordefs.VV_BAD_REQUEST, fmt.Sprintf("unreadable %s part", field), "")
	}
	return &model.MediaAsset{
		Filename: fh.Filename,
		MimeType: fh.Header.Get("Content-Type"),
		Data:     data,
	}, nil
}

// partial returns out when a failed flow got far enough to have something to report.
func partial(out pipeline.Outcome) interface{} {
	if out.Upload == nil && out.TxHash == "" {
		return nil
	}
	return out
}
