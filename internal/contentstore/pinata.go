package contentstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	errordefs "github.com/vidverse/vidverse-go/internal/errors"
	"github.com/vidverse/vidverse-go/internal/model"
)

// DefaultPinataURL is the public pinning API endpoint.
const DefaultPinataURL = "https://api.pinata.cloud"

// batchDir is the directory every batch file is nested under so the pinning
// service returns one folder CID for the batch.
const batchDir = "vidverse"

// Pinata stores content on IPFS through a pinning service API.
type Pinata struct {
	base   string
	jwt    string
	hc     *http.Client
	retry  RetryConfig
	logger *slog.Logger
	now    func() time.Time
}

// pinResponse is the pinning service's answer for both file and JSON pins.
type pinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

// NewPinata creates a pinning-service client. Timeouts belong to the transport.
func NewPinata(baseURL, jwt string, logger *slog.Logger) *Pinata {
	if baseURL == "" {
		baseURL = DefaultPinataURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
	}
	return &Pinata{
		base:   strings.TrimRight(baseURL, "/"),
		jwt:    jwt,
		hc:     &http.Client{Transport: transport, Timeout: 10 * time.Minute},
		retry:  DefaultRetryConfig(),
		logger: logger.With("component", "contentstore.pinata"),
		now:    time.Now,
	}
}

// Store implements Client by pinning all files in a single multipart request.
func (p *Pinata) Store(ctx context.Context, assets []model.MediaAsset) (BatchResult, error) {
	if err := checkBatch(assets); err != nil {
		return BatchResult{}, err
	}

	body, contentType, err := p.encodeBatch(assets)
	if err != nil {
		return BatchResult{}, errordefs.StoreFailure("encode batch", err)
	}

	var pinned pinResponse
	err = retryWithBackoff(ctx, p.logger, "pinFileToIPFS", func() error {
		return p.post(ctx, "/pinning/pinFileToIPFS", contentType, body, &pinned)
	}, p.retry)
	if err != nil {
		return BatchResult{}, errordefs.StoreFailure("batch upload failed", err)
	}

	result := BatchResult{FolderCID: pinned.IpfsHash}
	for _, a := range assets {
		result.Files = append(result.Files, FileInfo{
			Filename: a.Filename,
			MimeType: a.MimeType,
			Size:     a.Size(),
			Path:     Path(pinned.IpfsHash, a.Filename),
		})
	}
	p.logger.Debug("batch pinned", "folder_cid", pinned.IpfsHash, "files", len(assets), "pin_size", pinned.PinSize)
	return completeBatch(assets, result)
}

// StoreJSON implements Client.
func (p *Pinata) StoreJSON(ctx context.Context, doc interface{}) (string, error) {
	label := "document"
	if md, ok := doc.(model.MetadataDocument); ok && md.Name != "" {
		label = md.Name
	}
	payload := map[string]interface{}{
		"pinataContent": doc,
		"pinataMetadata": map[string]string{
			"name": fmt.Sprintf("VidVerse_%s_metadata_%d", label, p.now().Unix()),
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", errordefs.StoreFailure("encode json document", err)
	}

	var pinned pinResponse
	err = retryWithBackoff(ctx, p.logger, "pinJSONToIPFS", func() error {
		return p.post(ctx, "/pinning/pinJSONToIPFS", "application/json", body, &pinned)
	}, p.retry)
	if err != nil {
		return "", errordefs.StoreFailure("json upload failed", err)
	}
	if pinned.IpfsHash == "" {
		return "", errordefs.StoreFailure("pinning service returned no identifier", nil)
	}
	return pinned.IpfsHash, nil
}

// encodeBatch builds the multipart body once so retries resend identical bytes.
func (p *Pinata) encodeBatch(assets []model.MediaAsset) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, a := range assets {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s/%s"`, batchDir, a.Filename))
		ct := a.MimeType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(a.Data); err != nil {
			return nil, "", err
		}
	}

	meta, err := json.Marshal(map[string]string{
		"name": fmt.Sprintf("VidVerse_assets_%d", p.now().Unix()),
	})
	if err != nil {
		return nil, "", err
	}
	if err := w.WriteField("pinataMetadata", string(meta)); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// post sends body to path and decodes a pin response.
func (p *Pinata) post(ctx context.Context, path, contentType string, body []byte, out *pinResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+p.jwt)

	resp, err := p.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode pin response: %w", err)
	}
	return nil
}
