package upload

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	errordefs "github.com/vidverse/vidverse-go/internal/errors"
	"github.com/vidverse/vidverse-go/internal/model"
)

const (
	// DefaultMaxVideoBytes is the per-video size limit (90 MiB).
	DefaultMaxVideoBytes int64 = 90 << 20
	// DefaultMaxThumbnailBytes is the per-thumbnail size limit (5 MiB).
	DefaultMaxThumbnailBytes int64 = 5 << 20
)

// Policy holds the size and type limits enforced before anything is uploaded.
type Policy struct {
	MaxVideoBytes     int64
	MaxThumbnailBytes int64
	// VideoMimePrefixes lists accepted MIME prefixes for the video asset, e.g. "video/".
	// An undeclared video type is accepted and later defaults to video/mp4.
	VideoMimePrefixes []string
	// ThumbnailMimePrefixes lists accepted MIME prefixes for the thumbnail asset.
	ThumbnailMimePrefixes []string
}

// DefaultPolicy returns the limits used when configuration sets none.
func DefaultPolicy() Policy {
	return Policy{
		MaxVideoBytes:         DefaultMaxVideoBytes,
		MaxThumbnailBytes:     DefaultMaxThumbnailBytes,
		VideoMimePrefixes:     []string{"video/", "audio/"},
		ThumbnailMimePrefixes: []string{"image/"},
	}
}

// newValidate builds the struct validator used for base descriptors.
func newValidate() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("no_markup", validateNoMarkup)
	return v
}

// validateNoMarkup rejects values that would smuggle markup into rendered metadata.
func validateNoMarkup(fl validator.FieldLevel) bool {
	value := strings.ToLower(fl.Field().String())
	for _, p := range []string{"<script", "javascript:", "<iframe", "onerror=", "onload="} {
		if strings.Contains(value, p) {
			return false
		}
	}
	return true
}

// checkBase validates the caller-editable fields.
func checkBase(v *validator.Validate, base model.BaseDescriptor) error {
	err := v.Struct(base)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errordefs.Validation("invalid descriptor: %v", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return errordefs.NewWithDetails(errordefs.VV_VALIDATION,
		"invalid descriptor: "+strings.Join(fields, ", "), "", fields)
}

// checkVideo enforces the video limits.
func (p Policy) checkVideo(a model.MediaAsset) error {
	if err := checkAsset("video", a); err != nil {
		return err
	}
	if p.MaxVideoBytes > 0 && a.Size() > p.MaxVideoBytes {
		return errordefs.Validation("video %s is %d bytes, limit is %d", a.Filename, a.Size(), p.MaxVideoBytes)
	}
	if a.MimeType != "" && !hasPrefix(a.MimeType, p.VideoMimePrefixes) {
		return errordefs.Validation("video %s has unsupported type %s", a.Filename, a.MimeType)
	}
	return nil
}

// checkThumbnail enforces the thumbnail limits. A declared image type is required.
func (p Policy) checkThumbnail(a model.MediaAsset) error {
	if err := checkAsset("thumbnail", a); err != nil {
		return err
	}
	if p.MaxThumbnailBytes > 0 && a.Size() > p.MaxThumbnailBytes {
		return errordefs.Validation("thumbnail %s is %d bytes, limit is %d", a.Filename, a.Size(), p.MaxThumbnailBytes)
	}
	if !hasPrefix(a.MimeType, p.ThumbnailMimePrefixes) {
		return errordefs.Validation("thumbnail %s has unsupported type %q", a.Filename, a.MimeType)
	}
	return nil
}

// checkAsset validates what every asset needs: bytes and a filename usable as a path segment.
func checkAsset(kind string, a model.MediaAsset) error {
	if len(a.Data) == 0 {
		return errordefs.Validation("%s is empty", kind)
	}
	name := a.Filename
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return errordefs.Validation("%s filename %q is not a single path segment", kind, name)
	}
	return nil
}

// checkCarryURI validates a carried-forward reference.
func checkCarryURI(field, uri string) error {
	if uri == "" {
		return errordefs.Validation("%s is required when no new asset replaces it", field)
	}
	rest, ok := strings.CutPrefix(uri, "ipfs://")
	if !ok || rest == "" {
		return errordefs.Validation("%s %q is not an ipfs:// reference", field, uri)
	}
	return nil
}

func hasPrefix(mime string, prefixes []string) bool {
	mime = strings.ToLower(mime)
	for _, p := range prefixes {
		if strings.HasPrefix(mime, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
