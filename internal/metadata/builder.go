// Package metadata derives the metadata document stored alongside a video's assets.
// Build is pure: it never contacts the content store and never looks up prior state.
package metadata

import (
	"encoding/json"

	"github.com/vidverse/vidverse-go/internal/contentstore"
	"github.com/vidverse/vidverse-go/internal/model"
)

// DefaultVideoMime is used for content.mime when the video asset declares no type.
const DefaultVideoMime = "video/mp4"

// Refs carries the content identifiers available to a Build call.
//
// ThumbnailCID and VideoCID name assets uploaded in the current operation, normally the
// shared folder CID of the batch, combined with the matching filename. ExistingImageURI and
// ExistingVideoURI are previously written ipfs:// URIs the caller re-injects to keep a field
// when no new asset of that kind was supplied.
type Refs struct {
	ThumbnailCID      string
	ThumbnailFilename string
	VideoCID          string
	VideoFilename     string
	VideoMime         string
	ExistingImageURI  string
	ExistingVideoURI  string
}

// Build produces the metadata document for base and refs.
func Build(base model.BaseDescriptor, refs Refs) model.MetadataDocument {
	doc := model.MetadataDocument{
		Name:        base.Title,
		Description: base.Description,
		ExternalURL: base.ExternalURL,
		Properties: model.MetadataProperties{
			Category: base.Category,
			Location: base.Location,
		},
	}

	switch {
	case refs.ThumbnailCID != "":
		doc.Image = contentstore.URI(refs.ThumbnailCID, refs.ThumbnailFilename)
	case refs.ExistingImageURI != "":
		doc.Image = refs.ExistingImageURI
	}

	switch {
	case refs.VideoCID != "":
		uri := contentstore.URI(refs.VideoCID, refs.VideoFilename)
		mime := refs.VideoMime
		if mime == "" {
			mime = DefaultVideoMime
		}
		doc.AnimationURL = uri
		doc.Content = &model.MetadataContent{Mime: mime, URI: uri}
	case refs.ExistingVideoURI != "":
		// Only animation_url is carried; the prior MIME type is not known here.
		doc.AnimationURL = refs.ExistingVideoURI
	}

	return doc
}

// Encode returns the canonical JSON encoding of doc.
func Encode(doc model.MetadataDocument) ([]byte, error) {
	return json.Marshal(doc)
}
