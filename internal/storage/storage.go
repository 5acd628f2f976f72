// Package storage provides the remote upload gateway. It defines the Uploader
// interface (port) for hexagonal architecture, implementations for Cloudinary
// and S3, and the Gateway that runs a single upload per request behind a
// single-value future.
package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/maauso/media-ingest-api/internal/asset"
)

// Static errors for storage operations.
var (
	// ErrUploadFailed wraps every failure of a remote upload.
	ErrUploadFailed = errors.New("storage: upload failed")
	// ErrUploadTimeout is returned when the upload does not resolve before the deadline.
	ErrUploadTimeout = errors.New("storage: upload timed out")
	// ErrNoPublicID is returned when the remote service confirms an upload without an id.
	ErrNoPublicID = errors.New("storage: upload returned no public id")
	// ErrDestroyFailed wraps every failure of a remote delete.
	ErrDestroyFailed = errors.New("storage: destroy failed")
	// ErrNotConfigured is returned when an uploader is used without credentials.
	ErrNotConfigured = errors.New("storage: credentials not configured")
	// ErrAlreadyWaited is returned when Wait is called twice on the same Pending.
	ErrAlreadyWaited = errors.New("storage: pending upload already consumed")
)

// Folders the remote service files uploads under.
const (
	ImageFolder = "next-cloudinary-uploads"
	VideoFolder = "video-uploads"
)

// Profile describes how the remote service should process an upload.
// Profiles are static per asset kind.
type Profile struct {
	// ResourceType is "image" or "video".
	ResourceType string
	// Folder groups uploads of one kind on the remote side.
	Folder string
	// Quality is the requested output quality, e.g. "auto". Empty means untouched.
	Quality string
	// Format is the requested output format, e.g. "mp4". Empty means untouched.
	Format string
}

// ProfileFor returns the transformation profile for an asset kind.
func ProfileFor(kind asset.Kind) Profile {
	if kind == asset.KindVideo {
		return Profile{
			ResourceType: "video",
			Folder:       VideoFolder,
			Quality:      "auto",
			Format:       "mp4",
		}
	}
	return Profile{
		ResourceType: "image",
		Folder:       ImageFolder,
	}
}

// Transformation renders the profile as a Cloudinary transformation string,
// e.g. "q_auto,f_mp4". Returns "" when the profile requests no changes.
func (p Profile) Transformation() string {
	var parts []string
	if p.Quality != "" {
		parts = append(parts, "q_"+p.Quality)
	}
	if p.Format != "" {
		parts = append(parts, "f_"+p.Format)
	}
	return strings.Join(parts, ",")
}

// Descriptor is the remote service's confirmation of a completed upload.
type Descriptor struct {
	// PublicID is the opaque id the remote service assigned.
	PublicID string
	// Bytes is the size of the stored artifact.
	Bytes int64
	// Duration is the media length in seconds. Only set for video.
	Duration *float64
}

// Uploader defines the interface for the remote object-storage service.
type Uploader interface {
	// Upload stores data processed with profile and returns its descriptor.
	Upload(ctx context.Context, data []byte, profile Profile) (Descriptor, error)

	// Destroy deletes a previously uploaded object. Deleting an object that
	// no longer exists is not an error.
	Destroy(ctx context.Context, publicID string, profile Profile) error
}
