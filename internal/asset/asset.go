// Package asset provides the media asset domain: asset kinds, the persisted
// video record, orphaned remote objects, and the store ports that persist them.
package asset

import (
	"errors"
	"strconv"
	"time"
)

// Kind is the type of media being ingested.
type Kind string

const (
	// KindImage is a still image upload.
	KindImage Kind = "image"
	// KindVideo is a video upload. Only videos produce a persisted Record.
	KindVideo Kind = "video"
)

// ErrUnknownKind is returned when a string does not name a supported Kind.
var ErrUnknownKind = errors.New("asset: unknown kind")

// IsValid returns true if the kind is supported.
func (k Kind) IsValid() bool {
	return k == KindImage || k == KindVideo
}

// ParseKind converts a string to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.IsValid() {
		return "", ErrUnknownKind
	}
	return k, nil
}

// Record is the metadata row written for an uploaded video.
// PublicID always comes from a descriptor returned by a completed upload.
type Record struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	PublicID       string    `json:"publicId"`
	OriginalSize   string    `json:"originalSize"`
	CompressedSize string    `json:"compressedSize"`
	Duration       float64   `json:"duration"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Fields are the caller-declared values of a video upload.
type Fields struct {
	Title        string
	Description  string
	OriginalSize string
}

// NewRecord builds an unsaved Record from the declared fields and the remote
// object's id, byte size and duration. A nil duration is stored as 0.
func NewRecord(fields Fields, publicID string, bytes int64, duration *float64) *Record {
	rec := &Record{
		Title:          fields.Title,
		Description:    fields.Description,
		PublicID:       publicID,
		OriginalSize:   fields.OriginalSize,
		CompressedSize: strconv.FormatInt(bytes, 10),
	}
	if duration != nil {
		rec.Duration = *duration
	}
	return rec
}

// Clone returns a copy of the record.
func (r *Record) Clone() *Record {
	c := *r
	return &c
}

// Orphan is a remote object that has no committed Record. It is flagged when
// persistence fails after a successful upload, or when an upload completes
// after the request stopped waiting for it.
type Orphan struct {
	ID        string
	PublicID  string
	Kind      Kind
	Reason    string
	FlaggedAt time.Time
	// SweptAt is zero until the reconciler deletes the remote object.
	SweptAt time.Time
}

// Swept returns true once the remote object has been deleted.
func (o Orphan) Swept() bool {
	return !o.SweptAt.IsZero()
}
