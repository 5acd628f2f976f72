package ingest

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/maauso/media-ingest-api/internal/asset"
)

// ErrorKind classifies a pipeline failure. Each kind maps to one HTTP status.
type ErrorKind string

const (
	// KindConfiguration means a required storage credential is missing.
	KindConfiguration ErrorKind = "configuration"
	// KindUnauthorized means the request has no authenticated principal.
	KindUnauthorized ErrorKind = "unauthorized"
	// KindBadRequest means a required part of the request is absent.
	KindBadRequest ErrorKind = "bad_request"
	// KindPayloadTooLarge means the body exceeded the configured limit.
	KindPayloadTooLarge ErrorKind = "payload_too_large"
	// KindIO means reading the request body failed.
	KindIO ErrorKind = "io"
	// KindRemoteUpload means the remote upload failed or timed out.
	KindRemoteUpload ErrorKind = "remote_upload"
	// KindPersistence means the metadata record could not be written.
	KindPersistence ErrorKind = "persistence"
)

// Status returns the HTTP status code for the kind.
func (k ErrorKind) Status() int {
	switch k {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindBadRequest:
		return http.StatusBadRequest
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// Client errors carried inside *Error.
var (
	// ErrMissingCredential is returned when a storage credential is empty.
	ErrMissingCredential = errors.New("ingest: storage credential missing")
	// ErrUnauthorized is returned when no principal could be resolved.
	ErrUnauthorized = errors.New("ingest: unauthorized")
	// ErrFileNotFound is returned when the multipart body has no file part.
	ErrFileNotFound = errors.New("ingest: file not found")
	// ErrMissingFields is returned when required video metadata is absent.
	ErrMissingFields = errors.New("ingest: missing required fields")
	// ErrPayloadTooLarge is returned when the body exceeds the size limit.
	ErrPayloadTooLarge = errors.New("ingest: payload too large")
)

// Error is a classified pipeline failure. Err holds the internal detail and
// is only ever logged.
type Error struct {
	Kind  ErrorKind
	Stage State
	Err   error
}

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s after %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Failure is the sanitized form of an error as returned to the client.
type Failure struct {
	Status  int
	Code    string
	Message string
}

// FailureFor maps err to the response for an upload of the given kind.
// Errors that are not *Error are treated as upload failures.
func FailureFor(kind asset.Kind, err error) Failure {
	var e *Error
	if !errors.As(err, &e) {
		return uploadFailure(kind)
	}

	switch e.Kind {
	case KindConfiguration:
		msg := "Cloudinary configuration missing"
		if kind == asset.KindVideo {
			msg = "Cloudinary credentials not found"
		}
		return Failure{Status: e.Kind.Status(), Code: "CONFIGURATION_MISSING", Message: msg}
	case KindUnauthorized:
		return Failure{Status: e.Kind.Status(), Code: "UNAUTHORIZED", Message: "Unauthorized"}
	case KindBadRequest:
		if errors.Is(e.Err, ErrMissingFields) {
			return Failure{Status: e.Kind.Status(), Code: "MISSING_FIELDS", Message: "Missing required fields"}
		}
		return Failure{Status: e.Kind.Status(), Code: "FILE_NOT_FOUND", Message: "File not found"}
	case KindPayloadTooLarge:
		return Failure{Status: e.Kind.Status(), Code: "PAYLOAD_TOO_LARGE", Message: "Payload too large"}
	default:
		return uploadFailure(kind)
	}
}

func uploadFailure(kind asset.Kind) Failure {
	msg := "Error uploading image"
	if kind == asset.KindVideo {
		msg = "Error uploading video"
	}
	return Failure{Status: http.StatusInternalServerError, Code: "UPLOAD_FAILED", Message: msg}
}
