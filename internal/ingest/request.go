package ingest

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/media-ingest-api/internal/asset"
	"github.com/maauso/media-ingest-api/internal/identity"
)

// FileField is the multipart field carrying the upload.
const FileField = "file"

// File is the file part of an upload request.
type File struct {
	Name    string
	Size    int64
	Content io.ReadCloser
}

// Close closes the file content.
func (f File) Close() error {
	if f.Content == nil {
		return nil
	}
	return f.Content.Close()
}

// ImageUploadRequest is a validated image upload.
type ImageUploadRequest struct {
	Principal string
	File      File
}

// VideoUploadRequest is a validated video upload.
type VideoUploadRequest struct {
	Principal string
	File      File
	Fields    asset.Fields
}

// videoForm holds the raw text fields of a video upload.
type videoForm struct {
	Title        string `validate:"required"`
	Description  string
	OriginalSize string `validate:"required"`
}

// RequestValidator authenticates and parses upload requests. It never reads
// the body of an unauthenticated request.
type RequestValidator struct {
	resolver  identity.Resolver
	validate  *validator.Validate
	maxMemory int64
}

// NewRequestValidator creates a RequestValidator. maxMemory is the part of a
// multipart body held in memory; the rest spills to temporary files.
func NewRequestValidator(resolver identity.Resolver, maxMemory int64) *RequestValidator {
	if maxMemory <= 0 {
		maxMemory = 32 << 20
	}
	return &RequestValidator{
		resolver:  resolver,
		validate:  validator.New(),
		maxMemory: maxMemory,
	}
}

// Image validates an image upload request.
func (v *RequestValidator) Image(r *http.Request) (*ImageUploadRequest, error) {
	principal, err := v.authenticate(r)
	if err != nil {
		return nil, err
	}
	form, err := v.parseForm(r)
	if err != nil {
		return nil, err
	}
	file, err := openFile(form)
	if err != nil {
		return nil, err
	}
	return &ImageUploadRequest{Principal: principal, File: file}, nil
}

// Video validates a video upload request. A missing file is reported before
// missing text fields.
func (v *RequestValidator) Video(r *http.Request) (*VideoUploadRequest, error) {
	principal, err := v.authenticate(r)
	if err != nil {
		return nil, err
	}
	form, err := v.parseForm(r)
	if err != nil {
		return nil, err
	}
	if len(form.File[FileField]) == 0 {
		return nil, newError(KindBadRequest, ErrFileNotFound)
	}

	fields := videoForm{
		Title:        formValue(form, "title"),
		Description:  formValue(form, "description"),
		OriginalSize: formValue(form, "originalSize"),
	}
	if err := v.validate.Struct(fields); err != nil {
		return nil, newError(KindBadRequest, fmt.Errorf("%w: %w", ErrMissingFields, err))
	}

	file, err := openFile(form)
	if err != nil {
		return nil, err
	}
	return &VideoUploadRequest{
		Principal: principal,
		File:      file,
		Fields: asset.Fields{
			Title:        fields.Title,
			Description:  fields.Description,
			OriginalSize: fields.OriginalSize,
		},
	}, nil
}

func (v *RequestValidator) authenticate(r *http.Request) (string, error) {
	principal, ok := v.resolver.Resolve(r)
	if !ok || principal == "" {
		return "", newError(KindUnauthorized, ErrUnauthorized)
	}
	return principal, nil
}

// parseForm reads the multipart body. Bodies that are not multipart are
// treated as having no file.
func (v *RequestValidator) parseForm(r *http.Request) (*multipart.Form, error) {
	err := r.ParseMultipartForm(v.maxMemory)
	if err == nil {
		return r.MultipartForm, nil
	}

	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr), errors.Is(err, multipart.ErrMessageTooLarge):
		return nil, newError(KindPayloadTooLarge, fmt.Errorf("%w: %w", ErrPayloadTooLarge, err))
	case errors.Is(err, http.ErrNotMultipart), errors.Is(err, http.ErrMissingBoundary):
		return nil, newError(KindBadRequest, fmt.Errorf("%w: %w", ErrFileNotFound, err))
	default:
		return nil, newError(KindIO, fmt.Errorf("read multipart body: %w", err))
	}
}

func openFile(form *multipart.Form) (File, error) {
	headers := form.File[FileField]
	if len(headers) == 0 {
		return File{}, newError(KindBadRequest, ErrFileNotFound)
	}
	fh := headers[0]
	f, err := fh.Open()
	if err != nil {
		return File{}, newError(KindIO, fmt.Errorf("open file part: %w", err))
	}
	return File{Name: fh.Filename, Size: fh.Size, Content: f}, nil
}

func formValue(form *multipart.Form, key string) string {
	if vs := form.Value[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}
