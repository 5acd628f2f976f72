package ingest

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/media-ingest-api/internal/asset"
	"github.com/maauso/media-ingest-api/internal/config"
	"github.com/maauso/media-ingest-api/internal/identity"
	"github.com/maauso/media-ingest-api/internal/storage"
)

// mockUploader is a mock implementation of storage.Uploader.
type mockUploader struct {
	mock.Mock
}

func (m *mockUploader) Upload(ctx context.Context, data []byte, profile storage.Profile) (storage.Descriptor, error) {
	args := m.Called(ctx, data, profile)
	return args.Get(0).(storage.Descriptor), args.Error(1)
}

func (m *mockUploader) Destroy(ctx context.Context, publicID string, profile storage.Profile) error {
	args := m.Called(ctx, publicID, profile)
	return args.Error(0)
}

// mockStore is a mock implementation of asset.Store.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) Acquire(ctx context.Context) (asset.Conn, error) {
	args := m.Called(ctx)
	conn, _ := args.Get(0).(asset.Conn)
	return conn, args.Error(1)
}

// mockConn is a mock implementation of asset.Conn.
type mockConn struct {
	mock.Mock
}

func (m *mockConn) Insert(ctx context.Context, rec *asset.Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *mockConn) Release() {
	m.Called()
}

// recordingObserver collects outcomes and counters.
type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
	uploads  int
	persists int
	orphans  int
}

func (o *recordingObserver) RecordUpload(asset.Kind, time.Duration, int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.uploads++
}

func (o *recordingObserver) RecordPersist(time.Duration, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.persists++
}

func (o *recordingObserver) RecordOutcome(_ asset.Kind, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) RecordOrphan(asset.Kind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.orphans++
}

func (o *recordingObserver) Outcomes() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.outcomes...)
}

func fullCredentials() []config.Credential {
	return []config.Credential{
		{Name: "CLOUDINARY_CLOUD_NAME", Value: "demo"},
		{Name: "CLOUDINARY_API_KEY", Value: "key"},
		{Name: "CLOUDINARY_API_SECRET", Value: "secret"},
	}
}

func signedIn(id string) identity.Resolver {
	return identity.ResolverFunc(func(*http.Request) (string, bool) { return id, true })
}

func anonymous() identity.Resolver {
	return identity.ResolverFunc(func(*http.Request) (string, bool) { return "", false })
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// uploadForm describes a multipart request body.
type uploadForm struct {
	fields map[string]string
	file   []byte
	noFile bool
}

func newUploadRequest(t *testing.T, target string, form uploadForm) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range form.fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if !form.noFile {
		part, err := w.CreateFormFile(FileField, "clip.bin")
		require.NoError(t, err)
		_, err = part.Write(form.file)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func validVideoForm(file []byte) uploadForm {
	return uploadForm{
		fields: map[string]string{
			"title":        "Holiday",
			"description":  "Beach day",
			"originalSize": "1048576",
		},
		file: file,
	}
}

// trackingReader counts Read calls.
type trackingReader struct {
	mu    sync.Mutex
	reads int
	r     io.Reader
}

func (t *trackingReader) Read(p []byte) (int, error) {
	t.mu.Lock()
	t.reads++
	t.mu.Unlock()
	return t.r.Read(p)
}

func (t *trackingReader) Reads() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reads
}
