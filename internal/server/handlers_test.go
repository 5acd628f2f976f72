package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/media-ingest-api/internal/asset"
	"github.com/maauso/media-ingest-api/internal/config"
	"github.com/maauso/media-ingest-api/internal/identity"
	"github.com/maauso/media-ingest-api/internal/ingest"
	"github.com/maauso/media-ingest-api/internal/metrics"
	"github.com/maauso/media-ingest-api/internal/storage"
)

// mockUploader implements storage.Uploader for testing.
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

// failingStore hands out connections whose inserts always fail.
type failingStore struct {
	acquired atomic.Int32
	released atomic.Int32
}

func (s *failingStore) Acquire(context.Context) (asset.Conn, error) {
	s.acquired.Add(1)
	return &failingConn{store: s}, nil
}

type failingConn struct {
	store *failingStore
}

func (c *failingConn) Insert(context.Context, *asset.Record) error {
	return errors.New("relation \"videos\" does not exist")
}

func (c *failingConn) Release() {
	c.store.released.Add(1)
}

type testEnv struct {
	router   http.Handler
	uploader *mockUploader
	ledger   *asset.MemoryStore
	jwt      *identity.JWTResolver
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEnv(t *testing.T, creds []config.Credential, store asset.Store) *testEnv {
	t.Helper()
	logger := testLogger()

	jwt, err := identity.NewJWTResolver("test-secret")
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	observer, err := metrics.NewPrometheusObserver("test", reg)
	require.NoError(t, err)

	uploader := &mockUploader{}
	ledger := asset.NewMemoryStore()
	orphans := ingest.NewOrphanFlagger(ledger, observer, logger)

	svc := ingest.NewService(
		ingest.NewGuard(creds),
		ingest.NewRequestValidator(jwt, 1<<20),
		storage.NewGateway(uploader, logger, storage.WithAbandonHandler(orphans.Abandoned)),
		store,
		logger,
		ingest.WithObserver(observer),
		ingest.WithOrphanFlagger(orphans),
	)

	cfg := DefaultConfig()
	cfg.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	cfg.MaxBodyBytes = 64 << 10

	return &testEnv{
		router:   NewRouter(NewHandlers(svc, logger), logger, cfg),
		uploader: uploader,
		ledger:   ledger,
		jwt:      jwt,
	}
}

func cloudinaryCreds() []config.Credential {
	return []config.Credential{
		{Name: "CLOUDINARY_CLOUD_NAME", Value: "demo"},
		{Name: "CLOUDINARY_API_KEY", Value: "key"},
		{Name: "CLOUDINARY_API_SECRET", Value: "secret"},
	}
}

func multipartBody(t *testing.T, fields map[string]string, file []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if file != nil {
		part, err := w.CreateFormFile("file", "upload.bin")
		require.NoError(t, err)
		_, err = part.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &body, w.FormDataContentType()
}

func (e *testEnv) post(t *testing.T, path string, fields map[string]string, file []byte, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, fields, file)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	if authed {
		token, err := e.jwt.Issue("user_2abc", time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func videoFields() map[string]string {
	return map[string]string{
		"title":        "Launch",
		"description":  "Demo reel",
		"originalSize": "5242880",
	}
}

func TestHealth(t *testing.T) {
	h := NewHandlers(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h.Health(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
}

func TestUploadImage_Success(t *testing.T) {
	env := newTestEnv(t, cloudinaryCreds(), asset.NewMemoryStore())
	env.uploader.On("Upload", mock.Anything, []byte("jpeg"), storage.ProfileFor(asset.KindImage)).
		Return(storage.Descriptor{PublicID: "next-cloudinary-uploads/img42", Bytes: 4}, nil).Once()

	rec := env.post(t, "/api/image-upload", nil, []byte("jpeg"), true)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var resp ImageUploadResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "next-cloudinary-uploads/img42", resp.PublicID)
	env.uploader.AssertExpectations(t)
}

func TestUploadImage_ConfigMissing(t *testing.T) {
	creds := cloudinaryCreds()
	creds[0].Value = ""
	env := newTestEnv(t, creds, asset.NewMemoryStore())

	rec := env.post(t, "/api/image-upload", nil, []byte("jpeg"), false)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "Cloudinary configuration missing", resp.Error)
	assert.NotContains(t, resp.Error, "CLOUDINARY_CLOUD_NAME")
}

func TestUploadImage_FileNotFound(t *testing.T) {
	env := newTestEnv(t, cloudinaryCreds(), asset.NewMemoryStore())

	rec := env.post(t, "/api/image-upload", map[string]string{"other": "x"}, nil, true)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "File not found", decodeError(t, rec).Error)
	env.uploader.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything)
}

func TestUploadImage_NotMultipart(t *testing.T) {
	env := newTestEnv(t, cloudinaryCreds(), asset.NewMemoryStore())
	token, _ := env.jwt.Issue("user", time.Hour)

	req := httptest.NewRequest(http.MethodPost, "/api/image-upload", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "File not found", decodeError(t, rec).Error)
}

func TestUploadImage_PayloadTooLarge(t *testing.T) {
	env := newTestEnv(t, cloudinaryCreds(), asset.NewMemoryStore())

	rec := env.post(t, "/api/image-upload", nil, bytes.Repeat([]byte("x"), 128<<10), true)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", decodeError(t, rec).Code)
	env.uploader.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything)
}

func TestUploadImage_RemoteFailure(t *testing.T) {
	env := newTestEnv(t, cloudinaryCreds(), asset.NewMemoryStore())
	env.uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).
		Return(storage.Descriptor{}, errors.New("cloudinary: 401 Invalid api_key")).Once()

	rec := env.post(t, "/api/image-upload", nil, []byte("jpeg"), true)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "Error uploading image", resp.Error)
	assert.Equal(t, "UPLOAD_FAILED", resp.Code)
}

func TestUploadVideo_Success(t *testing.T) {
	store := asset.NewMemoryStore()
	env := newTestEnv(t, cloudinaryCreds(), store)
	duration := 31.2
	env.uploader.On("Upload", mock.Anything, []byte("mp4"), storage.ProfileFor(asset.KindVideo)).
		Return(storage.Descriptor{PublicID: "video-uploads/v9", Bytes: 1234, Duration: &duration}, nil).Once()

	rec := env.post(t, "/api/video-upload", videoFields(), []byte("mp4"), true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.NotEmpty(t, got["id"])
	assert.Equal(t, "Launch", got["title"])
	assert.Equal(t, "Demo reel", got["description"])
	assert.Equal(t, "video-uploads/v9", got["publicId"])
	assert.Equal(t, "5242880", got["originalSize"])
	assert.Equal(t, "1234", got["compressedSize"])
	assert.Equal(t, 31.2, got["duration"])
	assert.Contains(t, got, "createdAt")
	assert.Contains(t, got, "updatedAt")

	assert.Len(t, store.Records(), 1)
	assert.Equal(t, int64(0), store.OpenConns())
}

func TestUploadVideo_SameFileTwice_TwoRecords(t *testing.T) {
	store := asset.NewMemoryStore()
	env := newTestEnv(t, cloudinaryCreds(), store)
	env.uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).
		Return(storage.Descriptor{PublicID: "video-uploads/a", Bytes: 1}, nil).Once()
	env.uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).
		Return(storage.Descriptor{PublicID: "video-uploads/b", Bytes: 1}, nil).Once()

	first := env.post(t, "/api/video-upload", videoFields(), []byte("same"), true)
	second := env.post(t, "/api/video-upload", videoFields(), []byte("same"), true)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Len(t, store.Records(), 2)
	env.uploader.AssertNumberOfCalls(t, "Upload", 2)
}

func TestUploadVideo_MissingTitle(t *testing.T) {
	store := asset.NewMemoryStore()
	env := newTestEnv(t, cloudinaryCreds(), store)
	fields := videoFields()
	delete(fields, "title")

	rec := env.post(t, "/api/video-upload", fields, []byte("mp4"), true)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing required fields", decodeError(t, rec).Error)
	env.uploader.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, store.Records())
}

func TestUploadVideo_Unauthorized(t *testing.T) {
	store := &failingStore{}
	env := newTestEnv(t, cloudinaryCreds(), store)

	rec := env.post(t, "/api/video-upload", videoFields(), []byte("mp4"), false)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", decodeError(t, rec).Error)
	env.uploader.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, int32(0), store.acquired.Load())
}

func TestUploadVideo_SessionCookie(t *testing.T) {
	env := newTestEnv(t, cloudinaryCreds(), asset.NewMemoryStore())
	env.uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).
		Return(storage.Descriptor{PublicID: "video-uploads/c", Bytes: 1}, nil).Once()

	body, contentType := multipartBody(t, videoFields(), []byte("mp4"))
	req := httptest.NewRequest(http.MethodPost, "/api/video-upload", body)
	req.Header.Set("Content-Type", contentType)
	token, _ := env.jwt.Issue("user_cookie", time.Hour)
	req.AddCookie(&http.Cookie{Name: identity.SessionCookie, Value: token})

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUploadVideo_PersistFails(t *testing.T) {
	store := &failingStore{}
	env := newTestEnv(t, cloudinaryCreds(), store)
	env.uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).
		Return(storage.Descriptor{PublicID: "video-uploads/orphan", Bytes: 99}, nil).Once()

	rec := env.post(t, "/api/video-upload", videoFields(), []byte("mp4"), true)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "Error uploading video", resp.Error)
	assert.NotContains(t, resp.Error, "relation")

	assert.Equal(t, int32(1), store.acquired.Load())
	assert.Equal(t, int32(1), store.released.Load())

	orphans := env.ledger.Orphans()
	require.Len(t, orphans, 1)
	assert.Equal(t, "video-uploads/orphan", orphans[0].PublicID)
}

func TestUploadVideo_ConfigMissing(t *testing.T) {
	env := newTestEnv(t, []config.Credential{{Name: "S3_BUCKET", Value: "b"}, {Name: "AWS_ACCESS_KEY_ID"}}, asset.NewMemoryStore())

	rec := env.post(t, "/api/video-upload", videoFields(), []byte("mp4"), true)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Cloudinary credentials not found", decodeError(t, rec).Error)
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, cloudinaryCreds(), asset.NewMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/api/image-upload", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouter_Metrics(t *testing.T) {
	env := newTestEnv(t, cloudinaryCreds(), asset.NewMemoryStore())
	env.uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).
		Return(storage.Descriptor{PublicID: "p", Bytes: 10}, nil).Once()
	env.post(t, "/api/image-upload", nil, []byte("x"), true)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `test_requests_total{kind="image",outcome="ok"} 1`)
}

func TestCORSMiddleware(t *testing.T) {
	h := NewHandlers(nil, nil)
	logger := testLogger()

	cfg := Config{AllowedOrigins: []string{"https://example.com"}}
	router := NewRouter(h, logger, cfg)

	// Test with allowed origin
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	// Disallowed origin gets no CORS headers
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	// Test OPTIONS preflight
	req = httptest.NewRequest(http.MethodOptions, "/api/video-upload", nil)
	req.Header.Set("Origin", "https://example.com")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, RequestIDHeader, rec.Header().Get("Access-Control-Expose-Headers"))
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := testLogger()

	// Create a handler that panics
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	handler := RecoveryMiddleware(logger)(panicHandler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	// Should not panic
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp ErrorResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, "INTERNAL_ERROR", resp.Code)
}

func TestMaxBytesMiddleware(t *testing.T) {
	var readErr error
	handler := MaxBytesMiddleware(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var maxErr *http.MaxBytesError
	assert.ErrorAs(t, readErr, &maxErr)

	// Disabled cap passes the body through.
	handler = MaxBytesMiddleware(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789"))
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.NoError(t, readErr)
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = w.Header().Get(RequestIDHeader)
	}))

	t.Run("mints an id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		id := rec.Header().Get(RequestIDHeader)
		assert.Len(t, id, 36)
		assert.Equal(t, id, seen)
	})

	t.Run("echoes the caller's id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "trace-123")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, "trace-123", rec.Header().Get(RequestIDHeader))
	})

	t.Run("replaces an oversized id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, strings.Repeat("x", 200))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Len(t, rec.Header().Get(RequestIDHeader), 36)
	})
}

func TestLoggingMiddleware_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "UNAUTHORIZED")
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/image-upload", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, float64(http.StatusUnauthorized), entry["status"])
	assert.Greater(t, entry["bytes_out"], float64(0))
}
