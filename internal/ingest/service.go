// Package ingest provides the upload pipeline. A request moves through
// config check, validation, buffering, remote upload and, for videos,
// metadata persistence. Every failure is classified into an *Error whose
// kind decides the HTTP response.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/maauso/media-ingest-api/internal/asset"
	"github.com/maauso/media-ingest-api/internal/storage"
)

// ErrNoStore is returned when a video is ingested without a metadata store.
var ErrNoStore = errors.New("ingest: no metadata store configured")

type requestIDKey struct{}

// ContextWithRequestID attaches a request id that the pipeline uses in its
// logs instead of minting one.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// ImageResult is the outcome of a successful image upload.
type ImageResult struct {
	PublicID string
}

// Service orchestrates upload requests.
type Service struct {
	guard          *Guard
	validator      *RequestValidator
	gateway        *storage.Gateway
	store          asset.Store
	orphans        *OrphanFlagger
	observer       Observer
	persistTimeout time.Duration
	logger         *slog.Logger
}

// Option is a function that configures a Service.
type Option func(*Service)

// WithObserver sets the pipeline observer.
func WithObserver(o Observer) Option {
	return func(s *Service) {
		s.observer = o
	}
}

// WithOrphanFlagger sets where orphaned remote objects are reported.
func WithOrphanFlagger(f *OrphanFlagger) Option {
	return func(s *Service) {
		s.orphans = f
	}
}

// WithPersistTimeout bounds the metadata write.
func WithPersistTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.persistTimeout = d
		}
	}
}

// NewService creates a new Service.
func NewService(guard *Guard, validator *RequestValidator, gateway *storage.Gateway, store asset.Store, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		guard:          guard,
		validator:      validator,
		gateway:        gateway,
		store:          store,
		observer:       NopObserver{},
		persistTimeout: 30 * time.Second,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.orphans == nil {
		s.orphans = NewOrphanFlagger(nil, s.observer, logger)
	}
	return s
}

// IngestImage uploads the image in r and returns its public id.
func (s *Service) IngestImage(r *http.Request) (*ImageResult, error) {
	ctx := r.Context()
	rn := newRun(requestIDFrom(ctx), asset.KindImage)
	defer s.finish(rn)
	defer cleanupForm(r)

	if err := s.checkConfig(rn); err != nil {
		return nil, err
	}

	req, err := s.validator.Image(r)
	if err != nil {
		return nil, rn.fail(KindBadRequest, err)
	}
	defer req.File.Close()
	rn.principal = req.Principal
	if err := rn.advance(StateValidated); err != nil {
		return nil, rn.fail(KindIO, err)
	}

	desc, err := s.bufferAndUpload(ctx, rn, req.File)
	if err != nil {
		return nil, err
	}

	if err := rn.advance(StateDone); err != nil {
		return nil, rn.fail(KindIO, err)
	}
	return &ImageResult{PublicID: desc.PublicID}, nil
}

// IngestVideo uploads the video in r, persists its metadata record and
// returns the stored record.
func (s *Service) IngestVideo(r *http.Request) (*asset.Record, error) {
	ctx := r.Context()
	rn := newRun(requestIDFrom(ctx), asset.KindVideo)
	defer s.finish(rn)
	defer cleanupForm(r)

	if err := s.checkConfig(rn); err != nil {
		return nil, err
	}

	req, err := s.validator.Video(r)
	if err != nil {
		return nil, rn.fail(KindBadRequest, err)
	}
	defer req.File.Close()
	rn.principal = req.Principal
	if err := rn.advance(StateValidated); err != nil {
		return nil, rn.fail(KindIO, err)
	}

	desc, err := s.bufferAndUpload(ctx, rn, req.File)
	if err != nil {
		return nil, err
	}

	rec, err := s.persist(ctx, req.Fields, desc)
	if err != nil {
		// A duplicate means a saved record already owns the object.
		if !errors.Is(err, asset.ErrDuplicatePublicID) {
			s.orphans.Flag(ctx, desc.PublicID, asset.KindVideo, ReasonPersistFailed)
		}
		return nil, rn.fail(KindPersistence, err)
	}
	if err := rn.advance(StatePersisted); err != nil {
		return nil, rn.fail(KindPersistence, err)
	}

	if err := rn.advance(StateDone); err != nil {
		return nil, rn.fail(KindIO, err)
	}
	return rec, nil
}

func (s *Service) checkConfig(rn *run) error {
	if err := s.guard.Check(); err != nil {
		return rn.fail(KindConfiguration, err)
	}
	if err := rn.advance(StateConfigChecked); err != nil {
		return rn.fail(KindConfiguration, err)
	}
	return nil
}

// bufferAndUpload materializes the file and performs the single remote upload.
func (s *Service) bufferAndUpload(ctx context.Context, rn *run, f File) (storage.Descriptor, error) {
	data, err := Materialize(ctx, f)
	if err != nil {
		return storage.Descriptor{}, rn.fail(KindIO, err)
	}
	if err := rn.advance(StateBuffered); err != nil {
		return storage.Descriptor{}, rn.fail(KindIO, err)
	}

	start := time.Now()
	desc, err := s.gateway.Submit(ctx, data, storage.ProfileFor(rn.kind)).Wait(ctx)
	s.observer.RecordUpload(rn.kind, time.Since(start), desc.Bytes, err)
	if err != nil {
		return storage.Descriptor{}, rn.fail(KindRemoteUpload, err)
	}

	s.logger.Debug("remote upload completed",
		slog.String("request_id", rn.id),
		slog.String("public_id", desc.PublicID),
		slog.Int64("bytes", desc.Bytes),
	)

	if err := rn.advance(StateUploaded); err != nil {
		return storage.Descriptor{}, rn.fail(KindRemoteUpload, err)
	}
	return desc, nil
}

// persist writes the metadata record. It runs detached from client
// cancellation so a disconnect after upload does not lose the record.
func (s *Service) persist(ctx context.Context, fields asset.Fields, desc storage.Descriptor) (*asset.Record, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()

	start := time.Now()
	rec, err := s.insert(ctx, fields, desc)
	s.observer.RecordPersist(time.Since(start), err)
	return rec, err
}

func (s *Service) insert(ctx context.Context, fields asset.Fields, desc storage.Descriptor) (*asset.Record, error) {
	conn, err := s.store.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire store connection: %w", err)
	}
	defer conn.Release()

	rec := asset.NewRecord(fields, desc.PublicID, desc.Bytes, desc.Duration)
	if err := conn.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("insert record: %w", err)
	}
	return rec, nil
}

// finish logs the run outcome at the orchestrator boundary.
func (s *Service) finish(rn *run) {
	elapsed := time.Since(rn.startedAt)
	if rn.err == nil {
		s.observer.RecordOutcome(rn.kind, "ok")
		s.logger.Info("upload completed",
			slog.String("request_id", rn.id),
			slog.String("kind", string(rn.kind)),
			slog.String("principal", rn.principal),
			slog.Duration("elapsed", elapsed),
		)
		return
	}

	s.observer.RecordOutcome(rn.kind, string(rn.err.Kind))
	level := slog.LevelError
	if rn.err.Kind.Status() < http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	s.logger.Log(context.Background(), level, "upload failed",
		slog.String("request_id", rn.id),
		slog.String("kind", string(rn.kind)),
		slog.String("error_kind", string(rn.err.Kind)),
		slog.String("stage", string(rn.err.Stage)),
		slog.String("error", rn.err.Err.Error()),
		slog.Duration("elapsed", elapsed),
	)
}

// cleanupForm removes temporary files spilled by multipart parsing.
func cleanupForm(r *http.Request) {
	if r.MultipartForm != nil {
		_ = r.MultipartForm.RemoveAll()
	}
}
