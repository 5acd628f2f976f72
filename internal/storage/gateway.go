package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// AbandonFunc is called when an upload succeeds after its waiter gave up.
// The object exists remotely but nothing will record it.
type AbandonFunc func(desc Descriptor, profile Profile)

// Gateway submits uploads to an Uploader. Each Submit starts exactly one
// upload and never retries it.
type Gateway struct {
	uploader  Uploader
	timeout   time.Duration
	onAbandon AbandonFunc
	logger    *slog.Logger
}

// GatewayOption is a function that configures a Gateway.
type GatewayOption func(*Gateway)

// WithTimeout bounds how long an upload may run. Zero disables the bound.
func WithTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.timeout = d
	}
}

// WithAbandonHandler sets the callback for uploads that complete after
// their waiter returned.
func WithAbandonHandler(fn AbandonFunc) GatewayOption {
	return func(g *Gateway) {
		g.onAbandon = fn
	}
}

// NewGateway creates a Gateway around uploader.
func NewGateway(uploader Uploader, logger *slog.Logger, opts ...GatewayOption) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		uploader: uploader,
		timeout:  5 * time.Minute,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type uploadResult struct {
	desc Descriptor
	err  error
}

// Pending is an upload in flight. Its result is delivered exactly once.
type Pending struct {
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan uploadResult
	profile Profile
	waited  atomic.Bool
	gateway *Gateway
}

// Submit starts uploading data with profile and returns immediately.
// The upload runs under ctx, bounded by the gateway timeout.
func (g *Gateway) Submit(ctx context.Context, data []byte, profile Profile) *Pending {
	var cancel context.CancelFunc
	if g.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	p := &Pending{
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan uploadResult, 1),
		profile: profile,
		gateway: g,
	}

	go func() {
		desc, err := g.uploader.Upload(ctx, data, profile)
		if err == nil && desc.PublicID == "" {
			err = ErrNoPublicID
		}
		p.done <- uploadResult{desc: desc, err: err}
	}()

	return p
}

// Wait blocks until the upload resolves, the upload deadline passes, or ctx
// is done. Errors wrap ErrUploadFailed. Wait may only be called once.
func (p *Pending) Wait(ctx context.Context) (Descriptor, error) {
	if !p.waited.CompareAndSwap(false, true) {
		return Descriptor{}, ErrAlreadyWaited
	}

	select {
	case res := <-p.done:
		p.cancel()
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				return Descriptor{}, fmt.Errorf("%w: %w: %w", ErrUploadFailed, ErrUploadTimeout, res.err)
			}
			return Descriptor{}, fmt.Errorf("%w: %w", ErrUploadFailed, res.err)
		}
		return res.desc, nil
	case <-p.ctx.Done():
		return Descriptor{}, p.abandon(p.ctx.Err())
	case <-ctx.Done():
		return Descriptor{}, p.abandon(ctx.Err())
	}
}

// abandon stops waiting, cancels the upload and hands any late success to
// the abandon handler.
func (p *Pending) abandon(cause error) error {
	p.cancel()
	go p.drain()
	if errors.Is(cause, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w: %w", ErrUploadFailed, ErrUploadTimeout, cause)
	}
	return fmt.Errorf("%w: %w", ErrUploadFailed, cause)
}

func (p *Pending) drain() {
	res := <-p.done
	if res.err != nil {
		return
	}
	g := p.gateway
	g.logger.Warn("upload completed after waiter gave up",
		slog.String("public_id", res.desc.PublicID),
		slog.String("resource_type", p.profile.ResourceType),
	)
	if g.onAbandon != nil {
		g.onAbandon(res.desc, p.profile)
	}
}
