package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
)

// Materialize reads the whole file into memory. It stops early when ctx is
// done.
func Materialize(ctx context.Context, f File) ([]byte, error) {
	if f.Content == nil {
		return nil, newError(KindIO, fmt.Errorf("materialize %q: no content", f.Name))
	}
	if err := ctx.Err(); err != nil {
		return nil, newError(KindIO, fmt.Errorf("materialize %q: %w", f.Name, err))
	}

	var buf bytes.Buffer
	if f.Size > 0 {
		buf.Grow(int(f.Size))
	}
	if _, err := buf.ReadFrom(&ctxReader{ctx: ctx, r: f.Content}); err != nil {
		return nil, newError(KindIO, fmt.Errorf("materialize %q: %w", f.Name, err))
	}
	return buf.Bytes(), nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
