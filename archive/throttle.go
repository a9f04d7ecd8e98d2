package archive

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// Throttle limits the rate at which a reads segment bytes.
// A non-positive bytesPerSec returns a unchanged.
func Throttle(a Archiver, bytesPerSec int) Archiver {
	if bytesPerSec <= 0 {
		return a
	}
	return &throttled{
		inner:   a,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec),
	}
}

type throttled struct {
	inner   Archiver
	limiter *rate.Limiter
}

func (t *throttled) Archive(ctx context.Context, obj Object) error {
	return t.inner.Archive(ctx, obj.WithOpener(func() (io.ReadCloser, error) {
		rc, err := obj.Open()
		if err != nil {
			return nil, err
		}
		return &limitedReader{ctx: ctx, rc: rc, limiter: t.limiter}, nil
	}))
}

type limitedReader struct {
	ctx     context.Context
	rc      io.ReadCloser
	limiter *rate.Limiter
}

func (r *limitedReader) Read(p []byte) (int, error) {
	if burst := r.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := r.rc.Read(p)
	if n > 0 {
		if werr := r.limiter.WaitN(r.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

func (r *limitedReader) Close() error {
	return r.rc.Close()
}
