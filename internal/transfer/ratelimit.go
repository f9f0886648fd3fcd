package transfer

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// rateLimitBurst is the most a single Read may return. It equals
// DefaultChunkSize so an unmodified engine pays one WaitN per chunk.
const rateLimitBurst = DefaultChunkSize

// RateLimitedReader throttles the source side of the engine's chunk loop.
//
// The engine fills each chunk with io.ReadFull, so a ChunkSize larger than
// the burst is assembled from several capped Reads, each waiting for its
// own tokens. Chunk boundaries, progress and cancellation checks are
// unchanged; only the time to fill a chunk grows. A ChunkSize below the
// burst costs one wait per chunk.
type RateLimitedReader struct {
	ctx     context.Context
	src     io.Reader
	limiter *rate.Limiter
}

// NewRateLimitedReader limits src to bytesPerSecond. A non-positive limit
// returns src unwrapped.
func NewRateLimitedReader(ctx context.Context, src io.Reader, bytesPerSecond int64) io.Reader {
	if bytesPerSecond <= 0 {
		return src
	}
	return &RateLimitedReader{
		ctx:     ctx,
		src:     src,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), rateLimitBurst),
	}
}

// Read reads at most rateLimitBurst bytes and then waits until the limiter
// admits them. A cancelled ctx stops both the read and the wait.
func (r *RateLimitedReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	if len(p) > rateLimitBurst {
		p = p[:rateLimitBurst]
	}

	n, err := r.src.Read(p)
	if n > 0 {
		if werr := r.limiter.WaitN(r.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
