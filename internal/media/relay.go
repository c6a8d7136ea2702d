package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// chunkSize is the relay granularity: small enough that the first chunk
// reaches the client while the source is still being fetched, large enough to
// keep syscall overhead negligible.
const chunkSize = 8 * 1024

// relayChunks copies src to dst in fixed-size chunks, flushing after each
// write when dst supports it. A write failure means the client went away and
// is reported as ErrCancelled; a read failure is returned as-is. The context
// is checked between chunks so an expired deadline stops the relay promptly.
func relayChunks(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	flusher, _ := dst.(http.Flusher)
	buf := make([]byte, chunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			wn, writeErr := dst.Write(buf[:n])
			written += int64(wn)
			if writeErr != nil {
				return written, fmt.Errorf("%w: %v", ErrCancelled, writeErr)
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}
