package media

import (
	"strings"
	"sync"
)

// DefaultUserAgent is presented to the source site by the extraction tool.
// Mobile Safari is the least-throttled client profile for the source.
const DefaultUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) " +
	"AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Mobile/15E148 Safari/604.1"

const stderrCaptureLimit = 8 * 1024

// limitedBuffer captures the head of a subprocess stderr stream for logging.
// Writes past the limit are accepted and discarded so the subprocess never
// blocks on a full pipe.
type limitedBuffer struct {
	mu        sync.Mutex
	data      []byte
	truncated bool
}

func newLimitedBuffer() *limitedBuffer {
	return &limitedBuffer{data: make([]byte, 0, 512)}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := stderrCaptureLimit - len(b.data)
	if remaining > 0 {
		if len(p) > remaining {
			b.data = append(b.data, p[:remaining]...)
			b.truncated = true
		} else {
			b.data = append(b.data, p...)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

// Summary returns the captured stderr as a single log-friendly line.
func (b *limitedBuffer) Summary() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := strings.TrimSpace(string(b.data))
	s = strings.ReplaceAll(s, "\n", " | ")
	if b.truncated {
		s += " ...(truncated)"
	}
	return s
}
