package media

import "errors"

var (
	// ErrUnsupportedURL marks URLs outside the supported source domains.
	ErrUnsupportedURL = errors.New("unsupported media url")

	// ErrExtraction covers failures of the external extraction tool: source
	// unreachable, content removed, or unusable output. The tool's stderr is
	// logged server-side and never attached to this error's client-facing text.
	ErrExtraction = errors.New("media extraction failed")

	// ErrEncode marks transcoder failures, including output below the sanity
	// floor that distinguishes corrupt output from a genuine file.
	ErrEncode = errors.New("audio encode failed")

	// ErrTimeout marks an external tool exceeding its execution deadline.
	ErrTimeout = errors.New("media tool deadline exceeded")

	// ErrCancelled marks transfers abandoned by the client before completion.
	ErrCancelled = errors.New("transfer cancelled by client")
)
