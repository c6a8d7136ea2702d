package media

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sambrabizz-star/thevideo/internal/observability/logging"
	"github.com/sambrabizz-star/thevideo/internal/observability/metrics"
)

const (
	defaultExecTimeout   = 10 * time.Minute
	defaultMaxConcurrent = 4

	// minAudioBytes is the sanity floor for encoder output. Anything smaller
	// is a container header without audio frames and is treated as a failed
	// encode rather than served to the client.
	minAudioBytes = 1024
)

const (
	statusCompleted = "completed"
	statusFailed    = "failed"
	statusCancelled = "cancelled"
	statusTimeout   = "timeout"
)

type taskState int32

const (
	stateIdle taskState = iota
	stateDownloading
	stateTranscoding
	stateStreaming
	stateDone
)

func (s taskState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateDownloading:
		return "downloading"
	case stateTranscoding:
		return "transcoding"
	case stateStreaming:
		return "streaming"
	case stateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Config carries the pipeline's tool paths and operational limits. Zero
// values fall back to tools on PATH, the system temp directory, and the
// package defaults.
type Config struct {
	YTDLP         string
	FFmpeg        string
	WorkDir       string
	UserAgent     string
	ExecTimeout   time.Duration
	MaxConcurrent int64
	Logger        *slog.Logger
	Metrics       *metrics.Recorder
}

// Pipeline runs the media retrieval flows. Admission is bounded by a
// weighted semaphore so a burst of requests cannot fork an unbounded number
// of extractor processes.
type Pipeline struct {
	ytdlp     string
	ffmpeg    string
	workDir   string
	userAgent string
	timeout   time.Duration
	sem       *semaphore.Weighted
	logger    *slog.Logger
	metrics   *metrics.Recorder
}

func NewPipeline(cfg Config) *Pipeline {
	if cfg.YTDLP == "" {
		cfg.YTDLP = "yt-dlp"
	}
	if cfg.FFmpeg == "" {
		cfg.FFmpeg = "ffmpeg"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = defaultExecTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default()
	}
	return &Pipeline{
		ytdlp:     cfg.YTDLP,
		ffmpeg:    cfg.FFmpeg,
		workDir:   cfg.WorkDir,
		userAgent: cfg.UserAgent,
		timeout:   cfg.ExecTimeout,
		sem:       semaphore.NewWeighted(cfg.MaxConcurrent),
		logger:    logging.WithComponent(cfg.Logger, "media.pipeline"),
		metrics:   cfg.Metrics,
	}
}

// Task tracks one retrieval's subprocesses and working directory so every
// exit path can reap and remove them exactly once.
type Task struct {
	id      string
	kind    string
	logger  *slog.Logger
	metrics *metrics.Recorder
	release func()

	state atomic.Int32

	mu    sync.Mutex
	dir   string
	procs map[*exec.Cmd]context.CancelFunc

	finishOnce  sync.Once
	cleanupOnce sync.Once
	cleanupErr  error
}

func (p *Pipeline) newTask(kind string) *Task {
	id := newTaskID()
	p.metrics.TaskStarted()
	return &Task{
		id:      id,
		kind:    kind,
		logger:  p.logger.With(slog.String("task_id", id), slog.String("kind", kind)),
		metrics: p.metrics,
		release: func() { p.sem.Release(1) },
		procs:   make(map[*exec.Cmd]context.CancelFunc),
	}
}

func newTaskID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("task-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

func (t *Task) transition(next taskState) {
	t.state.Store(int32(next))
	t.logger.Debug("task state", slog.String("state", next.String()))
}

func (t *Task) setDir(dir string) {
	t.mu.Lock()
	t.dir = dir
	t.mu.Unlock()
}

func (t *Task) track(cmd *exec.Cmd, cancel context.CancelFunc) {
	t.mu.Lock()
	t.procs[cmd] = cancel
	t.mu.Unlock()
}

func (t *Task) untrack(cmd *exec.Cmd) {
	t.mu.Lock()
	delete(t.procs, cmd)
	t.mu.Unlock()
}

// run executes a tool to completion, classifying context expiry as timeout or
// cancellation and wrapping any other failure in base. The tool's stderr is
// logged here and never surfaces in the returned error.
func (t *Task) run(ctx context.Context, cancel context.CancelFunc, base error, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := newLimitedBuffer()
	cmd.Stderr = stderr
	t.track(cmd, cancel)
	err := cmd.Run()
	t.untrack(cmd)
	if err == nil {
		return nil
	}
	tool := filepath.Base(name)
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		return fmt.Errorf("%w: %s exceeded deadline", ErrTimeout, tool)
	case ctx.Err() == context.Canceled:
		return fmt.Errorf("%w: %s interrupted", ErrCancelled, tool)
	}
	t.logger.Warn("tool exited nonzero",
		slog.String("tool", tool),
		slog.String("stderr", stderr.Summary()))
	return fmt.Errorf("%w: %s exited: %v", base, tool, err)
}

// finish records the task's terminal status once. Later callers with a
// different status are ignored, so a cancel racing a completion keeps the
// first outcome.
func (t *Task) finish(status string, err error) {
	if t == nil {
		return
	}
	t.finishOnce.Do(func() {
		t.transition(stateDone)
		t.metrics.TaskFinished(t.kind, status)
		if err != nil {
			t.logger.Warn("task finished", slog.String("status", status), slog.Any("error", err))
			return
		}
		t.logger.Info("task finished", slog.String("status", status))
	})
}

// cleanup reaps any still-running subprocess, removes the working directory,
// and releases the admission slot. It is safe to call from any exit path and
// any number of times.
func (t *Task) cleanup() error {
	if t == nil {
		return nil
	}
	t.cleanupOnce.Do(func() {
		t.mu.Lock()
		procs := t.procs
		t.procs = nil
		dir := t.dir
		t.mu.Unlock()
		for cmd, cancel := range procs {
			cancel()
			_ = cmd.Wait()
		}
		if dir != "" {
			if err := os.RemoveAll(dir); err != nil {
				t.cleanupErr = fmt.Errorf("remove workdir: %w", err)
			}
		}
		if t.release != nil {
			t.release()
		}
	})
	return t.cleanupErr
}

func statusFor(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return statusTimeout
	case errors.Is(err, ErrCancelled):
		return statusCancelled
	default:
		return statusFailed
	}
}

// StreamVideo launches the extractor with its output piped straight to dst
// and relays it chunk by chunk. The caller is expected to have written
// response headers already; errors after the first byte can only be logged.
// Returns the number of bytes relayed.
func (p *Pipeline) StreamVideo(ctx context.Context, rawURL string, dst io.Writer) (int64, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return 0, fmt.Errorf("%w: admission: %v", ErrCancelled, err)
	}
	task := p.newTask("video")
	defer task.cleanup()

	ctx = logging.ContextWithTaskID(ctx, task.id)
	execCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, p.ytdlp,
		"-f", "bv*[ext=mp4][watermark!=true]/b[ext=mp4]",
		"-o", "-",
		"--merge-output-format", "mp4",
		"--no-part",
		"--quiet",
		"--no-warnings",
		"--no-check-certificates",
		"--user-agent", p.userAgent,
		rawURL,
	)
	stderr := newLimitedBuffer()
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		wrapped := fmt.Errorf("%w: stdout pipe: %v", ErrExtraction, err)
		task.finish(statusFailed, wrapped)
		return 0, wrapped
	}
	task.transition(stateDownloading)
	if err := cmd.Start(); err != nil {
		wrapped := fmt.Errorf("%w: extractor start: %v", ErrExtraction, err)
		task.finish(statusFailed, wrapped)
		return 0, wrapped
	}
	task.track(cmd, cancel)
	task.transition(stateStreaming)
	task.logger.Info("video stream started", slog.String("url", rawURL))

	written, relayErr := relayChunks(execCtx, dst, stdout)
	if relayErr != nil {
		// Kill the extractor before Wait so a stuck download cannot hold the
		// slot after the client is gone.
		cancel()
	}
	waitErr := cmd.Wait()
	task.untrack(cmd)

	var streamErr error
	switch {
	case execCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
		streamErr = fmt.Errorf("%w: stream exceeded %s", ErrTimeout, p.timeout)
	case ctx.Err() != nil:
		streamErr = fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	case errors.Is(relayErr, ErrCancelled):
		streamErr = relayErr
	case relayErr != nil:
		streamErr = fmt.Errorf("%w: relay: %v", ErrExtraction, relayErr)
	case waitErr != nil:
		task.logger.Warn("extractor exited nonzero",
			slog.Int64("bytes_relayed", written),
			slog.String("stderr", stderr.Summary()))
		streamErr = fmt.Errorf("%w: extractor exited: %v", ErrExtraction, waitErr)
	}
	if streamErr != nil {
		task.finish(statusFor(streamErr), streamErr)
		return written, streamErr
	}
	task.finish(statusCompleted, nil)
	return written, nil
}

// AudioFile is a finished audio transcode staged on disk. Close releases the
// working directory and the pipeline slot; callers must always Close, even
// after a Stream error.
type AudioFile struct {
	Path string
	Size int64
	task *Task
}

// Stream relays the staged file to dst in chunks.
func (f *AudioFile) Stream(ctx context.Context, dst io.Writer) (int64, error) {
	if f.task != nil {
		f.task.transition(stateStreaming)
	}
	src, err := os.Open(f.Path)
	if err != nil {
		wrapped := fmt.Errorf("%w: open staged audio: %v", ErrEncode, err)
		f.task.finish(statusFailed, wrapped)
		return 0, wrapped
	}
	defer src.Close()
	written, relayErr := relayChunks(ctx, dst, src)
	if relayErr != nil {
		f.task.finish(statusFor(relayErr), relayErr)
		return written, relayErr
	}
	f.task.finish(statusCompleted, nil)
	return written, nil
}

// Close tears down the task. Idempotent.
func (f *AudioFile) Close() error {
	f.task.finish(statusCancelled, nil)
	return f.task.cleanup()
}

// PrepareAudio downloads the source video into a private working directory,
// transcodes it to MP3, and returns the staged result. The full download is
// unavoidable: the transcoder needs a seekable input, so unlike the video
// path nothing is sent to the client until the encode finishes.
func (p *Pipeline) PrepareAudio(ctx context.Context, rawURL string) (*AudioFile, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: admission: %v", ErrCancelled, err)
	}
	task := p.newTask("audio")
	ctx = logging.ContextWithTaskID(ctx, task.id)

	fail := func(err error) (*AudioFile, error) {
		task.finish(statusFor(err), err)
		if cerr := task.cleanup(); cerr != nil {
			task.logger.Warn("cleanup failed", slog.Any("error", cerr))
		}
		return nil, err
	}

	dir, err := os.MkdirTemp(p.workDir, "media-task-")
	if err != nil {
		return fail(fmt.Errorf("%w: workdir: %v", ErrEncode, err))
	}
	task.setDir(dir)

	execCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	source := filepath.Join(dir, "source.mp4")
	task.transition(stateDownloading)
	task.logger.Info("audio download started", slog.String("url", rawURL))
	if err := task.run(execCtx, cancel, ErrExtraction, p.ytdlp,
		"-f", "b[ext=mp4]/b",
		"-o", source,
		"--no-part",
		"--quiet",
		"--no-warnings",
		"--no-check-certificates",
		"--user-agent", p.userAgent,
		rawURL,
	); err != nil {
		return fail(err)
	}

	out := filepath.Join(dir, "audio.mp3")
	task.transition(stateTranscoding)
	if err := task.run(execCtx, cancel, ErrEncode, p.ffmpeg,
		"-y",
		"-loglevel", "error",
		"-i", source,
		"-vn",
		"-codec:a", "libmp3lame",
		"-qscale:a", "2",
		out,
	); err != nil {
		return fail(err)
	}

	info, err := os.Stat(out)
	if err != nil {
		return fail(fmt.Errorf("%w: encoder produced no output", ErrEncode))
	}
	if info.Size() < minAudioBytes {
		return fail(fmt.Errorf("%w: output %d bytes below sanity floor", ErrEncode, info.Size()))
	}

	task.logger.Info("audio staged", slog.Int64("bytes", info.Size()))
	return &AudioFile{Path: out, Size: info.Size(), task: task}, nil
}
