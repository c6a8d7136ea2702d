package media

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/sambrabizz-star/thevideo/internal/observability/metrics"
)

const testURL = "https://www.tiktok.com/@u/video/1"

// fakeDownloader emulates the extractor's file-output mode: it finds the -o
// argument and writes size bytes there.
func fakeDownloader(t *testing.T, dir string, size int) string {
	t.Helper()
	return writeTool(t, dir, "fake-ytdlp", `
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-o" ]; then out="$a"; fi
  prev="$a"
done
head -c `+strconv.Itoa(size)+` /dev/zero > "$out"
`)
}

// fakeEncoder emulates the transcoder: its last argument is the output path.
func fakeEncoder(t *testing.T, dir string, size int) string {
	t.Helper()
	return writeTool(t, dir, "fake-ffmpeg", `
for a in "$@"; do out="$a"; done
head -c `+strconv.Itoa(size)+` /dev/zero > "$out"
`)
}

func newTestPipeline(t *testing.T, cfg Config) (*Pipeline, *metrics.Recorder) {
	t.Helper()
	rec := metrics.New()
	cfg.Logger = discardLogger()
	cfg.Metrics = rec
	if cfg.WorkDir == "" {
		cfg.WorkDir = t.TempDir()
	}
	return NewPipeline(cfg), rec
}

func TestStreamVideoRelaysExtractorOutput(t *testing.T) {
	dir := t.TempDir()
	tool := writeTool(t, dir, "stream-ok", `head -c 20000 /dev/zero`)
	p, rec := newTestPipeline(t, Config{YTDLP: tool})

	var out bytes.Buffer
	n, err := p.StreamVideo(context.Background(), testURL, &out)
	if err != nil {
		t.Fatalf("StreamVideo: %v", err)
	}
	if n != 20000 || out.Len() != 20000 {
		t.Fatalf("relayed %d bytes (buffer %d), want 20000", n, out.Len())
	}

	events, active := rec.TaskCounts()
	if active != 0 {
		t.Fatalf("active tasks = %d after completion", active)
	}
	if events[metrics.TaskLabel{Kind: "video", Status: "completed"}] != 1 {
		t.Fatalf("unexpected task events: %v", events)
	}
}

func TestStreamVideoWrapsExtractorFailure(t *testing.T) {
	dir := t.TempDir()
	tool := writeTool(t, dir, "stream-fail", `echo "ERROR: gone" >&2; exit 2`)
	p, _ := newTestPipeline(t, Config{YTDLP: tool})

	var out bytes.Buffer
	_, err := p.StreamVideo(context.Background(), testURL, &out)
	if !errors.Is(err, ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
}

func TestStreamVideoTimesOut(t *testing.T) {
	dir := t.TempDir()
	tool := writeTool(t, dir, "stream-hang", `sleep 10`)
	p, rec := newTestPipeline(t, Config{YTDLP: tool, ExecTimeout: 100 * time.Millisecond})

	var out bytes.Buffer
	start := time.Now()
	_, err := p.StreamVideo(context.Background(), testURL, &out)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("stream did not stop at deadline, took %s", elapsed)
	}

	events, active := rec.TaskCounts()
	if active != 0 {
		t.Fatalf("active tasks = %d after timeout", active)
	}
	if events[metrics.TaskLabel{Kind: "video", Status: "timeout"}] != 1 {
		t.Fatalf("unexpected task events: %v", events)
	}
}

func TestStreamVideoStopsWhenClientDisconnects(t *testing.T) {
	dir := t.TempDir()
	tool := writeTool(t, dir, "stream-slow", `head -c 100 /dev/zero; sleep 10`)
	p, _ := newTestPipeline(t, Config{YTDLP: tool})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	var out bytes.Buffer
	start := time.Now()
	_, err := p.StreamVideo(ctx, testURL, &out)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("extractor not reaped after disconnect, took %s", elapsed)
	}
}

func TestPrepareAudioStagesEncodedFile(t *testing.T) {
	tools := t.TempDir()
	work := t.TempDir()
	p, rec := newTestPipeline(t, Config{
		YTDLP:   fakeDownloader(t, tools, 4096),
		FFmpeg:  fakeEncoder(t, tools, 4096),
		WorkDir: work,
	})

	audio, err := p.PrepareAudio(context.Background(), testURL)
	if err != nil {
		t.Fatalf("PrepareAudio: %v", err)
	}
	if audio.Size != 4096 {
		t.Fatalf("staged size = %d, want 4096", audio.Size)
	}

	var out bytes.Buffer
	n, err := audio.Stream(context.Background(), &out)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if n != 4096 {
		t.Fatalf("streamed %d bytes, want 4096", n)
	}

	if err := audio.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := audio.Close(); err != nil {
		t.Fatalf("second Close must be a no-op, got %v", err)
	}
	if _, err := os.Stat(audio.Path); !os.IsNotExist(err) {
		t.Fatal("staged file still present after Close")
	}
	assertWorkDirEmpty(t, work)

	events, active := rec.TaskCounts()
	if active != 0 {
		t.Fatalf("active tasks = %d after close", active)
	}
	if events[metrics.TaskLabel{Kind: "audio", Status: "completed"}] != 1 {
		t.Fatalf("unexpected task events: %v", events)
	}
}

func TestPrepareAudioRejectsUndersizedOutput(t *testing.T) {
	tools := t.TempDir()
	work := t.TempDir()
	p, _ := newTestPipeline(t, Config{
		YTDLP:   fakeDownloader(t, tools, 4096),
		FFmpeg:  fakeEncoder(t, tools, 100),
		WorkDir: work,
	})

	_, err := p.PrepareAudio(context.Background(), testURL)
	if !errors.Is(err, ErrEncode) {
		t.Fatalf("expected ErrEncode, got %v", err)
	}
	assertWorkDirEmpty(t, work)
}

func TestPrepareAudioWrapsDownloadFailure(t *testing.T) {
	tools := t.TempDir()
	work := t.TempDir()
	failing := writeTool(t, tools, "dl-fail", `echo "ERROR: private video" >&2; exit 1`)
	p, _ := newTestPipeline(t, Config{
		YTDLP:   failing,
		FFmpeg:  fakeEncoder(t, tools, 4096),
		WorkDir: work,
	})

	_, err := p.PrepareAudio(context.Background(), testURL)
	if !errors.Is(err, ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
	assertWorkDirEmpty(t, work)
}

func TestPrepareAudioWrapsEncodeFailure(t *testing.T) {
	tools := t.TempDir()
	work := t.TempDir()
	failing := writeTool(t, tools, "enc-fail", `echo "invalid data" >&2; exit 1`)
	p, _ := newTestPipeline(t, Config{
		YTDLP:   fakeDownloader(t, tools, 4096),
		FFmpeg:  failing,
		WorkDir: work,
	})

	_, err := p.PrepareAudio(context.Background(), testURL)
	if !errors.Is(err, ErrEncode) {
		t.Fatalf("expected ErrEncode, got %v", err)
	}
	assertWorkDirEmpty(t, work)
}

func TestPrepareAudioTimesOut(t *testing.T) {
	tools := t.TempDir()
	work := t.TempDir()
	hanging := writeTool(t, tools, "dl-hang", `sleep 10`)
	p, _ := newTestPipeline(t, Config{
		YTDLP:       hanging,
		FFmpeg:      fakeEncoder(t, tools, 4096),
		WorkDir:     work,
		ExecTimeout: 100 * time.Millisecond,
	})

	start := time.Now()
	_, err := p.PrepareAudio(context.Background(), testURL)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("download not reaped at deadline, took %s", elapsed)
	}
	assertWorkDirEmpty(t, work)
}

func TestPipelineBoundsConcurrentTasks(t *testing.T) {
	dir := t.TempDir()
	tool := writeTool(t, dir, "stream-hold", `sleep 10`)
	p, _ := newTestPipeline(t, Config{
		YTDLP:         tool,
		MaxConcurrent: 1,
		ExecTimeout:   30 * time.Second,
	})

	started := make(chan struct{})
	go func() {
		close(started)
		var out bytes.Buffer
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = p.StreamVideo(ctx, testURL, &out)
	}()
	<-started
	time.Sleep(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	var out bytes.Buffer
	_, err := p.StreamVideo(ctx, testURL, &out)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected admission to block until context expiry, got %v", err)
	}
}

func assertWorkDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read workdir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("workdir not cleaned, %d entries remain", len(entries))
	}
}
