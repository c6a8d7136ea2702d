package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// TaskLabel identifies a media task lifecycle event by pipeline kind
// (video, audio, probe) and terminal status (completed, failed, cancelled,
// timeout).
type TaskLabel struct {
	Kind   string
	Status string
}

// Recorder aggregates in-memory metrics counters and gauges for HTTP
// requests, media task lifecycle events, and quota decisions. It coordinates
// concurrent writers via a RWMutex while exposing a thread-safe gauge for
// active task tracking.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	taskEvents      map[TaskLabel]uint64
	quotaDecisions  map[string]uint64
	activeTasks     atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		taskEvents:      make(map[TaskLabel]uint64),
		quotaDecisions:  make(map[string]uint64),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// TaskStarted increments the active task gauge for a newly admitted pipeline.
func (r *Recorder) TaskStarted() {
	r.activeTasks.Add(1)
}

// TaskFinished records the terminal status of a media task and decrements the
// active gauge, guarding against negative counts when concurrent updates race.
func (r *Recorder) TaskFinished(kind, status string) {
	r.mu.Lock()
	r.taskEvents[TaskLabel{Kind: kind, Status: status}]++
	r.mu.Unlock()
	for {
		current := r.activeTasks.Load()
		if current <= 0 {
			return
		}
		if r.activeTasks.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// QuotaDecision accumulates quota outcomes (allowed, rejected, error).
func (r *Recorder) QuotaDecision(outcome string) {
	r.mu.Lock()
	r.quotaDecisions[outcome]++
	r.mu.Unlock()
}

// TaskCounts returns copies of task event counters and the current active
// task gauge value.
func (r *Recorder) TaskCounts() (events map[TaskLabel]uint64, active int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events = make(map[TaskLabel]uint64, len(r.taskEvents))
	for k, v := range r.taskEvents {
		events[k] = v
	}
	return events, r.activeTasks.Load()
}

// QuotaCounts returns a copy of the quota decision counters.
func (r *Recorder) QuotaCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]uint64, len(r.quotaDecisions))
	for k, v := range r.quotaDecisions {
		out[k] = v
	}
	return out
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.taskEvents = make(map[TaskLabel]uint64)
	r.quotaDecisions = make(map[string]uint64)
	r.activeTasks.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	taskLabels := r.sortedTaskLabels()
	quotaOutcomes := r.sortedQuotaOutcomes()

	fmt.Fprintln(w, "# HELP thevideo_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE thevideo_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "thevideo_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP thevideo_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE thevideo_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "thevideo_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP thevideo_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE thevideo_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "thevideo_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP thevideo_media_tasks_total Media task lifecycle events by pipeline kind and terminal status")
	fmt.Fprintln(w, "# TYPE thevideo_media_tasks_total counter")
	for _, label := range taskLabels {
		count := r.taskEvents[label]
		fmt.Fprintf(w, "thevideo_media_tasks_total{kind=\"%s\",status=\"%s\"} %d\n", label.Kind, label.Status, count)
	}

	fmt.Fprintln(w, "# HELP thevideo_active_media_tasks Current number of in-flight media pipelines")
	fmt.Fprintln(w, "# TYPE thevideo_active_media_tasks gauge")
	fmt.Fprintf(w, "thevideo_active_media_tasks %d\n", r.activeTasks.Load())

	fmt.Fprintln(w, "# HELP thevideo_quota_decisions_total Quota ledger outcomes by decision")
	fmt.Fprintln(w, "# TYPE thevideo_quota_decisions_total counter")
	for _, outcome := range quotaOutcomes {
		count := r.quotaDecisions[outcome]
		fmt.Fprintf(w, "thevideo_quota_decisions_total{decision=\"%s\"} %d\n", outcome, count)
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedTaskLabels() []TaskLabel {
	labels := make([]TaskLabel, 0, len(r.taskEvents))
	for label := range r.taskEvents {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Kind != labels[j].Kind {
			return labels[i].Kind < labels[j].Kind
		}
		return labels[i].Status < labels[j].Status
	})
	return labels
}

func (r *Recorder) sortedQuotaOutcomes() []string {
	outcomes := make([]string, 0, len(r.quotaDecisions))
	for outcome := range r.quotaDecisions {
		outcomes = append(outcomes, outcome)
	}
	sort.Strings(outcomes)
	return outcomes
}

// normalizePath keeps metric cardinality bounded by collapsing unknown paths
// into a single bucket. All API routes in this service are static.
func normalizePath(path string) string {
	switch path {
	case "/media/stream", "/media/info", "/media/audio", "/health", "/metrics":
		return path
	default:
		if path == "" || path == "/" {
			return "/"
		}
		return "other"
	}
}
