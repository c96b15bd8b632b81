// Package collector implements the crash submission pipeline: payload
// extraction, throttling, crash ID assignment, and the queue of
// background save workers that push accepted reports into storage.
package collector

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/breakwater/internal/logger"
	"github.com/marmos91/breakwater/pkg/crash"
	"github.com/marmos91/breakwater/pkg/crashid"
	"github.com/marmos91/breakwater/pkg/metrics"
	"github.com/marmos91/breakwater/pkg/payload"
	"github.com/marmos91/breakwater/pkg/storage"
	"github.com/marmos91/breakwater/pkg/throttle"
)

// DefaultConcurrentSaves is the default save worker pool size.
const DefaultConcurrentSaves = 10

// heartbeatInterval is how often queue and pool gauges are emitted.
const heartbeatInterval = 30 * time.Second

// Config holds the submission pipeline configuration.
type Config struct {
	// DumpField is the conventional name of the primary dump field in
	// the POST data. Informational; retained for compatibility with
	// agent configurations.
	DumpField string

	// DumpIDPrefix is prepended to the crash ID in the response body.
	// With '-' stripped it also becomes the report's type_tag.
	DumpIDPrefix string

	// ConcurrentSaves bounds the number of save workers. Minimum 1.
	ConcurrentSaves int

	// QueueMaxDepth optionally caps the save queue. 0 means unbounded
	// (the default); with a cap, new reports arriving at a full queue
	// are dropped after responding, which trades the retry guarantee
	// for bounded memory.
	QueueMaxDepth int
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		DumpField:       "upload_file_minidump",
		DumpIDPrefix:    "bp-",
		ConcurrentSaves: DefaultConcurrentSaves,
	}
}

// Submitter handles incoming crash report POSTs and saves accepted
// reports to crash storage.
//
// The handler parses the multipart payload (transparently gunzipping),
// throttles, assigns a crash ID, responds to the client, and enqueues
// the report. Save workers drain the queue concurrently, requeueing any
// report whose save fails. From receipt to successful save the whole
// report sits in memory; operators size ConcurrentSaves and expected
// queue depth against the per-report memory budget.
type Submitter struct {
	cfg       Config
	storage   storage.CrashStorage
	throttler throttle.Throttler
	metrics   metrics.Sink
	parser    *payload.Parser

	queue *SaveQueue

	poolMu sync.Mutex
	active int
	wg     sync.WaitGroup

	heartbeatOnce sync.Once
	heartbeatStop chan struct{}

	// now is the clock; overridable in tests.
	now func() time.Time
}

// NewSubmitter creates the submission pipeline.
//
// storage and throttler are required. A nil sink disables metrics.
func NewSubmitter(cfg Config, store storage.CrashStorage, throttler throttle.Throttler, sink metrics.Sink) (*Submitter, error) {
	if cfg.ConcurrentSaves < 1 {
		return nil, fmt.Errorf("concurrent_saves must be at least 1, got %d", cfg.ConcurrentSaves)
	}
	if store == nil {
		return nil, fmt.Errorf("crash storage is required")
	}
	if throttler == nil {
		return nil, fmt.Errorf("throttler is required")
	}
	if sink == nil {
		sink = metrics.Nop{}
	}

	return &Submitter{
		cfg:           cfg,
		storage:       store,
		throttler:     throttler,
		metrics:       sink,
		parser:        payload.NewParser(sink),
		queue:         NewSaveQueue(),
		heartbeatStop: make(chan struct{}),
		now:           time.Now,
	}, nil
}

// HandlePost is the HTTP handler for crash submissions.
//
// Every POST is answered 200 with a text/plain body: either
// "CrashID=<prefix><id>\n" or "Discarded=1" for throttled-out reports.
// Content problems never surface as HTTP errors; a malformed payload
// still gets a crash ID over an empty report, which travels the normal
// pipeline.
func (s *Submitter) HandlePost(w http.ResponseWriter, req *http.Request) {
	start := s.now()
	defer func() {
		s.metrics.Timing("BreakpadSubmitterResource.on_post.time", time.Since(start))
	}()

	w.Header().Set("Content-Type", "text/plain")

	md, dumps := s.parser.Parse(req)

	s.metrics.Incr("incoming_crash")

	nowUTC := start.UTC()
	md[crash.KeySubmittedTimestamp] = nowUTC.Format(time.RFC3339Nano)
	md[crash.KeyTimestamp] = float64(nowUTC.UnixNano()) / float64(time.Second)

	// Throttle before generating the ID: the decision is encoded into
	// the ID's throttle marker, and all logging should carry the final
	// crash ID.
	decision, ruleName, _ := s.throttleResult(md)

	var crashID string
	if existing, ok := md[crash.KeyUUID].(string); ok && existing != "" {
		crashID = existing
		logger.Info("crash has existing crash id", "crash_id", crashID)
	} else {
		crashID = crashid.New(nowUTC, int(decision))
		md[crash.KeyUUID] = crashID
	}

	md[crash.KeyTypeTag] = strings.Trim(s.cfg.DumpIDPrefix, "-")

	logger.Info("throttle result",
		"crash_id", crashID,
		"rule", ruleName,
		"result", decision.String(),
	)

	switch decision {
	case throttle.Accept:
		s.metrics.Incr("throttle.accept")
	case throttle.Defer:
		s.metrics.Incr("throttle.defer")
	case throttle.Reject:
		s.metrics.Incr("throttle.reject")

		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "Discarded=1")
		return
	}

	s.enqueue(&crash.Report{Metadata: md, Dumps: dumps, CrashID: crashID})

	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "CrashID=%s%s\n", s.cfg.DumpIDPrefix, crashID)
}

// throttleResult decides the fate of a report.
//
// Pre-throttled reports (resubmissions carrying valid legacy_processing
// and throttle_rate) keep their original decision under the
// ALREADY_THROTTLED pseudo-rule. A Throttleable=0 hint forces
// acceptance. Everything else goes to the throttler. The final decision
// and rate are written back into the metadata.
func (s *Submitter) throttleResult(md crash.Metadata) (throttle.Decision, string, int) {
	decision, ruleName, rate, done := s.existingThrottleResult(md)
	if !done {
		if hint, ok := md[crash.KeyThrottleable].(string); ok && hint == "0" {
			s.metrics.Incr("throttleable_0")
			decision, ruleName, rate = throttle.Accept, "THROTTLEABLE_0", 100
		} else {
			decision, ruleName, rate = s.throttler.Throttle(md)
		}
	}

	md[crash.KeyLegacyProcessing] = int(decision)
	md[crash.KeyThrottleRate] = rate

	return decision, ruleName, rate
}

// existingThrottleResult extracts a prior throttle decision from the
// metadata. It applies only when both fields are present and valid;
// invalid values bump throttle.bad_throttle_values and are ignored.
func (s *Submitter) existingThrottleResult(md crash.Metadata) (throttle.Decision, string, int, bool) {
	rawDecision, hasDecision := md[crash.KeyLegacyProcessing]
	rawRate, hasRate := md[crash.KeyThrottleRate]
	if !hasDecision || !hasRate {
		return 0, "", 0, false
	}

	decisionInt, ok1 := metadataInt(rawDecision)
	rateInt, ok2 := metadataInt(rawRate)
	if ok1 && ok2 {
		if decision, valid := throttle.ParseDecision(decisionInt); valid && rateInt >= 0 && rateInt <= 100 {
			return decision, "ALREADY_THROTTLED", rateInt, true
		}
	}

	s.metrics.Incr("throttle.bad_throttle_values")
	return 0, "", 0, false
}

// metadataInt coerces a metadata value to an integer. Values arrive as
// strings from the multipart form but as ints once written back by this
// process.
func metadataInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case float64:
		if t != float64(int(t)) {
			return 0, false
		}
		return int(t), true
	case string:
		n, err := strconv.Atoi(t)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// enqueue adds a report to the save queue and spawns a worker if the
// pool has spare capacity.
func (s *Submitter) enqueue(r *crash.Report) {
	if s.cfg.QueueMaxDepth > 0 && s.queue.Len() >= s.cfg.QueueMaxDepth {
		s.metrics.Incr("save_queue.dropped")
		logger.Error("save queue at configured cap, dropping report",
			"crash_id", r.CrashID,
			"cap", s.cfg.QueueMaxDepth,
		)
		return
	}

	s.queue.Add(r)
	s.maybeSpawnWorker()
}

// maybeSpawnWorker starts a drain-loop goroutine unless the pool is at
// its concurrency bound.
func (s *Submitter) maybeSpawnWorker() {
	s.poolMu.Lock()
	if s.active >= s.cfg.ConcurrentSaves {
		s.poolMu.Unlock()
		return
	}
	s.active++
	s.poolMu.Unlock()

	s.wg.Add(1)
	go s.processQueue()
}

// processQueue drains the save queue until it observes it empty, then
// exits. Reports whose save fails are requeued for whichever worker
// gets to them next.
func (s *Submitter) processQueue() {
	defer s.wg.Done()

	for {
		r := s.queue.Next()
		if r == nil {
			s.poolMu.Lock()
			s.active--
			s.poolMu.Unlock()

			// A report may have been enqueued between the empty read
			// and the decrement, while this worker still counted
			// toward the bound. Respawn so it is not stranded.
			if s.queue.Len() > 0 {
				s.maybeSpawnWorker()
			}
			return
		}

		if err := s.saveToStorage(r); err != nil {
			logger.Warn("crash save failed, requeueing",
				"crash_id", r.CrashID,
				"error", err,
			)
			s.queue.Add(r)
		}
	}
}

// saveToStorage persists one report: dumps first, then the raw crash.
// If the raw crash save fails the whole report is retried, so backends
// must tolerate re-saving dumps that already landed.
func (s *Submitter) saveToStorage(r *crash.Report) error {
	ctx := context.Background()

	if err := s.storage.SaveDumps(ctx, r.CrashID, r.Dumps); err != nil {
		return fmt.Errorf("save dumps: %w", err)
	}
	if err := s.storage.SaveRawCrash(ctx, r.CrashID, r.Metadata); err != nil {
		return fmt.Errorf("save raw crash: %w", err)
	}

	if ts, ok := r.Metadata[crash.KeyTimestamp].(float64); ok {
		elapsed := time.Duration((float64(s.now().UnixNano())/float64(time.Second) - ts) * float64(time.Second))
		s.metrics.Timing("crash_handling.time", elapsed)
	}

	s.metrics.Incr("save_crash.count")
	logger.Info("crash saved", "crash_id", r.CrashID)
	return nil
}

// QueueLen returns the current save queue depth.
func (s *Submitter) QueueLen() int {
	return s.queue.Len()
}

// ActiveWorkers returns the number of currently running save workers.
func (s *Submitter) ActiveWorkers() int {
	s.poolMu.Lock()
	defer s.poolMu.Unlock()
	return s.active
}

// JoinPool blocks until every save worker has drained and exited. Test
// and shutdown helper only; never called from a request path.
func (s *Submitter) JoinPool() {
	s.wg.Wait()
}

// CheckHealth delegates to the storage backend when it supports health
// probes.
func (s *Submitter) CheckHealth(ctx context.Context) error {
	if hc, ok := s.storage.(storage.HealthChecker); ok {
		return hc.CheckHealth(ctx)
	}
	return nil
}

// StartHeartbeat launches the gauge emitter goroutine. It runs until
// StopHeartbeat or context cancellation; failures inside the beat are
// logged and swallowed so the heartbeat never dies.
func (s *Submitter) StartHeartbeat(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.heartbeatStop:
				return
			case <-ticker.C:
				s.emitHealthStats()
			}
		}
	}()
}

// StopHeartbeat stops the heartbeat goroutine.
func (s *Submitter) StopHeartbeat() {
	s.heartbeatOnce.Do(func() {
		close(s.heartbeatStop)
	})
}

// emitHealthStats emits the queue depth and worker pool gauges.
func (s *Submitter) emitHealthStats() {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("heartbeat stats emission panicked", "panic", r)
		}
	}()

	s.metrics.Gauge("save_queue_size", float64(s.queue.Len()))
	s.metrics.Gauge("active_save_workers", float64(s.ActiveWorkers()))
}
