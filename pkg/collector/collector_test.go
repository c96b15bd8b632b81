package collector

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/breakwater/pkg/crash"
	"github.com/marmos91/breakwater/pkg/crashid"
	"github.com/marmos91/breakwater/pkg/metrics"
	"github.com/marmos91/breakwater/pkg/storage"
	"github.com/marmos91/breakwater/pkg/storage/memory"
	"github.com/marmos91/breakwater/pkg/throttle"
)

// fixedThrottler always returns the same result.
type fixedThrottler struct {
	decision throttle.Decision
	rule     string
	rate     int
}

func (t fixedThrottler) Throttle(crash.Metadata) (throttle.Decision, string, int) {
	return t.decision, t.rule, t.rate
}

func acceptAll() fixedThrottler {
	return fixedThrottler{decision: throttle.Accept, rule: "accept_everything", rate: 100}
}

// faultStorage wraps another backend and fails the first failures saves.
type faultStorage struct {
	storage.CrashStorage

	mu       sync.Mutex
	failures int
	attempts int
}

func (f *faultStorage) SaveDumps(ctx context.Context, crashID string, dumps crash.Dumps) error {
	f.mu.Lock()
	f.attempts++
	fail := f.attempts <= f.failures
	f.mu.Unlock()

	if fail {
		return errors.New("backend unavailable")
	}
	return f.CrashStorage.SaveDumps(ctx, crashID, dumps)
}

// gateStorage blocks every save until the gate is opened.
type gateStorage struct {
	storage.CrashStorage

	gate    chan struct{}
	started chan struct{}
}

func (g *gateStorage) SaveDumps(ctx context.Context, crashID string, dumps crash.Dumps) error {
	g.started <- struct{}{}
	<-g.gate
	return g.CrashStorage.SaveDumps(ctx, crashID, dumps)
}

func newTestSubmitter(t *testing.T, store storage.CrashStorage, th throttle.Throttler, sink metrics.Sink) *Submitter {
	t.Helper()
	s, err := NewSubmitter(DefaultConfig(), store, th, sink)
	if err != nil {
		t.Fatalf("NewSubmitter: %v", err)
	}
	return s
}

// crashRequest builds a multipart POST the way Breakpad clients do.
func crashRequest(t *testing.T, fields map[string]string, dumps map[string][]byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			t.Fatalf("WriteField(%q): %v", name, err)
		}
	}
	for name, data := range dumps {
		part, err := mw.CreateFormFile(name, name)
		if err != nil {
			t.Fatalf("CreateFormFile(%q): %v", name, err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("write dump %q: %v", name, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/submit", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func doPost(s *Submitter, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.HandlePost(w, req)
	return w
}

func responseCrashID(t *testing.T, w *httptest.ResponseRecorder, prefix string) string {
	t.Helper()

	body, err := io.ReadAll(w.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	line := strings.TrimSuffix(string(body), "\n")
	if !strings.HasPrefix(line, "CrashID="+prefix) {
		t.Fatalf("Body = %q, want CrashID=%s...", line, prefix)
	}
	return strings.TrimPrefix(line, "CrashID="+prefix)
}

func TestAcceptedCrashIsSaved(t *testing.T) {
	store := memory.New()
	sink := metrics.NewRecorder()
	s := newTestSubmitter(t, store, acceptAll(), sink)

	req := crashRequest(t,
		map[string]string{"ProductName": "Firefox", "Version": "140.0"},
		map[string][]byte{"upload_file_minidump": {0xDE, 0xAD}},
	)
	w := doPost(s, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/plain" {
		t.Errorf("Content-Type = %q, want text/plain", ct)
	}
	id := responseCrashID(t, w, "bp-")
	if len(id) != crashid.Length {
		t.Fatalf("Crash ID %q has length %d, want %d", id, len(id), crashid.Length)
	}

	s.JoinPool()

	md, ok := store.RawCrash(id)
	if !ok {
		t.Fatalf("Raw crash %s not saved", id)
	}
	if md[crash.KeyUUID] != id {
		t.Errorf("uuid = %v, want %s", md[crash.KeyUUID], id)
	}
	if md[crash.KeyLegacyProcessing] != int(throttle.Accept) {
		t.Errorf("legacy_processing = %v, want %d", md[crash.KeyLegacyProcessing], throttle.Accept)
	}
	if md[crash.KeyThrottleRate] != 100 {
		t.Errorf("throttle_rate = %v, want 100", md[crash.KeyThrottleRate])
	}
	if md[crash.KeyTypeTag] != "bp" {
		t.Errorf("type_tag = %v, want bp", md[crash.KeyTypeTag])
	}
	if _, ok := md[crash.KeySubmittedTimestamp].(string); !ok {
		t.Error("submitted_timestamp missing")
	}
	if _, ok := md[crash.KeyTimestamp].(float64); !ok {
		t.Error("timestamp missing")
	}

	dumps, ok := store.Dumps(id)
	if !ok || !bytes.Equal(dumps["upload_file_minidump"], []byte{0xDE, 0xAD}) {
		t.Errorf("Dumps = %v, %v", dumps, ok)
	}

	if sink.Count("incoming_crash") != 1 {
		t.Errorf("incoming_crash = %d, want 1", sink.Count("incoming_crash"))
	}
	if sink.Count("throttle.accept") != 1 {
		t.Errorf("throttle.accept = %d, want 1", sink.Count("throttle.accept"))
	}
	if sink.Count("save_crash.count") != 1 {
		t.Errorf("save_crash.count = %d, want 1", sink.Count("save_crash.count"))
	}
	if len(sink.TimingSamples("BreakpadSubmitterResource.on_post.time")) != 1 {
		t.Error("on_post.time not emitted")
	}
	if len(sink.TimingSamples("crash_handling.time")) != 1 {
		t.Error("crash_handling.time not emitted")
	}
}

func TestGeneratedCrashIDEncodesDecision(t *testing.T) {
	store := memory.New()
	s := newTestSubmitter(t, store, fixedThrottler{decision: throttle.Defer, rule: "sample", rate: 10}, nil)

	w := doPost(s, crashRequest(t, map[string]string{"ProductName": "Firefox"}, nil))
	id := responseCrashID(t, w, "bp-")

	if got, err := crashid.Throttle(id); err != nil || got != int(throttle.Defer) {
		t.Errorf("Throttle marker = %d, %v, want %d", got, err, throttle.Defer)
	}

	s.JoinPool()
	if store.SaveCount() != 1 {
		t.Errorf("SaveCount = %d, want 1 (deferred reports are stored)", store.SaveCount())
	}
}

func TestClientSuppliedCrashIDIsReused(t *testing.T) {
	store := memory.New()
	s := newTestSubmitter(t, store, acceptAll(), nil)

	clientID := "de1bb258-cbbf-4589-a673-34f800160918"
	w := doPost(s, crashRequest(t, map[string]string{"uuid": clientID}, nil))

	if got := responseCrashID(t, w, "bp-"); got != clientID {
		t.Errorf("Crash ID = %q, want client-supplied %q", got, clientID)
	}

	s.JoinPool()
	if _, ok := store.RawCrash(clientID); !ok {
		t.Error("Crash not saved under client-supplied ID")
	}
}

func TestRejectedCrashIsDiscarded(t *testing.T) {
	store := memory.New()
	sink := metrics.NewRecorder()
	s := newTestSubmitter(t, store, fixedThrottler{decision: throttle.Reject, rule: "block_all", rate: 0}, sink)

	w := doPost(s, crashRequest(t, map[string]string{"ProductName": "Junk"}, nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	if body := w.Body.String(); body != "Discarded=1" {
		t.Errorf("Body = %q, want Discarded=1", body)
	}

	s.JoinPool()
	if store.SaveCount() != 0 {
		t.Errorf("SaveCount = %d, want 0", store.SaveCount())
	}
	if sink.Count("throttle.reject") != 1 {
		t.Errorf("throttle.reject = %d, want 1", sink.Count("throttle.reject"))
	}
}

func TestExistingThrottleResultIsKept(t *testing.T) {
	store := memory.New()
	sink := metrics.NewRecorder()
	// The throttler would reject; a valid prior decision must win.
	s := newTestSubmitter(t, store, fixedThrottler{decision: throttle.Reject, rule: "block_all", rate: 0}, sink)

	w := doPost(s, crashRequest(t, map[string]string{
		"legacy_processing": "1",
		"throttle_rate":     "50",
	}, nil))

	id := responseCrashID(t, w, "bp-")
	s.JoinPool()

	md, ok := store.RawCrash(id)
	if !ok {
		t.Fatal("Pre-throttled crash not saved")
	}
	if md[crash.KeyLegacyProcessing] != int(throttle.Defer) {
		t.Errorf("legacy_processing = %v, want %d", md[crash.KeyLegacyProcessing], throttle.Defer)
	}
	if md[crash.KeyThrottleRate] != 50 {
		t.Errorf("throttle_rate = %v, want 50", md[crash.KeyThrottleRate])
	}
	if sink.Count("throttle.defer") != 1 {
		t.Errorf("throttle.defer = %d, want 1", sink.Count("throttle.defer"))
	}
}

func TestBadThrottleValuesFallThrough(t *testing.T) {
	cases := []struct {
		name   string
		fields map[string]string
	}{
		{"non-numeric decision", map[string]string{"legacy_processing": "yes", "throttle_rate": "50"}},
		{"decision out of range", map[string]string{"legacy_processing": "2", "throttle_rate": "50"}},
		{"rate out of range", map[string]string{"legacy_processing": "0", "throttle_rate": "150"}},
		{"rate missing", map[string]string{"legacy_processing": "0"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := memory.New()
			sink := metrics.NewRecorder()
			s := newTestSubmitter(t, store, acceptAll(), sink)

			w := doPost(s, crashRequest(t, tc.fields, nil))
			id := responseCrashID(t, w, "bp-")
			s.JoinPool()

			md, ok := store.RawCrash(id)
			if !ok {
				t.Fatal("Crash not saved")
			}
			// Fell through to the throttler, which accepted at 100.
			if md[crash.KeyLegacyProcessing] != int(throttle.Accept) || md[crash.KeyThrottleRate] != 100 {
				t.Errorf("Throttle result = %v/%v, want %d/100",
					md[crash.KeyLegacyProcessing], md[crash.KeyThrottleRate], throttle.Accept)
			}

			wantBad := 1
			if tc.name == "rate missing" {
				// Only one of the two fields present: the pair is ignored
				// without counting as bad values.
				wantBad = 0
			}
			if got := sink.Count("throttle.bad_throttle_values"); got != wantBad {
				t.Errorf("bad_throttle_values = %d, want %d", got, wantBad)
			}
		})
	}
}

func TestThrottleableZeroForcesAccept(t *testing.T) {
	store := memory.New()
	sink := metrics.NewRecorder()
	s := newTestSubmitter(t, store, fixedThrottler{decision: throttle.Reject, rule: "block_all", rate: 0}, sink)

	w := doPost(s, crashRequest(t, map[string]string{"Throttleable": "0"}, nil))
	id := responseCrashID(t, w, "bp-")
	s.JoinPool()

	md, ok := store.RawCrash(id)
	if !ok {
		t.Fatal("Unthrottleable crash not saved")
	}
	if md[crash.KeyLegacyProcessing] != int(throttle.Accept) || md[crash.KeyThrottleRate] != 100 {
		t.Errorf("Throttle result = %v/%v, want %d/100",
			md[crash.KeyLegacyProcessing], md[crash.KeyThrottleRate], throttle.Accept)
	}
	if sink.Count("throttleable_0") != 1 {
		t.Errorf("throttleable_0 = %d, want 1", sink.Count("throttleable_0"))
	}
}

func TestMalformedPayloadStillGetsCrashID(t *testing.T) {
	store := memory.New()
	sink := metrics.NewRecorder()
	s := newTestSubmitter(t, store, acceptAll(), sink)

	req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader("not a multipart body"))
	req.Header.Set("Content-Type", "text/plain")

	w := doPost(s, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	id := responseCrashID(t, w, "bp-")

	s.JoinPool()
	md, ok := store.RawCrash(id)
	if !ok {
		t.Fatal("Empty report not saved")
	}
	// Only the server-written keys should be present.
	for _, key := range []string{crash.KeyUUID, crash.KeySubmittedTimestamp, crash.KeyTimestamp,
		crash.KeyLegacyProcessing, crash.KeyThrottleRate, crash.KeyTypeTag} {
		if _, ok := md[key]; !ok {
			t.Errorf("Reserved key %q missing from empty report", key)
		}
	}
	if _, ok := md["ProductName"]; ok {
		t.Error("Malformed payload produced client fields")
	}
}

func TestFailedSaveIsRetried(t *testing.T) {
	inner := memory.New()
	faulty := &faultStorage{CrashStorage: inner, failures: 2}
	sink := metrics.NewRecorder()
	s := newTestSubmitter(t, faulty, acceptAll(), sink)

	w := doPost(s, crashRequest(t, map[string]string{"ProductName": "Firefox"}, nil))
	id := responseCrashID(t, w, "bp-")

	// Requeue-and-retry loops until the backend recovers.
	deadline := time.After(5 * time.Second)
	for inner.SaveCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("Crash never saved despite backend recovery")
		case <-time.After(5 * time.Millisecond):
		}
	}
	s.JoinPool()

	if _, ok := inner.RawCrash(id); !ok {
		t.Errorf("Crash %s missing after retries", id)
	}
	faulty.mu.Lock()
	attempts := faulty.attempts
	faulty.mu.Unlock()
	if attempts != 3 {
		t.Errorf("Save attempts = %d, want 3", attempts)
	}
	if sink.Count("save_crash.count") != 1 {
		t.Errorf("save_crash.count = %d, want 1 (failures must not count)", sink.Count("save_crash.count"))
	}
}

func TestWorkerPoolIsBounded(t *testing.T) {
	inner := memory.New()
	gate := &gateStorage{
		CrashStorage: inner,
		gate:         make(chan struct{}),
		started:      make(chan struct{}, 16),
	}

	cfg := DefaultConfig()
	cfg.ConcurrentSaves = 2
	s, err := NewSubmitter(cfg, gate, acceptAll(), nil)
	if err != nil {
		t.Fatalf("NewSubmitter: %v", err)
	}

	for i := 0; i < 5; i++ {
		doPost(s, crashRequest(t, map[string]string{"ProductName": "Firefox"}, nil))
	}

	// Exactly two workers reach the gate; the rest of the queue waits.
	for i := 0; i < 2; i++ {
		select {
		case <-gate.started:
		case <-time.After(2 * time.Second):
			t.Fatal("Worker never reached storage")
		}
	}
	select {
	case <-gate.started:
		t.Fatal("More than ConcurrentSaves workers ran simultaneously")
	case <-time.After(50 * time.Millisecond):
	}
	if got := s.ActiveWorkers(); got != 2 {
		t.Errorf("ActiveWorkers = %d, want 2", got)
	}

	close(gate.gate)
	for i := 0; i < 3; i++ {
		<-gate.started
	}
	s.JoinPool()

	if inner.SaveCount() != 5 {
		t.Errorf("SaveCount = %d, want 5", inner.SaveCount())
	}
	if got := s.ActiveWorkers(); got != 0 {
		t.Errorf("ActiveWorkers after drain = %d, want 0", got)
	}
}

func TestQueueCapDropsNewReports(t *testing.T) {
	inner := memory.New()
	gate := &gateStorage{
		CrashStorage: inner,
		gate:         make(chan struct{}),
		started:      make(chan struct{}, 16),
	}
	sink := metrics.NewRecorder()

	cfg := DefaultConfig()
	cfg.ConcurrentSaves = 1
	cfg.QueueMaxDepth = 2
	s, err := NewSubmitter(cfg, gate, acceptAll(), sink)
	if err != nil {
		t.Fatalf("NewSubmitter: %v", err)
	}

	// First report occupies the single worker at the gate.
	doPost(s, crashRequest(t, map[string]string{"n": "1"}, nil))
	<-gate.started

	// Two more fill the queue to its cap; the fourth is dropped.
	for i := 2; i <= 4; i++ {
		w := doPost(s, crashRequest(t, map[string]string{"n": "x"}, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("Status = %d, want 200 even when dropping", w.Code)
		}
	}

	if sink.Count("save_queue.dropped") != 1 {
		t.Errorf("save_queue.dropped = %d, want 1", sink.Count("save_queue.dropped"))
	}

	close(gate.gate)
	for i := 0; i < 2; i++ {
		<-gate.started
	}
	s.JoinPool()

	if inner.SaveCount() != 3 {
		t.Errorf("SaveCount = %d, want 3", inner.SaveCount())
	}
}

func TestHealthStatsGauges(t *testing.T) {
	sink := metrics.NewRecorder()
	s := newTestSubmitter(t, memory.New(), acceptAll(), sink)

	s.emitHealthStats()

	if v, ok := sink.GaugeValue("save_queue_size"); !ok || v != 0 {
		t.Errorf("save_queue_size = %v, %v, want 0", v, ok)
	}
	if v, ok := sink.GaugeValue("active_save_workers"); !ok || v != 0 {
		t.Errorf("active_save_workers = %v, %v, want 0", v, ok)
	}
}

func TestCheckHealthDelegatesToStorage(t *testing.T) {
	store := memory.New()
	s := newTestSubmitter(t, store, acceptAll(), nil)

	if err := s.CheckHealth(context.Background()); err != nil {
		t.Errorf("CheckHealth on open storage: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.CheckHealth(context.Background()); !errors.Is(err, storage.ErrStorageClosed) {
		t.Errorf("CheckHealth = %v, want ErrStorageClosed", err)
	}
}

func TestNewSubmitterValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConcurrentSaves = 0
	if _, err := NewSubmitter(cfg, memory.New(), acceptAll(), nil); err == nil {
		t.Error("Expected error for concurrent_saves 0")
	}

	if _, err := NewSubmitter(DefaultConfig(), nil, acceptAll(), nil); err == nil {
		t.Error("Expected error for nil storage")
	}
	if _, err := NewSubmitter(DefaultConfig(), memory.New(), nil, nil); err == nil {
		t.Error("Expected error for nil throttler")
	}
}
