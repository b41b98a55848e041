package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kalambet/chalkscan/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// memBlobs is an in-memory ObjectStore.
type memBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
	fail  bool
}

func newMemBlobs() *memBlobs {
	return &memBlobs{blobs: make(map[string][]byte)}
}

func (m *memBlobs) Put(data []byte, name string) (string, error) {
	if m.fail {
		return "", errors.New("object store unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[name] = data
	return "http://test/files/" + name, nil
}

type mockExtractor struct {
	calls atomic.Int32
	fn    func(original []byte) ([]byte, error)
}

func (m *mockExtractor) Process(_ context.Context, original []byte) ([]byte, error) {
	m.calls.Add(1)
	return m.fn(original)
}

type mockGenerator struct {
	imageCalls atomic.Int32
	textCalls  atomic.Int32
	imageFn    func() ([]byte, error)
	textFn     func() (string, error)
}

func (m *mockGenerator) GenerateImage(_ context.Context, _ string, _ []byte) ([]byte, error) {
	m.imageCalls.Add(1)
	return m.imageFn()
}

func (m *mockGenerator) GenerateText(_ context.Context, _ string, _ []byte) (string, error) {
	m.textCalls.Add(1)
	return m.textFn()
}

// syncScheduler runs jobs inline so tests observe the finished pipeline.
type syncScheduler struct{}

func (syncScheduler) Schedule(task func()) { task() }

// recordingStore wraps a ScanStore and records the order of field updates.
type recordingStore struct {
	ScanStore
	mu      sync.Mutex
	updates []map[string]string
}

func (r *recordingStore) UpdateScanFields(id string, fields map[string]string) error {
	r.mu.Lock()
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	r.updates = append(r.updates, cp)
	r.mu.Unlock()
	return r.ScanStore.UpdateScanFields(id, fields)
}

func happyDeps(t *testing.T) (*Orchestrator, *storage.Store, *memBlobs, *mockExtractor, *mockGenerator) {
	t.Helper()
	store := openTestStore(t)
	blobs := newMemBlobs()
	extractor := &mockExtractor{fn: func([]byte) ([]byte, error) { return []byte("chalk"), nil }}
	gen := &mockGenerator{
		imageFn: func() ([]byte, error) { return []byte("pretty"), nil },
		textFn:  func() (string, error) { return "pure slop", nil },
	}
	stylize := func([]byte) ([]byte, error) { return []byte("ugly"), nil }
	o := New(store, blobs, extractor, gen, stylize, syncScheduler{})
	return o, store, blobs, extractor, gen
}

func TestSubmitRunsFullPipeline(t *testing.T) {
	o, store, blobs, extractor, gen := happyDeps(t)

	scan, err := o.Submit(context.Background(), []byte("photo"), SubmitMeta{ScanID: "scan-1", Semester: "2026-spring"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if scan.ID != "scan-1" {
		t.Errorf("id = %q", scan.ID)
	}
	if scan.Status != storage.StatusQueued {
		t.Errorf("returned status = %q, want queued", scan.Status)
	}
	if scan.OriginalURL == "" {
		t.Error("original URL not set on the returned record")
	}

	// The synchronous scheduler has already run the job.
	got, err := store.GetScan("scan-1")
	if err != nil {
		t.Fatalf("GetScan: %v", err)
	}
	if got.Status != storage.StatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.ProcessedURL != "http://test/files/scan-1-chalk.jpg" {
		t.Errorf("processed_url = %q", got.ProcessedURL)
	}
	if got.StylizedURL != "http://test/files/scan-1-uglify.jpg" {
		t.Errorf("stylized_url = %q", got.StylizedURL)
	}
	if got.ReimaginedURL != "http://test/files/scan-1-prettify.jpg" {
		t.Errorf("reimagined_url = %q", got.ReimaginedURL)
	}
	if got.NarrativeText != "pure slop" {
		t.Errorf("narrative_text = %q", got.NarrativeText)
	}
	if got.ErrorMessage != "" {
		t.Errorf("error_message = %q", got.ErrorMessage)
	}

	if extractor.calls.Load() != 1 || gen.imageCalls.Load() != 1 || gen.textCalls.Load() != 1 {
		t.Errorf("unexpected call counts: extract=%d image=%d text=%d",
			extractor.calls.Load(), gen.imageCalls.Load(), gen.textCalls.Load())
	}
	if _, ok := blobs.blobs["scan-1-original.jpg"]; !ok {
		t.Error("original image not persisted")
	}
}

func TestSubmitIdempotentOnRoomKey(t *testing.T) {
	o, _, _, extractor, _ := happyDeps(t)

	first, err := o.Submit(context.Background(), []byte("photo"), SubmitMeta{RoomKey: "room-7"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	second, err := o.Submit(context.Background(), []byte("photo"), SubmitMeta{RoomKey: "room-7"})
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("room key returned different scans: %s vs %s", first.ID, second.ID)
	}
	if extractor.calls.Load() != 1 {
		t.Errorf("extractor ran %d times, want 1", extractor.calls.Load())
	}
}

func TestExtractionFailureIsTerminal(t *testing.T) {
	store := openTestStore(t)
	blobs := newMemBlobs()
	extractor := &mockExtractor{fn: func([]byte) ([]byte, error) {
		return nil, errors.New("segmentation returned no regions")
	}}
	gen := &mockGenerator{
		imageFn: func() ([]byte, error) { return []byte("x"), nil },
		textFn:  func() (string, error) { return "x", nil },
	}
	var stylizeCalls atomic.Int32
	stylize := func([]byte) ([]byte, error) {
		stylizeCalls.Add(1)
		return []byte("x"), nil
	}
	o := New(store, blobs, extractor, gen, stylize, syncScheduler{})

	if _, err := o.Submit(context.Background(), []byte("photo"), SubmitMeta{ScanID: "scan-1"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got, err := store.GetScan("scan-1")
	if err != nil {
		t.Fatalf("GetScan: %v", err)
	}
	if got.Status != storage.StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if got.ErrorMessage != "segmentation returned no regions" {
		t.Errorf("error_message = %q", got.ErrorMessage)
	}

	// No derivative branch may run after a fatal extraction.
	if gen.imageCalls.Load() != 0 || gen.textCalls.Load() != 0 || stylizeCalls.Load() != 0 {
		t.Errorf("derivative branches ran after extraction failure: image=%d text=%d stylize=%d",
			gen.imageCalls.Load(), gen.textCalls.Load(), stylizeCalls.Load())
	}
}

func TestDerivativeFailuresAreIsolated(t *testing.T) {
	store := openTestStore(t)
	blobs := newMemBlobs()
	extractor := &mockExtractor{fn: func([]byte) ([]byte, error) { return []byte("chalk"), nil }}
	gen := &mockGenerator{
		imageFn: func() ([]byte, error) { return nil, errors.New("image model overloaded") },
		textFn:  func() (string, error) { return "pure slop", nil },
	}
	stylize := func([]byte) ([]byte, error) { panic("stylizer bug") }
	o := New(store, blobs, extractor, gen, stylize, syncScheduler{})

	if _, err := o.Submit(context.Background(), []byte("photo"), SubmitMeta{ScanID: "scan-1"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got, err := store.GetScan("scan-1")
	if err != nil {
		t.Fatalf("GetScan: %v", err)
	}
	if got.Status != storage.StatusCompleted {
		t.Errorf("status = %q, want completed despite branch failures", got.Status)
	}
	if got.ReimaginedURL != "" {
		t.Errorf("reimagined_url = %q, want unset", got.ReimaginedURL)
	}
	if got.StylizedURL != "" {
		t.Errorf("stylized_url = %q, want unset after panic", got.StylizedURL)
	}
	if got.NarrativeText != "pure slop" {
		t.Errorf("narrative_text = %q, surviving branch should persist", got.NarrativeText)
	}
	if got.ErrorMessage != "" {
		t.Errorf("branch failures must not surface: error_message = %q", got.ErrorMessage)
	}
}

func TestPipelinePersistsProgressively(t *testing.T) {
	store := openTestStore(t)
	rec := &recordingStore{ScanStore: store}
	blobs := newMemBlobs()
	extractor := &mockExtractor{fn: func([]byte) ([]byte, error) { return []byte("chalk"), nil }}
	gen := &mockGenerator{
		imageFn: func() ([]byte, error) { return []byte("pretty"), nil },
		textFn:  func() (string, error) { return "slop", nil },
	}
	stylize := func([]byte) ([]byte, error) { return []byte("ugly"), nil }
	o := New(rec, blobs, extractor, gen, stylize, syncScheduler{})

	if _, err := o.Submit(context.Background(), []byte("photo"), SubmitMeta{ScanID: "scan-1"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Statuses appear in machine order, and the processed URL is persisted
	// with the extracted transition, before any derivative field. A poller
	// may therefore see chalkImage set while derivatives are still pending.
	var statuses []string
	extractedIdx, firstDerivativeIdx := -1, -1
	for i, u := range rec.updates {
		if s, ok := u["status"]; ok {
			statuses = append(statuses, s)
			if s == storage.StatusExtracted {
				extractedIdx = i
				if u["processed_url"] == "" {
					t.Error("extracted transition missing processed_url")
				}
			}
		}
		for _, field := range []string{"stylized_url", "reimagined_url", "narrative_text"} {
			if _, ok := u[field]; ok && firstDerivativeIdx == -1 {
				firstDerivativeIdx = i
			}
		}
	}
	want := strings.Join([]string{
		storage.StatusExtracting, storage.StatusExtracted, storage.StatusCompleted,
	}, ",")
	if got := strings.Join(statuses, ","); got != want {
		t.Errorf("status sequence = %s, want %s", got, want)
	}
	if extractedIdx == -1 || firstDerivativeIdx == -1 || firstDerivativeIdx < extractedIdx {
		t.Errorf("derivative update at %d should follow extracted at %d", firstDerivativeIdx, extractedIdx)
	}
}

func TestPipelineSurvivesRecordStoreFailures(t *testing.T) {
	store := openTestStore(t)
	// Updates against a missing row return ErrNotFound; the job must still
	// run to completion on its in-memory progress.
	blobs := newMemBlobs()
	extractor := &mockExtractor{fn: func([]byte) ([]byte, error) { return []byte("chalk"), nil }}
	gen := &mockGenerator{
		imageFn: func() ([]byte, error) { return []byte("pretty"), nil },
		textFn:  func() (string, error) { return "slop", nil },
	}
	stylize := func([]byte) ([]byte, error) { return []byte("ugly"), nil }
	o := New(store, blobs, extractor, gen, stylize, syncScheduler{})

	// Run the job directly for an id that has no record.
	o.runPipeline(context.Background(), "ghost", []byte("photo"))

	if extractor.calls.Load() != 1 || gen.imageCalls.Load() != 1 || gen.textCalls.Load() != 1 {
		t.Errorf("job did not run to completion: extract=%d image=%d text=%d",
			extractor.calls.Load(), gen.imageCalls.Load(), gen.textCalls.Load())
	}
}

func TestSubmitFailsWhenOriginalCannotBeStored(t *testing.T) {
	store := openTestStore(t)
	blobs := newMemBlobs()
	blobs.fail = true
	extractor := &mockExtractor{fn: func([]byte) ([]byte, error) { return []byte("chalk"), nil }}
	gen := &mockGenerator{
		imageFn: func() ([]byte, error) { return nil, nil },
		textFn:  func() (string, error) { return "", nil },
	}
	o := New(store, blobs, extractor, gen, func(b []byte) ([]byte, error) { return b, nil }, syncScheduler{})

	_, err := o.Submit(context.Background(), []byte("photo"), SubmitMeta{ScanID: "scan-1"})
	if err == nil {
		t.Fatal("expected error when the original cannot be persisted")
	}
	if _, err := store.GetScan("scan-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("no record should exist after a failed submit, got %v", err)
	}
	if extractor.calls.Load() != 0 {
		t.Error("no job should be scheduled after a failed submit")
	}
}
