// Package pipeline owns the per-scan state machine: it runs extraction as the
// mandatory first stage, fans out the independent derivative branches, and
// persists every transition to the record store on a best-effort basis.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/chalkscan/internal/storage"
)

// ScanStore is the slice of the record store the orchestrator uses.
type ScanStore interface {
	InsertScan(sc storage.Scan) error
	GetScan(id string) (storage.Scan, error)
	GetScanByRoomKey(key string) (storage.Scan, error)
	ListScansBySemester(semester string) ([]storage.Scan, error)
	UpdateScanFields(id string, fields map[string]string) error
}

// ObjectStore persists binary assets and returns their public URL.
type ObjectStore interface {
	Put(data []byte, name string) (string, error)
}

// Extractor produces the enhanced chalk image from an original photo.
type Extractor interface {
	Process(ctx context.Context, original []byte) ([]byte, error)
}

// Generator is the derivative-generation side of the AI capability.
type Generator interface {
	GenerateImage(ctx context.Context, prompt string, image []byte) ([]byte, error)
	GenerateText(ctx context.Context, prompt string, image []byte) (string, error)
}

// Stylizer produces the local distorted rendering.
type Stylizer func(image []byte) ([]byte, error)

// TaskScheduler hands pipeline jobs to background workers.
type TaskScheduler interface {
	Schedule(task func())
}

// Orchestrator sequences the scan pipeline. Exactly one job ever mutates a
// given scan id, so no intra-scan locking is needed.
type Orchestrator struct {
	store   ScanStore
	blobs   ObjectStore
	engine  Extractor
	gen     Generator
	stylize Stylizer
	sched   TaskScheduler
	logger  *slog.Logger
}

// New wires an Orchestrator.
func New(store ScanStore, blobs ObjectStore, engine Extractor, gen Generator, stylize Stylizer, sched TaskScheduler) *Orchestrator {
	return &Orchestrator{
		store:   store,
		blobs:   blobs,
		engine:  engine,
		gen:     gen,
		stylize: stylize,
		sched:   sched,
		logger:  slog.Default(),
	}
}

// SubmitMeta carries the optional caller-supplied metadata for a submission.
type SubmitMeta struct {
	ScanID   string // caller-chosen id; generated when empty
	RoomKey  string // idempotency key; repeated submissions reuse one scan
	Semester string // opaque grouping tag
}

// Submit registers a new scan. When the room key already has a record the
// existing record is returned and no new job is scheduled. Otherwise the
// original image is persisted synchronously (it is the safety fallback if
// everything downstream fails), a queued record is created, and the pipeline
// job is scheduled. Submit returns without waiting for processing.
//
// Two truly concurrent submissions with the same room key can both pass the
// existence check and both create a job; readers resolve the duplicate by
// taking the oldest record.
func (o *Orchestrator) Submit(ctx context.Context, image []byte, meta SubmitMeta) (storage.Scan, error) {
	if meta.RoomKey != "" {
		existing, err := o.store.GetScanByRoomKey(meta.RoomKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return storage.Scan{}, fmt.Errorf("checking room key: %w", err)
		}
	}

	id := meta.ScanID
	if id == "" {
		id = uuid.New().String()
	}

	originalURL, err := o.blobs.Put(image, id+"-original.jpg")
	if err != nil {
		return storage.Scan{}, fmt.Errorf("storing original image: %w", err)
	}

	now := time.Now().UTC()
	scan := storage.Scan{
		ID:          id,
		RoomKey:     meta.RoomKey,
		Status:      storage.StatusQueued,
		OriginalURL: originalURL,
		Semester:    meta.Semester,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.store.InsertScan(scan); err != nil {
		return storage.Scan{}, fmt.Errorf("creating scan record: %w", err)
	}

	o.sched.Schedule(func() {
		// Jobs outlive the submitting request and are not cancellable.
		o.runPipeline(context.Background(), id, image)
	})

	return scan, nil
}

// Poll returns the current record snapshot for a scan id.
func (o *Orchestrator) Poll(id string) (storage.Scan, error) {
	return o.store.GetScan(id)
}

// PollByRoomKey returns the snapshot for the scan registered under a room key.
func (o *Orchestrator) PollByRoomKey(key string) (storage.Scan, error) {
	return o.store.GetScanByRoomKey(key)
}

// ListBySemester returns snapshots grouped under a semester tag.
func (o *Orchestrator) ListBySemester(semester string) ([]storage.Scan, error) {
	return o.store.ListScansBySemester(semester)
}

// runPipeline executes the state machine for one scan:
// extracting -> extracted -> completed, or failed if extraction fails.
// Derivative branches never drive the record to failed.
func (o *Orchestrator) runPipeline(ctx context.Context, id string, original []byte) {
	o.persist(id, map[string]string{"status": storage.StatusExtracting})

	processed, err := o.engine.Process(ctx, original)
	if err != nil {
		o.logger.Error("extraction failed", "scan_id", id, "error", err)
		o.persist(id, map[string]string{
			"status":        storage.StatusFailed,
			"error_message": err.Error(),
		})
		return
	}

	processedURL, err := o.blobs.Put(processed, id+"-chalk.jpg")
	if err != nil {
		o.logger.Error("storing processed image failed", "scan_id", id, "error", err)
		o.persist(id, map[string]string{
			"status":        storage.StatusFailed,
			"error_message": err.Error(),
		})
		return
	}
	o.persist(id, map[string]string{
		"status":        storage.StatusExtracted,
		"processed_url": processedURL,
	})

	o.runDerivatives(ctx, id, processed)

	// Completed regardless of individual branch outcomes.
	o.persist(id, map[string]string{"status": storage.StatusCompleted})
}

// persist writes a partial record update. Store failures are logged and
// dropped: the job keeps its in-memory notion of progress even if the durable
// record has fallen behind.
func (o *Orchestrator) persist(id string, fields map[string]string) {
	if err := o.store.UpdateScanFields(id, fields); err != nil {
		o.logger.Warn("record store update failed", "scan_id", id, "error", err)
	}
}
