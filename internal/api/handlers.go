// Package api exposes the scan service over HTTP: photo submission, polling
// by scan id, room key and semester, and static serving of stored images.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/chalkscan/internal/pipeline"
	"github.com/kalambet/chalkscan/internal/storage"
)

const maxUploadSize = 20 << 20 // 20MB

// ScanService is the slice of the orchestrator the HTTP layer needs.
type ScanService interface {
	Submit(ctx context.Context, image []byte, meta pipeline.SubmitMeta) (storage.Scan, error)
	Poll(id string) (storage.Scan, error)
	PollByRoomKey(key string) (storage.Scan, error)
	ListBySemester(semester string) ([]storage.Scan, error)
}

type Deps struct {
	Scans   ScanService
	BlobDir string
	Token   string // optional; empty leaves the submit endpoint open
}

func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/", handleHealth)
	r.With(BearerAuth(deps.Token)).Post("/process", handleProcess(deps))
	r.Get("/scans/{scanID}", handleGetScan(deps))
	r.Get("/api/scans/{semester}", handleListSemester(deps))
	r.Get("/api/scan/{roomID}", handleGetRoomScan(deps))
	r.Handle("/files/*", http.StripPrefix("/files/", http.FileServer(http.Dir(deps.BlobDir))))

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"message": "chalk scan service",
	})
}

func handleProcess(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		defer r.Body.Close()

		file, _, err := r.FormFile("image")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "image file is required: %v", err)
			return
		}
		defer file.Close()

		image, err := io.ReadAll(file)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to read image: %v", err)
			return
		}
		if len(image) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "image file is empty")
			return
		}

		meta := pipeline.SubmitMeta{
			ScanID:   r.FormValue("id"),
			RoomKey:  r.FormValue("roomId"),
			Semester: r.FormValue("semester"),
		}

		scan, err := deps.Scans.Submit(r.Context(), image, meta)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to accept scan: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{
			"status":       "queued",
			"scan_id":      scan.ID,
			"roomId":       scan.RoomKey,
			"original_url": scan.OriginalURL,
			"message":      "scan accepted, poll /scans/{scan_id} for progress",
		})
	}
}

func handleGetScan(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scan, err := deps.Scans.Poll(chi.URLParam(r, "scanID"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "scan not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get scan: %v", err)
			return
		}
		writeSnapshot(w, scan)
	}
}

func handleGetRoomScan(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scan, err := deps.Scans.PollByRoomKey(chi.URLParam(r, "roomID"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no scan registered for room")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get scan: %v", err)
			return
		}
		writeSnapshot(w, scan)
	}
}

func handleListSemester(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scans, err := deps.Scans.ListBySemester(chi.URLParam(r, "semester"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list scans: %v", err)
			return
		}

		snapshots := make([]scanSnapshot, 0, len(scans))
		for _, s := range scans {
			snapshots = append(snapshots, snapshotFrom(s))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snapshots)
	}
}

// scanSnapshot is the wire form of a scan record. Field names match what the
// polling clients already consume; absent derivatives are omitted rather than
// sent as empty strings so clients can treat presence as readiness.
type scanSnapshot struct {
	ScanID        string    `json:"scan_id"`
	RoomID        string    `json:"roomId,omitempty"`
	Status        string    `json:"status"`
	ChalkImage    string    `json:"chalkImage,omitempty"`
	UglifyImage   string    `json:"uglifyImage,omitempty"`
	PrettifyImage string    `json:"prettifyImage,omitempty"`
	SloppifyText  string    `json:"sloppifyText,omitempty"`
	OriginalURL   string    `json:"original_url,omitempty"`
	Semester      string    `json:"semester,omitempty"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func snapshotFrom(s storage.Scan) scanSnapshot {
	return scanSnapshot{
		ScanID:        s.ID,
		RoomID:        s.RoomKey,
		Status:        s.Status,
		ChalkImage:    s.ProcessedURL,
		UglifyImage:   s.StylizedURL,
		PrettifyImage: s.ReimaginedURL,
		SloppifyText:  s.NarrativeText,
		OriginalURL:   s.OriginalURL,
		Semester:      s.Semester,
		ErrorMessage:  s.ErrorMessage,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

// writeSnapshot encodes one record with a freshness hint: terminal records
// never change again and may be cached, in-flight ones are about to.
func writeSnapshot(w http.ResponseWriter, s storage.Scan) {
	if storage.Terminal(s.Status) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
	} else {
		w.Header().Set("Cache-Control", "max-age=2")
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshotFrom(s))
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
