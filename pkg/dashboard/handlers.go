package dashboard

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	babelstorage "github.com/Sonael/Babel-Storage"
	"github.com/Sonael/Babel-Storage/pkg/catalog"
	"github.com/Sonael/Babel-Storage/pkg/chunker"
	"github.com/Sonael/Babel-Storage/pkg/metadata"
	"github.com/Sonael/Babel-Storage/pkg/progress"
)

// uploadResponse acknowledges an accepted upload: the work continues
// in the background, progress is sampled by operation id.
type uploadResponse struct {
	FileID      string `json:"file_id"`
	OperationID string `json:"operation_id"`
}

// handleUpload accepts a multipart file, kicks off the pipeline in the
// background and returns immediately with the operation id.
func (d *Dashboard) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httpError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	input, err := io.ReadAll(io.LimitReader(file, chunker.MaxInputSize+1))
	if err != nil {
		httpError(w, http.StatusBadRequest, "unreadable upload")
		return
	}
	if len(input) > chunker.MaxInputSize {
		httpError(w, http.StatusRequestEntityTooLarge, "file exceeds the input cap")
		return
	}

	fileID := newFileID()
	op := d.config.Tracker.Begin("upload")

	go func() {
		// The upload outlives the HTTP request on purpose.
		rec, err := d.config.Store.Upload(context.Background(), input, header.Filename,
			babelstorage.UploadOptions{Operation: op})
		if err != nil {
			d.config.Logger.Error("background upload failed", "file", header.Filename, "error", err)
			return
		}
		if err := d.config.Catalog.Put(fileID, rec); err != nil {
			d.config.Logger.Error("catalog store failed", "file", fileID, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, uploadResponse{FileID: fileID, OperationID: op.ID()})
}

// handleOperations lists every tracked operation.
func (d *Dashboard) handleOperations(w http.ResponseWriter, r *http.Request) {
	updates := d.config.Tracker.List()
	if updates == nil {
		updates = []progress.Update{}
	}
	writeJSON(w, http.StatusOK, updates)
}

// handleOperation samples one progress tuple.
func (d *Dashboard) handleOperation(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/operations/")
	update, ok := d.config.Tracker.Get(id)
	if !ok {
		httpError(w, http.StatusNotFound, "unknown operation")
		return
	}
	writeJSON(w, http.StatusOK, update)
}

// handleListFiles lists the catalog.
func (d *Dashboard) handleListFiles(w http.ResponseWriter, r *http.Request) {
	entries, err := d.config.Catalog.List()
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []catalog.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleFileRoutes dispatches /api/files/{id}/metadata,
// /api/files/{id}/info and /api/files/{id}/content.
func (d *Dashboard) handleFileRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/files/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		httpError(w, http.StatusBadRequest, "missing file id")
		return
	}

	switch action {
	case "metadata":
		blob, err := d.config.Catalog.GetRaw(id)
		if err != nil {
			catalogError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/gzip")
		w.Header().Set("Content-Disposition", `attachment; filename="`+id+metadata.FileExtension+`"`)
		w.WriteHeader(http.StatusOK)
		w.Write(blob)

	case "info":
		rec, err := d.config.Catalog.Get(id)
		if err != nil {
			catalogError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, babelstorage.Info(rec))

	case "content":
		strict := r.URL.Query().Get("strict") == "true"
		d.serveDownload(w, r, id, strict)

	default:
		httpError(w, http.StatusNotFound, "unknown action")
	}
}

// downloadRequest is the body of POST /api/download.
type downloadRequest struct {
	FileID string `json:"file_id"`
	Strict bool   `json:"strict"`
}

// handleDownload reconstructs a cataloged file synchronously and
// streams it back.
func (d *Dashboard) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "undecodable request body")
		return
	}
	if req.FileID == "" {
		httpError(w, http.StatusBadRequest, "missing file_id")
		return
	}
	d.serveDownload(w, r, req.FileID, req.Strict)
}

// serveDownload runs the decode-side pipeline for one cataloged record
// and writes the reconstructed bytes.
func (d *Dashboard) serveDownload(w http.ResponseWriter, r *http.Request, id string, strict bool) {
	rec, err := d.config.Catalog.Get(id)
	if err != nil {
		catalogError(w, err)
		return
	}
	res, err := d.config.Store.Download(r.Context(), rec, babelstorage.DownloadOptions{Strict: strict})
	if err != nil {
		httpError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+rec.OriginalName+`"`)
	if !res.Verified {
		w.Header().Set("X-Babel-Verified", "false")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(res.Data)
}

// handleEstimate projects storage requirements without uploading.
func (d *Dashboard) handleEstimate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	input, err := io.ReadAll(io.LimitReader(r.Body, chunker.MaxInputSize+1))
	if err != nil {
		httpError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	est, err := chunker.EstimateStorage(input)
	if err != nil {
		httpError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, est)
}

func catalogError(w http.ResponseWriter, err error) {
	if errors.Is(err, catalog.ErrNotFound) {
		httpError(w, http.StatusNotFound, "unknown file")
		return
	}
	httpError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(value)
}

func httpError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func newFileID() string {
	var buf [12]byte
	rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}
