package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/keyledger/internal/backup"
	"github.com/dukerupert/keyledger/internal/model"
)

// BackupManager is the part of backup.Manager the admin API drives.
type BackupManager interface {
	Status(ctx context.Context) (backup.Status, error)
	List(ctx context.Context, limit int) ([]model.Backup, error)
	RunNow(ctx context.Context) (*model.Backup, error)
	Download(ctx context.Context, id int64) (io.ReadCloser, int64, error)
	Verify(ctx context.Context, id int64) error
}

type BackupHandler struct {
	backups BackupManager
	logger  *slog.Logger
}

func NewBackupHandler(backups BackupManager, logger *slog.Logger) *BackupHandler {
	return &BackupHandler{backups: backups, logger: logger}
}

func (h *BackupHandler) List(w http.ResponseWriter, r *http.Request) {
	status, err := h.backups.Status(r.Context())
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	list, err := h.backups.List(r.Context(), 50)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "backups": list})
}

func (h *BackupHandler) Create(w http.ResponseWriter, r *http.Request) {
	b, err := h.backups.RunNow(r.Context())
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *BackupHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid backup id")
		return
	}
	body, size, err := h.backups.Download(r.Context(), id)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="keyledger-backup-%d.db.enc"`, id))
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("stream backup", "id", id, "error", err)
	}
}

func (h *BackupHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid backup id")
		return
	}
	if err := h.backups.Verify(r.Context(), id); err != nil {
		status, _ := statusFor(err)
		if status != http.StatusInternalServerError {
			respondError(w, r, h.logger, err)
			return
		}
		h.logger.Warn("backup verification failed", "id", id, "error", err)
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "ok": true})
}
