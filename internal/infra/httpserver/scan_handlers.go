package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/bryanwahyu/qr-biometric/internal/domain/scans"
	"github.com/bryanwahyu/qr-biometric/internal/infra/logger"
	"github.com/bryanwahyu/qr-biometric/internal/middleware"
)

type scanSessionView struct {
	Generation uint64             `json:"generation"`
	Phase      domain.Phase       `json:"phase"`
	Error      string             `json:"error,omitempty"`
	Record     *domain.ScanRecord `json:"record,omitempty"`
	Duplicate  bool               `json:"duplicate,omitempty"`
}

func scanView(s domain.Session) scanSessionView {
	return scanSessionView{
		Generation: s.Generation,
		Phase:      s.Phase,
		Error:      s.ErrorKind(),
		Record:     s.Record,
	}
}

func scanEventView(e domain.Event) scanSessionView {
	v := scanView(e.Session)
	v.Duplicate = e.Duplicate
	return v
}

// POST /v1/scans/start
func (r *Router) handleStart(w http.ResponseWriter, req *http.Request) error {
	if err := r.scans.StartScanning(req.Context()); err != nil {
		return err
	}
	writeJSON(w, http.StatusAccepted, scanView(r.scans.Session()))
	return nil
}

// POST /v1/scans/stop
func (r *Router) handleStop(w http.ResponseWriter, req *http.Request) error {
	r.scans.StopScanning()
	writeJSON(w, http.StatusOK, scanView(r.scans.Session()))
	return nil
}

// POST /v1/scans/reset
func (r *Router) handleReset(w http.ResponseWriter, req *http.Request) error {
	r.scans.Reset()
	writeJSON(w, http.StatusOK, scanView(r.scans.Session()))
	return nil
}

// GET /v1/scans/session
func (r *Router) handleScanSession(w http.ResponseWriter, req *http.Request) error {
	writeJSON(w, http.StatusOK, scanView(r.scans.Session()))
	return nil
}

// POST /v1/scans/frames
// Body: {"content": "<decoded QR string>"}
// The frame is handed to the open capture sequence; whether it is processed
// or dropped is visible through the session and /v1/events.
func (r *Router) handleFrame(w http.ResponseWriter, req *http.Request) error {
	if r.feed == nil {
		return badRequest{errors.New("frames are read from the local camera, push is disabled")}
	}
	var body struct {
		Content string `json:"content"`
	}
	if err := decodeOptional(req, &body); err != nil {
		return err
	}
	if err := r.feed.Push(body.Content); err != nil {
		return err
	}
	r.log.Debug("frame pushed", zap.String("content", logger.Mask(body.Content)))
	w.WriteHeader(http.StatusAccepted)
	return nil
}

// GET /v1/scans
func (r *Router) handleListRecords(w http.ResponseWriter, req *http.Request) error {
	list, err := r.scans.Records(req.Context())
	if err != nil {
		return err
	}
	if list == nil {
		list = []*domain.ScanRecord{}
	}
	// ?limit= keeps only the newest n records
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return badRequest{fmt.Errorf("invalid limit %q", v)}
		}
		if n = middleware.ValidateLimit(n); len(list) > n {
			list = list[:n]
		}
	}
	writeJSON(w, http.StatusOK, list)
	return nil
}

// GET /v1/scans/{id}
func (r *Router) handleGetRecord(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateRecordID(id); err != nil {
		return badRequest{err}
	}
	rec, err := r.scans.Record(req.Context(), domain.RecordID(id))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, rec)
	return nil
}

// DELETE /v1/scans/{id}
func (r *Router) handleDeleteRecord(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateRecordID(id); err != nil {
		return badRequest{err}
	}
	if err := r.scans.DeleteRecord(req.Context(), domain.RecordID(id)); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
