package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/novincode/dlman-sub000/pkg/dlcore"
)

const apiVersion = "0.1.0"

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("GET /api/status", s.handleStatus)

	mux.HandleFunc("GET /api/downloads", s.handleListDownloads)
	mux.HandleFunc("GET /api/downloads/{id}", s.handleGetDownload)
	mux.HandleFunc("POST /api/downloads", s.handleAddDownload)
	mux.HandleFunc("POST /api/downloads/batch", s.handleAddDownloadBatch)
	mux.HandleFunc("POST /api/downloads/probe", s.handleProbe)
	mux.HandleFunc("POST /api/downloads/{id}/pause", s.handleAction(func(r *http.Request, id string) error { return s.mgr.Pause(id) }))
	mux.HandleFunc("POST /api/downloads/{id}/resume", s.handleAction(func(r *http.Request, id string) error { return s.mgr.Start(s.bgCtx, id) }))
	mux.HandleFunc("POST /api/downloads/{id}/cancel", s.handleAction(func(r *http.Request, id string) error { return s.mgr.Cancel(id) }))
	mux.HandleFunc("POST /api/downloads/{id}/retry", s.handleAction(func(r *http.Request, id string) error { return s.mgr.Retry(id) }))
	mux.HandleFunc("PATCH /api/downloads/{id}", s.handlePatchDownload)
	mux.HandleFunc("DELETE /api/downloads/{id}", s.handleDeleteDownload)

	mux.HandleFunc("GET /api/queues", s.handleListQueues)
	mux.HandleFunc("POST /api/queues", s.handleCreateQueue)
	mux.HandleFunc("PATCH /api/queues/{id}", s.handlePatchQueue)
	mux.HandleFunc("DELETE /api/queues/{id}", s.handleDeleteQueue)
	mux.HandleFunc("POST /api/queues/{id}/start", s.handleQueueStartStop(true))
	mux.HandleFunc("POST /api/queues/{id}/stop", s.handleQueueStartStop(false))

	mux.HandleFunc("GET /api/categories", s.handleListCategories)
	mux.HandleFunc("POST /api/categories", s.handleCreateCategory)
	mux.HandleFunc("DELETE /api/categories/{id}", s.handleDeleteCategory)

	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("PATCH /api/settings", s.handlePatchSettings)

	mux.HandleFunc("GET /ws", s.handleWS)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch err {
	case dlcore.ErrDownloadNotFound, dlcore.ErrQueueNotFound, dlcore.ErrCategoryNotFound:
		return http.StatusNotFound
	case dlcore.ErrInvalidTransition, dlcore.ErrDefaultQueueImmutable:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": apiVersion})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	all := s.mgr.List()
	var running, queued int
	var aggregateDownloaded int64
	for _, d := range all {
		switch d.Status {
		case dlcore.StatusDownloading:
			running++
		case dlcore.StatusQueued, dlcore.StatusPending:
			queued++
		}
		aggregateDownloaded += d.Downloaded
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"running":             running,
		"queued":              queued,
		"total":               len(all),
		"aggregate_downloaded": aggregateDownloaded,
	})
}

func (s *Server) handleListDownloads(w http.ResponseWriter, r *http.Request) {
	filter := dlcore.Status(r.URL.Query().Get("status"))
	all := s.mgr.List()
	if filter == "" {
		writeJSON(w, http.StatusOK, all)
		return
	}
	out := make([]*dlcore.Download, 0, len(all))
	for _, d := range all {
		if d.Status == filter {
			out = append(out, d)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetDownload(w http.ResponseWriter, r *http.Request) {
	d, err := s.mgr.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type addDownloadRequest struct {
	URL         string          `json:"url"`
	Filename    string          `json:"filename"`
	Destination string          `json:"destination"`
	QueueID     string          `json:"queue_id"`
	Priority    dlcore.Priority `json:"priority"`
	Segments    int             `json:"segments"`
	Referrer    string          `json:"referrer"`
	Headers     dlcore.Headers  `json:"headers"`
	Cookies     dlcore.Cookies  `json:"cookies"`
}

func (s *Server) handleAddDownload(w http.ResponseWriter, r *http.Request) {
	var req addDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	d, err := s.mgr.AddDownload(req.URL, req.Destination, dlcore.Download{
		Filename: req.Filename, QueueID: req.QueueID, Priority: req.Priority, SegmentCount: req.Segments,
		Referrer: req.Referrer, Headers: req.Headers, Cookies: req.Cookies,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleAddDownloadBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []addDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	out := make([]*dlcore.Download, 0, len(reqs))
	for _, req := range reqs {
		d, err := s.mgr.AddDownload(req.URL, req.Destination, dlcore.Download{
			Filename: req.Filename, QueueID: req.QueueID, Priority: req.Priority, SegmentCount: req.Segments,
			Referrer: req.Referrer, Headers: req.Headers, Cookies: req.Cookies,
		})
		if err != nil {
			out = append(out, &dlcore.Download{URL: req.URL, Error: err.Error(), Status: dlcore.StatusFailed})
			continue
		}
		out = append(out, d)
	}
	writeJSON(w, http.StatusCreated, out)
}

type probeRequest struct {
	URLs []string `json:"urls"`
}

type probeResult struct {
	URL         string `json:"url"`
	Filename    string `json:"filename,omitempty"`
	Size        int64  `json:"size,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	FinalURL    string `json:"final_url,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	var req probeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	client, err := dlcore.NewClient(s.mgr.Settings().Proxy)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	t := &dlcore.Transport{Client: client}
	out := make([]probeResult, 0, len(req.URLs))
	for _, u := range req.URLs {
		res, err := t.Probe(r.Context(), u)
		if err != nil {
			out = append(out, probeResult{URL: u, Error: err.Error()})
			continue
		}
		pr := probeResult{URL: u, FinalURL: res.FinalURL, ContentType: res.ContentType, Filename: res.FilenameHint}
		if res.Size.Known {
			pr.Size = res.Size.Bytes
		}
		out = append(out, pr)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAction(fn func(r *http.Request, id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := fn(r, id); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		d, err := s.mgr.Get(id)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func (s *Server) handlePatchDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		Destination *string `json:"destination"`
		SpeedLimit  *int64  `json:"speed_limit"`
		QueueID     *string `json:"queue_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	d, err := s.mgr.UpdateDownload(id, body.Destination, body.SpeedLimit, body.QueueID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeleteDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	deleteFile, _ := strconv.ParseBool(r.URL.Query().Get("delete_file"))
	if err := s.mgr.Remove(id, deleteFile); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListQueues(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.Queues())
}

func (s *Server) handleCreateQueue(w http.ResponseWriter, r *http.Request) {
	var q dlcore.Queue
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.mgr.CreateQueue(&q); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, &q)
}

func (s *Server) handlePatchQueue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var q dlcore.Queue
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	q.ID = id
	if err := s.mgr.UpdateQueue(&q); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, &q)
}

func (s *Server) handleDeleteQueue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.mgr.DeleteQueue(id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleQueueStartStop(enable bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		queues := s.mgr.Queues()
		var target *dlcore.Queue
		for _, q := range queues {
			if q.ID == id {
				target = q
				break
			}
		}
		if target == nil {
			writeError(w, http.StatusNotFound, dlcore.ErrQueueNotFound)
			return
		}
		target.Paused = !enable
		if err := s.mgr.UpdateQueue(target); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, target)
	}
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.Categories())
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var c dlcore.Category
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.mgr.CreateCategory(&c); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, &c)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.mgr.DeleteCategory(id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.Settings())
}

func (s *Server) handlePatchSettings(w http.ResponseWriter, r *http.Request) {
	st := s.mgr.Settings()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := json.Unmarshal(body, &st); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	// Proxy.Password is tagged json:"-" so it never round-trips through
	// Settings; a patch carries it (if present) under its own top-level key.
	var pw struct {
		ProxyPassword *string `json:"proxy_password"`
	}
	if err := json.Unmarshal(body, &pw); err == nil && pw.ProxyPassword != nil {
		st.Proxy.Password = *pw.ProxyPassword
	}
	if err := s.mgr.UpdateSettings(st); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
