package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/coursekeep/coursekeep/internal/app"
	"github.com/coursekeep/coursekeep/internal/httpjson"
)

type DownloadsHandler struct {
	downloads *app.DownloadService
}

func NewDownloadsHandler(downloads *app.DownloadService) *DownloadsHandler {
	return &DownloadsHandler{downloads: downloads}
}

func (h *DownloadsHandler) Routes(r chi.Router) {
	r.Route("/downloads", func(r chi.Router) {
		r.Post("/", h.submit)
		r.Get("/", h.list)
		r.Get("/status", h.status)
		r.Get("/{id}", h.get)
		r.Post("/{id}/cancel", h.cancel)
		r.Get("/{id}/events", h.events)
	})
}

func (h *DownloadsHandler) submit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string              `json:"accountId"`
		Items     []app.SelectionItem `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.AccountID == "" {
		httpjson.WriteError(w, http.StatusBadRequest, "missing accountId")
		return
	}

	ids, err := h.downloads.Submit(r.Context(), req.AccountID, req.Items)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpjson.Write(w, http.StatusCreated, map[string][]string{"jobIds": ids})
}

func (h *DownloadsHandler) list(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := h.downloads.List(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, jobs)
}

// status répond au polling de l'UI : ?ids=a,b,c
func (h *DownloadsHandler) status(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("ids")
	if raw == "" {
		httpjson.WriteError(w, http.StatusBadRequest, "missing ids")
		return
	}
	jobs, err := h.downloads.Status(r.Context(), strings.Split(raw, ","))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, jobs)
}

func (h *DownloadsHandler) get(w http.ResponseWriter, r *http.Request) {
	job, err := h.downloads.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, job)
}

func (h *DownloadsHandler) cancel(w http.ResponseWriter, r *http.Request) {
	job, err := h.downloads.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, job)
}

// events renvoie le journal append-only des transitions du job.
func (h *DownloadsHandler) events(w http.ResponseWriter, r *http.Request) {
	events, err := h.downloads.Events(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, events)
}
