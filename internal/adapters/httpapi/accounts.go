package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/coursekeep/coursekeep/internal/app"
	"github.com/coursekeep/coursekeep/internal/httpjson"
	"github.com/coursekeep/coursekeep/internal/ports"
)

type AccountsHandler struct {
	accounts *app.AccountService
	tree     *app.TreeResolver
}

func NewAccountsHandler(accounts *app.AccountService, tree *app.TreeResolver) *AccountsHandler {
	return &AccountsHandler{accounts: accounts, tree: tree}
}

func (h *AccountsHandler) Routes(r chi.Router) {
	r.Route("/platforms/{platform}/accounts", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/", h.list)
		r.Post("/{id}/activate", h.activate)
	})
	r.Route("/accounts", func(r chi.Router) {
		r.Get("/active", h.active)
		r.Delete("/active", h.deactivate)
		r.Delete("/{id}", h.delete)
		r.Post("/{id}/invalidate", h.invalidate)
		r.Get("/{id}/content", h.content)
	})
}

func (h *AccountsHandler) create(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")

	var req struct {
		Username string `json:"username"`
		Secret   string `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}

	summary, err := h.accounts.Create(r.Context(), platform, ports.Credentials{Username: req.Username, Secret: req.Secret})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpjson.Write(w, http.StatusCreated, summary)
}

func (h *AccountsHandler) list(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")
	accounts, err := h.accounts.List(r.Context(), platform)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, accounts)
}

func (h *AccountsHandler) activate(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")
	id := chi.URLParam(r, "id")
	if err := h.accounts.Activate(r.Context(), platform, id); err != nil {
		writeServiceError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, map[string]string{"active": id})
}

func (h *AccountsHandler) active(w http.ResponseWriter, r *http.Request) {
	account, err := h.accounts.Active(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, account.Summary(true))
}

func (h *AccountsHandler) deactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Deactivate(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AccountsHandler) delete(w http.ResponseWriter, r *http.Request) {
	// Idempotent : supprimer un compte déjà absent répond 204 aussi.
	if err := h.accounts.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AccountsHandler) invalidate(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Invalidate(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// content énumère l'arbre Product→Module→Page du compte, avec l'état de
// verrouillage au moment de l'appel.
func (h *AccountsHandler) content(w http.ResponseWriter, r *http.Request) {
	tree, err := h.tree.EnumerateContent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, tree)
}
