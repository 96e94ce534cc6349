package membership

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"lendinghub/internal/platform/httpx"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/users", h.handleRegister)
	r.Get("/users", h.handleList)
	r.Get("/users/{userID}", h.handleGet)
	r.Delete("/users/{userID}", h.handleRemove)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterUserRequest
	if !httpx.Decode(w, r, &req) {
		return
	}

	user, err := h.service.RegisterUser(r.Context(), req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Created(w, user)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if users == nil {
		users = []*User{}
	}
	httpx.OK(w, users)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathUUID(w, r, "userID")
	if !ok {
		return
	}

	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.OK(w, user)
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathUUID(w, r, "userID")
	if !ok {
		return
	}

	if err := h.service.RemoveUser(r.Context(), id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.NoContent(w)
}
