package catalog

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

// Routes registers the catalog endpoints. Paths are flat so the
// circulation handler can add /books/{bookID}/loans on the same router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/books", h.handleAddBook)
	r.Get("/books", h.handleListBooks)
	r.Get("/books/{bookID}", h.handleGetBook)
	r.Delete("/books/{bookID}", h.handleRemoveBook)
	r.Get("/books/{bookID}/availability", h.handleAvailability)
}

func (h *Handler) handleAddBook(w http.ResponseWriter, r *http.Request) {
	var req AddBookRequest
	if !httpx.Decode(w, r, &req) {
		return
	}

	book, err := h.service.AddBook(r.Context(), req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Created(w, book)
}

// handleListBooks lists the whole catalog, or searches it when q is set.
func (h *Handler) handleListBooks(w http.ResponseWriter, r *http.Request) {
	var (
		books []*Book
		err   error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		books, err = h.service.SearchBooks(r.Context(), q)
	} else {
		books, err = h.service.ListBooks(r.Context())
	}
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if books == nil {
		books = []*Book{}
	}
	httpx.OK(w, books)
}

func (h *Handler) handleGetBook(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathUUID(w, r, "bookID")
	if !ok {
		return
	}

	book, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.OK(w, book)
}

func (h *Handler) handleRemoveBook(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathUUID(w, r, "bookID")
	if !ok {
		return
	}

	if err := h.service.RemoveBook(r.Context(), id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathUUID(w, r, "bookID")
	if !ok {
		return
	}

	availability, err := h.service.CheckAvailability(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.OK(w, availability)
}
