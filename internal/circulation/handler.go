package circulation

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
	r.Post("/loans", h.handleCreateLoan)
	r.Get("/loans/{loanID}", h.handleGetLoan)
	r.Get("/loans/{loanID}/history", h.handleHistory)
	r.Post("/loans/{loanID}/return", h.handleReturnBook)
	r.Get("/users/{userID}/loans", h.handleUserLoans)
	r.Get("/books/{bookID}/loans", h.handleBookLoans)
}

func (h *Handler) handleCreateLoan(w http.ResponseWriter, r *http.Request) {
	var req CreateLoanRequest
	if !httpx.Decode(w, r, &req) {
		return
	}

	loan, err := h.service.CreateLoan(r.Context(), req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Created(w, loan)
}

func (h *Handler) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathUUID(w, r, "loanID")
	if !ok {
		return
	}

	loan, err := h.service.GetLoan(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.OK(w, loan)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathUUID(w, r, "loanID")
	if !ok {
		return
	}

	events, err := h.service.History(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.OK(w, events)
}

// handleReturnBook accepts an empty body as "returned now".
func (h *Handler) handleReturnBook(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathUUID(w, r, "loanID")
	if !ok {
		return
	}

	var req ReturnBookRequest
	if !httpx.DecodeOptional(w, r, &req) {
		return
	}
	req.LoanID = id

	result, err := h.service.ReturnBook(r.Context(), req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.OK(w, result)
}

func (h *Handler) handleUserLoans(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathUUID(w, r, "userID")
	if !ok {
		return
	}

	loans, err := h.service.GetUserLoans(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.OK(w, loans)
}

func (h *Handler) handleBookLoans(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathUUID(w, r, "bookID")
	if !ok {
		return
	}

	loans, err := h.service.GetBookLoans(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if loans == nil {
		loans = []*Loan{}
	}
	httpx.OK(w, loans)
}
