package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// PathUUID parses the named chi route parameter as a UUID. On failure
// it writes a 400 and returns false.
func PathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		JSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid " + name + ": " + raw, Code: "validation"})
		return uuid.Nil, false
	}
	return id, true
}
