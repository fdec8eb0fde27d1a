package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/BardiaPzK/ribooster/internal/core"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteServiceError maps core errors to HTTP statuses. Unexpected errors are
// logged with the request logger and reported without detail.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *core.ValidationError
	switch {
	case errors.As(err, &ve):
		WriteError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, core.ErrNotFound):
		WriteError(w, http.StatusNotFound, "backup job not found")
	case errors.Is(err, core.ErrConflict):
		WriteError(w, http.StatusConflict, core.ErrConflict.Error())
	case errors.Is(err, core.ErrNotReady):
		WriteError(w, http.StatusConflict, core.ErrNotReady.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
