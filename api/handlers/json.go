package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"rahat-ems/core/model"
	"rahat-ems/core/store"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the domain error kinds onto HTTP statuses. Unknown errors
// surface as an opaque 500 so store internals never leak to clients.
func writeError(w http.ResponseWriter, err error) {
	var ve *model.ValidationError
	var te *model.InvalidTransitionError
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, model.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": ve.Error(),
			"field": ve.Field,
		})
	case errors.As(err, &te):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": te.Error(),
			"axis":  te.Axis,
		})
	case errors.Is(err, store.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "concurrent update, retry"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server error"})
	}
}

func parseIntDefault(val string, def int) int {
	if val == "" {
		return def
	}
	if n, err := strconv.Atoi(val); err == nil {
		return n
	}
	return def
}
