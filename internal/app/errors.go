package app

import (
	"errors"
	"net/http"

	"agora/governance/internal/governance"
)

// statusFor maps an engine error kind to the HTTP status the ops API
// answers with.
func statusFor(kind governance.Kind) int {
	switch kind {
	case governance.KindAuthorization:
		return http.StatusForbidden
	case governance.KindNotFound:
		return http.StatusNotFound
	case governance.KindConflict:
		return http.StatusConflict
	case governance.KindInvalid:
		return http.StatusBadRequest
	case governance.KindConfiguration, governance.KindInvariant:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func writeEngineError(w http.ResponseWriter, err error) {
	var gerr *governance.Error
	if !errors.As(err, &gerr) {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
		return
	}
	var details any
	if len(gerr.Details) > 0 {
		details = gerr.Details
	}
	writeError(w, statusFor(gerr.Kind), gerr.Code, gerr.Message, details)
}
