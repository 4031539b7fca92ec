package handlers

import (
	"net/http"

	apperrors "github.com/krewdev/bluetrap/internal/errors"
)

// errorResponder writes error envelopes for every handler in this package.
var errorResponder = apperrors.RespondWithError

// SetHTTPErrorResponder lets the server install its central error handler.
// nil restores the default.
func SetHTTPErrorResponder(responder func(http.ResponseWriter, *http.Request, error)) {
	if responder == nil {
		responder = apperrors.RespondWithError
	}
	errorResponder = responder
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	errorResponder(w, r, err)
}
