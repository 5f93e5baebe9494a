package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"propmock/internal/domain/auth"
	"propmock/internal/domain/docstore"
	perrors "propmock/internal/platform/errors"
)

// ErrorBody is the failure shape shared by every endpoint, including
// injected chaos failures.
type ErrorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

func respondError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, ErrorBody{Error: message, Status: status})
}

// respondErr maps domain errors to HTTP statuses.
func respondErr(c *gin.Context, err error) {
	status := StatusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		message = "internal error"
	}
	respondError(c, status, message)
}

// StatusFor maps an error from the domain packages to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, docstore.ErrNotFound), errors.Is(err, auth.ErrRoleNotFound):
		return http.StatusNotFound
	case errors.Is(err, docstore.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, docstore.ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrTokenInvalid):
		return http.StatusUnauthorized
	case perrors.IsKind(err, perrors.KindChaos):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
