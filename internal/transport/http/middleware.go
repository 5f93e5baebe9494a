package httptransport

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"propmock/internal/domain/auth"
	"propmock/internal/domain/chaos"
	"propmock/internal/platform/observability"
)

const principalKey = "propmock.principal"

// chaosGate delays every matched /api request and may answer it with a
// synthetic failure before the resolver runs.
func chaosGate(ctrl *chaos.Controller, recorder *observability.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		failure, err := ctrl.Gate(c.Request.Context())
		if err != nil {
			respondError(c, http.StatusServiceUnavailable, "request cancelled")
			return
		}
		if failure != nil {
			recorder.ObserveInjected()
			ctrl.Injected(c.Request.Method, c.Request.URL.Path, failure)
			respondError(c, failure.Status, failure.Message)
			return
		}
		c.Next()
	}
}

// bearer validates the Authorization header and stores the principal.
func bearer(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c.Request)
		if token == "" {
			respondError(c, http.StatusUnauthorized, "missing bearer token")
			return
		}
		p, err := svc.Validate(c.Request.Context(), token)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func principal(c *gin.Context) (auth.Principal, error) {
	v, ok := c.Get(principalKey)
	if !ok {
		return auth.Principal{}, errors.New("no principal on request")
	}
	return v.(auth.Principal), nil
}
