package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/oksasatya/user-directory/pkg/helpers"
	"github.com/oksasatya/user-directory/pkg/response"
)

const (
	CtxSubjectKey = "subject"
	CtxScopeKey   = "scope"
)

// Auth validates a bearer service token and requires scope when non-empty.
// On success the token subject and scope are set in the Gin context.
func Auth(jwt *helpers.JWTManager, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.Header("WWW-Authenticate", `Bearer realm="users"`)
			response.Error[any](c, http.StatusUnauthorized, "missing bearer token", response.ErrorBody{Code: "unauthorized"})
			return
		}
		claims, err := jwt.ParseToken(token)
		if err != nil {
			c.Header("WWW-Authenticate", `Bearer realm="users", error="invalid_token"`)
			response.Error[any](c, http.StatusUnauthorized, "invalid bearer token", response.ErrorBody{Code: "unauthorized"})
			return
		}
		if scope != "" && !hasScope(claims.Scope, scope) {
			response.Error[any](c, http.StatusForbidden, "insufficient scope", response.ErrorBody{Code: "forbidden"})
			return
		}
		c.Set(CtxSubjectKey, claims.Subject)
		c.Set(CtxScopeKey, claims.Scope)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(header[len(prefix):])
	return tok, tok != ""
}

// hasScope reports whether the space separated list granted contains want.
func hasScope(granted, want string) bool {
	for _, s := range strings.Fields(granted) {
		if s == want {
			return true
		}
	}
	return false
}
