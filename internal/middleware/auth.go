package middleware

import (
	"errors"
	"net/http"
	"strings"

	"woodland-client/pkg/response"

	"github.com/gin-gonic/gin"
)

// CredentialSink receives a bearer token presented to the bridge.
type CredentialSink interface {
	SetCredential(access, refresh string)
}

// BearerCredential adopts the bearer token of a bridge request as the
// session credential. Requests without an Authorization header pass
// through unchanged.
func BearerCredential(sink CredentialSink) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}
		token, err := extractBearerToken(header)
		if err != nil {
			response.Error(c, http.StatusUnauthorized, err.Error())
			c.Abort()
			return
		}
		sink.SetCredential(token, "")
		c.Next()
	}
}

func extractBearerToken(authHeader string) (string, error) {
	if strings.TrimSpace(authHeader) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", errors.New("invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}
