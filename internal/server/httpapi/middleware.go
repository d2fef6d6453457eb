package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/chunkdrive/chunkdrive/internal/api"
	"github.com/chunkdrive/chunkdrive/internal/common"
	"github.com/chunkdrive/chunkdrive/internal/server/auth"
)

const ownerIDKey = "ownerID"

// authMiddleware resolves the bearer token to an owner id and aborts
// unauthenticated requests.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader(common.AuthorizationHeaderName)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, api.ErrorResponse{
				Code:    api.CodeUnauthorized,
				Message: "missing bearer token",
			})
			return
		}

		ownerID, err := auth.GetOwnerIDFromToken(token, s.jwtSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, api.ErrorResponse{
				Code:    api.CodeUnauthorized,
				Message: "invalid token",
			})
			return
		}

		c.Set(ownerIDKey, ownerID)
		c.Next()
	}
}

func ownerID(c *gin.Context) string {
	return c.GetString(ownerIDKey)
}
