package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/myassin/authflow/internal/auth"
	"github.com/myassin/authflow/pkg/errors"
	"github.com/myassin/authflow/pkg/logger"
	"github.com/myassin/authflow/pkg/response"
)

// CtxAccountIDKey is the gin context key carrying the authenticated account id.
const CtxAccountIDKey = "accountID"

// SessionAuth enforces authentication via the session cookie. Verification is
// a pure signature-and-expiry check; no store access happens here.
func SessionAuth(sessions *iauth.SessionService, cookieName string) gin.HandlerFunc {
	log := logger.WithModule("auth")

	return func(c *gin.Context) {
		token, err := c.Cookie(cookieName)
		if err != nil || token == "" {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		accountID, err := sessions.Verify(token)
		if err != nil {
			// The failure reason stays server-side; clients get one 401.
			log.Debug("session rejected", zap.Error(err))
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(CtxAccountIDKey, accountID)
		c.Next()
	}
}
