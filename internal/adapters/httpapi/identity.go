package httpapi

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/relay/internal/adapters/ws"
	"github.com/dkeye/relay/internal/core"
	"github.com/dkeye/relay/internal/domain"
)

const accessTokenCookie = "access_token"

// IdentityMiddleware resolves the access_token cookie to a user and leaves
// it on the context. Any failure leaves the identity unset; the endpoint
// behind decides what an anonymous connection means.
func IdentityMiddleware(secret string, users core.UserStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(accessTokenCookie)
		if err != nil || token == "" {
			c.Next()
			return
		}

		uid, err := parseUserID(token, secret)
		if err != nil {
			log.Debug().Err(err).Str("module", "httpapi").Msg("token rejected")
			c.Next()
			return
		}

		user, err := users.User(c.Request.Context(), uid)
		if err != nil {
			log.Debug().Err(err).Str("module", "httpapi").Str("user_id", string(uid)).Msg("unknown token subject")
			c.Next()
			return
		}

		c.Set(ws.IdentityKey, *user)
		c.Next()
	}
}

func parseUserID(token, secret string) (domain.UserID, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid {
		return "", core.ErrUnauthenticated
	}
	uid, _ := claims["user_id"].(string)
	if uid == "" {
		return "", core.ErrUnauthenticated
	}
	return domain.UserID(uid), nil
}
