package api

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/tablekeep/tenant-integrity-service/internal/audit"
)

// OperatorClaims are the JWT claims carried by operator console tokens.
type OperatorClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// JWTAuthMiddleware validates the bearer token and records the operator's
// email as the acting principal for audit rows written downstream.
func JWTAuthMiddleware(signingKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing authorization header"})
			}
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid authorization header format"})
			}

			claims := &OperatorClaims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, echo.NewHTTPError(http.StatusUnauthorized, "unexpected signing method")
				}
				return []byte(signingKey), nil
			})
			if err != nil || !token.Valid {
				log.Warn().Err(err).Msg("Invalid or expired operator token")
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid or expired token"})
			}

			actor := claims.Email
			if actor == "" {
				actor = claims.Subject
			}
			req := c.Request()
			c.SetRequest(req.WithContext(audit.WithActor(req.Context(), actor)))
			return next(c)
		}
	}
}
