package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// operatorClaims is the JWT payload issued to an authenticated operator.
// There is no user model in this domain, so the subject is always the
// fixed string "operator" rather than a per-user id.
type operatorClaims struct {
	jwt.RegisteredClaims
}

const tokenTTL = 12 * time.Hour

// issueToken signs a short-lived operator token with the server's secret.
func (s *Server) issueToken() (string, error) {
	claims := operatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "operator",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.secret))
}

// handleIssueToken exchanges the operator's shared secret (presented via
// the X-Operator-Token header, the same way tactics.go's handlers checked
// a caller identity before touching anything mutating) for a bearer JWT.
func (s *Server) handleIssueToken(c *gin.Context) {
	presented := c.GetHeader("X-Operator-Token")
	if presented == "" || presented != s.secret {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid operator token"})
		return
	}

	token, err := s.issueToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_in_seconds": int(tokenTTL.Seconds())})
}

// requireOperator validates the bearer JWT on every mutating or
// state-revealing control-plane route. Unlike tactics.go's
// c.GetString("user_id") check against a multi-tenant user store, there
// is exactly one operator identity here; the middleware only needs to
// confirm the token was signed with the server's secret and has not
// expired.
func (s *Server) requireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		var claims operatorClaims
		_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
			return []byte(s.secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set("operator", claims.Subject)
		c.Next()
	}
}
