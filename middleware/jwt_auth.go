package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const ingestSourceKey = "ingest_source"

// IngestClaims are the claims an event producer signs
type IngestClaims struct {
	jwt.RegisteredClaims
	Source string `json:"source"`
}

// IngestAuthMiddleware verifies HS256 bearer tokens on the trigger ingestion
// route. With an empty secret verification is disabled and every request is
// let through.
func IngestAuthMiddleware(secret string, log logrus.FieldLogger) gin.HandlerFunc {
	if secret == "" {
		log.Warn("INGEST_JWT_SECRET not set, trigger ingestion is unauthenticated")
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Authorization header is required",
				"error":   "unauthorized",
			})
			return
		}

		// Extract token from "Bearer <token>" format
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Invalid authorization header format. Use: Bearer <token>",
				"error":   "unauthorized",
			})
			return
		}

		claims, err := validateIngestToken(tokenString, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": fmt.Sprintf("Invalid token: %v", err),
				"error":   "unauthorized",
			})
			return
		}

		c.Set(ingestSourceKey, claims.Source)
		c.Next()
	}
}

// validateIngestToken parses and checks an HS256 token. Expiry is enforced by
// the parser when exp is present.
func validateIngestToken(tokenString, secret string) (*IngestClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &IngestClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*IngestClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.Source == "" {
		return nil, errors.New("source claim is required")
	}
	return claims, nil
}

// GetIngestSourceFromContext returns the verified producer name, if any
func GetIngestSourceFromContext(c *gin.Context) (string, bool) {
	v, exists := c.Get(ingestSourceKey)
	if !exists {
		return "", false
	}
	source, ok := v.(string)
	return source, ok && source != ""
}
