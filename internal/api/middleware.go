package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"lumenclean/pkg/logger"
)

const (
	APIKeyHeader = "X-API-Key"
	// browsers cannot set headers on EventSource or WebSocket requests
	tokenQueryParam = "token"
)

// AuthConfig enables request authentication. With both fields empty every request is allowed.
type AuthConfig struct {
	JWTSecret  string
	APIKeyHash string
}

// Enabled reports whether any credential is configured
func (a AuthConfig) Enabled() bool {
	return a.JWTSecret != "" || a.APIKeyHash != ""
}

// AuthMiddleware accepts either an API key matching the bcrypt hash or an
// HMAC-signed bearer token.
func AuthMiddleware(cfg AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Enabled() {
			c.Next()
			return
		}

		if key := c.GetHeader(APIKeyHeader); key != "" && cfg.APIKeyHash != "" {
			if bcrypt.CompareHashAndPassword([]byte(cfg.APIKeyHash), []byte(key)) == nil {
				c.Set("auth_method", "api_key")
				c.Next()
				return
			}
		}

		if token := bearerToken(c); token != "" && cfg.JWTSecret != "" {
			claims, err := ValidateToken(cfg.JWTSecret, token)
			if err == nil {
				c.Set("auth_method", "jwt")
				c.Set("subject", claims.Subject)
				c.Next()
				return
			}
			logger.Debug("Rejected bearer token", "error", err)
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}
}

func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return c.Query(tokenQueryParam)
}

// ValidateToken parses and verifies an HS256 token
func ValidateToken(secret, tokenString string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// GenerateToken issues an HS256 token for subject valid for ttl
func GenerateToken(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// HashAPIKey returns the bcrypt hash to store in auth.api_key_hash
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// RequestLogger logs one line per request
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}
