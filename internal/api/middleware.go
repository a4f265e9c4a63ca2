/**
 * @description
 * This file contains the HTTP middleware of the settlement-service: request ids, access
 * logging, and the two ways a caller may authenticate.
 *
 * - Service-to-service callers send the shared X-Internal-API-Key header.
 * - End-user callers send an HS256 bearer token; its subject is made available to
 *   handlers so they can restrict a caller to their own username.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5/middleware: Response writer wrapping.
 * - github.com/golang-jwt/jwt/v5: Bearer token validation.
 * - github.com/google/uuid: Request ids.
 * - go.uber.org/zap: Access logging.
 */

package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const (
	subjectKey   ContextKey = "subject"
	requestIDKey ContextKey = "requestID"

	internalKeyHeader = "X-Internal-API-Key"
	requestIDHeader   = "X-Request-ID"
)

// RequestIDMiddleware propagates an incoming X-Request-ID or assigns a new one.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestLogger writes one access log line per request.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", GetRequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// InternalAuthMiddleware admits only callers presenting the internal API key. An empty
// required key leaves the route open.
func InternalAuthMiddleware(requiredKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiredKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !internalKeyMatches(r, requiredKey) {
				respondWithError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CallerAuthMiddleware admits internal callers by key and end users by HS256 bearer
// token. When neither credential is configured the route is open.
func CallerAuthMiddleware(internalKey, jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if internalKey != "" && internalKeyMatches(r, internalKey) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				if internalKey == "" && jwtSecret == "" {
					next.ServeHTTP(w, r)
					return
				}
				respondWithError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}
			if jwtSecret == "" {
				respondWithError(w, http.StatusUnauthorized, "Bearer tokens are not accepted")
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				respondWithError(w, http.StatusUnauthorized, "Invalid Authorization header format")
				return
			}

			subject, err := parseSubject(tokenString, jwtSecret)
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, fmt.Sprintf("Invalid token: %v", err))
				return
			}

			ctx := context.WithValue(r.Context(), subjectKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseSubject(tokenString, secret string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	subject, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(subject) == "" {
		return "", fmt.Errorf("subject not found in token")
	}
	return subject, nil
}

func internalKeyMatches(r *http.Request, requiredKey string) bool {
	provided := strings.TrimSpace(r.Header.Get(internalKeyHeader))
	return provided != "" && subtle.ConstantTimeCompare([]byte(provided), []byte(requiredKey)) == 1
}

// GetSubject returns the bearer token subject, if the caller authenticated with one.
func GetSubject(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(subjectKey).(string)
	return subject, ok
}

// GetRequestID returns the id assigned by RequestIDMiddleware.
func GetRequestID(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDKey).(string)
	return requestID
}
