// Package identity resolves the opaque per-user key on incoming requests to
// a stored user record. It is resolution only, not authentication; identity
// management lives outside this service.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sarthi-ai/gateway/internal/usage"
)

// HeaderKey carries the caller's identity key (an email or account ID).
const HeaderKey = "X-User-Key"

const cacheTTL = 5 * time.Minute

type Middleware func(next http.Handler) http.Handler

type contextKey string

const (
	userKey      contextKey = "user"
	requestIDKey contextKey = "request_id"
)

// NewMiddleware returns middleware that resolves the identity header to a
// user (creating one on first reference), with a short Redis cache in front
// of the store. Requests without an identity are rejected before any store
// access; store failures surface as retryable errors, never as silent admits.
func NewMiddleware(store usage.Store, cache *redis.Client) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			requestID := uuid.New().String()
			ctx = context.WithValue(ctx, requestIDKey, requestID)
			w.Header().Set("X-Request-ID", requestID)

			identityKey := r.Header.Get(HeaderKey)
			if identityKey == "" {
				http.Error(w, "Bad Request: missing "+HeaderKey+" header", http.StatusBadRequest)
				return
			}

			redisKey := cacheKey(identityKey)
			if data, err := cache.Get(ctx, redisKey).Bytes(); err == nil {
				var user usage.User
				if jsonErr := json.Unmarshal(data, &user); jsonErr == nil {
					next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, userKey, &user)))
					return
				}
			} else if !errors.Is(err, redis.Nil) {
				log.Printf("identity: redis error: %v", err)
			}

			user, err := store.GetOrCreateUser(ctx, identityKey)
			if err != nil {
				w.Header().Set("Retry-After", "5")
				http.Error(w, "Service Unavailable: usage store unreachable", http.StatusServiceUnavailable)
				return
			}

			if data, err := json.Marshal(user); err == nil {
				_ = cache.Set(ctx, redisKey, data, cacheTTL).Err()
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, userKey, user)))
		})
	}
}

// Identity keys are hashed before use as cache keys so raw emails never
// appear in Redis.
func cacheKey(identityKey string) string {
	h := sha256.Sum256([]byte(identityKey))
	return fmt.Sprintf("user:%s", hex.EncodeToString(h[:]))
}

// Helpers to extract from context
func GetUser(ctx context.Context) *usage.User {
	if u, ok := ctx.Value(userKey).(*usage.User); ok {
		return u
	}
	return nil
}

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Helpers for testing
func WithUser(ctx context.Context, user *usage.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}
