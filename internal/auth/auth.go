// Package auth resolves the identity of the caller of an operator endpoint
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrUnauthenticated = errors.New("authentication required")

// Authenticator turns a request into an opaque user id or ErrUnauthenticated
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

type ctxKey struct{}

// WithUser stores the resolved user id on the context
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserID returns the user id stored by WithUser
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// HeaderAuthenticator trusts a header set by a fronting proxy that already validated the session
type HeaderAuthenticator struct {
	Header string
}

func (h HeaderAuthenticator) Authenticate(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(h.Header))
	if id == "" {
		return "", ErrUnauthenticated
	}
	return id, nil
}

// RedisSessions looks bearer tokens up in Redis, where the session holder stored the user id
// under <prefix><token>
type RedisSessions struct {
	client *redis.Client
	prefix string
}

func NewRedisSessions(client *redis.Client, prefix string) *RedisSessions {
	return &RedisSessions{client: client, prefix: prefix}
}

func (s *RedisSessions) Authenticate(r *http.Request) (string, error) {
	token, ok := bearerToken(r)
	if !ok {
		return "", ErrUnauthenticated
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	id, err := s.client.Get(ctx, s.prefix+token).Result()
	if errors.Is(err, redis.Nil) || (err == nil && id == "") {
		return "", ErrUnauthenticated
	} else if err != nil {
		return "", fmt.Errorf("session lookup failed: %w", err)
	}
	return id, nil
}

// Store registers a session, used by the login flow and by tests
func (s *RedisSessions) Store(ctx context.Context, token, userID string, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+token, userID, ttl).Err()
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
