package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

type contextKey struct{}

// Authenticator issues and verifies HS256 tokens carrying a user_id claim.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthenticator(secret string, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for userID.
func (a *Authenticator) Issue(userID uuid.UUID) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID.String(),
		"exp":     a.now().Add(a.ttl).Unix(),
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and returns the user it was issued to.
func (a *Authenticator) Verify(raw string) (uuid.UUID, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, ErrInvalidToken
	}
	sub, ok := claims["user_id"].(string)
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: user_id claim missing", ErrInvalidToken)
	}
	userID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: user_id claim malformed", ErrInvalidToken)
	}
	return userID, nil
}

// FromRequest authenticates a request by its Authorization header, falling back to a
// token query parameter for websocket upgrades.
func (a *Authenticator) FromRequest(r *http.Request) (uuid.UUID, error) {
	raw := ""
	if header := r.Header.Get("Authorization"); header != "" {
		raw = strings.TrimPrefix(header, "Bearer ")
		if raw == header {
			return uuid.Nil, fmt.Errorf("%w: expected Bearer scheme", ErrInvalidToken)
		}
	} else {
		raw = r.URL.Query().Get("token")
	}
	if raw == "" {
		return uuid.Nil, ErrMissingToken
	}
	return a.Verify(raw)
}

// Middleware attaches the caller's user id to the request context when a valid
// token is present. Anonymous requests pass through untouched.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.FromRequest(r)
		if err == nil {
			r = r.WithContext(WithUser(r.Context(), userID))
		}
		next.ServeHTTP(w, r)
	})
}

// WithUser stores userID on ctx.
func WithUser(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(contextKey{}).(uuid.UUID)
	return id, ok && id != uuid.Nil
}
