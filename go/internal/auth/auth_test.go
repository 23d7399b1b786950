package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestIssueAndVerify(t *testing.T) {
	a := NewAuthenticator("test-secret", time.Hour)
	userID := uuid.New()

	token, err := a.Issue(userID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	got, err := a.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != userID {
		t.Fatalf("expected %s, got %s", userID, got)
	}

	other := NewAuthenticator("other-secret", time.Hour)
	if _, err := other.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	a := NewAuthenticator("test-secret", time.Minute)
	issuedAt := time.Now().Add(-time.Hour)
	a.now = func() time.Time { return issuedAt }
	token, err := a.Issue(uuid.New())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	a.now = time.Now
	if _, err := a.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestMiddlewareAttachesUser(t *testing.T) {
	a := NewAuthenticator("test-secret", time.Hour)
	userID := uuid.New()
	token, err := a.Issue(userID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var seen uuid.UUID
	var authed bool
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, authed = UserFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/join/780674", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if !authed || seen != userID {
		t.Fatalf("expected user %s, got %s (authed=%v)", userID, seen, authed)
	}

	req = httptest.NewRequest(http.MethodGet, "/ws/room?token="+token, nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if !authed || seen != userID {
		t.Fatal("expected query token to authenticate")
	}

	req = httptest.NewRequest(http.MethodGet, "/join/780674", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if authed {
		t.Fatal("expected anonymous request to pass through unauthenticated")
	}
}

func TestFromRequestRejectsOtherSchemes(t *testing.T) {
	a := NewAuthenticator("test-secret", time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
	if _, err := a.FromRequest(req); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	if _, err := a.FromRequest(httptest.NewRequest(http.MethodGet, "/", nil)); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
}
