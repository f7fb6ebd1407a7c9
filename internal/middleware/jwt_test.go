package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestResolveBearerAndQuery(t *testing.T) {
	resolver := NewIdentityResolver("secret")
	token, err := resolver.Issue("p1", "acct-1", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	caller, err := resolver.Resolve(req)
	if err != nil {
		t.Fatalf("Resolve header: %v", err)
	}
	if caller.ID != "p1" || caller.AccountID != "acct-1" {
		t.Fatalf("caller = %+v", caller)
	}

	req = httptest.NewRequest(http.MethodGet, "/ws/rooms/AAAAAA?token="+token, nil)
	if caller, err = resolver.Resolve(req); err != nil || caller.ID != "p1" {
		t.Fatalf("Resolve query: %+v, %v", caller, err)
	}
}

func TestResolveRejectsBadTokens(t *testing.T) {
	resolver := NewIdentityResolver("secret")
	expired, _ := resolver.Issue("p1", "", -time.Minute)
	foreign, _ := NewIdentityResolver("other").Issue("p1", "", time.Hour)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, JWTClaims{UserID: "p1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	noUser, _ := resolver.Issue("", "", time.Hour)

	cases := map[string]string{
		"expired":      "Bearer " + expired,
		"wrong secret": "Bearer " + foreign,
		"alg none":     "Bearer " + none,
		"no user":      "Bearer " + noUser,
		"bad scheme":   "Token " + expired,
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", header)
			if _, err := resolver.Resolve(req); err == nil {
				t.Fatal("expected token to be rejected")
			}
		})
	}
}

func TestJWTAuthMiddleware(t *testing.T) {
	resolver := NewIdentityResolver("secret")
	router := gin.New()
	router.GET("/me", JWTAuth(resolver), func(c *gin.Context) {
		caller, ok := CallerFrom(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, caller.ID)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", w.Code)
	}

	token, _ := resolver.Issue("guest-7", "", time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "guest-7" {
		t.Fatalf("status %d body %q", w.Code, w.Body.String())
	}
}
