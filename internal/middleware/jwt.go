package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mossy-p/card-lobby/internal/lobby"
)

const callerKey = "caller"

var ErrNoToken = errors.New("no bearer token")

// JWTClaims represents the claims in the JWT token from mossp.me-api.
// AccountID is empty for guest players.
type JWTClaims struct {
	UserID    string `json:"user_id"`
	AccountID string `json:"account_id,omitempty"`
	jwt.RegisteredClaims
}

// IdentityResolver turns a request's token into a lobby caller.
type IdentityResolver struct {
	secret []byte
}

func NewIdentityResolver(secret string) *IdentityResolver {
	return &IdentityResolver{secret: []byte(secret)}
}

// Resolve reads the token from the Authorization header, falling back to the
// token query parameter that browsers use for websocket handshakes.
func (r *IdentityResolver) Resolve(req *http.Request) (lobby.Caller, error) {
	tokenString, err := bearerToken(req)
	if err != nil {
		return lobby.Caller{}, err
	}
	claims, err := r.Parse(tokenString)
	if err != nil {
		return lobby.Caller{}, err
	}
	return lobby.Caller{ID: claims.UserID, AccountID: claims.AccountID}, nil
}

// Parse validates an HS256 token and returns its claims.
func (r *IdentityResolver) Parse(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.UserID == "" {
		return nil, errors.New("token has no user_id")
	}
	return claims, nil
}

// Issue signs a token for userID, valid for ttl.
func (r *IdentityResolver) Issue(userID, accountID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		UserID:    userID,
		AccountID: accountID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}

func bearerToken(req *http.Request) (string, error) {
	authHeader := req.Header.Get("Authorization")
	if authHeader == "" {
		if token := req.URL.Query().Get("token"); token != "" {
			return token, nil
		}
		return "", ErrNoToken
	}

	// Extract token from "Bearer <token>"
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errors.New("invalid authorization header format")
	}
	return parts[1], nil
}

// JWTAuth rejects requests without a valid token and stores the caller for
// handlers.
func JWTAuth(resolver *IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := resolver.Resolve(c.Request)
		if errors.Is(err, ErrNoToken) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header required",
			})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid token",
			})
			return
		}

		c.Set(callerKey, caller)
		c.Next()
	}
}

// CallerFrom returns the caller stored by JWTAuth.
func CallerFrom(c *gin.Context) (lobby.Caller, bool) {
	v, ok := c.Get(callerKey)
	if !ok {
		return lobby.Caller{}, false
	}
	caller, ok := v.(lobby.Caller)
	return caller, ok
}
