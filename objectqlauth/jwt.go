// Package objectqlauth turns a bearer JWT into the per-request
// runtime.Context transport adapters need, an alternative to
// transport/common.DevContextFunc for deployments that terminate auth at
// the edge. Grounded on cmd/gateway JWT helpers
// (generateJWT/validateJWT: HMAC-signed jwt.RegisteredClaims plus a
// custom UserID field), generalized to also carry roles and a space id.
package objectqlauth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/objectql-dev/objectql/runtime"
)

// Claims is the JWT payload ObjectQL issues and accepts: registered
// claims plus the subject's user id, roles, and tenant space.
type Claims struct {
	UserID   string   `json:"user_id"`
	UserName string   `json:"user_name,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	SpaceID  string   `json:"space_id,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies Claims with a single HMAC secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer builds an Issuer. ttl<=0 defaults to 24h.
func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: secret, ttl: ttl}
}

// Sign issues a token for the given identity.
func (i *Issuer) Sign(userID, userName string, roles []string, spaceID string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		UserName: userName,
		Roles:    roles,
		SpaceID:  spaceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "objectql",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Verify parses and validates tokenString, returning its Claims.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// ContextFunc builds a transport/common.ContextFunc that authenticates
// via the Authorization: Bearer header, falling back to an anonymous,
// non-system context when no token is present (callers that require auth
// reject anonymous contexts themselves, e.g. via a hook or middleware).
func (i *Issuer) ContextFunc() func(r *http.Request, rt *runtime.Runtime) *runtime.Context {
	return func(r *http.Request, rt *runtime.Runtime) *runtime.Context {
		auth := r.Header.Get("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if token == "" || token == auth {
			return runtime.NewContext(r.Context(), rt, "", "", nil, "", false)
		}
		claims, err := i.Verify(token)
		if err != nil {
			return runtime.NewContext(r.Context(), rt, "", "", nil, "", false)
		}
		return runtime.NewContext(r.Context(), rt, claims.UserID, claims.UserName, claims.Roles, claims.SpaceID, false)
	}
}
