package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	RoleStudent = "student"
	RoleAdmin   = "admin"
)

// Claims are issued by the auth service; only the user id and role are read here.
type Claims struct {
	ID   int64  `json:"id"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type Principal struct {
	ID   int64
	Role string
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

type principalKey struct{}

func principalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Authenticator verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	log    *zap.Logger
}

func NewAuthenticator(secret string, log *zap.Logger) *Authenticator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Authenticator{secret: []byte(secret), log: log}
}

// Require rejects requests without a valid token. With roles given, the token role must be one of them.
func (a *Authenticator) Require(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			tokenStr, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(tokenStr) == "" {
				respondError(w, r, a.log, errUnauthorized)
				return
			}

			var claims Claims
			token, err := jwt.ParseWithClaims(strings.TrimSpace(tokenStr), &claims, func(t *jwt.Token) (interface{}, error) {
				return a.secret, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid || claims.ID <= 0 {
				respondError(w, r, a.log, errInvalidToken)
				return
			}

			if len(roles) > 0 && !hasRole(claims.Role, roles) {
				respondError(w, r, a.log, errAccessDenied)
				return
			}

			ctx := context.WithValue(r.Context(), principalKey{}, Principal{ID: claims.ID, Role: claims.Role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func hasRole(role string, allowed []string) bool {
	for _, r := range allowed {
		if role == r {
			return true
		}
	}
	return false
}

// Sign issues a token for the given principal. Used by tests and local tooling.
func (a *Authenticator) Sign(p Principal, claims jwt.RegisteredClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{ID: p.ID, Role: p.Role, RegisteredClaims: claims}).
		SignedString(a.secret)
}
