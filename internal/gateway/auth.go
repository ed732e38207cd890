package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/duskmarket/engine/internal/model"
)

// bcryptCost is the work factor used for password hashing. Kept as a
// package constant rather than a config knob — the reference service
// never exposed one either, and the exercise is teaching the pattern,
// not tuning it.
const bcryptCost = bcrypt.DefaultCost

const tokenTTL = 24 * time.Hour

// ActingPrincipal is the authenticated caller a request handler acts
// on behalf of. The Gateway is the only place that ever resolves one;
// everything downstream — Ledger, MatchingEngine — receives a plain
// user id and never touches a token.
type ActingPrincipal struct {
	UserID  string
	IsAdmin bool
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p ActingPrincipal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// principalFrom extracts the ActingPrincipal a requireAuth middleware
// already validated. Callers that reach this without requireAuth in
// their chain get the zero value, which owns nothing and is never an
// admin.
func principalFrom(ctx context.Context) (ActingPrincipal, bool) {
	p, ok := ctx.Value(principalKey{}).(ActingPrincipal)
	return p, ok
}

type claims struct {
	IsAdmin bool `json:"is_admin"`
	jwt.RegisteredClaims
}

func issueToken(secret []byte, userID string, isAdmin bool) (string, error) {
	now := time.Now().UTC()
	c := claims{
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(secret)
}

func parseToken(secret []byte, raw string) (ActingPrincipal, error) {
	var c claims
	token, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("gateway: unexpected signing method")
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return ActingPrincipal{}, model.NewAPIError(model.CodeNotAuthorized, "invalid or expired token")
	}
	return ActingPrincipal{UserID: c.Subject, IsAdmin: c.IsAdmin}, nil
}

func hashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	return string(h), err
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// requireAuth validates the bearer token on every request and
// populates an ActingPrincipal in context. Handlers never parse a
// token themselves.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			writeAPIError(w, model.NewAPIError(model.CodeNotAuthorized, "missing bearer token"))
			return
		}
		principal, err := parseToken(s.jwtSecret, raw)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
	})
}
