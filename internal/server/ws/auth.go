package ws

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/avolkov/wirechat/internal/errs"
)

// principalFromRequest extracts "Authorization: Bearer <JWT>" (or the ?token=
// query parameter, for browser WebSocket clients that cannot set headers),
// verifies HS256 and returns the subject as the principal UUID.
func (s *Server) principalFromRequest(r *http.Request) (uuid.UUID, error) {
	tok, err := bearerToken(r)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%v: %w", err, errs.ErrAuthenticationRequired)
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.signKey, nil
	})
	if err != nil || !parsed.Valid {
		return uuid.Nil, fmt.Errorf("invalid token: %w", errs.ErrAuthenticationRequired)
	}

	v := jwt.NewValidator(jwt.WithLeeway(30 * time.Second))
	if err := v.Validate(&claims); err != nil {
		return uuid.Nil, fmt.Errorf("token expired or not valid yet: %w", errs.ErrAuthenticationRequired)
	}

	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("bad subject: %w", errs.ErrAuthenticationRequired)
	}
	return id, nil
}

func bearerToken(r *http.Request) (string, error) {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
		if t := strings.TrimSpace(v[7:]); t != "" {
			return t, nil
		}
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t, nil
	}
	return "", errors.New("no bearer token")
}

// requireAuth rejects the request before any upgrade when the handshake
// carries no valid token, and stores the principal in the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := s.principalFromRequest(r)
		if err != nil {
			http.Error(w, errs.Code(err), http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(WithPrincipalID(r.Context(), id)))
	}
}
