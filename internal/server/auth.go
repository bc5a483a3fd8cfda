package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the iss claim of tokens minted by NewToken.
const Issuer = "porua"

// Claims are the JWT claims accepted by the HTTP API.
type Claims struct {
	jwt.RegisteredClaims
}

// Authentication errors
var (
	ErrMissingToken = errors.New("missing authorization header")
	ErrInvalidToken = errors.New("invalid token")
)

// NewToken signs an HS256 token for subject valid for ttl. A zero ttl
// yields a token without expiry.
func NewToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("no signing secret configured")
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   Issuer,
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// RequireToken makes the /v1 routes demand a bearer token signed with
// secret. An empty secret leaves them open.
func (s *Server) RequireToken(secret string) {
	s.jwtSecret = []byte(secret)
}

// withAuth rejects requests without a valid bearer token when a secret is
// configured.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(s.jwtSecret) == 0 {
			next(w, r)
			return
		}

		claims, err := s.verify(r.Header.Get("Authorization"))
		if err != nil {
			s.logger.Debug("Rejected request", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		s.logger.Debug("Authenticated request", "path", r.URL.Path, "subject", claims.Subject)
		next(w, r)
	}
}

func (s *Server) verify(header string) (*Claims, error) {
	if header == "" {
		return nil, ErrMissingToken
	}

	scheme, tokenString, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return nil, fmt.Errorf("%w: expected a bearer token", ErrInvalidToken)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
	)
	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
