package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSessionTTL defines the fallback validity period for session tokens.
const DefaultSessionTTL = 7 * 24 * time.Hour

// Verification failures are distinguished internally for observability; the
// HTTP boundary collapses all of them to a single unauthorized response.
var (
	// ErrTokenMalformed indicates the token could not be parsed at all.
	ErrTokenMalformed = errors.New("session: malformed token")
	// ErrTokenExpired indicates a structurally valid token past its expiry.
	ErrTokenExpired = errors.New("session: token expired")
	// ErrTokenInvalid indicates a bad signature or otherwise rejected token.
	ErrTokenInvalid = errors.New("session: invalid token")
)

// SessionConfig bundles the configuration required to build a SessionService.
type SessionConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
	Clock  func() time.Time
}

// SessionClaims represents the claims embedded in issued session tokens.
type SessionClaims struct {
	AccountID string `json:"uid"`
	jwt.RegisteredClaims
}

// SessionService issues and verifies stateless signed session tokens. It owns
// no data beyond the process-wide signing secret; verification never touches
// the store.
type SessionService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionService constructs a SessionService from the provided configuration.
func NewSessionService(cfg SessionConfig) (*SessionService, error) {
	if cfg.Secret == "" {
		return nil, errors.New("session: secret must be provided")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &SessionService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    ttl,
		now:    now,
	}, nil
}

// TTL reports the configured session lifetime, e.g. for cookie max-age.
func (s *SessionService) TTL() time.Duration {
	return s.ttl
}

// Issue signs a session token asserting the given account identity.
func (s *SessionService) Issue(accountID string) (string, error) {
	if accountID == "" {
		return "", errors.New("session: account id is required")
	}

	now := s.now()
	claims := &SessionClaims{
		AccountID: accountID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("session: sign token: %w", err)
	}

	return signed, nil
}

// Verify parses and validates a session token, returning the account id it
// asserts. The returned error distinguishes malformed, expired, and
// bad-signature tokens.
func (s *SessionService) Verify(tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrTokenMalformed
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)

	var claims SessionClaims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return "", ErrTokenMalformed
		case errors.Is(err, jwt.ErrTokenExpired):
			return "", ErrTokenExpired
		default:
			return "", ErrTokenInvalid
		}
	}

	if s.issuer != "" && claims.Issuer != s.issuer {
		return "", ErrTokenInvalid
	}

	if claims.AccountID == "" {
		return "", ErrTokenInvalid
	}

	return claims.AccountID, nil
}
