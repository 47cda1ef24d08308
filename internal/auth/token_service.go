package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/charlesng35/parlor/pkg/errors"
)

// DefaultTokenTTL defines the fallback validity period for session tokens.
// Tokens are long-lived because they only resume an identity; a stale token
// simply yields a fresh anonymous identity.
const DefaultTokenTTL = 30 * 24 * time.Hour

// TokenConfig bundles the configuration required to build a TokenService.
type TokenConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
	Clock  func() time.Time
}

// Claims represents the custom claims embedded in issued session tokens.
type Claims struct {
	IdentityID string `json:"uid"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies the signed identity tokens the gateway
// hands out on login so a client can resume the same identity later.
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService constructs a TokenService from the supplied configuration.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if cfg.Secret == "" {
		return nil, errors.New("token: secret must be provided")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &TokenService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    ttl,
		now:    now,
	}, nil
}

// Issue produces a signed token embedding the identity id and issuance time.
func (s *TokenService) Issue(identityID string) (string, error) {
	if identityID == "" {
		return "", errors.New("token: identity id is required")
	}

	now := s.now()
	claims := &Claims{
		IdentityID: identityID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}

	return signed, nil
}

// Verify checks signature and structural validity and returns the embedded
// identity id. Every failure mode (malformed, expired, tampered, wrong
// issuer) reports ErrInvalidToken; callers must treat that as "no prior
// identity" rather than a hard error.
func (s *TokenService) Verify(tokenString string) (string, error) {
	if tokenString == "" {
		return "", apperrors.ErrInvalidToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)

	var claims Claims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return "", apperrors.ErrInvalidToken.WithInternal(err)
	}

	if s.issuer != "" && claims.Issuer != s.issuer {
		return "", apperrors.ErrInvalidToken.WithInternal(errors.New("issuer mismatch"))
	}

	if claims.IdentityID == "" {
		return "", apperrors.ErrInvalidToken.WithInternal(errors.New("missing identity id claim"))
	}

	return claims.IdentityID, nil
}
