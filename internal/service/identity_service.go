package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/evetabi/auction/internal/config"
	"github.com/evetabi/auction/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// ──────────────────────────────────────────────────────────────────────────────
// JWT claims
// ──────────────────────────────────────────────────────────────────────────────

// SessionClaims extends jwt.RegisteredClaims with the caller's role. The
// subject is the wallet address the session was issued for.
type SessionClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Identity is a verified caller.
type Identity struct {
	Address string
	Role    domain.Role
}

// ──────────────────────────────────────────────────────────────────────────────
// IdentityVerifier
// ──────────────────────────────────────────────────────────────────────────────

// IdentityVerifier checks session tokens issued by the identity provider.
// Sessions are not issued here outside of development tooling and tests.
type IdentityVerifier struct {
	secret []byte
	issuer string
	now    Clock
}

// NewIdentityVerifier creates an IdentityVerifier from the JWT settings.
func NewIdentityVerifier(cfg config.JWTConfig) *IdentityVerifier {
	return &IdentityVerifier{secret: []byte(cfg.AccessSecret), issuer: cfg.Issuer, now: time.Now}
}

// SetClock overrides the time source used for expiry checks.
func (v *IdentityVerifier) SetClock(c Clock) { v.now = c }

// Verify validates the token signature, algorithm and expiry and returns the
// normalized wallet identity it was issued for.
func (v *IdentityVerifier) Verify(tokenString string) (*Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	tok, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		return nil, domain.ErrTokenInvalid
	}
	claims, ok := tok.Claims.(*SessionClaims)
	if !ok || !tok.Valid {
		return nil, domain.ErrTokenInvalid
	}

	address, err := domain.NormalizeIdentity(claims.Subject)
	if err != nil {
		return nil, domain.ErrTokenInvalid
	}
	role := domain.Role(claims.Role)
	if role == "" {
		role = domain.RoleUser
	}
	if !role.IsValid() {
		return nil, domain.ErrTokenInvalid
	}
	return &Identity{Address: address, Role: role}, nil
}

// IssueToken signs a session for address. Used by tests and cmd/devtoken;
// production sessions come from the identity provider.
func (v *IdentityVerifier) IssueToken(address string, role domain.Role, ttl time.Duration) (string, error) {
	address, err := domain.NormalizeIdentity(address)
	if err != nil {
		return "", err
	}
	now := v.now().UTC()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   address,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: string(role),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}
