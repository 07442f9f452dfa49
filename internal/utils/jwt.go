package utils // package utils provides helper functions for token creation and hashing

import (
	"crypto/rand"   // secure random number generation
	"crypto/sha256" // SHA-256 hashing for refresh tokens
	"encoding/hex"  // hex encoding and decoding functions
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5" // JWT library for creating signed tokens
)

// TokenType distinguishes access tokens from refresh tokens inside the
// signed claim set.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// ErrTokenInvalid collapses every parse, signature, type and expiry
// failure into one value.  Callers must not tell "expired" from
// "malformed".
var ErrTokenInvalid = errors.New("token invalid")

// Claims is the payload of both token kinds.  The subject is the
// username; is_admin mirrors the user's admin flag at issue time.
type Claims struct {
	IsAdmin bool      `json:"is_admin"`
	Type    TokenType `json:"typ,omitempty"`
	jwt.RegisteredClaims
}

// SignedToken is a serialized JWT along with its expiry.
type SignedToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// TokenIssuer mints and verifies HS256 tokens.  Both kinds share one
// secret; the typ claim keeps a refresh token from being accepted where
// an access token is expected.
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	clock      Clock
	parser     *jwt.Parser
}

// NewTokenIssuer builds an issuer.  A nil clock means the system clock.
func NewTokenIssuer(secret string, accessTTL, refreshTTL time.Duration, clock Clock) *TokenIssuer {
	if clock == nil {
		clock = SystemClock{}
	}
	return &TokenIssuer{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		clock:      clock,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithTimeFunc(clock.Now),
			jwt.WithExpirationRequired(),
		),
	}
}

// AccessTTL returns the configured access-token lifetime.
func (i *TokenIssuer) AccessTTL() time.Duration { return i.accessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (i *TokenIssuer) RefreshTTL() time.Duration { return i.refreshTTL }

// IssueAccess signs a short-lived access token for username.
func (i *TokenIssuer) IssueAccess(username string, isAdmin bool) (SignedToken, error) {
	return i.issue(username, isAdmin, TokenAccess, i.accessTTL)
}

// IssueRefresh signs a long-lived refresh token for username.  Every
// refresh token carries a random jti so two tokens minted in the same
// second for the same user never collide.
func (i *TokenIssuer) IssueRefresh(username string, isAdmin bool) (SignedToken, error) {
	return i.issue(username, isAdmin, TokenRefresh, i.refreshTTL)
}

func (i *TokenIssuer) issue(username string, isAdmin bool, typ TokenType, ttl time.Duration) (SignedToken, error) {
	now := i.clock.Now()
	exp := now.Add(ttl)
	jti, err := randomHex(16)
	if err != nil {
		return SignedToken{}, err
	}
	claims := Claims{
		IsAdmin: isAdmin,
		Type:    typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        jti,
		},
	}
	// Create a new token object specifying the signing method (HS256).
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(i.secret)
	if err != nil {
		return SignedToken{}, err
	}
	return SignedToken{Token: signed, Exp: exp}, nil
}

// Parse validates raw and returns its claims.  A token without a typ
// claim is accepted for either kind so tokens minted before the claim
// existed keep working.
func (i *TokenIssuer) Parse(raw string, want TokenType) (*Claims, error) {
	claims := &Claims{}
	tok, err := i.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	if claims.Type != "" && claims.Type != want {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// HashRefreshRaw returns the SHA-256 hash of the raw refresh token as a hex
// string.  Storing only the hash in the database prevents attackers from
// using stolen database entries to refresh sessions.
func HashRefreshRaw(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// randomHex returns a hex-encoded string generated from n bytes of
// cryptographically secure random data.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
