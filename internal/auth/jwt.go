// Package auth maps credentials to participant identities.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/capitalize-ai/listing-chat/internal/model"
)

// ErrAuthenticationFailed is returned for missing, malformed, expired or
// wrongly signed credentials.
var ErrAuthenticationFailed = errors.New("authentication failed")

// Provider verifies a credential and returns the identity it belongs to.
type Provider interface {
	VerifyCredential(ctx context.Context, token string) (string, error)
}

// Claims are the JWT claims issued for a participant. Tokens minted by the
// account service carry the identity in "id"; tokens issued here use "sub".
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"id,omitempty"`
	Email  string `json:"email,omitempty"`
}

// Identity returns the participant identity carried by the claims.
func (c *Claims) Identity() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// JWTProvider verifies and issues HS256 tokens.
type JWTProvider struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewJWTProvider creates a provider. An empty issuer disables the issuer check.
func NewJWTProvider(secret, issuer string) *JWTProvider {
	return &JWTProvider{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}
}

// VerifyCredential implements Provider.
func (p *JWTProvider) VerifyCredential(_ context.Context, tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrAuthenticationFailed
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(p.now),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}

	identity := claims.Identity()
	if identity == "" {
		return "", fmt.Errorf("%w: token has no identity", ErrAuthenticationFailed)
	}
	if len(identity) > model.MaxIdentityLength {
		return "", fmt.Errorf("%w: identity exceeds %d bytes", ErrAuthenticationFailed, model.MaxIdentityLength)
	}
	return identity, nil
}

// Issue signs a token for identity valid for ttl. Identities longer than
// model.MaxIdentityLength could never bind, so they are refused.
func (p *JWTProvider) Issue(identity string, ttl time.Duration) (string, error) {
	if identity == "" || len(identity) > model.MaxIdentityLength {
		return "", fmt.Errorf("identity must be 1 to %d bytes", model.MaxIdentityLength)
	}
	now := p.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.secret)
}
