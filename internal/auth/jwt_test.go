package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/listing-chat/internal/model"
)

func TestIssueAndVerify(t *testing.T) {
	req := require.New(t)
	p := NewJWTProvider("secret", "listing-chat")

	token, err := p.Issue("alice", time.Hour)
	req.NoError(err)

	identity, err := p.VerifyCredential(context.Background(), token)
	req.NoError(err)
	req.Equal("alice", identity)
}

func TestVerifyRejectsBadCredentials(t *testing.T) {
	issuer := NewJWTProvider("secret", "listing-chat")
	good, err := issuer.Issue("alice", time.Hour)
	require.NoError(t, err)

	expired, err := issuer.Issue("alice", -time.Minute)
	require.NoError(t, err)

	otherIssuer, err := NewJWTProvider("secret", "someone-else").Issue("alice", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name     string
		provider *JWTProvider
		token    string
	}{
		{name: "empty", provider: issuer, token: ""},
		{name: "garbage", provider: issuer, token: "not-a-jwt"},
		{name: "wrong secret", provider: NewJWTProvider("other", "listing-chat"), token: good},
		{name: "expired", provider: issuer, token: expired},
		{name: "wrong issuer", provider: issuer, token: otherIssuer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.provider.VerifyCredential(context.Background(), tt.token)
			require.ErrorIs(t, err, ErrAuthenticationFailed)
		})
	}
}

func TestVerifyAcceptsIDClaim(t *testing.T) {
	req := require.New(t)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID: "u-42",
		Email:  "u42@example.com",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	req.NoError(err)

	identity, err := NewJWTProvider("secret", "").VerifyCredential(context.Background(), token)
	req.NoError(err)
	req.Equal("u-42", identity)
}

func TestVerifyRejectsNoneAlgorithm(t *testing.T) {
	claims := jwt.RegisteredClaims{Subject: "alice"}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewJWTProvider("secret", "").VerifyCredential(context.Background(), token)
	require.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestIdentityLengthBound(t *testing.T) {
	req := require.New(t)
	p := NewJWTProvider("secret", "listing-chat")
	longest := strings.Repeat("a", model.MaxIdentityLength)

	// The longest identity that can bind round-trips.
	token, err := p.Issue(longest, time.Hour)
	req.NoError(err)
	identity, err := p.VerifyCredential(context.Background(), token)
	req.NoError(err)
	req.Equal(longest, identity)

	// One byte more is never issued.
	_, err = p.Issue(longest+"a", time.Hour)
	req.Error(err)
	_, err = p.Issue("", time.Hour)
	req.Error(err)

	// Nor accepted when minted elsewhere.
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "listing-chat",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID: longest + "a",
	}
	minted, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	req.NoError(err)
	_, err = p.VerifyCredential(context.Background(), minted)
	req.ErrorIs(err, ErrAuthenticationFailed)
}
