package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/pickup-checkout/pkg/auth"
	"github.com/angelmondragon/pickup-checkout/pkg/config"
	pkgerrors "github.com/angelmondragon/pickup-checkout/pkg/errors"
)

var identityCfg = config.IdentityConfig{Secret: "secret", Issuer: "pickup-identity"}

func mint(t *testing.T, payload auth.IdentityPayload, issuedAt time.Time) string {
	t.Helper()
	token, err := auth.MintIdentityToken(identityCfg, issuedAt, time.Hour, payload)
	require.NoError(t, err)
	return token
}

func TestTokenProviderResolvesSession(t *testing.T) {
	t.Parallel()
	provider, err := NewTokenProvider(identityCfg, nil, nil)
	require.NoError(t, err)

	token := mint(t, auth.IdentityPayload{UID: "uid-7", Email: "ravi@example.com", PhoneNumber: "+911234567890"}, time.Now())
	session, err := provider.CurrentSession(WithToken(context.Background(), token))
	require.NoError(t, err)
	require.Equal(t, "uid-7", session.UID)
	require.Equal(t, "ravi@example.com", session.Email)
	require.Empty(t, session.DisplayName)
	require.Equal(t, "+911234567890", session.PhoneNumber)
}

func TestTokenProviderRejections(t *testing.T) {
	t.Parallel()

	expired := mint(t, auth.IdentityPayload{UID: "uid-1", Email: "a@example.com"}, time.Now().Add(-3*time.Hour))
	noEmail := mint(t, auth.IdentityPayload{UID: "uid-1"}, time.Now())
	blankUID := signBlankSubject(t, "a@example.com")

	cases := map[string]string{
		"signed out":   "",
		"garbage":      "not-a-token",
		"expired":      expired,
		"missing mail": noEmail,
		"blank uid":    blankUID,
	}
	for name, token := range cases {
		token := token
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			provider, err := NewTokenProvider(identityCfg, func(context.Context) (string, error) { return token, nil }, nil)
			require.NoError(t, err)
			_, err = provider.CurrentSession(context.Background())
			require.ErrorIs(t, err, ErrNoSession)
			require.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.CodeOf(err))
			require.Equal(t, "please login to proceed with checkout", pkgerrors.UserMessage(err))
		})
	}
}

func signBlankSubject(t *testing.T, email string) string {
	t.Helper()
	now := time.Now()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.IdentityClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   " ",
			Issuer:    identityCfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString([]byte(identityCfg.Secret))
	require.NoError(t, err)
	return token
}

func TestTokenProviderSourceFailure(t *testing.T) {
	t.Parallel()
	provider, err := NewTokenProvider(identityCfg, func(context.Context) (string, error) {
		return "", errors.New("keychain locked")
	}, nil)
	require.NoError(t, err)

	_, err = provider.CurrentSession(context.Background())
	require.Equal(t, pkgerrors.CodeDependency, pkgerrors.CodeOf(err))
}

func TestNewTokenProviderRequiresSecret(t *testing.T) {
	t.Parallel()
	_, err := NewTokenProvider(config.IdentityConfig{Issuer: "x"}, nil, nil)
	require.Error(t, err)
}

func TestStaticProvider(t *testing.T) {
	t.Parallel()
	_, err := Static{}.CurrentSession(context.Background())
	require.ErrorIs(t, err, ErrNoSession)

	_, err = Static{Session: &Session{UID: "  ", Email: "u@example.com"}}.CurrentSession(context.Background())
	require.ErrorIs(t, err, ErrNoSession)

	s := &Session{UID: "u", Email: "u@example.com"}
	got, err := Static{Session: s}.CurrentSession(context.Background())
	require.NoError(t, err)
	got.Email = "changed"
	require.Equal(t, "u@example.com", s.Email)
}
