package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/angelmondragon/pickup-checkout/pkg/config"
)

func testIdentityConfig() config.IdentityConfig {
	return config.IdentityConfig{Secret: "secret", Issuer: "pickup-identity"}
}

func TestMintAndParseIdentityToken(t *testing.T) {
	cfg := testIdentityConfig()
	now := time.Now().UTC()

	token, err := MintIdentityToken(cfg, now, 30*time.Minute, IdentityPayload{
		UID:         "uid-1",
		Email:       "asha@example.com",
		DisplayName: "Asha",
		PhoneNumber: "+919999999999",
	})
	if err != nil {
		t.Fatalf("mint identity token: %v", err)
	}

	claims, err := ParseIdentityToken(cfg, token)
	if err != nil {
		t.Fatalf("parse identity token: %v", err)
	}
	if claims.UID() != "uid-1" {
		t.Fatalf("expected uid-1, got %s", claims.UID())
	}
	if claims.Email != "asha@example.com" || claims.Name != "Asha" || claims.PhoneNumber != "+919999999999" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.Issuer != cfg.Issuer {
		t.Fatalf("expected issuer %s, got %s", cfg.Issuer, claims.Issuer)
	}
}

func TestParseIdentityTokenInvalidSignature(t *testing.T) {
	cfg := testIdentityConfig()
	token, err := MintIdentityToken(cfg, time.Now(), time.Minute, IdentityPayload{UID: "uid-1"})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	other := cfg
	other.Secret = "different"
	if _, err := ParseIdentityToken(other, token); err == nil {
		t.Fatal("expected signature mismatch")
	}
}

func TestParseIdentityTokenExpired(t *testing.T) {
	cfg := testIdentityConfig()
	token, err := MintIdentityToken(cfg, time.Now().Add(-2*time.Hour), time.Minute, IdentityPayload{UID: "uid-1"})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := ParseIdentityToken(cfg, token); err == nil || !strings.Contains(err.Error(), "expired") {
		t.Fatalf("expected expiry error, got %v", err)
	}
}

func TestMintIdentityTokenRequiresUID(t *testing.T) {
	if _, err := MintIdentityToken(testIdentityConfig(), time.Now(), time.Minute, IdentityPayload{}); err == nil {
		t.Fatal("expected uid validation error")
	}
}

func TestParseIdentityTokenRejectsBlankSubject(t *testing.T) {
	cfg := testIdentityConfig()
	now := time.Now()
	token, err := jwt.NewWithClaims(jwtSigningMethod, IdentityClaims{
		Email: "asha@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "   ",
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	}).SignedString([]byte(cfg.Secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseIdentityToken(cfg, token); err == nil {
		t.Fatal("expected blank subject to be rejected")
	}
}

func TestParseIdentityTokenTrimsSubject(t *testing.T) {
	cfg := testIdentityConfig()
	token, err := MintIdentityToken(cfg, time.Now(), time.Minute, IdentityPayload{UID: " uid-9 ", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	claims, err := ParseIdentityToken(cfg, token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UID() != "uid-9" {
		t.Fatalf("expected trimmed uid, got %q", claims.UID())
	}
}
