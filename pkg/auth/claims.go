package auth

import "github.com/golang-jwt/jwt/v5"

// IdentityPayload is what the identity provider asserts about the signed-in user.
type IdentityPayload struct {
	UID         string
	Email       string
	DisplayName string
	PhoneNumber string
}

// IdentityClaims is the typed ID token issued by the identity provider.
type IdentityClaims struct {
	Email       string `json:"email"`
	Name        string `json:"name,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	jwt.RegisteredClaims
}

// UID returns the subject, which is the provider's user id.
func (c *IdentityClaims) UID() string {
	return c.Subject
}
