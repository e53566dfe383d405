package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/pickup-checkout/pkg/auth"
	"github.com/angelmondragon/pickup-checkout/pkg/config"
	pkgerrors "github.com/angelmondragon/pickup-checkout/pkg/errors"
	"github.com/angelmondragon/pickup-checkout/pkg/logger"
)

// ErrNoSession is returned when no signed-in user with both a uid and an
// email is available.
var ErrNoSession = pkgerrors.New(pkgerrors.CodeUnauthorized, "please login to proceed with checkout")

// Session is what the identity provider asserts about the current user.
type Session struct {
	UID         string
	Email       string
	DisplayName string
	PhoneNumber string
}

// Provider resolves the current session.
type Provider interface {
	CurrentSession(ctx context.Context) (*Session, error)
}

// TokenSource yields the raw ID token for the signed-in user, or "" when
// nobody is signed in.
type TokenSource func(ctx context.Context) (string, error)

type tokenCtxKey struct{}

// WithToken stores a raw ID token on ctx for ContextTokenSource.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenCtxKey{}, token)
}

// ContextTokenSource reads the token placed on the context by WithToken.
func ContextTokenSource(ctx context.Context) (string, error) {
	token, _ := ctx.Value(tokenCtxKey{}).(string)
	return token, nil
}

// TokenProvider verifies HS256 ID tokens issued by the identity provider.
type TokenProvider struct {
	cfg    config.IdentityConfig
	source TokenSource
	logg   *logger.Logger
}

func NewTokenProvider(cfg config.IdentityConfig, source TokenSource, logg *logger.Logger) (*TokenProvider, error) {
	if cfg.Secret == "" || cfg.Issuer == "" {
		return nil, fmt.Errorf("identity secret and issuer required")
	}
	if source == nil {
		source = ContextTokenSource
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &TokenProvider{cfg: cfg, source: source, logg: logg}, nil
}

func (p *TokenProvider) CurrentSession(ctx context.Context) (*Session, error) {
	raw, err := p.source(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "identity provider unavailable")
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrNoSession
	}

	claims, err := auth.ParseIdentityToken(p.cfg, raw)
	if err != nil {
		p.logg.Warn(p.logg.WithField(ctx, "reason", err.Error()), "identity token rejected")
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, ErrNoSession, ErrNoSession.Message())
	}

	session := &Session{
		UID:         strings.TrimSpace(claims.UID()),
		Email:       strings.TrimSpace(claims.Email),
		DisplayName: strings.TrimSpace(claims.Name),
		PhoneNumber: strings.TrimSpace(claims.PhoneNumber),
	}
	if session.UID == "" || session.Email == "" {
		return nil, ErrNoSession
	}
	return session, nil
}

// Static always returns the same session. A nil Session means signed out.
type Static struct {
	Session *Session
}

func (s Static) CurrentSession(context.Context) (*Session, error) {
	if s.Session == nil || strings.TrimSpace(s.Session.UID) == "" || strings.TrimSpace(s.Session.Email) == "" {
		return nil, ErrNoSession
	}
	copied := *s.Session
	return &copied, nil
}
