// Package auth verifies bearer tokens against the identity provider's
// published signing keys and carries the resulting identity through request
// contexts.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is the single client-visible authentication failure. Every
// rejection reason (bad signature, wrong issuer or audience, expiry, unknown
// key) collapses into it so responses do not tell an attacker which check
// failed. The specific reason is logged server-side.
var ErrUnauthorized = errors.New("token rejected")

// Config describes the token population the verifier accepts.
type Config struct {
	JWKSURL    string
	Issuer     string
	Audience   string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Verifier validates RS256 bearer tokens and extracts the subject identity.
type Verifier struct {
	keys     *keyCache
	issuer   string
	audience string
	logger   *slog.Logger
}

func NewVerifier(cfg Config) *Verifier {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With(slog.String("component", "auth.verifier"))
	return &Verifier{
		keys:     newKeyCache(cfg.JWKSURL, cfg.HTTPClient, logger),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		logger:   logger,
	}
}

// Verify checks the token's signature and claims and returns the subject.
func (v *Verifier) Verify(ctx context.Context, raw string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse(raw, v.keyfunc(ctx), opts...)
	if err != nil {
		v.logger.Debug("token verification failed", slog.Any("error", err))
		return "", ErrUnauthorized
	}
	if !token.Valid {
		return "", ErrUnauthorized
	}
	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		v.logger.Debug("token missing subject claim")
		return "", ErrUnauthorized
	}
	return subject, nil
}

func (v *Verifier) keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token missing kid header")
		}
		return v.keys.lookup(ctx, kid)
	}
}
