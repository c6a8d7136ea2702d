package auth

import (
	"context"
	"strings"
)

// ExtractBearer pulls the token out of an Authorization header value. The
// scheme comparison is case-insensitive per RFC 7235.
func ExtractBearer(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

type identityKey struct{}

// ContextWithIdentity attaches the verified caller identity to the context.
func ContextWithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the verified caller identity, if any.
func IdentityFromContext(ctx context.Context) (string, bool) {
	identity, ok := ctx.Value(identityKey{}).(string)
	if !ok || identity == "" {
		return "", false
	}
	return identity, true
}
