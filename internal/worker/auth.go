package worker

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// SessionCookie carries the app token for requests that cannot set headers.
const SessionCookie = "session_token"

// reservedSubdomain is the API host label, never a tenant.
const reservedSubdomain = "api"

// TenantContext identifies the caller of a request.
type TenantContext struct {
	// Tenant is the helpdesk subdomain and the vector namespace.
	Tenant string
	// Principal is the token subject, empty when auth is disabled.
	Principal string
}

type principalKey struct{}
type tokenTenantKey struct{}
type tenantKey struct{}

// TenantFromContext returns the tenant attached by ResolveTenant.
func TenantFromContext(ctx context.Context) (TenantContext, bool) {
	tc, ok := ctx.Value(tenantKey{}).(TenantContext)
	return tc, ok
}

func principalFromContext(ctx context.Context) string {
	p, _ := ctx.Value(principalKey{}).(string)
	return p
}

func tokenTenantFromContext(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(tokenTenantKey{}).(string)
	return t, ok
}

// AppClaims are the claims of a helpdesk app token. The issuer is the
// account host, e.g. "acme.zendesk.com" or "https://acme.zendesk.com".
type AppClaims struct {
	jwt.RegisteredClaims
}

// Subdomain returns the first host label of the issuer.
func (c *AppClaims) Subdomain() (string, bool) {
	iss := strings.TrimSpace(c.Issuer)
	if iss == "" {
		return "", false
	}
	host := iss
	if strings.Contains(iss, "://") {
		u, err := url.Parse(iss)
		if err != nil {
			return "", false
		}
		host = u.Hostname()
	}
	label, _, _ := strings.Cut(host, ".")
	if label == "" || label == reservedSubdomain {
		return "", false
	}
	return strings.ToLower(label), true
}

// Authenticator verifies RS256 tokens issued to the helpdesk app.
type Authenticator struct {
	ExemptPaths map[string]bool
	key         *rsa.PublicKey
	audience    string
	enabled     bool
}

// NewAuthenticator parses the PEM public key. Escaped "\n" sequences, as
// found in single-line environment values, are accepted. When enabled is
// false every request passes without a principal.
func NewAuthenticator(enabled bool, publicKeyPEM, audience string) (*Authenticator, error) {
	a := &Authenticator{
		enabled:  enabled,
		audience: audience,
		ExemptPaths: map[string]bool{
			"/health":      true,
			"/api/ready":   true,
			"/api/version": true,
		},
	}
	if !enabled {
		return a, nil
	}
	pem := strings.ReplaceAll(strings.TrimSpace(publicKeyPEM), `\n`, "\n")
	if pem == "" {
		return nil, errors.New("auth enabled but no public key configured")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
	if err != nil {
		return nil, fmt.Errorf("parse app public key: %w", err)
	}
	a.key = key
	return a, nil
}

// IsEnabled reports whether tokens are verified.
func (a *Authenticator) IsEnabled() bool { return a.enabled }

// Verify parses and validates a token and returns its claims.
func (a *Authenticator) Verify(token string) (*AppClaims, error) {
	if token == "" {
		return nil, errors.New("missing token")
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()})}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}
	claims := &AppClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.key, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// tokenFromRequest looks in the Authorization header, then the token query
// or form value, then the session cookie.
func tokenFromRequest(r *http.Request) string {
	if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(bearer)
	}
	if t := r.FormValue("token"); t != "" {
		return t
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// Middleware rejects requests without a valid token, or whose token names no
// account in its issuer, with 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.enabled || a.ExemptPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := a.Verify(tokenFromRequest(r))
		if err != nil {
			log.Warn().Err(err).Str("request_id", GetRequestID(r.Context())).Str("path", r.URL.Path).Msg("Rejected request token")
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}

		tokenTenant, ok := claims.Subdomain()
		if !ok {
			log.Warn().Str("request_id", GetRequestID(r.Context())).Str("issuer", claims.Issuer).Msg("Rejected token without account issuer")
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}

		ctx := context.WithValue(r.Context(), principalKey{}, claims.Subject)
		ctx = context.WithValue(ctx, tokenTenantKey{}, tokenTenant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SubdomainFromRequest resolves the tenant: the X-Zendesk-Subdomain header,
// then the subdomain query value, then the first host label of the origin
// query value or Origin header. The "api" label is never a tenant.
func SubdomainFromRequest(r *http.Request) (string, bool) {
	if s := strings.TrimSpace(r.Header.Get("X-Zendesk-Subdomain")); s != "" {
		return s, true
	}
	if s := strings.TrimSpace(r.URL.Query().Get("subdomain")); s != "" {
		return s, true
	}
	origin := r.URL.Query().Get("origin")
	if origin == "" {
		origin = r.Header.Get("Origin")
	}
	if origin == "" {
		return "", false
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		log.Warn().Str("origin", origin).Msg("Invalid origin format")
		return "", false
	}
	label, _, _ := strings.Cut(u.Hostname(), ".")
	if label == "" || label == reservedSubdomain {
		return "", false
	}
	return label, true
}

// ResolveTenant attaches the TenantContext. It answers 400 when no valid
// subdomain is present and 403 when the subdomain is not the account the
// request token was issued for.
func ResolveTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := SubdomainFromRequest(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "Missing valid subdomain")
			return
		}
		if tokenTenant, bound := tokenTenantFromContext(r.Context()); bound && !strings.EqualFold(tokenTenant, tenant) {
			log.Warn().
				Str("request_id", GetRequestID(r.Context())).
				Str("tenant", tenant).
				Str("token_tenant", tokenTenant).
				Msg("Rejected request for another account")
			writeError(w, http.StatusForbidden, "Token not valid for this subdomain")
			return
		}
		tc := TenantContext{Tenant: tenant, Principal: principalFromContext(r.Context())}
		ctx := context.WithValue(r.Context(), tenantKey{}, tc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
