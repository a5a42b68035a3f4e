package authn

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/gatehouse/pkg/apierror"
)

// Principal is an authenticated caller.
type Principal struct {
	Subject string
	Claims  jwt.MapClaims
}

// Verifier validates bearer tokens and extracts the caller identity.
type Verifier interface {
	DecodeAndVerify(ctx context.Context, token string) (*Principal, error)
}

// VerifierConfig configures a JWTVerifier.
type VerifierConfig struct {
	Issuer    string
	Audience  string
	JWKSURL   string
	CacheSize int
	CacheTTL  time.Duration
	// HTTPClient is used for JWKS fetches; a default is used when nil.
	HTTPClient *http.Client
}

// JWTVerifier validates RS256-signed tokens against the identity provider's
// published signing keys.
type JWTVerifier struct {
	issuer   string
	audience string
	keys     *keyCache
	tracer   trace.Tracer
}

// NewJWTVerifier creates a verifier for tokens issued by the configured IdP.
func NewJWTVerifier(cfg VerifierConfig) (*JWTVerifier, error) {
	if cfg.Issuer == "" || cfg.Audience == "" || cfg.JWKSURL == "" {
		return nil, fmt.Errorf("issuer, audience, and JWKS URL are required")
	}
	return &JWTVerifier{
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		keys:     newKeyCache(cfg.JWKSURL, cfg.CacheSize, cfg.CacheTTL, cfg.HTTPClient),
		tracer:   otel.Tracer("gatehouse/authn"),
	}, nil
}

// DecodeAndVerify validates the token's signature, issuer, audience, and
// expiry. Every failure mode maps to an unauthenticated error; no expiry
// leeway is granted.
func (v *JWTVerifier) DecodeAndVerify(ctx context.Context, raw string) (*Principal, error) {
	ctx, span := v.tracer.Start(ctx, "authn.verify")
	defer span.End()

	token, err := jwt.Parse(raw,
		func(t *jwt.Token) (interface{}, error) {
			kid, ok := t.Header["kid"].(string)
			if !ok || kid == "" {
				return nil, fmt.Errorf("token header missing kid")
			}
			return v.keys.Key(ctx, kid)
		},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		span.SetStatus(codes.Error, "verification failed")
		span.RecordError(err)
		return nil, apierror.Wrap(err, apierror.CodeUnauthenticated,
			"Bearer token is not valid or is expired")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		span.SetStatus(codes.Error, "unexpected claims type")
		return nil, apierror.New(apierror.CodeUnauthenticated,
			"Bearer token is not valid or is expired")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		span.SetStatus(codes.Error, "missing subject")
		return nil, apierror.New(apierror.CodeUnauthenticated,
			"Bearer token is not valid or is expired")
	}

	span.SetAttributes(attribute.String("authn.sub", sub))
	return &Principal{Subject: sub, Claims: claims}, nil
}
