/*
Package auth is the authenticator collaborator.

PURPOSE:
  Turns inbound credentials into a verified actor (identity, role,
  jurisdiction). The engine trusts only this derived identity; role and
  jurisdiction claims arriving in request bodies or query strings are
  ignored everywhere.

TOKENS:
  HMAC-signed JWTs. The actor's role and jurisdiction ride as custom
  claims; a production deployment would source them from the identity
  provider at issue time, which is why the verifier never reads them from
  anything but the signed token.
*/
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/openpcr/caseflow/workflow"
)

// Authenticator verifies inbound credentials.
type Authenticator interface {
	// Verify returns the actor for a token or ErrUnauthenticated.
	Verify(ctx context.Context, token string) (workflow.Actor, error)
}

// Claims is the signed payload of an access token.
type Claims struct {
	Role      string `json:"role"`
	Region    string `json:"region,omitempty"`
	SubRegion string `json:"sub_region,omitempty"`
	Station   string `json:"station,omitempty"`
	jwt.RegisteredClaims
}

// =============================================================================
// JWT AUTHENTICATOR
// =============================================================================

// JWT issues and verifies HMAC-signed tokens.
type JWT struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewJWT(signingKey []byte, issuer string, ttl time.Duration) *JWT {
	return &JWT{
		key:    signingKey,
		issuer: issuer,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Issue signs a token for an actor.
func (j *JWT) Issue(actor workflow.Actor) (string, error) {
	now := j.now()
	claims := Claims{
		Role:      string(actor.Role),
		Region:    actor.Jurisdiction.Region,
		SubRegion: actor.Jurisdiction.SubRegion,
		Station:   actor.Jurisdiction.Station,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.key)
}

// Verify parses and validates a token, rejecting any signing method other
// than the expected HMAC.
func (j *JWT) Verify(_ context.Context, token string) (workflow.Actor, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return j.key, nil
	}, jwt.WithIssuer(j.issuer), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return workflow.Actor{}, fmt.Errorf("%w: %v", workflow.ErrUnauthenticated, err)
	}
	if claims.Subject == "" || claims.Role == "" {
		return workflow.Actor{}, fmt.Errorf("%w: token missing subject or role", workflow.ErrUnauthenticated)
	}
	return workflow.Actor{
		ID:   claims.Subject,
		Role: workflow.Role(claims.Role),
		Jurisdiction: workflow.Jurisdiction{
			Region:    claims.Region,
			SubRegion: claims.SubRegion,
			Station:   claims.Station,
		},
	}, nil
}
