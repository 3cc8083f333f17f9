package coordinator

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// sessionClaims identifies a helper to the coordinator's provisioning
// API: which session it was provisioned for and when the lease expires,
// so a stale helper can't keep re-joining after the host tore its
// session down.
type sessionClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
	Zone      string `json:"zone"`
}

// TokenIssuer mints and verifies the bearer tokens helpers present when
// registering with the host or the coordinator's scale-out endpoint.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenIssuer(secret []byte, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{secret: secret, ttl: ttl}
}

func (ti *TokenIssuer) Issue(sessionID, zone string) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.ttl)),
		},
		SessionID: sessionID,
		Zone:      zone,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(ti.secret)
}

// Verify parses and validates a token, returning the session id and
// zone it was issued for.
func (ti *TokenIssuer) Verify(raw string) (sessionID, zone string, err error) {
	claims := &sessionClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return ti.secret, nil
	})
	if err != nil {
		return "", "", err
	}
	if !tok.Valid {
		return "", "", fmt.Errorf("token invalid")
	}
	return claims.SessionID, claims.Zone, nil
}
