// Package apitoken issues and validates the bearer tokens the reference HTTP
// transport accepts on protected routes. It is a domain-agnostic
// generalization of a Google-OAuth-specific backend token issuer: this
// package knows only about a subject string, not any particular identity
// provider, matching spec's non-goal that auth beyond what transport itself
// performs is out of scope for the sync engine.
package apitoken

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = 24 * time.Hour

var (
	errMissingSigningSecret = errors.New("apitoken: signing secret must be provided")
	errMissingSubject       = errors.New("apitoken: subject must be provided")
)

// IssuerConfig configures an Issuer.
type IssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// Issuer issues and validates HS256 bearer tokens scoped to a single
// subject claim. Subjects are caller-defined — an agent id, a device id, a
// tenant key — the engine attaches no meaning to them.
type Issuer struct {
	config IssuerConfig
	clock  func() time.Time
}

// NewIssuer constructs an Issuer with sane defaults for TokenTTL and Clock.
func NewIssuer(cfg IssuerConfig) *Issuer {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Issuer{
		config: IssuerConfig{
			SigningSecret: cfg.SigningSecret,
			Issuer:        cfg.Issuer,
			Audience:      cfg.Audience,
			TokenTTL:      ttl,
			Clock:         clock,
		},
		clock: clock,
	}
}

// Issue produces a signed bearer token and its expiry (unix seconds) for subject.
func (issuer *Issuer) Issue(_ context.Context, subject string) (string, int64, error) {
	if len(issuer.config.SigningSecret) == 0 {
		return "", 0, errMissingSigningSecret
	}
	if subject == "" {
		return "", 0, errMissingSubject
	}

	now := issuer.clock().UTC()
	expiresAt := now.Add(issuer.config.TokenTTL)

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    issuer.config.Issuer,
		Audience:  []string{issuer.config.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(issuer.config.SigningSecret)
	if err != nil {
		return "", 0, err
	}
	return signed, expiresAt.Unix(), nil
}

// Validate checks a bearer token's signature, issuer, audience and expiry,
// returning its subject claim.
func (issuer *Issuer) Validate(tokenString string) (string, error) {
	if len(issuer.config.SigningSecret) == 0 {
		return "", errMissingSigningSecret
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return issuer.config.SigningSecret, nil
		},
		jwt.WithAudience(issuer.config.Audience),
		jwt.WithIssuer(issuer.config.Issuer),
		jwt.WithTimeFunc(issuer.clock),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errMissingSubject
	}
	return claims.Subject, nil
}
