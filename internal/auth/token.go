// Package auth turns bearer tokens into authorization actors.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/carbonledger/internal/authorization"
	"github.com/smallbiznis/carbonledger/internal/clock"
	"github.com/smallbiznis/carbonledger/internal/config"
	"go.uber.org/zap"
)

const (
	DefaultTokenTTL = 24 * time.Hour
	devSecret       = "carbonledger-dev-secret"
)

var (
	ErrMissingSecret = errors.New("auth jwt secret is required in production")
	ErrInvalidToken  = errors.New("invalid_token")
	ErrInvalidClaims = errors.New("invalid_token_claims")
)

// Claims carries the user id in sub and the actor role.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Tokens signs and verifies HS256 actor tokens.
type Tokens struct {
	secret []byte
	issuer string
	clock  clock.Clock
}

func NewTokens(cfg config.Config, log *zap.Logger) (*Tokens, error) {
	secret := strings.TrimSpace(cfg.AuthJWTSecret)
	if secret == "" {
		if cfg.IsProduction() {
			return nil, ErrMissingSecret
		}
		log.Warn("AUTH_JWT_SECRET not set, using development secret")
		secret = devSecret
	}
	return NewTokensWithSecret(secret, cfg.AppName, clock.New()), nil
}

func NewTokensWithSecret(secret, issuer string, clk clock.Clock) *Tokens {
	if clk == nil {
		clk = clock.New()
	}
	return &Tokens{secret: []byte(secret), issuer: issuer, clock: clk}
}

func (t *Tokens) Issue(actor authorization.Actor, ttl time.Duration) (string, error) {
	if _, ok := authorization.ParseRole(string(actor.Role)); !ok || actor.UserID == 0 {
		return "", ErrInvalidClaims
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := t.clock.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.UserID.String(),
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: string(actor.Role),
	})
	return token.SignedString(t.secret)
}

// Parse verifies raw and returns the actor it names.
func (t *Tokens) Parse(raw string) (authorization.Actor, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.clock.Now),
	)
	if err != nil || !token.Valid {
		return authorization.Actor{}, ErrInvalidToken
	}

	userID, err := snowflake.ParseString(claims.Subject)
	if err != nil || userID == 0 {
		return authorization.Actor{}, ErrInvalidClaims
	}
	role, ok := authorization.ParseRole(claims.Role)
	if !ok {
		return authorization.Actor{}, ErrInvalidClaims
	}
	return authorization.Actor{UserID: userID, Role: role}, nil
}
