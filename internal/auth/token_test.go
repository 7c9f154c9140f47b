package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/carbonledger/internal/authorization"
	"github.com/smallbiznis/carbonledger/internal/clock"
	"github.com/smallbiznis/carbonledger/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestIssueAndParse(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	tokens := NewTokensWithSecret("s3cret", "carbonledger", clk)
	actor := authorization.Actor{UserID: 1234567, Role: authorization.RoleAgent}

	raw, err := tokens.Issue(actor, time.Hour)
	require.NoError(t, err)

	got, err := tokens.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, actor, got)

	clk.Advance(2 * time.Hour)
	_, err = tokens.Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsForeignSignature(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	raw, err := NewTokensWithSecret("one", "", clk).Issue(authorization.Actor{UserID: 1, Role: authorization.RoleCitizen}, 0)
	require.NoError(t, err)

	_, err = NewTokensWithSecret("two", "", clk).Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewTokensWithSecret("one", "", clk).Parse("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsUnknownRole(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "42",
			ExpiresAt: jwt.NewNumericDate(clk.Now().Add(time.Hour)),
		},
		Role: "SUPERUSER",
	})
	raw, err := token.SignedString([]byte("k"))
	require.NoError(t, err)

	_, err = NewTokensWithSecret("k", "", clk).Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidClaims)
}

func TestIssueRejectsIncompleteActor(t *testing.T) {
	tokens := NewTokensWithSecret("k", "", nil)
	_, err := tokens.Issue(authorization.Actor{Role: authorization.RoleAdmin}, time.Hour)
	assert.ErrorIs(t, err, ErrInvalidClaims)
}

func TestNewTokensRequiresSecretInProduction(t *testing.T) {
	_, err := NewTokens(config.Config{Environment: "production"}, zap.NewNop())
	assert.ErrorIs(t, err, ErrMissingSecret)

	tokens, err := NewTokens(config.Config{Environment: "development"}, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, tokens)
}
