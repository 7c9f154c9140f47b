package authorization

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/carbonledger/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, opts PolicyOptions) Service {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	adapter, err := gormadapter.NewAdapterByDB(db)
	require.NoError(t, err)
	enforcer, err := NewEnforcerWithOptions(adapter, opts)
	require.NoError(t, err)

	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func TestRolePermissionMatrix(t *testing.T) {
	svc := newTestService(t, PolicyOptions{AnalyticsCanEditRates: true})
	ctx := context.Background()

	cases := []struct {
		role    Role
		object  string
		action  string
		allowed bool
	}{
		{RoleCitizen, ObjectUsage, ActionUsageRecord, true},
		{RoleCitizen, ObjectOffsetTransaction, ActionTransactionCreate, true},
		{RoleCitizen, ObjectLedger, ActionLedgerViewOwn, true},
		{RoleCitizen, ObjectVerification, ActionVerificationSubmit, false},
		{RoleCitizen, ObjectVerification, ActionVerificationApprove, false},
		{RoleAgent, ObjectVerification, ActionVerificationSubmit, true},
		{RoleAgent, ObjectOffsetTransaction, ActionTransactionViewQueue, true},
		{RoleAgent, ObjectVerification, ActionVerificationApprove, false},
		{RoleAgent, ObjectUsage, ActionUsageRecord, false},
		{RoleAnalytics, ObjectAnalytics, ActionAnalyticsView, true},
		{RoleAnalytics, ObjectConversionRate, ActionConversionRateView, true},
		{RoleAnalytics, ObjectConversionRate, ActionConversionRateUpdate, true},
		{RoleOperator, ObjectConversionRate, ActionConversionRateUpdate, true},
		{RoleOperator, ObjectVerification, ActionVerificationApprove, false},
		// admin inherits agent, citizen and analytics
		{RoleAdmin, ObjectVerification, ActionVerificationApprove, true},
		{RoleAdmin, ObjectVerification, ActionVerificationReject, true},
		{RoleAdmin, ObjectVerification, ActionVerificationSubmit, true},
		{RoleAdmin, ObjectUsage, ActionUsageRecord, true},
		{RoleAdmin, ObjectAnalytics, ActionAnalyticsView, true},
		{RoleAdmin, ObjectAuditLog, ActionAuditLogView, true},
	}

	for _, tc := range cases {
		err := svc.Authorize(ctx, Actor{UserID: 1, Role: tc.role}, tc.object, tc.action)
		if tc.allowed {
			assert.NoError(t, err, "%s %s", tc.role, tc.action)
		} else {
			assert.ErrorIs(t, err, ErrForbidden, "%s %s", tc.role, tc.action)
			assert.ErrorIs(t, err, errs.ErrAuthorization)
		}
	}
}

func TestAnalyticsRateEditFlagOff(t *testing.T) {
	svc := newTestService(t, PolicyOptions{AnalyticsCanEditRates: false})

	err := svc.Authorize(context.Background(), Actor{UserID: 1, Role: RoleAnalytics}, ObjectConversionRate, ActionConversionRateUpdate)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.True(t, svc.Can(Actor{Role: RoleOperator}, ObjectConversionRate, ActionConversionRateUpdate))
}

func TestAuthorizeOwner(t *testing.T) {
	svc := newTestService(t, PolicyOptions{})
	ctx := context.Background()
	owner := snowflake.ID(42)

	assert.NoError(t, svc.AuthorizeOwner(ctx, Actor{UserID: owner, Role: RoleCitizen}, owner))
	assert.ErrorIs(t, svc.AuthorizeOwner(ctx, Actor{UserID: 7, Role: RoleCitizen}, owner), ErrForbidden)
	assert.ErrorIs(t, svc.AuthorizeOwner(ctx, Actor{UserID: 7, Role: RoleAgent}, owner), ErrForbidden)
	assert.NoError(t, svc.AuthorizeOwner(ctx, Actor{UserID: 7, Role: RoleAdmin}, owner))
}

func TestUnknownRoleIsRejected(t *testing.T) {
	svc := newTestService(t, PolicyOptions{})
	err := svc.Authorize(context.Background(), Actor{UserID: 1, Role: "GUEST"}, ObjectUsage, ActionUsageRecord)
	assert.ErrorIs(t, err, ErrInvalidActor)
	assert.ErrorIs(t, err, errs.ErrAuthorization)
}

func TestParseRole(t *testing.T) {
	role, ok := ParseRole(" admin ")
	assert.True(t, ok)
	assert.Equal(t, RoleAdmin, role)
	assert.Equal(t, "role:admin", role.Subject())

	_, ok = ParseRole("guest")
	assert.False(t, ok)
}
