package authorization

const (
	ObjectUsage             = "usage"
	ObjectLedger            = "ledger"
	ObjectOffsetTransaction = "offset_transaction"
	ObjectVerification      = "verification"
	ObjectConversionRate    = "conversion_rate"
	ObjectAnalytics         = "analytics"
	ObjectAuditLog          = "audit_log"
	ObjectOwnership         = "ownership"
)

const (
	ActionUsageRecord          = "usage.record"
	ActionTransactionCreate    = "transaction.create"
	ActionLedgerViewOwn        = "ledger.view_own"
	ActionLedgerViewAll        = "ledger.view_all"
	ActionVerificationSubmit   = "verification.submit"
	ActionTransactionViewQueue = "transaction.view_queue"
	ActionVerificationApprove  = "verification.approve"
	ActionVerificationReject   = "verification.reject"
	ActionConversionRateUpdate = "conversion_rate.update"
	ActionConversionRateView   = "conversion_rate.view"
	ActionAnalyticsView        = "analytics.view"
	ActionAuditLogView         = "audit_log.view"
	ActionOwnershipBypass      = "ownership.bypass"
)

// Permission is one (object, action) grant.
type Permission struct {
	Object string
	Action string
}

// PolicyOptions toggles grants that vary per deployment.
type PolicyOptions struct {
	AnalyticsCanEditRates bool
}

var analyticsRateEdit = Permission{ObjectConversionRate, ActionConversionRateUpdate}

// RolePermissions returns the direct grants of every role. Inherited grants
// are expressed as role links, see RoleInheritance.
func RolePermissions(opts PolicyOptions) map[Role][]Permission {
	analytics := []Permission{
		{ObjectAnalytics, ActionAnalyticsView},
		{ObjectConversionRate, ActionConversionRateView},
		{ObjectLedger, ActionLedgerViewAll},
	}
	if opts.AnalyticsCanEditRates {
		analytics = append(analytics, analyticsRateEdit)
	}

	return map[Role][]Permission{
		RoleCitizen: {
			{ObjectUsage, ActionUsageRecord},
			{ObjectOffsetTransaction, ActionTransactionCreate},
			{ObjectLedger, ActionLedgerViewOwn},
		},
		RoleAgent: {
			{ObjectVerification, ActionVerificationSubmit},
			{ObjectOffsetTransaction, ActionTransactionViewQueue},
			{ObjectLedger, ActionLedgerViewAll},
		},
		RoleAnalytics: analytics,
		RoleOperator: {
			{ObjectConversionRate, ActionConversionRateUpdate},
			{ObjectConversionRate, ActionConversionRateView},
		},
		RoleAdmin: {
			{ObjectVerification, ActionVerificationApprove},
			{ObjectVerification, ActionVerificationReject},
			{ObjectConversionRate, ActionConversionRateUpdate},
			{ObjectAuditLog, ActionAuditLogView},
			{ObjectOwnership, ActionOwnershipBypass},
		},
	}
}

// RoleInheritance lists the roles each role inherits from.
func RoleInheritance() map[Role][]Role {
	return map[Role][]Role{
		RoleAdmin: {RoleAgent, RoleCitizen, RoleAnalytics},
	}
}
