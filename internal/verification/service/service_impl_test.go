package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/carbonledger/internal/audit/domain"
	auditrepo "github.com/smallbiznis/carbonledger/internal/audit/repository"
	auditservice "github.com/smallbiznis/carbonledger/internal/audit/service"
	"github.com/smallbiznis/carbonledger/internal/authorization"
	"github.com/smallbiznis/carbonledger/internal/clock"
	raterepo "github.com/smallbiznis/carbonledger/internal/conversionrate/repository"
	rateservice "github.com/smallbiznis/carbonledger/internal/conversionrate/service"
	"github.com/smallbiznis/carbonledger/internal/dbtest"
	"github.com/smallbiznis/carbonledger/internal/events"
	ledgerdomain "github.com/smallbiznis/carbonledger/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/carbonledger/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/carbonledger/internal/ledger/service"
	offsetdomain "github.com/smallbiznis/carbonledger/internal/offset/domain"
	offsetrepo "github.com/smallbiznis/carbonledger/internal/offset/repository"
	offsetservice "github.com/smallbiznis/carbonledger/internal/offset/service"
	verificationdomain "github.com/smallbiznis/carbonledger/internal/verification/domain"
	"github.com/smallbiznis/carbonledger/internal/verification/repository"
	"github.com/smallbiznis/carbonledger/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db        *gorm.DB
	node      *snowflake.Node
	clock     *clock.FakeClock
	publisher *events.Recorder
	ledger    ledgerdomain.Service
	offset    offsetdomain.Service
	svc       verificationdomain.Service

	citizen authorization.Actor
	agent   authorization.Actor
	admin   authorization.Actor
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := dbtest.Open(t)
	node := dbtest.Node(t)
	authz := dbtest.Authz(t, db)
	clk := clock.NewFakeClock(time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC))
	publisher := &events.Recorder{}
	dbtest.SeedRate(t, db, 2024, "0.5")

	audit := auditservice.NewService(auditservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Repo: auditrepo.Provide(), Clock: clk,
	})
	rates := rateservice.NewService(rateservice.Params{
		DB: db, Log: zap.NewNop(), Repo: raterepo.Provide(), Authz: authz,
	})
	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Repo:      ledgerrepo.Provide(),
		Authz:     authz,
		RateSvc:   rates,
		AuditSvc:  audit,
		Publisher: publisher,
		Clock:     clk,
	})
	offset := offsetservice.NewService(offsetservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Repo:      offsetrepo.Provide(),
		Authz:     authz,
		LedgerSvc: ledger,
		AuditSvc:  audit,
		Clock:     clk,
	})
	svc := NewService(Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Repo:      repository.Provide(),
		Authz:     authz,
		OffsetSvc: offset,
		LedgerSvc: ledger,
		AuditSvc:  audit,
		Clock:     clk,
	})

	return fixture{
		db:        db,
		node:      node,
		clock:     clk,
		publisher: publisher,
		ledger:    ledger,
		offset:    offset,
		svc:       svc,
		citizen:   authorization.Actor{UserID: node.Generate(), Role: authorization.RoleCitizen},
		agent:     authorization.Actor{UserID: node.Generate(), Role: authorization.RoleAgent},
		admin:     authorization.Actor{UserID: node.Generate(), Role: authorization.RoleAdmin},
	}
}

func (f fixture) recordUsage(t *testing.T, usageType ledgerdomain.UsageType, amount string) *ledgerdomain.CarbonLedger {
	t.Helper()
	res, err := f.ledger.RecordUsage(context.Background(), ledgerdomain.RecordUsageRequest{
		Actor:     f.citizen,
		UserID:    f.citizen.UserID,
		Date:      time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		UsageType: usageType,
		Amount:    decimal.RequireFromString(amount),
	})
	require.NoError(t, err)
	return res.Ledger
}

func (f fixture) pendingTransaction(t *testing.T, quantity int64) *offsetdomain.OffsetTransaction {
	t.Helper()
	ledger := f.recordUsage(t, ledgerdomain.UsagePrivateCar, "1000")
	txn, err := f.offset.Create(context.Background(), offsetdomain.CreateRequest{
		Actor:    f.citizen,
		LedgerID: ledger.ID,
		Quantity: quantity,
	})
	require.NoError(t, err)
	return txn
}

func (f fixture) submit(t *testing.T, transactionID snowflake.ID) *verificationdomain.PlantingVerification {
	t.Helper()
	v, err := f.svc.Submit(context.Background(), f.submitRequest(transactionID))
	require.NoError(t, err)
	return v
}

func (f fixture) submitRequest(transactionID snowflake.ID) verificationdomain.SubmitRequest {
	return verificationdomain.SubmitRequest{
		Actor:         f.agent,
		TransactionID: transactionID,
		ImageProof:    "https://proofs.example/plot-7.jpg",
		Location:      "-6.2088,106.8456",
		PlantedAt:     time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC),
	}
}

func TestEndToEndClearsLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.recordUsage(t, ledgerdomain.UsageTransit, "1000")
	ledger := f.recordUsage(t, ledgerdomain.UsagePrivateCar, "1000")
	require.True(t, ledger.TotalCO2Tonnes.Equal(decimal.RequireFromString("0.6")))
	require.Equal(t, int64(2), ledger.RequiredOffsetUnits)
	require.Equal(t, ledgerdomain.LedgerStatusUnpaid, ledger.Status)

	txn, err := f.offset.Create(ctx, offsetdomain.CreateRequest{
		Actor:            f.citizen,
		LedgerID:         ledger.ID,
		Quantity:         2,
		PaymentReference: "PAY-778899",
	})
	require.NoError(t, err)

	verification := f.submit(t, txn.ID)
	assert.Equal(t, verificationdomain.OutcomeSubmitted, verification.Outcome)
	assert.False(t, verification.IsVerified)
	assert.Equal(t, f.agent.UserID, verification.AgentID)

	f.clock.Advance(time.Hour)
	result, err := f.svc.Approve(ctx, verification.ID, f.admin)
	require.NoError(t, err)
	assert.True(t, result.Verification.IsVerified)
	assert.Equal(t, verificationdomain.OutcomeApproved, result.Verification.Outcome)
	require.NotNil(t, result.Verification.ApprovedBy)
	assert.Equal(t, f.admin.UserID, *result.Verification.ApprovedBy)
	require.NotNil(t, result.Verification.ApprovedAt)
	assert.True(t, result.Verification.ApprovedAt.Equal(f.clock.Now()))
	assert.Equal(t, offsetdomain.StatusApproved, result.Transaction.Status)
	assert.Equal(t, ledgerdomain.LedgerStatusCleared, result.Ledger.Status)

	stored, err := f.ledger.GetLedger(ctx, ledger.ID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.LedgerStatusCleared, stored.Status)

	published := f.publisher.Events()
	require.Len(t, published, 1)
	assert.Equal(t, "CLEARED", published[0].Payload.(events.LedgerStatusChanged).To)

	var actions []string
	require.NoError(t, f.db.Model(&auditdomain.AuditLog{}).Order("id asc").Pluck("action", &actions).Error)
	assert.Contains(t, actions, auditdomain.ActionVerificationSubmitted)
	assert.Contains(t, actions, auditdomain.ActionVerificationApproved)
	assert.Contains(t, actions, auditdomain.ActionTransactionApproved)
}

func TestPartialPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ledger := f.recordUsage(t, ledgerdomain.UsagePrivateCar, "2500") // 1 t, 2 units
	txn, err := f.offset.Create(ctx, offsetdomain.CreateRequest{Actor: f.citizen, LedgerID: ledger.ID, Quantity: 1})
	require.NoError(t, err)

	result, err := f.svc.Approve(ctx, f.submit(t, txn.ID).ID, f.admin)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.LedgerStatusPartiallyPaid, result.Ledger.Status)
}

func TestApproveBeforeSubmitIsInvalidState(t *testing.T) {
	f := newFixture(t)
	txn := f.pendingTransaction(t, 1)

	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, _, err := f.offset.ApproveTx(context.Background(), tx, txn.ID)
		return err
	})
	assert.ErrorIs(t, err, errs.ErrInvalidState)

	_, err = f.svc.Approve(context.Background(), f.node.Generate(), f.admin)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestDoubleApproveIsInvalidState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.pendingTransaction(t, 1)
	verification := f.submit(t, txn.ID)

	_, err := f.svc.Approve(ctx, verification.ID, f.admin)
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, verification.ID, f.admin)
	assert.ErrorIs(t, err, errs.ErrInvalidState)
	assert.ErrorIs(t, err, verificationdomain.ErrAlreadyVerified)
}

func TestApproveRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	txn := f.pendingTransaction(t, 1)
	verification := f.submit(t, txn.ID)

	_, err := f.svc.Approve(context.Background(), verification.ID, f.agent)
	assert.ErrorIs(t, err, errs.ErrAuthorization)

	stored, err := f.svc.Get(context.Background(), f.agent, verification.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsVerified)
}

func TestRejectClosesVerificationAndTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.pendingTransaction(t, 1)
	verification := f.submit(t, txn.ID)

	result, err := f.svc.Reject(ctx, verification.ID, f.admin, "photo does not show seedlings")
	require.NoError(t, err)
	assert.Equal(t, verificationdomain.OutcomeRejected, result.Verification.Outcome)
	assert.Equal(t, "photo does not show seedlings", result.Verification.RejectionReason)
	require.NotNil(t, result.Verification.RejectedBy)
	assert.Equal(t, offsetdomain.StatusRejected, result.Transaction.Status)

	_, err = f.svc.Approve(ctx, verification.ID, f.admin)
	assert.ErrorIs(t, err, verificationdomain.ErrVerificationRejected)

	_, err = f.svc.Reject(ctx, verification.ID, f.admin, "")
	assert.ErrorIs(t, err, errs.ErrInvalidState)

	ledger, err := f.ledger.GetLedger(ctx, txn.LedgerID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.LedgerStatusUnpaid, ledger.Status)
}

func TestSubmitRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.pendingTransaction(t, 1)

	req := f.submitRequest(txn.ID)
	req.Actor = f.citizen
	_, err := f.svc.Submit(ctx, req)
	assert.ErrorIs(t, err, errs.ErrAuthorization)

	req = f.submitRequest(txn.ID)
	req.ImageProof = " "
	_, err = f.svc.Submit(ctx, req)
	assert.ErrorIs(t, err, verificationdomain.ErrInvalidImageProof)

	req = f.submitRequest(txn.ID)
	req.PlantedAt = time.Time{}
	_, err = f.svc.Submit(ctx, req)
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = f.svc.Submit(ctx, f.submitRequest(f.node.Generate()))
	assert.ErrorIs(t, err, errs.ErrNotFound)

	rejected := f.pendingTransaction(t, 1)
	_, err = f.offset.Reject(ctx, f.admin, rejected.ID)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, f.submitRequest(rejected.ID))
	assert.ErrorIs(t, err, errs.ErrInvalidState)

	f.submit(t, txn.ID)
	_, err = f.svc.Submit(ctx, f.submitRequest(txn.ID))
	assert.ErrorIs(t, err, errs.ErrConflict)
}

func TestConcurrentSubmitsYieldOneVerification(t *testing.T) {
	f := newFixture(t)
	txn := f.pendingTransaction(t, 1)

	const attempts = 2
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.svc.Submit(context.Background(), f.submitRequest(txn.ID))
		}(i)
	}
	wg.Wait()

	var succeeded, conflicted int
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errs.KindOf(err) == errs.KindConflict:
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicted)

	var count int64
	require.NoError(t, f.db.Model(&verificationdomain.PlantingVerification{}).Where("transaction_id = ?", txn.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestListPendingAndGetByTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.pendingTransaction(t, 1)
	second := f.pendingTransaction(t, 1)
	v1 := f.submit(t, first.ID)
	f.clock.Advance(time.Minute)
	v2 := f.submit(t, second.ID)

	_, err := f.svc.Approve(ctx, v2.ID, f.admin)
	require.NoError(t, err)

	pending, err := f.svc.ListPending(ctx, verificationdomain.ListPendingRequest{Actor: f.admin})
	require.NoError(t, err)
	require.Len(t, pending.Verifications, 1)
	assert.Equal(t, v1.ID, pending.Verifications[0].ID)

	_, err = f.svc.ListPending(ctx, verificationdomain.ListPendingRequest{Actor: f.agent})
	assert.ErrorIs(t, err, errs.ErrAuthorization)

	own, err := f.svc.GetByTransaction(ctx, f.citizen, first.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, own.ID)

	stranger := authorization.Actor{UserID: f.node.Generate(), Role: authorization.RoleCitizen}
	_, err = f.svc.GetByTransaction(ctx, stranger, first.ID)
	assert.ErrorIs(t, err, errs.ErrAuthorization)
}
