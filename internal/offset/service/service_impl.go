package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/carbonledger/internal/audit/domain"
	"github.com/smallbiznis/carbonledger/internal/authorization"
	"github.com/smallbiznis/carbonledger/internal/clock"
	ledgerdomain "github.com/smallbiznis/carbonledger/internal/ledger/domain"
	"github.com/smallbiznis/carbonledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/carbonledger/internal/observability/metrics"
	offsetdomain "github.com/smallbiznis/carbonledger/internal/offset/domain"
	"github.com/smallbiznis/carbonledger/pkg/db/option"
	"github.com/smallbiznis/carbonledger/pkg/db/pagination"
	"github.com/smallbiznis/carbonledger/pkg/errs"
	"github.com/smallbiznis/carbonledger/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Repo            offsetdomain.Repository
	Authz           authorization.Service
	LedgerSvc       ledgerdomain.Service
	AuditSvc        auditdomain.Service         `optional:"true"`
	Clock           clock.Clock                 `optional:"true"`
	Metrics         *obsmetrics.Metrics         `optional:"true"`
	WorkflowMetrics *obsmetrics.WorkflowMetrics `optional:"true"`
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	repo            offsetdomain.Repository
	authz           authorization.Service
	ledgerSvc       ledgerdomain.Service
	auditSvc        auditdomain.Service
	clock           clock.Clock
	metrics         *obsmetrics.Metrics
	workflowMetrics *obsmetrics.WorkflowMetrics

	store repository.Repository[offsetdomain.OffsetTransaction]
}

func NewService(p Params) offsetdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("offset.service"),
		genID:           p.GenID,
		repo:            p.Repo,
		authz:           p.Authz,
		ledgerSvc:       p.LedgerSvc,
		auditSvc:        p.AuditSvc,
		clock:           clk,
		metrics:         p.Metrics,
		workflowMetrics: p.WorkflowMetrics,

		store: repository.ProvideStore[offsetdomain.OffsetTransaction](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, req offsetdomain.CreateRequest) (*offsetdomain.OffsetTransaction, error) {
	if err := s.authz.Authorize(ctx, req.Actor, authorization.ObjectOffsetTransaction, authorization.ActionTransactionCreate); err != nil {
		return nil, err
	}
	if req.Quantity < 1 {
		return nil, errs.Validation(offsetdomain.ErrInvalidQuantity)
	}
	if req.LedgerID == 0 {
		return nil, errs.Validation(offsetdomain.ErrInvalidLedger)
	}
	reference := strings.TrimSpace(req.PaymentReference)
	if len(reference) > offsetdomain.MaxPaymentReferenceLength {
		return nil, errs.Validation(offsetdomain.ErrInvalidPaymentReference)
	}
	userID := req.UserID
	if userID == 0 {
		userID = req.Actor.UserID
	}
	if err := s.authz.AuthorizeOwner(ctx, req.Actor, userID); err != nil {
		return nil, err
	}

	ledger, err := s.ledgerSvc.GetLedger(ctx, req.LedgerID)
	if err != nil {
		return nil, err
	}
	if ledger.UserID != userID {
		return nil, errs.Authorization(offsetdomain.ErrLedgerNotOwned)
	}

	now := s.clock.Now().UTC()
	txn := &offsetdomain.OffsetTransaction{
		ID:               s.genID.Generate(),
		UserID:           userID,
		LedgerID:         ledger.ID,
		Quantity:         req.Quantity,
		PaymentReference: reference,
		Status:           offsetdomain.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, txn); err != nil {
			return err
		}
		return s.audit(ctx, tx, req.Actor, auditdomain.ActionTransactionCreated, txn, map[string]any{
			"ledger_id":         ledger.ID.String(),
			"quantity":          txn.Quantity,
			"payment_reference": txn.PaymentReference,
		})
	})
	if err != nil {
		s.workflowMetrics.IncFailure("create_transaction", err)
		return nil, err
	}

	s.metrics.RecordOffsetTransaction(ctx, string(txn.Status))
	logger.FromContext(ctx).Info("offset transaction created",
		zap.String("transaction_id", txn.ID.String()),
		zap.String("ledger_id", ledger.ID.String()),
		zap.Int64("quantity", txn.Quantity),
	)
	return txn, nil
}

func (s *Service) Reject(ctx context.Context, actor authorization.Actor, transactionID snowflake.ID) (*offsetdomain.OffsetTransaction, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectVerification, authorization.ActionVerificationReject); err != nil {
		return nil, err
	}

	var txn *offsetdomain.OffsetTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.LockTx(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		if locked.IsTerminal() {
			return errs.InvalidState(offsetdomain.ErrInvalidTransactionState)
		}
		state, err := s.repo.VerificationState(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		if state.Exists {
			return errs.InvalidState(offsetdomain.ErrVerificationExists)
		}

		txn, err = s.transition(ctx, tx, locked, offsetdomain.StatusRejected)
		if err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, auditdomain.ActionTransactionRejected, txn, nil)
	})
	if err != nil {
		s.workflowMetrics.IncFailure("reject_transaction", err)
		return nil, err
	}

	s.metrics.RecordOffsetTransaction(ctx, string(txn.Status))
	return txn, nil
}

func (s *Service) ApproveTx(ctx context.Context, tx *gorm.DB, transactionID snowflake.ID) (*offsetdomain.OffsetTransaction, *ledgerdomain.RecomputeResult, error) {
	locked, err := s.LockTx(ctx, tx, transactionID)
	if err != nil {
		return nil, nil, err
	}
	if locked.IsTerminal() {
		return nil, nil, errs.InvalidState(offsetdomain.ErrInvalidTransactionState)
	}
	state, err := s.repo.VerificationState(ctx, tx, transactionID)
	if err != nil {
		return nil, nil, err
	}
	if !state.IsVerified {
		return nil, nil, errs.InvalidState(offsetdomain.ErrTransactionNotVerified)
	}

	txn, err := s.transition(ctx, tx, locked, offsetdomain.StatusApproved)
	if err != nil {
		return nil, nil, err
	}
	result, err := s.ledgerSvc.Recompute(ctx, tx, txn.LedgerID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.audit(ctx, tx, authorization.Actor{}, auditdomain.ActionTransactionApproved, txn, map[string]any{
		"ledger_status": string(result.Ledger.Status),
	}); err != nil {
		return nil, nil, err
	}
	return txn, result, nil
}

func (s *Service) RejectTx(ctx context.Context, tx *gorm.DB, transactionID snowflake.ID) (*offsetdomain.OffsetTransaction, error) {
	locked, err := s.LockTx(ctx, tx, transactionID)
	if err != nil {
		return nil, err
	}
	if locked.IsTerminal() {
		return nil, errs.InvalidState(offsetdomain.ErrInvalidTransactionState)
	}
	return s.transition(ctx, tx, locked, offsetdomain.StatusRejected)
}

func (s *Service) LockTx(ctx context.Context, tx *gorm.DB, transactionID snowflake.ID) (*offsetdomain.OffsetTransaction, error) {
	start := time.Now()
	txn, err := s.repo.FindByIDForUpdate(ctx, tx, transactionID)
	if err != nil {
		return nil, err
	}
	s.workflowMetrics.ObserveLockWait(obsmetrics.LockResourceTransaction, time.Since(start))
	if txn == nil {
		return nil, errs.NotFound(offsetdomain.ErrTransactionNotFound)
	}
	return txn, nil
}

// Get returns the transaction to its owner or to actors working the queue.
func (s *Service) Get(ctx context.Context, actor authorization.Actor, transactionID snowflake.ID) (*offsetdomain.OffsetTransaction, error) {
	txn, err := s.repo.FindByID(ctx, s.db, transactionID)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, errs.NotFound(offsetdomain.ErrTransactionNotFound)
	}
	if actor.UserID != 0 && actor.UserID == txn.UserID {
		return txn, nil
	}
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectOffsetTransaction, authorization.ActionTransactionViewQueue); err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *Service) ListByUser(ctx context.Context, req offsetdomain.ListByUserRequest) (offsetdomain.ListResponse, error) {
	userID := req.Actor.UserID
	if req.UserID != nil && *req.UserID != req.Actor.UserID {
		if !s.authz.Can(req.Actor, authorization.ObjectLedger, authorization.ActionLedgerViewAll) {
			return offsetdomain.ListResponse{}, errs.Authorization(authorization.ErrForbidden)
		}
		userID = *req.UserID
	}
	if userID == 0 {
		return offsetdomain.ListResponse{}, errs.Authorization(authorization.ErrInvalidActor)
	}

	filter := &offsetdomain.OffsetTransaction{UserID: userID}
	if req.Status != "" {
		switch req.Status {
		case offsetdomain.StatusPending, offsetdomain.StatusApproved, offsetdomain.StatusRejected:
			filter.Status = req.Status
		default:
			return offsetdomain.ListResponse{}, errs.Validation(offsetdomain.ErrInvalidStatus)
		}
	}
	return s.list(ctx, filter, req.Pagination, true)
}

// ListPending is the agent queue, oldest first.
func (s *Service) ListPending(ctx context.Context, req offsetdomain.ListPendingRequest) (offsetdomain.ListResponse, error) {
	if err := s.authz.Authorize(ctx, req.Actor, authorization.ObjectOffsetTransaction, authorization.ActionTransactionViewQueue); err != nil {
		return offsetdomain.ListResponse{}, err
	}
	filter := &offsetdomain.OffsetTransaction{Status: offsetdomain.StatusPending}
	return s.list(ctx, filter, req.Pagination, false)
}

func (s *Service) list(ctx context.Context, filter *offsetdomain.OffsetTransaction, page pagination.Pagination, desc bool) (offsetdomain.ListResponse, error) {
	limit := pagination.NormalizePageSize(page.PageSize)
	items, err := s.store.Find(ctx, filter,
		option.ApplyPagination(page, desc),
		option.WithSortBy(option.QuerySortBy{Desc: desc}),
	)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return offsetdomain.ListResponse{}, errs.Validation(pagination.ErrInvalidPageToken)
		}
		return offsetdomain.ListResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, limit, func(t *offsetdomain.OffsetTransaction) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        strconv.FormatInt(t.ID.Int64(), 10),
			CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if len(items) > limit {
		items = items[:limit]
	}

	out := make([]offsetdomain.OffsetTransaction, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return offsetdomain.ListResponse{PageInfo: *pageInfo, Transactions: out}, nil
}

func (s *Service) transition(ctx context.Context, tx *gorm.DB, txn *offsetdomain.OffsetTransaction, to offsetdomain.TransactionStatus) (*offsetdomain.OffsetTransaction, error) {
	from := txn.Status
	txn.Status = to
	txn.UpdatedAt = s.clock.Now().UTC()
	if err := s.repo.UpdateStatus(ctx, tx, txn); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("offset transaction transitioned",
		zap.String("transaction_id", txn.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return txn, nil
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, actor authorization.Actor, action string, txn *offsetdomain.OffsetTransaction, metadata map[string]any) error {
	if s.auditSvc == nil {
		return nil
	}
	entry := auditdomain.Entry{
		Action:     action,
		TargetType: auditdomain.TargetOffsetTransaction,
		TargetID:   txn.ID.String(),
		Metadata:   metadata,
	}
	if actor.Role != "" {
		entry.ActorType = string(actor.Role)
		entry.ActorID = actor.UserID.String()
	}
	return s.auditSvc.AuditLogTx(ctx, tx, entry)
}
