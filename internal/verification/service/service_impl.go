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
	verificationdomain "github.com/smallbiznis/carbonledger/internal/verification/domain"
	"github.com/smallbiznis/carbonledger/pkg/db"
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
	Repo            verificationdomain.Repository
	Authz           authorization.Service
	OffsetSvc       offsetdomain.Service
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
	repo            verificationdomain.Repository
	authz           authorization.Service
	offsetSvc       offsetdomain.Service
	ledgerSvc       ledgerdomain.Service
	auditSvc        auditdomain.Service
	clock           clock.Clock
	metrics         *obsmetrics.Metrics
	workflowMetrics *obsmetrics.WorkflowMetrics

	store repository.Repository[verificationdomain.PlantingVerification]
}

func NewService(p Params) verificationdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("verification.service"),
		genID:           p.GenID,
		repo:            p.Repo,
		authz:           p.Authz,
		offsetSvc:       p.OffsetSvc,
		ledgerSvc:       p.LedgerSvc,
		auditSvc:        p.AuditSvc,
		clock:           clk,
		metrics:         p.Metrics,
		workflowMetrics: p.WorkflowMetrics,

		store: repository.ProvideStore[verificationdomain.PlantingVerification](p.DB),
	}
}

func (s *Service) Submit(ctx context.Context, req verificationdomain.SubmitRequest) (*verificationdomain.PlantingVerification, error) {
	if err := s.authz.Authorize(ctx, req.Actor, authorization.ObjectVerification, authorization.ActionVerificationSubmit); err != nil {
		return nil, err
	}
	if req.TransactionID == 0 {
		return nil, errs.Validation(verificationdomain.ErrInvalidTransaction)
	}
	imageProof := strings.TrimSpace(req.ImageProof)
	if imageProof == "" {
		return nil, errs.Validation(verificationdomain.ErrInvalidImageProof)
	}
	location := strings.TrimSpace(req.Location)
	if location == "" {
		return nil, errs.Validation(verificationdomain.ErrInvalidLocation)
	}
	if req.PlantedAt.IsZero() {
		return nil, errs.Validation(verificationdomain.ErrInvalidPlantedAt)
	}

	now := s.clock.Now().UTC()
	verification := &verificationdomain.PlantingVerification{
		ID:            s.genID.Generate(),
		TransactionID: req.TransactionID,
		AgentID:       req.Actor.UserID,
		ImageProof:    imageProof,
		Location:      location,
		PlantedAt:     req.PlantedAt.UTC(),
		Outcome:       verificationdomain.OutcomeSubmitted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txn, err := s.offsetSvc.LockTx(ctx, tx, req.TransactionID)
		if err != nil {
			return err
		}
		if txn.Status == offsetdomain.StatusRejected {
			return errs.InvalidState(verificationdomain.ErrTransactionRejected)
		}
		existing, err := s.repo.FindByTransaction(ctx, tx, req.TransactionID)
		if err != nil {
			return err
		}
		if existing != nil {
			return errs.Conflict(verificationdomain.ErrVerificationExists)
		}
		if err := s.repo.Insert(ctx, tx, verification); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return errs.Conflict(verificationdomain.ErrVerificationExists)
			}
			return err
		}
		return s.audit(ctx, tx, req.Actor, auditdomain.ActionVerificationSubmitted, verification, map[string]any{
			"transaction_id": req.TransactionID.String(),
			"image_proof":    imageProof,
			"location":       location,
		})
	})
	if err != nil {
		s.workflowMetrics.IncFailure("submit_verification", err)
		return nil, err
	}

	s.metrics.RecordVerificationOutcome(ctx, string(verification.Outcome))
	logger.FromContext(ctx).Info("verification submitted",
		zap.String("verification_id", verification.ID.String()),
		zap.String("transaction_id", req.TransactionID.String()),
	)
	return verification, nil
}

func (s *Service) Approve(ctx context.Context, verificationID snowflake.ID, admin authorization.Actor) (*verificationdomain.DecisionResult, error) {
	if err := s.authz.Authorize(ctx, admin, authorization.ObjectVerification, authorization.ActionVerificationApprove); err != nil {
		return nil, err
	}

	var (
		result *verificationdomain.DecisionResult
		change *ledgerdomain.RecomputeResult
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		verification, err := s.lockDecision(ctx, tx, verificationID)
		if err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		approvedBy := admin.UserID
		verification.Outcome = verificationdomain.OutcomeApproved
		verification.IsVerified = true
		verification.ApprovedBy = &approvedBy
		verification.ApprovedAt = &now
		verification.UpdatedAt = now
		if err := s.repo.UpdateDecision(ctx, tx, verification); err != nil {
			return err
		}

		txn, recompute, err := s.offsetSvc.ApproveTx(ctx, tx, verification.TransactionID)
		if err != nil {
			return err
		}
		change = recompute

		if err := s.audit(ctx, tx, admin, auditdomain.ActionVerificationApproved, verification, map[string]any{
			"transaction_id": txn.ID.String(),
			"quantity":       txn.Quantity,
			"ledger_id":      txn.LedgerID.String(),
			"ledger_status":  string(recompute.Ledger.Status),
		}); err != nil {
			return err
		}

		result = &verificationdomain.DecisionResult{
			Verification: verification,
			Transaction:  txn,
			Ledger:       recompute.Ledger,
		}
		return nil
	})
	if err != nil {
		s.workflowMetrics.IncFailure("approve_verification", err)
		return nil, err
	}

	s.metrics.RecordVerificationOutcome(ctx, string(verificationdomain.OutcomeApproved))
	s.metrics.RecordOffsetTransaction(ctx, string(offsetdomain.StatusApproved))
	s.ledgerSvc.PublishStatusChange(ctx, *change)
	logger.FromContext(ctx).Info("verification approved",
		zap.String("verification_id", verificationID.String()),
		zap.String("transaction_id", result.Transaction.ID.String()),
		zap.String("ledger_status", string(result.Ledger.Status)),
	)
	return result, nil
}

func (s *Service) Reject(ctx context.Context, verificationID snowflake.ID, admin authorization.Actor, reason string) (*verificationdomain.DecisionResult, error) {
	if err := s.authz.Authorize(ctx, admin, authorization.ObjectVerification, authorization.ActionVerificationReject); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if len(reason) > verificationdomain.MaxRejectionReasonLength {
		return nil, errs.Validation(verificationdomain.ErrInvalidRejectionReason)
	}

	var result *verificationdomain.DecisionResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		verification, err := s.lockDecision(ctx, tx, verificationID)
		if err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		rejectedBy := admin.UserID
		verification.Outcome = verificationdomain.OutcomeRejected
		verification.IsVerified = false
		verification.RejectedBy = &rejectedBy
		verification.RejectedAt = &now
		verification.RejectionReason = reason
		verification.UpdatedAt = now
		if err := s.repo.UpdateDecision(ctx, tx, verification); err != nil {
			return err
		}

		txn, err := s.offsetSvc.RejectTx(ctx, tx, verification.TransactionID)
		if err != nil {
			return err
		}

		if err := s.audit(ctx, tx, admin, auditdomain.ActionVerificationRejected, verification, map[string]any{
			"transaction_id": txn.ID.String(),
			"reason":         reason,
		}); err != nil {
			return err
		}

		result = &verificationdomain.DecisionResult{Verification: verification, Transaction: txn}
		return nil
	})
	if err != nil {
		s.workflowMetrics.IncFailure("reject_verification", err)
		return nil, err
	}

	s.metrics.RecordVerificationOutcome(ctx, string(verificationdomain.OutcomeRejected))
	s.metrics.RecordOffsetTransaction(ctx, string(offsetdomain.StatusRejected))
	return result, nil
}

// lockDecision locks the owning transaction and then the verification, and
// rejects verifications that were already decided.
func (s *Service) lockDecision(ctx context.Context, tx *gorm.DB, verificationID snowflake.ID) (*verificationdomain.PlantingVerification, error) {
	current, err := s.repo.FindByID(ctx, tx, verificationID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, errs.NotFound(verificationdomain.ErrVerificationNotFound)
	}
	if _, err := s.offsetSvc.LockTx(ctx, tx, current.TransactionID); err != nil {
		return nil, err
	}
	verification, err := s.repo.FindByIDForUpdate(ctx, tx, verificationID)
	if err != nil {
		return nil, err
	}
	if verification == nil {
		return nil, errs.NotFound(verificationdomain.ErrVerificationNotFound)
	}

	switch {
	case verification.Outcome == verificationdomain.OutcomeRejected:
		return nil, errs.InvalidState(verificationdomain.ErrVerificationRejected)
	case verification.IsVerified || verification.IsDecided():
		return nil, errs.InvalidState(verificationdomain.ErrAlreadyVerified)
	}
	return verification, nil
}

func (s *Service) Get(ctx context.Context, actor authorization.Actor, verificationID snowflake.ID) (*verificationdomain.PlantingVerification, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectOffsetTransaction, authorization.ActionTransactionViewQueue); err != nil {
		return nil, err
	}
	verification, err := s.repo.FindByID(ctx, s.db, verificationID)
	if err != nil {
		return nil, err
	}
	if verification == nil {
		return nil, errs.NotFound(verificationdomain.ErrVerificationNotFound)
	}
	return verification, nil
}

// GetByTransaction is open to the transaction owner and to queue workers.
func (s *Service) GetByTransaction(ctx context.Context, actor authorization.Actor, transactionID snowflake.ID) (*verificationdomain.PlantingVerification, error) {
	if _, err := s.offsetSvc.Get(ctx, actor, transactionID); err != nil {
		return nil, err
	}
	verification, err := s.repo.FindByTransaction(ctx, s.db, transactionID)
	if err != nil {
		return nil, err
	}
	if verification == nil {
		return nil, errs.NotFound(verificationdomain.ErrVerificationNotFound)
	}
	return verification, nil
}

// ListPending lists SUBMITTED verifications for review, oldest first.
func (s *Service) ListPending(ctx context.Context, req verificationdomain.ListPendingRequest) (verificationdomain.ListPendingResponse, error) {
	if err := s.authz.Authorize(ctx, req.Actor, authorization.ObjectVerification, authorization.ActionVerificationApprove); err != nil {
		return verificationdomain.ListPendingResponse{}, err
	}

	limit := pagination.NormalizePageSize(req.PageSize)
	items, err := s.store.Find(ctx,
		&verificationdomain.PlantingVerification{Outcome: verificationdomain.OutcomeSubmitted},
		option.ApplyPagination(req.Pagination, false),
		option.WithSortBy(option.QuerySortBy{}),
	)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return verificationdomain.ListPendingResponse{}, errs.Validation(pagination.ErrInvalidPageToken)
		}
		return verificationdomain.ListPendingResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, limit, func(v *verificationdomain.PlantingVerification) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        strconv.FormatInt(v.ID.Int64(), 10),
			CreatedAt: v.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if len(items) > limit {
		items = items[:limit]
	}

	out := make([]verificationdomain.PlantingVerification, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return verificationdomain.ListPendingResponse{PageInfo: *pageInfo, Verifications: out}, nil
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, actor authorization.Actor, action string, v *verificationdomain.PlantingVerification, metadata map[string]any) error {
	if s.auditSvc == nil {
		return nil
	}
	return s.auditSvc.AuditLogTx(ctx, tx, auditdomain.Entry{
		ActorType:  string(actor.Role),
		ActorID:    actor.UserID.String(),
		Action:     action,
		TargetType: auditdomain.TargetVerification,
		TargetID:   v.ID.String(),
		Metadata:   metadata,
	})
}
