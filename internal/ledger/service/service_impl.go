package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/carbonledger/internal/audit/domain"
	"github.com/smallbiznis/carbonledger/internal/authorization"
	"github.com/smallbiznis/carbonledger/internal/clock"
	ratedomain "github.com/smallbiznis/carbonledger/internal/conversionrate/domain"
	"github.com/smallbiznis/carbonledger/internal/emission"
	"github.com/smallbiznis/carbonledger/internal/events"
	ledgerdomain "github.com/smallbiznis/carbonledger/internal/ledger/domain"
	"github.com/smallbiznis/carbonledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/carbonledger/internal/observability/metrics"
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
	Repo            ledgerdomain.Repository
	Authz           authorization.Service
	RateSvc         ratedomain.Service
	AuditSvc        auditdomain.Service         `optional:"true"`
	Publisher       events.Publisher            `optional:"true"`
	Clock           clock.Clock                 `optional:"true"`
	Metrics         *obsmetrics.Metrics         `optional:"true"`
	WorkflowMetrics *obsmetrics.WorkflowMetrics `optional:"true"`
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	repo            ledgerdomain.Repository
	authz           authorization.Service
	rateSvc         ratedomain.Service
	auditSvc        auditdomain.Service
	publisher       events.Publisher
	clock           clock.Clock
	metrics         *obsmetrics.Metrics
	workflowMetrics *obsmetrics.WorkflowMetrics

	ledgerStore repository.Repository[ledgerdomain.CarbonLedger]
	usageStore  repository.Repository[ledgerdomain.UsageRecord]
}

func NewService(p Params) ledgerdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	publisher := p.Publisher
	if publisher == nil {
		publisher = events.Noop{}
	}
	svc := &Service{
		db:              p.DB,
		log:             p.Log.Named("ledger.service"),
		genID:           p.GenID,
		repo:            p.Repo,
		authz:           p.Authz,
		rateSvc:         p.RateSvc,
		auditSvc:        p.AuditSvc,
		publisher:       publisher,
		clock:           clk,
		metrics:         p.Metrics,
		workflowMetrics: p.WorkflowMetrics,

		ledgerStore: repository.ProvideStore[ledgerdomain.CarbonLedger](p.DB),
		usageStore:  repository.ProvideStore[ledgerdomain.UsageRecord](p.DB),
	}
	if p.RateSvc != nil {
		p.RateSvc.OnChange(svc.recomputeOnRateChange)
	}
	return svc
}

func (s *Service) RecordUsage(ctx context.Context, req ledgerdomain.RecordUsageRequest) (*ledgerdomain.RecordUsageResult, error) {
	if err := s.authz.Authorize(ctx, req.Actor, authorization.ObjectUsage, authorization.ActionUsageRecord); err != nil {
		return nil, err
	}
	if req.UserID == 0 {
		return nil, errs.Validation(ledgerdomain.ErrInvalidUser)
	}
	if err := s.authz.AuthorizeOwner(ctx, req.Actor, req.UserID); err != nil {
		return nil, err
	}
	if req.Date.IsZero() {
		return nil, errs.Validation(ledgerdomain.ErrInvalidDate)
	}
	year := req.Date.UTC().Year()
	if !ratedomain.ValidYear(year) {
		return nil, errs.Validation(ledgerdomain.ErrInvalidYear)
	}
	if !emission.ValidUsageType(req.UsageType) {
		return nil, errs.Validation(ledgerdomain.ErrInvalidUsageType)
	}
	if req.Amount.IsNegative() {
		return nil, errs.Validation(ledgerdomain.ErrInvalidAmount)
	}
	amount := req.Amount.Round(emission.AmountScale)
	co2, err := emission.EmissionFor(req.UsageType, amount)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	usage := &ledgerdomain.UsageRecord{
		ID:          s.genID.Generate(),
		UserID:      req.UserID,
		Year:        year,
		Date:        truncateDate(req.Date),
		UsageType:   req.UsageType,
		Amount:      amount,
		CO2Emitted:  co2,
		Description: req.Description,
		CreatedAt:   now,
	}

	var result *ledgerdomain.RecomputeResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ledger, err := s.getOrCreateTx(ctx, tx, req.UserID, year)
		if err != nil {
			return err
		}
		if err := s.repo.InsertUsage(ctx, tx, usage); err != nil {
			return err
		}
		result, err = s.Recompute(ctx, tx, ledger.ID)
		if err != nil {
			return err
		}
		return s.audit(ctx, tx, auditdomain.Entry{
			ActorType:  string(req.Actor.Role),
			ActorID:    req.Actor.UserID.String(),
			Action:     auditdomain.ActionUsageRecorded,
			TargetType: auditdomain.TargetUsageRecord,
			TargetID:   usage.ID.String(),
			Metadata: map[string]any{
				"ledger_id":   ledger.ID.String(),
				"usage_type":  string(usage.UsageType),
				"amount":      usage.Amount.String(),
				"co2_emitted": usage.CO2Emitted.String(),
			},
		})
	})
	if err != nil {
		s.workflowMetrics.IncFailure("record_usage", err)
		return nil, err
	}

	s.metrics.RecordUsage(ctx, string(usage.UsageType))
	s.PublishStatusChange(ctx, *result)
	logger.FromContext(ctx).Debug("usage recorded",
		zap.String("usage_id", usage.ID.String()),
		zap.String("ledger_id", result.Ledger.ID.String()),
		zap.String("co2_emitted", usage.CO2Emitted.String()),
	)

	return &ledgerdomain.RecordUsageResult{
		Usage:  usage,
		Ledger: result.Ledger,
		Change: *result,
	}, nil
}

func (s *Service) GetOrCreateLedger(ctx context.Context, userID snowflake.ID, year int) (*ledgerdomain.CarbonLedger, error) {
	if err := validateOwnerYear(userID, year); err != nil {
		return nil, err
	}
	return s.getOrCreateTx(ctx, s.db, userID, year)
}

func (s *Service) getOrCreateTx(ctx context.Context, tx *gorm.DB, userID snowflake.ID, year int) (*ledgerdomain.CarbonLedger, error) {
	existing, err := s.repo.FindLedgerByUserYear(ctx, tx, userID, year)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	if err := s.repo.InsertLedgerIfMissing(ctx, tx, s.newLedger(userID, year)); err != nil {
		return nil, err
	}
	ledger, err := s.repo.FindLedgerByUserYear(ctx, tx, userID, year)
	if err != nil {
		return nil, err
	}
	if ledger == nil {
		return nil, errs.NotFound(ledgerdomain.ErrLedgerNotFound)
	}
	return ledger, nil
}

func (s *Service) CreateLedger(ctx context.Context, userID snowflake.ID, year int) (*ledgerdomain.CarbonLedger, error) {
	if err := validateOwnerYear(userID, year); err != nil {
		return nil, err
	}
	ledger := s.newLedger(userID, year)
	if err := s.repo.InsertLedger(ctx, s.db, ledger); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, errs.Conflict(ledgerdomain.ErrLedgerExists)
		}
		return nil, err
	}
	return ledger, nil
}

func (s *Service) GetLedger(ctx context.Context, id snowflake.ID) (*ledgerdomain.CarbonLedger, error) {
	ledger, err := s.repo.FindLedgerByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if ledger == nil {
		return nil, errs.NotFound(ledgerdomain.ErrLedgerNotFound)
	}
	return ledger, nil
}

func (s *Service) GetLedgerForYear(ctx context.Context, userID snowflake.ID, year int) (*ledgerdomain.CarbonLedger, error) {
	if err := validateOwnerYear(userID, year); err != nil {
		return nil, err
	}
	ledger, err := s.repo.FindLedgerByUserYear(ctx, s.db, userID, year)
	if err != nil {
		return nil, err
	}
	if ledger == nil {
		return nil, errs.NotFound(ledgerdomain.ErrLedgerNotFound)
	}
	return ledger, nil
}

func (s *Service) ListLedgers(ctx context.Context, req ledgerdomain.ListLedgersRequest) (ledgerdomain.ListLedgersResponse, error) {
	userID, err := s.scopeUser(ctx, req.Actor, req.UserID)
	if err != nil {
		return ledgerdomain.ListLedgersResponse{}, err
	}

	filter := &ledgerdomain.CarbonLedger{}
	if userID != nil {
		filter.UserID = *userID
	}
	if req.Year != nil {
		filter.Year = *req.Year
	}
	if req.Status != "" {
		switch req.Status {
		case ledgerdomain.LedgerStatusUnpaid, ledgerdomain.LedgerStatusPartiallyPaid, ledgerdomain.LedgerStatusCleared:
			filter.Status = req.Status
		default:
			return ledgerdomain.ListLedgersResponse{}, errs.Validation(ledgerdomain.ErrInvalidStatus)
		}
	}

	limit := pagination.NormalizePageSize(req.PageSize)
	items, err := s.ledgerStore.Find(ctx, filter,
		option.ApplyPagination(req.Pagination, true),
		option.WithSortBy(option.QuerySortBy{Desc: true}),
	)
	if err != nil {
		return ledgerdomain.ListLedgersResponse{}, pageErr(err)
	}

	pageInfo := pagination.BuildCursorPageInfo(items, limit, func(l *ledgerdomain.CarbonLedger) string {
		return cursorFor(l.ID, l.CreatedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}

	out := make([]ledgerdomain.CarbonLedger, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return ledgerdomain.ListLedgersResponse{PageInfo: *pageInfo, Ledgers: out}, nil
}

// Recompute re-sums the year's usage and approved units. The ledger row stays
// locked until tx ends.
func (s *Service) Recompute(ctx context.Context, tx *gorm.DB, ledgerID snowflake.ID) (*ledgerdomain.RecomputeResult, error) {
	start := time.Now()
	ledger, err := s.repo.FindLedgerByIDForUpdate(ctx, tx, ledgerID)
	if err != nil {
		return nil, err
	}
	s.workflowMetrics.ObserveLockWait(obsmetrics.LockResourceLedger, time.Since(start))
	if ledger == nil {
		return nil, errs.NotFound(ledgerdomain.ErrLedgerNotFound)
	}

	rate, err := s.rateSvc.GetTx(ctx, tx, ledger.Year)
	if err != nil {
		return nil, err
	}

	emissions, err := s.repo.UsageEmissions(ctx, tx, ledger.UserID, ledger.Year)
	if err != nil {
		return nil, err
	}
	total := decimal.Zero
	for _, value := range emissions {
		total = total.Add(value)
	}

	required, err := emission.RequiredOffsetUnits(total, rate.CO2PerTree)
	if err != nil {
		return nil, err
	}
	approved, err := s.repo.ApprovedUnits(ctx, tx, ledger.ID)
	if err != nil {
		return nil, err
	}

	previous := ledger.Status
	ledger.TotalCO2Tonnes = total
	ledger.RequiredOffsetUnits = required
	ledger.Status = ledgerdomain.DeriveStatus(approved, required)
	ledger.UpdatedAt = s.clock.Now().UTC()
	if err := s.repo.UpdateTotals(ctx, tx, ledger); err != nil {
		return nil, err
	}

	s.metrics.RecordLedgerRecompute(ctx, string(previous), string(ledger.Status))
	return &ledgerdomain.RecomputeResult{
		Ledger:         ledger,
		PreviousStatus: previous,
		ApprovedUnits:  approved,
	}, nil
}

func (s *Service) RecomputeYear(ctx context.Context, year int) ([]ledgerdomain.RecomputeResult, error) {
	if !ratedomain.ValidYear(year) {
		return nil, errs.Validation(ledgerdomain.ErrInvalidYear)
	}
	ids, err := s.repo.ListLedgerIDsByYear(ctx, s.db, year)
	if err != nil {
		return nil, err
	}

	results := make([]ledgerdomain.RecomputeResult, 0, len(ids))
	for _, id := range ids {
		var result *ledgerdomain.RecomputeResult
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			result, err = s.Recompute(ctx, tx, id)
			return err
		})
		if err != nil {
			s.workflowMetrics.IncFailure("recompute_year", err)
			return results, err
		}
		results = append(results, *result)
		s.PublishStatusChange(ctx, *result)
	}

	s.log.Info("ledgers recomputed", zap.Int("year", year), zap.Int("ledgers", len(results)))
	return results, nil
}

// RecomputeYearTx recomputes every ledger of year inside tx. Nothing is
// published; the caller does that once tx commits.
func (s *Service) RecomputeYearTx(ctx context.Context, tx *gorm.DB, year int) ([]ledgerdomain.RecomputeResult, error) {
	if !ratedomain.ValidYear(year) {
		return nil, errs.Validation(ledgerdomain.ErrInvalidYear)
	}
	ids, err := s.repo.ListLedgerIDsByYear(ctx, tx, year)
	if err != nil {
		return nil, err
	}

	results := make([]ledgerdomain.RecomputeResult, 0, len(ids))
	for _, id := range ids {
		result, err := s.Recompute(ctx, tx, id)
		if err != nil {
			s.workflowMetrics.IncFailure("recompute_year", err)
			return nil, err
		}
		results = append(results, *result)
	}
	return results, nil
}

// recomputeOnRateChange keeps every ledger of the year in step with a new rate
// in the same transaction as the rate itself.
func (s *Service) recomputeOnRateChange(ctx context.Context, tx *gorm.DB, year int) (func(), error) {
	results, err := s.RecomputeYearTx(ctx, tx, year)
	if err != nil {
		return nil, err
	}
	return func() {
		for _, result := range results {
			s.PublishStatusChange(ctx, result)
		}
		s.log.Info("ledgers recomputed after rate change", zap.Int("year", year), zap.Int("ledgers", len(results)))
	}, nil
}

func (s *Service) ListUsage(ctx context.Context, req ledgerdomain.ListUsageRequest) (ledgerdomain.ListUsageResponse, error) {
	userID, err := s.scopeUser(ctx, req.Actor, req.UserID)
	if err != nil {
		return ledgerdomain.ListUsageResponse{}, err
	}

	filter := &ledgerdomain.UsageRecord{}
	if userID != nil {
		filter.UserID = *userID
	}
	if req.Year != nil {
		filter.Year = *req.Year
	}
	if req.UsageType != "" {
		if !emission.ValidUsageType(req.UsageType) {
			return ledgerdomain.ListUsageResponse{}, errs.Validation(ledgerdomain.ErrInvalidUsageType)
		}
		filter.UsageType = req.UsageType
	}

	limit := pagination.NormalizePageSize(req.PageSize)
	items, err := s.usageStore.Find(ctx, filter,
		option.ApplyPagination(req.Pagination, true),
		option.WithSortBy(option.QuerySortBy{Desc: true}),
	)
	if err != nil {
		return ledgerdomain.ListUsageResponse{}, pageErr(err)
	}

	pageInfo := pagination.BuildCursorPageInfo(items, limit, func(u *ledgerdomain.UsageRecord) string {
		return cursorFor(u.ID, u.CreatedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}

	out := make([]ledgerdomain.UsageRecord, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return ledgerdomain.ListUsageResponse{PageInfo: *pageInfo, UsageRecords: out}, nil
}

// UsageBreakdown groups CO2 by usage type. Actors with analytics access see
// any user or the whole system; everyone else sees only their own usage.
func (s *Service) UsageBreakdown(ctx context.Context, req ledgerdomain.UsageBreakdownRequest) ([]ledgerdomain.UsageBreakdownItem, error) {
	userID := req.UserID
	if !s.authz.Can(req.Actor, authorization.ObjectAnalytics, authorization.ActionAnalyticsView) {
		if err := s.authz.Authorize(ctx, req.Actor, authorization.ObjectLedger, authorization.ActionLedgerViewOwn); err != nil {
			return nil, err
		}
		if userID != nil && *userID != req.Actor.UserID {
			if err := s.authz.AuthorizeOwner(ctx, req.Actor, *userID); err != nil {
				return nil, err
			}
		}
		own := req.Actor.UserID
		userID = &own
	}
	return s.repo.UsageBreakdown(ctx, s.db, userID, req.Year)
}

func (s *Service) Stats(ctx context.Context, year *int) (*ledgerdomain.Stats, error) {
	if year != nil && !ratedomain.ValidYear(*year) {
		return nil, errs.Validation(ledgerdomain.ErrInvalidYear)
	}
	return s.repo.Stats(ctx, s.db, year)
}

func (s *Service) PublishStatusChange(ctx context.Context, result ledgerdomain.RecomputeResult) {
	if !result.StatusChanged() {
		return
	}
	ledger := result.Ledger
	event := events.LedgerStatusChanged{
		LedgerID:            ledger.ID.String(),
		UserID:              ledger.UserID.String(),
		Year:                ledger.Year,
		From:                string(result.PreviousStatus),
		To:                  string(ledger.Status),
		TotalCO2Tonnes:      ledger.TotalCO2Tonnes.String(),
		RequiredOffsetUnits: ledger.RequiredOffsetUnits,
		ApprovedOffsetUnits: result.ApprovedUnits,
		OccurredAt:          ledger.UpdatedAt,
	}
	if err := s.publisher.Publish(ctx, events.TopicLedgerStatusChanged, event); err != nil {
		s.log.Warn("publish ledger status change failed",
			zap.String("ledger_id", event.LedgerID),
			zap.String("to", event.To),
			zap.Error(err),
		)
	}
}

// scopeUser resolves which user's rows an actor may list. A nil result means
// every user.
func (s *Service) scopeUser(ctx context.Context, actor authorization.Actor, requested *snowflake.ID) (*snowflake.ID, error) {
	if s.authz.Can(actor, authorization.ObjectLedger, authorization.ActionLedgerViewAll) {
		return requested, nil
	}
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectLedger, authorization.ActionLedgerViewOwn); err != nil {
		return nil, err
	}
	if requested != nil && *requested != actor.UserID {
		return nil, errs.Authorization(authorization.ErrForbidden)
	}
	own := actor.UserID
	return &own, nil
}

func (s *Service) newLedger(userID snowflake.ID, year int) *ledgerdomain.CarbonLedger {
	now := s.clock.Now().UTC()
	return &ledgerdomain.CarbonLedger{
		ID:             s.genID.Generate(),
		UserID:         userID,
		Year:           year,
		TotalCO2Tonnes: decimal.Zero,
		Status:         ledgerdomain.LedgerStatusUnpaid,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, entry auditdomain.Entry) error {
	if s.auditSvc == nil {
		return nil
	}
	return s.auditSvc.AuditLogTx(ctx, tx, entry)
}

func validateOwnerYear(userID snowflake.ID, year int) error {
	if userID == 0 {
		return errs.Validation(ledgerdomain.ErrInvalidUser)
	}
	if !ratedomain.ValidYear(year) {
		return errs.Validation(ledgerdomain.ErrInvalidYear)
	}
	return nil
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func cursorFor(id snowflake.ID, createdAt time.Time) string {
	token, err := pagination.EncodeCursor(pagination.Cursor{
		ID:        strconv.FormatInt(id.Int64(), 10),
		CreatedAt: createdAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return ""
	}
	return token
}

func pageErr(err error) error {
	if errors.Is(err, pagination.ErrInvalidPageToken) {
		return errs.Validation(pagination.ErrInvalidPageToken)
	}
	return err
}
