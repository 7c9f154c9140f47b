package service

import (
	"context"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/carbonledger/internal/audit/domain"
	"github.com/smallbiznis/carbonledger/internal/authorization"
	"github.com/smallbiznis/carbonledger/internal/clock"
	"github.com/smallbiznis/carbonledger/internal/config"
	ratedomain "github.com/smallbiznis/carbonledger/internal/conversionrate/domain"
	"github.com/smallbiznis/carbonledger/pkg/errs"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Repo     ratedomain.Repository
	Authz    authorization.Service
	AuditSvc auditdomain.Service `optional:"true"`
	Clock    clock.Clock         `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     ratedomain.Repository
	authz    authorization.Service
	auditSvc auditdomain.Service
	clock    clock.Clock

	mu    sync.RWMutex
	hooks []ratedomain.ChangeHook
}

func NewService(p Params) ratedomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("conversionrate.service"),
		repo:     p.Repo,
		authz:    p.Authz,
		auditSvc: p.AuditSvc,
		clock:    clk,
	}
}

func (s *Service) Get(ctx context.Context, year int) (*ratedomain.ConversionRate, error) {
	return s.GetTx(ctx, s.db, year)
}

func (s *Service) GetTx(ctx context.Context, tx *gorm.DB, year int) (*ratedomain.ConversionRate, error) {
	if !ratedomain.ValidYear(year) {
		return nil, errs.Validation(ratedomain.ErrInvalidYear)
	}
	rate, err := s.repo.Get(ctx, tx, year)
	if err != nil {
		return nil, err
	}
	if rate == nil {
		return nil, errs.NotFound(ratedomain.ErrConversionRateNotFound)
	}
	return rate, nil
}

func (s *Service) List(ctx context.Context, actor authorization.Actor) ([]ratedomain.ConversionRate, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectConversionRate, authorization.ActionConversionRateView); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, s.db)
}

func (s *Service) Upsert(ctx context.Context, actor authorization.Actor, req ratedomain.UpsertRequest) (*ratedomain.ConversionRate, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectConversionRate, authorization.ActionConversionRateUpdate); err != nil {
		return nil, err
	}
	if !ratedomain.ValidYear(req.Year) {
		return nil, errs.Validation(ratedomain.ErrInvalidYear)
	}
	if !req.CO2PerTree.IsPositive() {
		return nil, errs.Validation(ratedomain.ErrInvalidCO2PerTree)
	}

	rate := &ratedomain.ConversionRate{
		Year:       req.Year,
		CO2PerTree: req.CO2PerTree,
		UpdatedBy:  actor.UserID.String(),
		UpdatedAt:  s.clock.Now().UTC(),
	}

	var afters []func()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		afters = afters[:0]
		previous, err := s.repo.Get(ctx, tx, req.Year)
		if err != nil {
			return err
		}
		if err := s.repo.Upsert(ctx, tx, rate); err != nil {
			return err
		}
		if s.auditSvc != nil {
			metadata := map[string]any{
				"year":         req.Year,
				"co2_per_tree": req.CO2PerTree.String(),
			}
			if previous != nil {
				metadata["previous_co2_per_tree"] = previous.CO2PerTree.String()
			}
			if err := s.auditSvc.AuditLogTx(ctx, tx, auditdomain.Entry{
				ActorType:  string(actor.Role),
				ActorID:    actor.UserID.String(),
				Action:     auditdomain.ActionConversionRateUpdated,
				TargetType: auditdomain.TargetConversionRate,
				TargetID:   strconv.Itoa(req.Year),
				Metadata:   metadata,
			}); err != nil {
				return err
			}
		}
		for _, hook := range s.changeHooks() {
			after, err := hook(ctx, tx, req.Year)
			if err != nil {
				return err
			}
			if after != nil {
				afters = append(afters, after)
			}
		}
		return nil
	})
	if err != nil {
		s.log.Warn("conversion rate update rolled back", zap.Int("year", req.Year), zap.Error(err))
		return nil, err
	}
	for _, after := range afters {
		after()
	}

	s.log.Info("conversion rate updated",
		zap.Int("year", req.Year),
		zap.String("co2_per_tree", req.CO2PerTree.String()),
		zap.String("role", string(actor.Role)),
	)
	return rate, nil
}

func (s *Service) OnChange(hook ratedomain.ChangeHook) {
	if hook == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

func (s *Service) changeHooks() []ratedomain.ChangeHook {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ratedomain.ChangeHook(nil), s.hooks...)
}

func (s *Service) ProvisionDefaults(ctx context.Context, cfg config.RatesConfig, years ...int) (int, error) {
	if err := config.ValidateRatesConfig(cfg); err != nil {
		return 0, err
	}

	seen := make(map[int]struct{})
	targets := make([]config.ConversionRateEntry, 0, len(cfg.ConversionRates)+len(years))
	for _, entry := range cfg.ConversionRates {
		seen[entry.Year] = struct{}{}
		targets = append(targets, entry)
	}
	for _, year := range years {
		if _, ok := seen[year]; ok || !ratedomain.ValidYear(year) {
			continue
		}
		seen[year] = struct{}{}
		targets = append(targets, config.ConversionRateEntry{Year: year, CO2PerTree: cfg.DefaultCO2PerTree})
	}

	inserted := 0
	now := s.clock.Now().UTC()
	for _, entry := range targets {
		rate := &ratedomain.ConversionRate{
			Year:       entry.Year,
			CO2PerTree: decimal.NewFromFloat(entry.CO2PerTree),
			UpdatedBy:  "system",
			UpdatedAt:  now,
		}
		created, err := s.repo.InsertIfMissing(ctx, s.db, rate)
		if err != nil {
			return inserted, err
		}
		if !created {
			continue
		}
		inserted++
		if s.auditSvc != nil {
			if err := s.auditSvc.AuditLog(ctx, auditdomain.Entry{
				ActorType:  string(auditdomain.ActorTypeSystem),
				Action:     auditdomain.ActionConversionRateSeeded,
				TargetType: auditdomain.TargetConversionRate,
				TargetID:   strconv.Itoa(entry.Year),
				Metadata:   map[string]any{"co2_per_tree": rate.CO2PerTree.String()},
			}); err != nil {
				s.log.Warn("failed to audit rate provisioning", zap.Int("year", entry.Year), zap.Error(err))
			}
		}
	}

	if inserted > 0 {
		s.log.Info("conversion rates provisioned", zap.Int("inserted", inserted))
	}
	return inserted, nil
}
