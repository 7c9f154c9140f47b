package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/smallbiznis/carbonledger/internal/clock"
	"github.com/smallbiznis/carbonledger/internal/config"
	ratedomain "github.com/smallbiznis/carbonledger/internal/conversionrate/domain"
	ledgerdomain "github.com/smallbiznis/carbonledger/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/carbonledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

type Params struct {
	fx.In

	Log             *zap.Logger
	RateSvc         ratedomain.Service
	LedgerSvc       ledgerdomain.Service
	Rates           *config.RatesConfigHolder
	Clock           clock.Clock                 `optional:"true"`
	WorkflowMetrics *obsmetrics.WorkflowMetrics `optional:"true"`
	Config          Config                      `optional:"true"`
}

// Scheduler runs periodic maintenance over conversion rates and ledgers.
type Scheduler struct {
	log             *zap.Logger
	cfg             Config
	clock           clock.Clock
	rateSvc         ratedomain.Service
	ledgerSvc       ledgerdomain.Service
	rates           *config.RatesConfigHolder
	workflowMetrics *obsmetrics.WorkflowMetrics

	running atomic.Bool
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.RateSvc == nil || p.LedgerSvc == nil || p.Rates == nil {
		return nil, ErrInvalidConfig
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		log:             p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:             p.Config.withDefaults(),
		clock:           clk,
		rateSvc:         p.RateSvc,
		ledgerSvc:       p.LedgerSvc,
		rates:           p.Rates,
		workflowMetrics: p.WorkflowMetrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context, run *jobRun) error,
) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.newJobRun(ctx, name)
	s.logJobStart(ctx, run)

	err := fn(ctx, run)
	if err != nil {
		run.IncError()
		s.workflowMetrics.IncFailure("scheduler."+name, err)
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes every enabled job. Overlapping calls are skipped.
func (s *Scheduler) RunOnce(parent context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Debug("scheduler run already in progress")
		return nil
	}
	defer s.running.Store(false)

	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context, *jobRun) error
	}{
		{JobProvisionRates, s.ProvisionRatesJob},
		{JobReconcileLedgers, s.ReconcileLedgersJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.JobTimeout, job.Run))
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// ProvisionRatesJob makes sure the current year has a conversion rate, so
// usage recorded right after the year rolls over can be priced.
func (s *Scheduler) ProvisionRatesJob(ctx context.Context, run *jobRun) error {
	inserted, err := s.rateSvc.ProvisionDefaults(ctx, s.rates.Get(), s.clock.Now().Year())
	run.AddProcessed(inserted)
	return err
}

// ReconcileLedgersJob re-derives every ledger of the current year. Status
// transitions found here are published like any other.
func (s *Scheduler) ReconcileLedgersJob(ctx context.Context, run *jobRun) error {
	year := s.clock.Now().Year()
	results, err := s.ledgerSvc.RecomputeYear(ctx, year)
	run.AddProcessed(len(results))

	changed := 0
	for _, result := range results {
		if result.StatusChanged() {
			changed++
		}
	}
	if changed > 0 {
		s.logger(ctx).Info("ledger status drift corrected",
			zap.String("run_id", run.runID),
			zap.Int("year", year),
			zap.Int("changed", changed),
		)
	}
	return err
}
