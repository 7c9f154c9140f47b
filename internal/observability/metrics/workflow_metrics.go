package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/carbonledger/pkg/errs"
	"gorm.io/gorm"
)

const (
	FailureReasonDeadlineExceeded     = "deadline_exceeded"
	FailureReasonDBLockTimeout        = "db_lock_timeout"
	FailureReasonSerializationFailure = "serialization_failure"
	FailureReasonUniqueViolation      = "unique_violation"
	FailureReasonForbidden            = "forbidden"
	FailureReasonValidation           = "validation"
	FailureReasonConflict             = "conflict"
	FailureReasonInvalidState         = "invalid_state"
	FailureReasonNotFound             = "not_found"
	FailureReasonUnknown              = "unknown"
)

const (
	LockResourceLedger      = "carbon_ledger"
	LockResourceTransaction = "offset_transaction"
)

// WorkflowMetrics tracks failures and row-lock waits of ledger workflows.
type WorkflowMetrics struct {
	failures *prometheus.CounterVec
	lockWait *prometheus.HistogramVec
}

func NewWorkflowMetrics(cfg Config) (*WorkflowMetrics, error) {
	return newWorkflowMetrics(prometheus.DefaultRegisterer, cfg)
}

func newWorkflowMetrics(registerer prometheus.Registerer, cfg Config) (*WorkflowMetrics, error) {
	labels := constLabels(cfg)

	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "carbonledger_workflow_failures_total",
		Help:        "Ledger workflow failures by operation and low-cardinality reason.",
		ConstLabels: labels,
	}, []string{"operation", "reason"})
	lockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "carbonledger_db_lock_wait_seconds",
		Help:        "Time spent acquiring row locks in ledger workflows.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		ConstLabels: labels,
	}, []string{"resource"})

	var err error
	if failures, err = registerOrExisting(registerer, failures); err != nil {
		return nil, err
	}
	if lockWait, err = registerOrExisting(registerer, lockWait); err != nil {
		return nil, err
	}
	return &WorkflowMetrics{failures: failures, lockWait: lockWait}, nil
}

func (m *WorkflowMetrics) IncFailure(operation string, err error) {
	if m == nil || err == nil {
		return
	}
	m.failures.WithLabelValues(operation, ClassifyFailureReason(err)).Inc()
}

func (m *WorkflowMetrics) ObserveLockWait(resource string, duration time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.WithLabelValues(resource).Observe(duration.Seconds())
}

// ClassifyFailureReason maps an error onto a bounded reason label.
func ClassifyFailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return FailureReasonDeadlineExceeded
	case hasPGCode(err, "55P03"):
		return FailureReasonDBLockTimeout
	case hasPGCode(err, "40001"), hasPGCode(err, "40P01"):
		return FailureReasonSerializationFailure
	case hasPGCode(err, "23505"), errors.Is(err, gorm.ErrDuplicatedKey):
		return FailureReasonUniqueViolation
	}

	switch errs.KindOf(err) {
	case errs.KindAuthorization:
		return FailureReasonForbidden
	case errs.KindValidation:
		return FailureReasonValidation
	case errs.KindConflict:
		return FailureReasonConflict
	case errs.KindInvalidState:
		return FailureReasonInvalidState
	case errs.KindNotFound:
		return FailureReasonNotFound
	default:
		return FailureReasonUnknown
	}
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
