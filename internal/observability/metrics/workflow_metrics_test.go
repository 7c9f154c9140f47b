package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/carbonledger/pkg/errs"
	"gorm.io/gorm"
)

func TestClassifyFailureReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: FailureReasonDeadlineExceeded},
		{name: "forbidden", err: errs.Authorization(errors.New("forbidden")), want: FailureReasonForbidden},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: FailureReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: FailureReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: FailureReasonUniqueViolation},
		{name: "invalid_state", err: errs.InvalidState(errors.New("already_verified")), want: FailureReasonInvalidState},
		{name: "unknown", err: errors.New("boom"), want: FailureReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyFailureReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestWorkflowMetricsCountsFailures(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := newWorkflowMetrics(registry, Config{ServiceName: "test", Environment: "test"})
	if err != nil {
		t.Fatalf("new workflow metrics: %v", err)
	}

	m.IncFailure("verification.submit", errs.Conflict(errors.New("verification_exists")))
	m.IncFailure("verification.submit", nil)
	m.ObserveLockWait(LockResourceLedger, 3*time.Millisecond)

	got := testutil.ToFloat64(m.failures.WithLabelValues("verification.submit", FailureReasonConflict))
	if got != 1 {
		t.Fatalf("expected 1 conflict failure, got %v", got)
	}

	again, err := newWorkflowMetrics(registry, Config{ServiceName: "test", Environment: "test"})
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if again.failures != m.failures {
		t.Fatalf("expected existing collector to be reused")
	}
}
