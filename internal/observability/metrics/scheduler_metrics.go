package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	SchedulerErrorTypeDeadlineExceeded = "deadline_exceeded"
	SchedulerErrorTypeBusinessRule     = "business_rule"
	SchedulerErrorTypeDB               = "db"
	SchedulerErrorTypeProvider         = "provider"
	SchedulerErrorTypeUnknown          = "unknown"
)

const (
	SchedulerJobReasonDeadlineExceeded     = "deadline_exceeded"
	SchedulerJobReasonDBLockTimeout        = "db_lock_timeout"
	SchedulerJobReasonSerializationFailure = "serialization_failure"
	SchedulerJobReasonUniqueViolation      = "unique_violation"
	SchedulerJobReasonUnknown              = "unknown"
)

const (
	JobDeliveryReports = "delivery_reports"
	JobRetryDispatch   = "retry_dispatch"
)

// SchedulerMetrics captures background delivery machinery health signals.
type SchedulerMetrics struct {
	jobRuns      *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	jobErrors    *prometheus.CounterVec
	batchHandled *prometheus.CounterVec
}

var (
	schedulerOnce     sync.Once
	schedulerInstance *SchedulerMetrics
)

// Scheduler returns the process-wide scheduler metrics, registering them once.
func Scheduler() *SchedulerMetrics {
	schedulerOnce.Do(func() {
		schedulerInstance = &SchedulerMetrics{
			jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "relaya_scheduler_job_runs_total",
				Help: "Scheduler job executions by job and outcome.",
			}, []string{"job", "outcome"}),
			jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "relaya_scheduler_job_duration_seconds",
				Help:    "Scheduler job latency by job.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			}, []string{"job"}),
			jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "relaya_scheduler_job_errors_total",
				Help: "Scheduler job errors by job, type and reason.",
			}, []string{"job", "error_type", "reason"}),
			batchHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "relaya_scheduler_batch_handled_total",
				Help: "Messages handled by scheduler batches by job and result.",
			}, []string{"job", "result"}),
		}
		prometheus.MustRegister(
			schedulerInstance.jobRuns,
			schedulerInstance.jobDuration,
			schedulerInstance.jobErrors,
			schedulerInstance.batchHandled,
		)
	})
	return schedulerInstance
}

// ObserveJob records one job execution.
func (m *SchedulerMetrics) ObserveJob(job string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		errType, reason := ClassifySchedulerError(err)
		m.jobErrors.WithLabelValues(job, errType, reason).Inc()
	}
	m.jobRuns.WithLabelValues(job, outcome).Inc()
	m.jobDuration.WithLabelValues(job).Observe(time.Since(start).Seconds())
}

// ObserveBatch records the per-message results of one batch.
func (m *SchedulerMetrics) ObserveBatch(job, result string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.batchHandled.WithLabelValues(job, result).Add(float64(count))
}

// ClassifySchedulerError maps an error into a stable type/reason pair.
func ClassifySchedulerError(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return SchedulerErrorTypeDeadlineExceeded, SchedulerJobReasonDeadlineExceeded
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03": // lock_not_available
			return SchedulerErrorTypeDB, SchedulerJobReasonDBLockTimeout
		case "40001": // serialization_failure
			return SchedulerErrorTypeDB, SchedulerJobReasonSerializationFailure
		case "23505": // unique_violation
			return SchedulerErrorTypeDB, SchedulerJobReasonUniqueViolation
		}
		return SchedulerErrorTypeDB, SchedulerJobReasonUnknown
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SchedulerErrorTypeBusinessRule, SchedulerJobReasonUnknown
	}

	return SchedulerErrorTypeUnknown, SchedulerJobReasonUnknown
}
