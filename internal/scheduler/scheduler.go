package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/relaya/internal/clock"
	"github.com/smallbiznis/relaya/internal/config"
	creditdomain "github.com/smallbiznis/relaya/internal/credit/domain"
	obsmetrics "github.com/smallbiznis/relaya/internal/observability/metrics"
	outbounddomain "github.com/smallbiznis/relaya/internal/outbound/domain"
	providerdomain "github.com/smallbiznis/relaya/internal/provider/domain"
	routerdomain "github.com/smallbiznis/relaya/internal/router/domain"
	"github.com/smallbiznis/relaya/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

// ProviderResolver selects the adapter for a tenant and channel.
type ProviderResolver interface {
	Resolve(ctx context.Context, tenantID snowflake.ID, channel outbounddomain.Channel) (providerdomain.Provider, error)
}

// JobLocker guards a job against concurrent service instances.
type JobLocker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, name, token string) error
}

// Metrics is the subset of scheduler metrics the jobs report into.
type Metrics interface {
	ObserveJob(job string, start time.Time, err error)
	ObserveBatch(job, result string, count int)
}

type Scheduler struct {
	log       *zap.Logger
	outbound  outbounddomain.Service
	router    routerdomain.Service
	providers ProviderResolver
	locker    JobLocker
	holder    *config.MessagingConfigHolder
	clock     clock.Clock
	metrics   Metrics

	cancel context.CancelFunc
	done   chan struct{}
}

func New(log *zap.Logger, outbound outbounddomain.Service, router routerdomain.Service, providers ProviderResolver, locker JobLocker, holder *config.MessagingConfigHolder, clk clock.Clock, metrics Metrics) *Scheduler {
	return &Scheduler{
		log:       log.Named("scheduler"),
		outbound:  outbound,
		router:    router,
		providers: providers,
		locker:    locker,
		holder:    holder,
		clock:     clk,
		metrics:   metrics,
	}
}

// Start launches the background loops. Intervals come from the hot-reloaded
// messaging policy and are re-read on every tick.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{}, 2)

	go s.loop(ctx, obsmetrics.JobDeliveryReports, func() time.Duration {
		return s.holder.Get().ReportPollInterval
	}, s.PollDeliveryReports)
	go s.loop(ctx, obsmetrics.JobRetryDispatch, func() time.Duration {
		return s.holder.Get().RetryInterval
	}, s.RequeueFailed)
}

// Stop cancels the loops and waits for them to drain.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	for i := 0; i < 2; i++ {
		<-s.done
	}
}

func (s *Scheduler) loop(ctx context.Context, job string, interval func() time.Duration, run func(context.Context) error) {
	defer func() { s.done <- struct{}{} }()

	for {
		d := interval()
		if d <= 0 {
			d = time.Minute
		}
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(d):
		}

		start := time.Now()
		runCtx, runID := correlation.EnsureCorrelationID(ctx)
		err := s.withLock(runCtx, job, d, run)
		s.metrics.ObserveJob(job, start, err)
		if err != nil {
			s.log.Warn("scheduler job failed",
				zap.String("job", job),
				zap.String("run_id", runID),
				zap.Error(err),
			)
		}
	}
}

// withLock runs the job under the distributed lock so only one instance
// polls or requeues at a time.
func (s *Scheduler) withLock(ctx context.Context, job string, ttl time.Duration, run func(context.Context) error) error {
	token, ok, err := s.locker.Acquire(ctx, job, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), job, token); err != nil {
			s.log.Warn("lock release failed", zap.String("job", job), zap.Error(err))
		}
	}()
	return run(ctx)
}

// PollDeliveryReports asks providers for the fate of sent messages and
// applies sent -> delivered or the terminal rejection.
func (s *Scheduler) PollDeliveryReports(ctx context.Context) error {
	batch, err := s.outbound.ListAwaitingReport(ctx, s.holder.Get().ReportBatchSize)
	if err != nil {
		return err
	}

	var delivered, rejected, pending int
	for _, msg := range batch {
		provider, err := s.providers.Resolve(ctx, msg.TenantID, msg.Channel)
		if err != nil {
			s.log.Warn("no provider for report poll",
				zap.String("message_id", msg.ID.String()),
				zap.Error(err),
			)
			continue
		}

		report, err := provider.GetDeliveryReport(ctx, msg.ProviderMessageID)
		if errors.Is(err, providerdomain.ErrNotSupported) {
			continue
		}
		if err != nil {
			return err
		}

		switch report.Status {
		case providerdomain.DeliveryStatusDelivered:
			if err := s.outbound.MarkDelivered(ctx, msg.ID, s.clock.Now()); err != nil {
				return err
			}
			delivered++
		case providerdomain.DeliveryStatusFailed, providerdomain.DeliveryStatusRejected:
			// A post-accept failure report is an explicit provider signal;
			// the row moves to the terminal rejected state.
			if err := s.outbound.MarkRejected(ctx, msg.ID, outbounddomain.SendOutcome{
				ProviderResponse: report.RawResponse,
				ErrorCode:        string(report.ErrorCode),
				ErrorMessage:     report.ErrorMessage,
			}); err != nil {
				return err
			}
			rejected++
		default:
			pending++
		}
	}

	s.metrics.ObserveBatch(obsmetrics.JobDeliveryReports, "delivered", delivered)
	s.metrics.ObserveBatch(obsmetrics.JobDeliveryReports, "rejected", rejected)
	s.metrics.ObserveBatch(obsmetrics.JobDeliveryReports, "pending", pending)
	return nil
}

// RequeueFailed retries failed messages with budget left. Precondition
// failures (credit, feature gate) skip the message without consuming a
// retry; it stays eligible for the next pass.
func (s *Scheduler) RequeueFailed(ctx context.Context) error {
	batch, err := s.outbound.ListRetryable(ctx, s.holder.Get().RetryBatchSize)
	if err != nil {
		return err
	}

	var sent, failed, skipped int
	for _, msg := range batch {
		res, err := s.router.Retry(ctx, msg.TenantID, msg.ID)
		switch {
		case err == nil && res.Success:
			sent++
		case err == nil:
			failed++
		case errors.Is(err, creditdomain.ErrInsufficientCredit),
			errors.Is(err, routerdomain.ErrFeatureNotEnabled),
			errors.Is(err, routerdomain.ErrRateLimited),
			errors.Is(err, outbounddomain.ErrRetryExhausted):
			skipped++
		default:
			return err
		}
	}

	s.metrics.ObserveBatch(obsmetrics.JobRetryDispatch, "sent", sent)
	s.metrics.ObserveBatch(obsmetrics.JobRetryDispatch, "failed", failed)
	s.metrics.ObserveBatch(obsmetrics.JobRetryDispatch, "skipped", skipped)
	return nil
}
