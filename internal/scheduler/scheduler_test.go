package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/relaya/internal/clock"
	"github.com/smallbiznis/relaya/internal/config"
	creditdomain "github.com/smallbiznis/relaya/internal/credit/domain"
	outbounddomain "github.com/smallbiznis/relaya/internal/outbound/domain"
	outboundservice "github.com/smallbiznis/relaya/internal/outbound/service"
	providerdomain "github.com/smallbiznis/relaya/internal/provider/domain"
	"github.com/smallbiznis/relaya/internal/provider/mock"
	routerdomain "github.com/smallbiznis/relaya/internal/router/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubResolver struct{ provider providerdomain.Provider }

func (r *stubResolver) Resolve(ctx context.Context, tenantID snowflake.ID, channel outbounddomain.Channel) (providerdomain.Provider, error) {
	return r.provider, nil
}

type stubRouter struct {
	retried []snowflake.ID
	err     error
	success bool
}

func (r *stubRouter) Dispatch(ctx context.Context, req routerdomain.DispatchRequest) (*routerdomain.DispatchResult, error) {
	panic("not used")
}

func (r *stubRouter) DispatchBulk(ctx context.Context, req routerdomain.BulkDispatchRequest) (*routerdomain.BulkDispatchResult, error) {
	panic("not used")
}

func (r *stubRouter) Retry(ctx context.Context, tenantID, messageID snowflake.ID) (*routerdomain.DispatchResult, error) {
	r.retried = append(r.retried, messageID)
	if r.err != nil {
		return nil, r.err
	}
	return &routerdomain.DispatchResult{Success: r.success, OutboundID: messageID}, nil
}

type noopLocker struct{}

func (noopLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	return "token", true, nil
}
func (noopLocker) Release(ctx context.Context, name, token string) error { return nil }

type recordingMetrics struct {
	batches map[string]int
}

func (m *recordingMetrics) ObserveJob(job string, start time.Time, err error) {}
func (m *recordingMetrics) ObserveBatch(job, result string, count int) {
	if m.batches == nil {
		m.batches = map[string]int{}
	}
	m.batches[job+"/"+result] += count
}

type fixture struct {
	sched    *Scheduler
	outbound outbounddomain.Service
	mock     *mock.Provider
	router   *stubRouter
	node     *snowflake.Node
	clock    *clock.FakeClock
	metrics  *recordingMetrics
}

var testDBSeq int

func newFixture(t *testing.T) *fixture {
	t.Helper()

	testDBSeq++
	dsn := fmt.Sprintf("file:scheduler_test_%d?mode=memory&cache=shared", testDBSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&outbounddomain.OutboundMessage{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	outbound := outboundservice.NewService(outboundservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: fake,
	})
	mockProvider := mock.New()
	router := &stubRouter{success: true}
	metrics := &recordingMetrics{}

	sched := New(
		zap.NewNop(),
		outbound,
		router,
		&stubResolver{provider: mockProvider},
		noopLocker{},
		config.NewStaticMessagingConfigHolder(config.DefaultMessagingConfig()),
		fake,
		metrics,
	)
	return &fixture{
		sched: sched, outbound: outbound, mock: mockProvider,
		router: router, node: node, clock: fake, metrics: metrics,
	}
}

func (f *fixture) sentMessage(t *testing.T, tenant snowflake.ID, providerMessageID string) *outbounddomain.OutboundMessage {
	t.Helper()
	ctx := context.Background()
	msg := &outbounddomain.OutboundMessage{
		TenantID:   tenant,
		Channel:    outbounddomain.ChannelSMS,
		Recipient:  "5301234567",
		Content:    "hello",
		MaxRetries: 3,
	}
	require.NoError(t, f.outbound.CreatePending(ctx, msg))
	require.NoError(t, f.outbound.MarkSent(ctx, msg.ID, outbounddomain.SendOutcome{
		ProviderName:      "mock",
		ProviderMessageID: providerMessageID,
	}, f.clock.Now()))
	return msg
}

func TestPollDeliveryReportsAppliesStatuses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenant := f.node.Generate()

	delivered := f.sentMessage(t, tenant, "dl-1")
	rejected := f.sentMessage(t, tenant, "rj-1")
	still := f.sentMessage(t, tenant, "pd-1")

	f.mock.SetReportStatus("dl-1", providerdomain.DeliveryStatusDelivered)
	f.mock.SetReportStatus("rj-1", providerdomain.DeliveryStatusRejected)
	f.mock.SetReportStatus("pd-1", providerdomain.DeliveryStatusSent)

	require.NoError(t, f.sched.PollDeliveryReports(ctx))

	got, err := f.outbound.Get(ctx, tenant, delivered.ID)
	require.NoError(t, err)
	assert.Equal(t, outbounddomain.StatusDelivered, got.Status)
	require.NotNil(t, got.DeliveredAt)

	got, err = f.outbound.Get(ctx, tenant, rejected.ID)
	require.NoError(t, err)
	assert.Equal(t, outbounddomain.StatusRejected, got.Status)

	got, err = f.outbound.Get(ctx, tenant, still.ID)
	require.NoError(t, err)
	assert.Equal(t, outbounddomain.StatusSent, got.Status)

	assert.Equal(t, 1, f.metrics.batches["delivery_reports/delivered"])
	assert.Equal(t, 1, f.metrics.batches["delivery_reports/rejected"])
	assert.Equal(t, 1, f.metrics.batches["delivery_reports/pending"])
}

func TestPollDeliveryReportsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenant := f.node.Generate()

	msg := f.sentMessage(t, tenant, "dl-2")
	f.mock.SetReportStatus("dl-2", providerdomain.DeliveryStatusDelivered)

	require.NoError(t, f.sched.PollDeliveryReports(ctx))
	// A delivered row is no longer awaiting a report, so the second pass
	// sees an empty batch.
	require.NoError(t, f.sched.PollDeliveryReports(ctx))

	got, err := f.outbound.Get(ctx, tenant, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, outbounddomain.StatusDelivered, got.Status)
}

func TestRequeueFailedRetriesEligibleRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenant := f.node.Generate()

	msg := &outbounddomain.OutboundMessage{
		TenantID:   tenant,
		Channel:    outbounddomain.ChannelSMS,
		Recipient:  "5301234567",
		Content:    "hello",
		MaxRetries: 3,
	}
	require.NoError(t, f.outbound.CreatePending(ctx, msg))
	require.NoError(t, f.outbound.MarkFailed(ctx, msg.ID, outbounddomain.SendOutcome{ErrorCode: "API_ERROR"}))

	exhausted := &outbounddomain.OutboundMessage{
		TenantID:   tenant,
		Channel:    outbounddomain.ChannelSMS,
		Recipient:  "5302222222",
		Content:    "hello",
		MaxRetries: 0,
	}
	require.NoError(t, f.outbound.CreatePending(ctx, exhausted))
	require.NoError(t, f.outbound.MarkFailed(ctx, exhausted.ID, outbounddomain.SendOutcome{ErrorCode: "API_ERROR"}))

	require.NoError(t, f.sched.RequeueFailed(ctx))

	require.Len(t, f.router.retried, 1, "only the row with retry budget is handed to the router")
	assert.Equal(t, msg.ID, f.router.retried[0])
	assert.Equal(t, 1, f.metrics.batches["retry_dispatch/sent"])
}

func TestRequeueFailedSkipsPreconditionFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenant := f.node.Generate()

	msg := &outbounddomain.OutboundMessage{
		TenantID:   tenant,
		Channel:    outbounddomain.ChannelSMS,
		Recipient:  "5301234567",
		Content:    "hello",
		MaxRetries: 3,
	}
	require.NoError(t, f.outbound.CreatePending(ctx, msg))
	require.NoError(t, f.outbound.MarkFailed(ctx, msg.ID, outbounddomain.SendOutcome{ErrorCode: "API_ERROR"}))

	f.router.err = &creditdomain.InsufficientCreditError{Required: 1, Available: 0}
	require.NoError(t, f.sched.RequeueFailed(ctx))
	assert.Equal(t, 1, f.metrics.batches["retry_dispatch/skipped"])

	// The message was not requeued and stays eligible for the next pass.
	retryable, err := f.outbound.ListRetryable(ctx, 10)
	require.NoError(t, err)
	require.Len(t, retryable, 1)
	assert.Equal(t, msg.ID, retryable[0].ID)
}

func TestLoopTicksFromInjectedClock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenant := f.node.Generate()

	msg := f.sentMessage(t, tenant, "dl-3")
	f.mock.SetReportStatus("dl-3", providerdomain.DeliveryStatusDelivered)

	f.sched.Start()
	defer f.sched.Stop()

	// The loops block on the fake clock, so each advance covers both job
	// intervals; retrying the advance lands it after the loop arms its
	// timer.
	require.Eventually(t, func() bool {
		f.clock.Advance(time.Hour)
		got, err := f.outbound.Get(ctx, tenant, msg.ID)
		require.NoError(t, err)
		return got.Status == outbounddomain.StatusDelivered
	}, 2*time.Second, 10*time.Millisecond)
}
