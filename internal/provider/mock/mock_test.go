package mock

import (
	"context"
	"testing"

	providerdomain "github.com/smallbiznis/relaya/internal/provider/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendRecordsInstanceState(t *testing.T) {
	a := New()
	b := New()
	ctx := context.Background()

	res, err := a.Send(ctx, providerdomain.SendRequest{Recipient: "5301234567", Body: "hello"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(1), res.CreditsUsed)

	assert.Len(t, a.Sent(), 1)
	assert.Empty(t, b.Sent(), "instances must not share state")
}

func TestFailNextConsumedInOrder(t *testing.T) {
	p := New()
	ctx := context.Background()
	p.FailNext(providerdomain.ErrorCodeGatewayBalance)

	res, err := p.Send(ctx, providerdomain.SendRequest{Recipient: "5301234567", Body: "x"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, providerdomain.ErrorCodeGatewayBalance, res.ErrorCode)

	res, err = p.Send(ctx, providerdomain.SendRequest{Recipient: "5301234567", Body: "x"})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestFailRecipientDeterministic(t *testing.T) {
	p := New()
	ctx := context.Background()
	p.FailRecipient("5300000000")

	res, err := p.SendBulk(ctx, providerdomain.BulkRequest{
		Recipients: []string{"5301111111", "5300000000", "5302222222"},
		Body:       "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Accepted())
	assert.Equal(t, int64(2), res.CreditsUsed)
	assert.False(t, res.Results[1].Result.Success)
}

func TestDeliveryReportFollowsConfiguredStatus(t *testing.T) {
	p := New()
	ctx := context.Background()

	res, err := p.Send(ctx, providerdomain.SendRequest{Recipient: "5301234567", Body: "x"})
	require.NoError(t, err)

	report, err := p.GetDeliveryReport(ctx, res.ProviderMessageID)
	require.NoError(t, err)
	assert.Equal(t, providerdomain.DeliveryStatusSent, report.Status)

	p.SetReportStatus(res.ProviderMessageID, providerdomain.DeliveryStatusDelivered)
	report, err = p.GetDeliveryReport(ctx, res.ProviderMessageID)
	require.NoError(t, err)
	assert.Equal(t, providerdomain.DeliveryStatusDelivered, report.Status)
}
