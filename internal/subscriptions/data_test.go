package subscriptions

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalhouse/signalhouse/internal/clickhouse"
	"github.com/signalhouse/signalhouse/internal/dataset"
	"github.com/signalhouse/signalhouse/internal/query"
)

func TestSubscriptionDataValidate(t *testing.T) {
	t.Parallel()

	valid := SubscriptionData{
		ProjectID:     1,
		EntityKey:     "transactions",
		Aggregations:  []Aggregation{{Function: "count", Alias: "count"}},
		TimeWindowSec: 3600,
		ResolutionSec: 60,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*SubscriptionData)
	}{
		{"missing entity", func(d *SubscriptionData) { d.EntityKey = "" }},
		{"no aggregations", func(d *SubscriptionData) { d.Aggregations = nil }},
		{"zero window", func(d *SubscriptionData) { d.TimeWindowSec = 0 }},
		{"negative resolution", func(d *SubscriptionData) { d.ResolutionSec = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := valid
			tt.mutate(&d)
			assert.Error(t, d.Validate())
		})
	}
}

func TestBuildQueryWindow(t *testing.T) {
	t.Parallel()

	entity := dataset.TransactionsEntity()
	ts := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	task := ScheduledTask{
		Timestamp: ts,
		Subscription: Subscription{
			ID: Identifier{Partition: 1, UUID: uuid.New()},
			Data: SubscriptionData{
				ProjectID:     42,
				EntityKey:     "transactions",
				Aggregations:  []Aggregation{{Function: "count", Alias: "count"}},
				TimeWindowSec: 3600,
				ResolutionSec: 60,
			},
		},
	}

	q, err := BuildQuery(task, entity)
	require.NoError(t, err)

	require.Len(t, q.Selected(), 1)
	assert.Equal(t, "(count() AS count)", clickhouse.FormatExpr(q.Selected()[0].Expression))
	assert.Equal(t,
		"and(equals(project_id, 42), "+
			"and(greaterOrEquals(finish_ts, toDateTime('2023-06-01T11:00:00', 'Universal')), "+
			"less(finish_ts, toDateTime('2023-06-01T12:00:00', 'Universal'))))",
		clickhouse.FormatExpr(q.Condition()),
	)

	// A one-hour window is a short-window subscription: raw storage.
	storage := dataset.SelectStorage(entity, q, query.NewSubscriptionSettings("sub"))
	assert.Equal(t, "transactions_raw", storage.Key)
}

func TestBuildQueryRejectsMalformedSubscription(t *testing.T) {
	t.Parallel()

	entity := dataset.TransactionsEntity()
	task := ScheduledTask{
		Timestamp: time.Now().UTC(),
		Subscription: Subscription{
			ID:   Identifier{Partition: 1, UUID: uuid.New()},
			Data: SubscriptionData{EntityKey: "transactions"},
		},
	}

	_, err := BuildQuery(task, entity)
	var invalid *query.InvalidQueryError
	require.ErrorAs(t, err, &invalid)
}

func TestTaskEncodingRoundTrip(t *testing.T) {
	t.Parallel()

	task := ScheduledTask{
		Timestamp:    time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC),
		Subscription: testSubscription(60, uuid.New()),
	}
	raw, err := EncodeTask(task)
	require.NoError(t, err)

	decoded, err := DecodeTask(raw)
	require.NoError(t, err)
	assert.Equal(t, task.Subscription.ID, decoded.Subscription.ID)
	assert.True(t, task.Timestamp.Equal(decoded.Timestamp))

	_, err = DecodeTask([]byte("{"))
	require.Error(t, err)
}
