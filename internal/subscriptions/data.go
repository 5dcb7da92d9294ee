// Package subscriptions implements recurring, parameterized queries: the
// store they are registered in, the scheduler that turns wall-clock ticks
// into scheduled tasks, and the executor that runs those tasks under a
// global concurrency bound and publishes results.
package subscriptions

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/signalhouse/signalhouse/internal/dataset"
	"github.com/signalhouse/signalhouse/internal/query"
	"github.com/signalhouse/signalhouse/internal/query/expr"
)

// PartitionID identifies the scheduling partition a subscription hashes to.
type PartitionID int32

// Identifier uniquely names a subscription.
type Identifier struct {
	Partition PartitionID `json:"partition"`
	UUID      uuid.UUID   `json:"uuid"`
}

func (i Identifier) String() string {
	return fmt.Sprintf("%d/%s", i.Partition, i.UUID)
}

// Aggregation is the stored aggregate expression of a subscription query.
type Aggregation struct {
	Function string `json:"function"`
	Column   string `json:"column,omitempty"`
	Alias    string `json:"alias"`
}

// SubscriptionData is the persisted definition of a recurring query.
type SubscriptionData struct {
	ProjectID     uint64        `json:"project_id"`
	EntityKey     string        `json:"entity"`
	Aggregations  []Aggregation `json:"aggregations"`
	TimeWindowSec int64         `json:"time_window"`
	ResolutionSec int64         `json:"resolution"`
}

// Validate rejects definitions the scheduler cannot run.
func (d *SubscriptionData) Validate() error {
	if d.EntityKey == "" {
		return fmt.Errorf("subscription has no entity")
	}
	if len(d.Aggregations) == 0 {
		return fmt.Errorf("subscription has no aggregations")
	}
	if d.TimeWindowSec <= 0 {
		return fmt.Errorf("time window must be positive, got %d", d.TimeWindowSec)
	}
	if d.ResolutionSec <= 0 {
		return fmt.Errorf("resolution must be positive, got %d", d.ResolutionSec)
	}
	return nil
}

// Subscription pairs an identifier with its definition.
type Subscription struct {
	ID   Identifier       `json:"id"`
	Data SubscriptionData `json:"data"`
}

// ScheduledTask is one scheduled execution of a subscription: the
// notification consumed from the scheduled-subscriptions topic.
type ScheduledTask struct {
	// Timestamp is the instant the execution was scheduled for. The query's
	// time window ends here.
	Timestamp    time.Time    `json:"timestamp"`
	Subscription Subscription `json:"subscription"`
}

// EncodeTask serializes a task for the scheduled topic.
func EncodeTask(t ScheduledTask) ([]byte, error) {
	return json.Marshal(t)
}

// DecodeTask parses a scheduled-topic payload.
func DecodeTask(raw []byte) (ScheduledTask, error) {
	var t ScheduledTask
	if err := json.Unmarshal(raw, &t); err != nil {
		return ScheduledTask{}, fmt.Errorf("decode scheduled task: %w", err)
	}
	return t, nil
}

// Result is the payload published to the result topic. It echoes the
// partition and offset of the originating notification so the downstream
// consumer can deduplicate.
type Result struct {
	SubscriptionID Identifier `json:"subscription_id"`
	EntityKey      string     `json:"entity"`
	Timestamp      time.Time  `json:"timestamp"`
	Partition      int32      `json:"partition"`
	Offset         int64      `json:"offset"`
	Columns        []string   `json:"columns"`
	Rows           [][]any    `json:"rows"`
}

// EncodeResult serializes a result payload.
func EncodeResult(r Result) ([]byte, error) {
	return json.Marshal(r)
}

// decodeResult parses a result-topic payload. Only tests consume results in
// this process.
func decodeResult(raw []byte) (Result, error) {
	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return Result{}, fmt.Errorf("decode result: %w", err)
	}
	return r, nil
}

// BuildQuery reconstructs the logical query for one scheduled execution: the
// stored aggregations selected over the entity, constrained to the time
// window ending at the task timestamp.
func BuildQuery(task ScheduledTask, entity *dataset.Entity) (*query.Query, error) {
	data := task.Subscription.Data
	if err := data.Validate(); err != nil {
		return nil, query.NewInvalidQueryError("malformed subscription %s: %v", task.Subscription.ID, err)
	}

	q := query.NewQuery(query.EntitySource{Key: data.EntityKey})

	var selected []query.SelectedExpression
	for _, agg := range data.Aggregations {
		alias := agg.Alias
		if alias == "" {
			alias = agg.Function
		}
		var args []expr.Expression
		if agg.Column != "" {
			args = append(args, expr.NewColumn("", "", agg.Column))
		}
		selected = append(selected, query.SelectedExpression{
			Name:       alias,
			Expression: expr.NewFunctionCall(alias, agg.Function, args...),
		})
	}
	if err := q.SetSelected(selected); err != nil {
		return nil, err
	}

	end := task.Timestamp.UTC()
	start := end.Add(-time.Duration(data.TimeWindowSec) * time.Second)
	timeColumn := entity.RequiredTimeColumn
	q.SetCondition(expr.NewFunctionCall("", "and",
		expr.NewFunctionCall("", "equals",
			expr.NewColumn("", "", "project_id"),
			expr.NewLiteral("", int64(data.ProjectID)),
		),
		expr.NewFunctionCall("", "and",
			expr.NewFunctionCall("", "greaterOrEquals",
				expr.NewColumn("", "", timeColumn),
				expr.NewLiteral("", start),
			),
			expr.NewFunctionCall("", "less",
				expr.NewColumn("", "", timeColumn),
				expr.NewLiteral("", end),
			),
		),
	))
	return q, nil
}
