package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAmortizationRecalculate rebuilds every schedule of a property.
	TaskAmortizationRecalculate = "amortization:recalculate"
	// TaskStatementsWarmup computes and memoizes statements for a year range.
	TaskStatementsWarmup = "statements:warmup"
	// TaskStatementsWarmupAll fans a warmup out to every property.
	TaskStatementsWarmupAll = "statements:warmup_all"
)

// AmortizationRecalculatePayload identifies the property to rebuild.
type AmortizationRecalculatePayload struct {
	PropertyID int64 `json:"property_id"`
}

// StatementsWarmupPayload selects the property and the inclusive year range.
type StatementsWarmupPayload struct {
	PropertyID int64 `json:"property_id"`
	From       int   `json:"from"`
	To         int   `json:"to"`
}

// StatementsWarmupAllPayload sets how many years back from the current one to warm.
type StatementsWarmupAllPayload struct {
	Years int `json:"years"`
}

// NewAmortizationRecalculateTask constructs an Asynq task.
func NewAmortizationRecalculateTask(propertyID int64) (*asynq.Task, error) {
	if propertyID <= 0 {
		return nil, fmt.Errorf("jobs: invalid property id %d", propertyID)
	}
	data, err := json.Marshal(AmortizationRecalculatePayload{PropertyID: propertyID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAmortizationRecalculate, data), nil
}

// NewStatementsWarmupTask constructs an Asynq task. Reversed bounds are swapped.
func NewStatementsWarmupTask(propertyID int64, from, to int) (*asynq.Task, error) {
	if propertyID <= 0 {
		return nil, fmt.Errorf("jobs: invalid property id %d", propertyID)
	}
	if to < from {
		from, to = to, from
	}
	data, err := json.Marshal(StatementsWarmupPayload{PropertyID: propertyID, From: from, To: to})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStatementsWarmup, data), nil
}

// NewStatementsWarmupAllTask constructs the task scheduled by cron.
func NewStatementsWarmupAllTask(years int) (*asynq.Task, error) {
	data, err := json.Marshal(StatementsWarmupAllPayload{Years: years})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStatementsWarmupAll, data), nil
}
