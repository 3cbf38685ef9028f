package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskStageDue = "lifecycle.stage.due"

// StageDuePayload identifies one (round, stage) firing. The durable record
// lives in the stage_jobs table; the queue task is only the timer.
type StageDuePayload struct {
	RoundID string `json:"roundId"`
	Stage   string `json:"stage"`
}

func NewStageDueTask(payload StageDuePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStageDue, data), nil
}

func ParseStageDuePayload(task *asynq.Task) (StageDuePayload, error) {
	var payload StageDuePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return StageDuePayload{}, err
	}
	return payload, nil
}
