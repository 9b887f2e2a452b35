package data

import (
	"encoding/json"
	"fmt"

	"github.com/target/meeting-processor/internal/core"
	"github.com/target/meeting-processor/internal/domain/model"
)

const (
	jobKeyPrefix    = "job:"
	resultKeyPrefix = "result:"
)

func jobKey(id string) string    { return jobKeyPrefix + id }
func resultKey(id string) string { return resultKeyPrefix + id }

func decodeJob(raw []byte) (*model.Job, error) {
	var job model.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

func decodeResult(raw []byte) (*model.Result, error) {
	var result model.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &result, nil
}

// ApplyJobMutation runs mutate against a copy of current and enforces the stage rules shared by
// every store: terminal jobs are frozen and stages only move forward.
func ApplyJobMutation(current *model.Job, mutate core.JobMutator) (*model.Job, error) {
	if current.Stage.Terminal() {
		return nil, ErrJobTerminal
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.ID = current.ID

	if !current.Stage.CanTransition(next.Stage) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Stage, next.Stage)
	}
	return next, nil
}
