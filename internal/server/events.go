package server

import (
	"clawflow/internal/agent"
	"clawflow/internal/orchestrator"
)

// SSE event payloads. The discriminated union on "type" mirrors what the
// dashboard consumes.

type runStartedEvent struct {
	Type  string `json:"type"`
	RunID string `json:"runId"`
	Goal  string `json:"goal"`
}

type stepThinkingEvent struct {
	Type       string `json:"type"`
	RunID      string `json:"runId"`
	StepNumber int    `json:"stepNumber"`
}

type stepStartedEvent struct {
	Type       string                   `json:"type"`
	RunID      string                   `json:"runId"`
	StepNumber int                      `json:"stepNumber"`
	TaskIDs    []string                 `json:"taskIds"`
	Tasks      []*orchestrator.StepTask `json:"tasks,omitempty"`
}

type taskStartedEvent struct {
	Type       string `json:"type"`
	RunID      string `json:"runId"`
	StepNumber int    `json:"stepNumber"`
	TaskID     string `json:"taskId"`
}

type taskChunkEvent struct {
	Type       string `json:"type"`
	RunID      string `json:"runId"`
	StepNumber int    `json:"stepNumber"`
	TaskID     string `json:"taskId"`
	Content    string `json:"content"`
	Done       bool   `json:"done"`
}

type taskEndedEvent struct {
	Type       string           `json:"type"`
	RunID      string           `json:"runId"`
	StepNumber int              `json:"stepNumber"`
	TaskID     string           `json:"taskId"`
	Result     agent.TaskResult `json:"result"`
	Status     string           `json:"status"`
}

type stepEndedEvent struct {
	Type       string `json:"type"`
	RunID      string `json:"runId"`
	StepNumber int    `json:"stepNumber"`
}

type runCompleteEvent struct {
	Type       string `json:"type"`
	RunID      string `json:"runId"`
	Answer     string `json:"answer,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

type runErrorEvent struct {
	Type  string `json:"type"`
	RunID string `json:"runId"`
	Error string `json:"error"`
}

type runDeletedEvent struct {
	Type  string `json:"type"`
	RunID string `json:"runId"`
}
