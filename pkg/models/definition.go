package models

import (
	"fmt"
	"time"
)

// TaskDefinition describes one task inside a batch submission document.
type TaskDefinition struct {
	// ID is the submitter-chosen identifier, unique within the batch.
	ID string `yaml:"id" json:"id"`
	// Payload is the opaque command or parameters for the connector.
	Payload string `yaml:"payload" json:"payload"`
	// Capability names the connector capability required to run the task.
	Capability string `yaml:"capability" json:"capability"`
	// Priority orders frontier tasks; higher runs first.
	Priority int `yaml:"priority,omitempty" json:"priority,omitempty"`
	// DependsOn lists task IDs that must complete before this task.
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	// Timeout overrides the batch task timeout when set.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// BatchDefinition is the submission document accepted by the submission API.
type BatchDefinition struct {
	// Tasks lists the tasks to execute.
	Tasks []TaskDefinition `yaml:"tasks" json:"tasks"`
	// Concurrency caps how many tasks run at once; 0 means the configured default.
	Concurrency int `yaml:"concurrency,omitempty" json:"concurrency,omitempty"`
	// FailurePolicy selects fail_fast or best_effort; empty means best_effort.
	FailurePolicy FailurePolicy `yaml:"failure_policy,omitempty" json:"failure_policy,omitempty"`
	// MaxRetries is the number of automatic retries per task.
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	// TaskTimeout is the default per-task execution timeout.
	TaskTimeout time.Duration `yaml:"task_timeout,omitempty" json:"task_timeout,omitempty"`
}

// Validate checks structural constraints that do not require the dependency
// graph: non-empty task list, unique ids, payload and capability present.
// Dependency cycles and unknown references are the graph builder's job.
func (d *BatchDefinition) Validate() error {
	if len(d.Tasks) == 0 {
		return fmt.Errorf("batch has no tasks")
	}
	if d.FailurePolicy != "" && !d.FailurePolicy.Valid() {
		return fmt.Errorf("unknown failure policy %q", d.FailurePolicy)
	}
	seen := make(map[string]bool, len(d.Tasks))
	for i, td := range d.Tasks {
		if td.ID == "" {
			return fmt.Errorf("task %d has no id", i)
		}
		if seen[td.ID] {
			return fmt.Errorf("duplicate task id %q", td.ID)
		}
		seen[td.ID] = true
		if td.Payload == "" {
			return fmt.Errorf("task %s has no payload", td.ID)
		}
		if td.Capability == "" {
			return fmt.Errorf("task %s has no capability", td.ID)
		}
	}
	return nil
}
