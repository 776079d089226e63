// Package compiler runs compile jobs: one workspace, one pipeline run and one
// result envelope per submitted source.
package compiler

import (
	"time"

	"github.com/google/uuid"
)

// Job is one compile request. It lives only for the duration of Submit.
type Job struct {
	ID        uuid.UUID
	Source    string
	CreatedAt time.Time
}

// NewJob creates a Job with a fresh identifier.
func NewJob(source string) Job {
	return Job{
		ID:        uuid.New(),
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}
}

// State is a step in a job's lifecycle.
type State string

const (
	StateCreated            State = "created"
	StateWorkspaceReady     State = "workspace_ready"
	StateStageRunning       State = "stage_running"
	StatePipelineDone       State = "pipeline_done"
	StatePipelineAborted    State = "pipeline_aborted"
	StateArtifactsCollected State = "artifacts_collected"
	StateTornDown           State = "torn_down"
)
