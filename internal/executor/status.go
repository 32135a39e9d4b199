package executor

import (
	"encoding/json"

	perrors "github.com/Snowflake-Labs/nf-snowflake/pkg/errors"
	"github.com/Snowflake-Labs/nf-snowflake/pkg/types"
)

// containerStatus is one element of the SYSTEM$GET_SERVICE_STATUS JSON
// payload.
type containerStatus struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	ContainerName string `json:"containerName"`
	InstanceID    string `json:"instanceId"`
	ServiceName   string `json:"serviceName"`
	Image         string `json:"image"`
	RestartCount  int    `json:"restartCount"`
	StartTime     string `json:"startTime"`
}

// parseServiceStatus reduces the per-container status array to one job
// status. The worst container wins: any FAILED fails the job, anything
// still unknown or pending keeps it non-terminal, and the job is DONE
// only when every container is.
func parseServiceStatus(raw string) (types.JobStatus, error) {
	var containers []containerStatus
	if err := json.Unmarshal([]byte(raw), &containers); err != nil {
		return types.JobStatus{}, perrors.Wrap(perrors.ErrCodeRemoteIO, "malformed service status payload", err).
			WithComponent("executor")
	}
	if len(containers) == 0 {
		return types.JobStatus{State: types.JobStateUnknown}, nil
	}

	status := types.JobStatus{State: types.JobStateDone}
	for _, c := range containers {
		state := mapContainerStatus(c.Status)
		if stateRank(state) > stateRank(status.State) {
			status.State = state
			status.Message = c.Message
		}
	}
	return status, nil
}

func mapContainerStatus(s string) types.JobState {
	switch s {
	case "PENDING":
		return types.JobStatePending
	case "READY", "RUNNING":
		return types.JobStateRunning
	case "DONE":
		return types.JobStateDone
	case "FAILED":
		return types.JobStateFailed
	default:
		return types.JobStateUnknown
	}
}

// stateRank orders states by how strongly they should dominate the
// aggregate: a failure always wins, and DONE loses to everything so the
// job only completes when all containers have.
func stateRank(s types.JobState) int {
	switch s {
	case types.JobStateFailed:
		return 4
	case types.JobStateUnknown:
		return 3
	case types.JobStatePending:
		return 2
	case types.JobStateRunning:
		return 1
	default:
		return 0
	}
}
