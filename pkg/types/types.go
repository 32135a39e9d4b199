package types

import (
	"time"
)

// SentinelModTime is the constant modification time reported for every
// stage entry. The consuming cache layer keys on content digest, not
// timestamps, so parsing remote-supplied timestamps would only invite
// clock-skew churn.
var SentinelModTime = time.Unix(0, 0).UTC()

// StageEntry represents metadata about one listed or stat-ed stage
// object. Entries are produced fresh on every list/stat call and never
// cached by this layer. Directory entries are synthetic: the remote key
// space is flat, so a directory is any key prefix that contains
// entries.
type StageEntry struct {
	// Key is the entry's relative key within its stage. For synthetic
	// directory entries it is the originally requested key, preserving
	// the caller's casing.
	Key string `json:"key"`

	// Size in bytes; 0 for synthetic directories.
	Size int64 `json:"size"`

	// ContentDigest is the remote service's digest of the object
	// content (md5 for stage files); empty for synthetic directories.
	ContentDigest string `json:"content_digest"`

	IsDirectory bool `json:"is_directory"`
}

// ModTime returns the constant sentinel; see SentinelModTime.
func (e StageEntry) ModTime() time.Time { return SentinelModTime }

// AccessMode enumerates the access checks a caller may request.
type AccessMode int

const (
	AccessRead AccessMode = iota
	AccessWrite
	AccessExecute
)

// String returns the conventional single-letter form.
func (m AccessMode) String() string {
	switch m {
	case AccessRead:
		return "r"
	case AccessWrite:
		return "w"
	case AccessExecute:
		return "x"
	default:
		return "?"
	}
}

// CopyOptions control Copy and Move behavior.
type CopyOptions struct {
	// ReplaceExisting overwrites the target when set; otherwise a copy
	// onto an existing target fails with ALREADY_EXISTS.
	ReplaceExisting bool
}

// CopyOption mutates CopyOptions.
type CopyOption func(*CopyOptions)

// WithReplaceExisting allows the copy target to be overwritten.
func WithReplaceExisting() CopyOption {
	return func(o *CopyOptions) { o.ReplaceExisting = true }
}

// ApplyCopyOptions folds options over the defaults.
func ApplyCopyOptions(opts []CopyOption) CopyOptions {
	var o CopyOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// StageMount mounts a stage into a task container.
type StageMount struct {
	// Stage is the stage name.
	Stage string `json:"stage" yaml:"stage"`
	// MountPath is the absolute path inside the container.
	MountPath string `json:"mount_path" yaml:"mountPath"`
}

// JobSpec describes one task to run as a compute job service.
type JobSpec struct {
	// Name is the unqualified service name; the executor qualifies it
	// with the configured database and schema.
	Name    string            `json:"name"`
	Image   string            `json:"image"`
	Command []string          `json:"command"`
	Env     map[string]string `json:"env,omitempty"`
	Mounts  []StageMount      `json:"mounts,omitempty"`
}

// JobState is the lifecycle state of a submitted job service.
type JobState int

const (
	JobStateUnknown JobState = iota
	JobStatePending
	JobStateRunning
	JobStateDone
	JobStateFailed
)

// String returns the remote service's spelling of the state.
func (s JobState) String() string {
	switch s {
	case JobStatePending:
		return "PENDING"
	case JobStateRunning:
		return "RUNNING"
	case JobStateDone:
		return "DONE"
	case JobStateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool {
	return s == JobStateDone || s == JobStateFailed
}

// JobStatus is a point-in-time observation of a job service.
type JobStatus struct {
	State JobState `json:"state"`
	// Message is the remote status message, when one was reported.
	Message string `json:"message,omitempty"`
}

// TraceRecord is one task-lifecycle observation destined for the trace
// file.
type TraceRecord struct {
	TaskID    int64     `json:"task_id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Exit      int       `json:"exit"`
	Container string    `json:"container,omitempty"`
	// NativeID is the remote job-service name backing the task.
	NativeID string    `json:"native_id,omitempty"`
	Submit   time.Time `json:"submit"`
	Start    time.Time `json:"start"`
	Complete time.Time `json:"complete"`
}
