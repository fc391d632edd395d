package provision

import "time"

// MaximumTimeout is the system-wide ceiling for one command's execution.
// Orchestrations still running past this point self-terminate as failed.
const MaximumTimeout = 30 * time.Minute

// RuntimeStatus is the lifecycle stage of a dispatched command.
type RuntimeStatus string

const (
	StatusUnknown   RuntimeStatus = "unknown"
	StatusPending   RuntimeStatus = "pending"
	StatusRunning   RuntimeStatus = "running"
	StatusSucceeded RuntimeStatus = "succeeded"
	StatusFailed    RuntimeStatus = "failed"
)

// Terminal reports whether the status is a final one.
func (s RuntimeStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// ErrorSeverity classifies recorded command errors.
type ErrorSeverity string

const (
	SeverityWarning ErrorSeverity = "warning"
	SeverityError   ErrorSeverity = "error"
)

// CommandError is one recorded failure or warning from an orchestration.
type CommandError struct {
	Message  string        `json:"message" yaml:"message"`
	Severity ErrorSeverity `json:"severity" yaml:"severity"`
}

// CommandResult is the mutable lifecycle record for one command. The raw
// status lives in RawStatus; callers read the effective status through
// RuntimeStatus, which folds recorded errors in.
type CommandResult struct {
	CommandID      string            `json:"command_id" yaml:"command_id"`
	OrganizationID string            `json:"organization_id" yaml:"organization_id"`
	ProjectID      string            `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	Action         CommandAction     `json:"action" yaml:"action"`
	RawStatus      RuntimeStatus     `json:"runtime_status" yaml:"runtime_status"`
	CustomStatus   string            `json:"custom_status,omitempty" yaml:"custom_status,omitempty"`
	Errors         []CommandError    `json:"errors,omitempty" yaml:"errors,omitempty"`
	Links          map[string]string `json:"links,omitempty" yaml:"links,omitempty"`
	Result         Payload           `json:"result,omitempty" yaml:"result,omitempty"`
	Archived       bool              `json:"archived,omitempty" yaml:"archived,omitempty"`
	CreatedTime    time.Time         `json:"created_time" yaml:"created_time"`
	LastUpdated    time.Time         `json:"last_updated_time" yaml:"last_updated_time"`
}

// NewCommandResult seeds the pending lifecycle record for a freshly
// accepted command.
func NewCommandResult(cmd Command) *CommandResult {
	now := time.Now().UTC()
	return &CommandResult{
		CommandID:      cmd.CommandID,
		OrganizationID: cmd.OrganizationID,
		ProjectID:      cmd.ProjectID,
		Action:         cmd.Action,
		RawStatus:      StatusPending,
		Links:          make(map[string]string),
		CreatedTime:    now,
		LastUpdated:    now,
	}
}

// RuntimeStatus reports the effective status: failed whenever any recorded
// error carries SeverityError, regardless of the raw stored status.
func (r *CommandResult) RuntimeStatus() RuntimeStatus {
	if r == nil {
		return StatusUnknown
	}
	for _, e := range r.Errors {
		if e.Severity == SeverityError {
			return StatusFailed
		}
	}
	if r.RawStatus == "" {
		return StatusUnknown
	}
	return r.RawStatus
}

// Final reports whether the result has reached a terminal state.
func (r *CommandResult) Final() bool {
	return r.RuntimeStatus().Terminal()
}

// AppendError records a failure or warning on the result.
func (r *CommandResult) AppendError(message string, severity ErrorSeverity) {
	r.Errors = append(r.Errors, CommandError{Message: message, Severity: severity})
}

// Clone returns a deep copy so stored records never alias caller memory.
func (r *CommandResult) Clone() *CommandResult {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Errors != nil {
		cp.Errors = make([]CommandError, len(r.Errors))
		copy(cp.Errors, r.Errors)
	}
	if r.Links != nil {
		cp.Links = make(map[string]string, len(r.Links))
		for k, v := range r.Links {
			cp.Links[k] = v
		}
	}
	return &cp
}
